package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rdkcentral/dobbyd/pkg/containermgr"
	"github.com/rdkcentral/dobbyd/pkg/descriptorstore"
	"github.com/rdkcentral/dobbyd/pkg/events"
	"github.com/rdkcentral/dobbyd/pkg/ipallocator"
	"github.com/rdkcentral/dobbyd/pkg/ipc"
	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rdkcentral/dobbyd/pkg/metrics"
	"github.com/rdkcentral/dobbyd/pkg/netengine"
	"github.com/rdkcentral/dobbyd/pkg/netfilter"
	"github.com/rdkcentral/dobbyd/pkg/pluginmgr"
	"github.com/rdkcentral/dobbyd/pkg/runtimedriver"
	"github.com/rdkcentral/dobbyd/pkg/watchdog"
	"github.com/rdkcentral/dobbyd/pkg/workqueue"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dobbyd",
	Short:   "dobbyd - OCI container launcher daemon",
	Long:    `dobbyd creates, starts and supervises OCI containers on behalf of a single DBus-addressable process, via an in-process IPC dispatcher and a crun-driven runtime.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"dobbyd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("settings", "", "Path to the dobbyd settings file (currently unused; struct-shape only)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the dobbyd daemon",
	RunE:  runDaemon,
}

func init() {
	runCmd.Flags().String("data-dir", "/var/lib/dobbyd", "Directory for the descriptor store")
	runCmd.Flags().String("plugin-dir", "/usr/lib/plugins/dobby", "Directory of hook plugin binaries")
	runCmd.Flags().String("runtime-path", "", "Path to the crun binary (default: look up $PATH)")
	runCmd.Flags().String("external-interface", "eth0", "Host interface NAT'd traffic is routed through")
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve Prometheus metrics on")
	runCmd.Flags().Bool("launcher-debug", false, "Pass -v (debug logging) to the plugin launcher in every injected OCI hook")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	pluginDir, _ := cmd.Flags().GetString("plugin-dir")
	runtimePath, _ := cmd.Flags().GetString("runtime-path")
	externalIface, _ := cmd.Flags().GetString("external-interface")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	launcherDebug, _ := cmd.Flags().GetBool("launcher-debug")

	fmt.Println("Starting dobbyd...")
	fmt.Printf("  Data Directory: %s\n", dataDir)
	fmt.Printf("  Plugin Directory: %s\n", pluginDir)
	fmt.Println()

	store, err := descriptorstore.Open(dataDir)
	if err != nil {
		return fmt.Errorf("open descriptor store: %w", err)
	}
	defer store.Close()

	plugins, err := pluginmgr.Load(pluginDir)
	if err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}

	// One file per allocated address, kept under /tmp so allocations do
	// not outlive a reboot.
	addresses, err := ipallocator.New("/tmp/dobby/plugin/networking")
	if err != nil {
		return fmt.Errorf("init IP allocator: %w", err)
	}

	rules, err := netfilter.NewSimpleRules()
	if err != nil {
		return fmt.Errorf("init netfilter: %w", err)
	}

	engine := netengine.New(addresses, rules, externalIface)
	if err := engine.EnsureBridge(); err != nil {
		return fmt.Errorf("ensure bridge: %w", err)
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	runtime := runtimedriver.New(runtimePath)
	containers := containermgr.New(store, plugins, runtime, engine, broker, launcherDebug)

	queue := workqueue.New(workqueue.DefaultCapacity)

	notifier := watchdog.New()
	if interval, ok := watchdog.IntervalFromEnv(); ok {
		notifier.Start(interval)
		defer notifier.Stop()
	}

	// dispatcher is the surface a DBus transport binding would call into;
	// that binding is an explicitly out-of-scope external collaborator, so
	// nothing drives it here beyond Ping wagging the watchdog.
	dispatcher := ipc.New(containers, queue, broker).WithWatchdog(notifier)
	if err := dispatcher.Ping(); err != nil {
		return fmt.Errorf("startup liveness check: %w", err)
	}

	collector := metrics.NewCollector(containers, addresses)
	collector.Start()
	defer collector.Stop()

	go func() {
		http.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(metricsAddr, nil); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	fmt.Printf("✓ Metrics available at http://%s/metrics\n", metricsAddr)

	broker.Publish(&events.Event{Type: events.EventReady})

	fmt.Println()
	fmt.Println("dobbyd is running. Press Ctrl+C to stop.")

	var sigterm atomic.Bool
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		sigterm.Store(true)
	}()

	for !sigterm.Load() {
		queue.Poll(500 * time.Millisecond)
	}

	fmt.Println("\nShutting down...")
	containers.Shutdown(false)

	fmt.Println("✓ Shutdown complete")
	return nil
}
