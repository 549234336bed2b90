// Package watchdog wags systemd's service watchdog by writing
// "WATCHDOG=1" to the unix datagram socket named in NOTIFY_SOCKET. It has
// two independent triggers, matching the original daemon: a boot-time
// ticker that fires unconditionally once a watchdog interval is
// configured, and an on-demand Wag a caller (the IPC Ping handler) can
// invoke itself.
package watchdog

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Notifier wags the systemd watchdog over NOTIFY_SOCKET.
type Notifier struct {
	socketPath string
	logger     zerolog.Logger
	stopCh     chan struct{}
}

// New reads NOTIFY_SOCKET from the environment; if unset, the returned
// Notifier's Wag is a no-op, and Start's ticker runs but sends nothing (the daemon may be running
// outside systemd, e.g. under a plain init or in a test sandbox).
func New() *Notifier {
	return &Notifier{
		socketPath: os.Getenv("NOTIFY_SOCKET"),
		logger:     log.WithComponent("watchdog"),
		stopCh:     make(chan struct{}),
	}
}

// Enabled reports whether a NOTIFY_SOCKET was configured.
func (n *Notifier) Enabled() bool {
	return n.socketPath != ""
}

// Wag sends a single "WATCHDOG=1" datagram. It is safe to call whether or
// not a watchdog is configured; with no socket configured it is a no-op.
func (n *Notifier) Wag() error {
	if !n.Enabled() {
		return nil
	}

	conn, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return fmt.Errorf("open notify socket: %w", err)
	}
	defer unix.Close(conn)

	addr := &unix.SockaddrUnix{Name: n.socketPath}
	if err := unix.Connect(conn, addr); err != nil {
		return fmt.Errorf("connect notify socket %s: %w", n.socketPath, err)
	}
	if err := unix.Send(conn, []byte("WATCHDOG=1"), 0); err != nil {
		return fmt.Errorf("send watchdog notification: %w", err)
	}
	return nil
}

// IntervalFromEnv derives the boot-time wag interval from WATCHDOG_USEC,
// halved per systemd's own recommendation (wag at twice the rate the
// watchdog timeout expects, so one missed tick never trips it). Returns
// 0, false if WATCHDOG_USEC is unset or invalid.
func IntervalFromEnv() (time.Duration, bool) {
	raw := os.Getenv("WATCHDOG_USEC")
	if raw == "" {
		return 0, false
	}
	usec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || usec <= 0 {
		return 0, false
	}
	return (time.Duration(usec) * time.Microsecond) / 2, true
}

// Start begins the boot-time ticker at interval, wagging unconditionally
// on every tick until Stop is called. If the watchdog isn't enabled, the
// ticker still runs but each Wag call is a cheap no-op.
func (n *Notifier) Start(interval time.Duration) {
	go n.run(interval)
}

func (n *Notifier) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	n.logger.Info().Dur("interval", interval).Msg("watchdog ticker started")

	for {
		select {
		case <-ticker.C:
			if err := n.Wag(); err != nil {
				n.logger.Warn().Err(err).Msg("failed to wag systemd watchdog")
			}
		case <-n.stopCh:
			n.logger.Info().Msg("watchdog ticker stopped")
			return
		}
	}
}

// Stop halts the boot-time ticker.
func (n *Notifier) Stop() {
	close(n.stopCh)
}
