// Package runtimedriver spawns and supervises the external OCI runtime
// subprocess (crun or a compatible binary) that actually creates and runs
// a container's namespaces and cgroups. dobbyd never links against an OCI
// runtime library; it shells out to one, the way the real Dobby daemon
// shells out to runc/crun.
package runtimedriver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/rs/zerolog"
)

// DefaultRuntimePath is the OCI runtime binary invoked for every
// lifecycle operation when New is given an empty path (dobbyd's
// --runtime-path flag overrides it).
const DefaultRuntimePath = "/usr/bin/crun"

// killGrace is how long a container's init process gets to exit after
// SIGTERM before Driver escalates to SIGKILL.
const killGrace = 5 * time.Second

// Driver runs OCI runtime subcommands against a single bundle directory.
type Driver struct {
	runtimePath string
	logger      zerolog.Logger
}

// New returns a Driver that invokes runtimePath for every operation; an
// empty runtimePath falls back to DefaultRuntimePath.
func New(runtimePath string) *Driver {
	if runtimePath == "" {
		runtimePath = DefaultRuntimePath
	}
	return &Driver{
		runtimePath: runtimePath,
		logger:      log.WithComponent("runtimedriver"),
	}
}

// CreateResult carries what the container manager needs to know about a
// freshly created (but not yet started) container process.
type CreateResult struct {
	InitPid int
}

// Create runs `<runtime> create` against the bundle, blocking until the
// container's init process exists in the created state and has opened its
// console. consoleSocketPath, if non-empty, is passed as --console-socket
// so the runtime connects the container's pty master back to dobbyd over
// a unix socket rather than inheriting dobbyd's own stdio.
func (d *Driver) Create(ctx context.Context, id, bundlePath, pidFile, consoleSocketPath string) (CreateResult, error) {
	args := []string{"create", "--bundle", bundlePath, "--pid-file", pidFile}
	if consoleSocketPath != "" {
		args = append(args, "--console-socket", consoleSocketPath)
	}
	args = append(args, id)

	if err := d.run(ctx, args...); err != nil {
		return CreateResult{}, fmt.Errorf("runtime create: %w", err)
	}

	pid, err := readPidFile(pidFile)
	if err != nil {
		return CreateResult{}, fmt.Errorf("read pid file after create: %w", err)
	}

	return CreateResult{InitPid: pid}, nil
}

// Start runs `<runtime> start <id>`, transitioning an already-created
// container into the running state.
func (d *Driver) Start(ctx context.Context, id string) error {
	return d.run(ctx, "start", id)
}

// Pause runs `<runtime> pause <id>`, freezing the container's cgroup.
func (d *Driver) Pause(ctx context.Context, id string) error {
	return d.run(ctx, "pause", id)
}

// Resume runs `<runtime> resume <id>`, thawing a paused container.
func (d *Driver) Resume(ctx context.Context, id string) error {
	return d.run(ctx, "resume", id)
}

// Stop sends SIGTERM to the container's init process and waits up to
// killGrace for it to exit before escalating to SIGKILL; withPrejudice
// skips straight to SIGKILL. Stop always finishes by invoking
// `<runtime> delete --force` to clean up the runtime's own bookkeeping
// regardless of how the process exited.
func (d *Driver) Stop(ctx context.Context, id string, initPid int, withPrejudice bool) error {
	if initPid > 0 {
		if withPrejudice {
			if err := syscall.Kill(initPid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
				d.logger.Warn().Err(err).Int("pid", initPid).Msg("SIGKILL failed")
			}
			waitForExit(initPid, killGrace)
		} else {
			if err := syscall.Kill(initPid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
				d.logger.Warn().Err(err).Int("pid", initPid).Msg("SIGTERM failed")
			}

			if !waitForExit(initPid, killGrace) {
				d.logger.Warn().Int("pid", initPid).Msg("container did not exit after SIGTERM, sending SIGKILL")
				if err := syscall.Kill(initPid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
					d.logger.Error().Err(err).Int("pid", initPid).Msg("SIGKILL failed")
				}
				waitForExit(initPid, killGrace)
			}
		}
	}

	return d.run(ctx, "delete", "--force", id)
}

// Exec runs `<runtime> exec -d` to start a new process inside an already
// running container, returning the pid of the runtime's exec subprocess
// (not of the process started inside the container).
func (d *Driver) Exec(ctx context.Context, id string, args []string) (int, error) {
	runArgs := append([]string{"exec", "-d", id}, args...)

	cmd := exec.CommandContext(ctx, d.runtimePath, runArgs...)
	cmd.Stdout = newLogWriter(d.logger, false)
	cmd.Stderr = newLogWriter(d.logger, true)

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("runtime exec: %w", err)
	}

	pid := cmd.Process.Pid
	go func() {
		_ = cmd.Wait()
	}()

	return pid, nil
}

func (d *Driver) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, d.runtimePath, args...)
	cmd.Stdout = newLogWriter(d.logger, false)
	cmd.Stderr = newLogWriter(d.logger, true)

	d.logger.Debug().Strs("args", args).Msg("invoking runtime")

	if err := cmd.Run(); err != nil {
		return err
	}
	return nil
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return 0, err
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

// waitForExit polls for the process's death with a short interval, since
// Go offers no direct non-child waitpid for an arbitrary pid.
func waitForExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err != nil {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

type logWriter struct {
	logger  zerolog.Logger
	isError bool
}

func newLogWriter(logger zerolog.Logger, isError bool) *logWriter {
	return &logWriter{logger: logger, isError: isError}
}

func (w *logWriter) Write(p []byte) (int, error) {
	scanner := bufio.NewScanner(bytes.NewReader(p))
	for scanner.Scan() {
		line := scanner.Text()
		if w.isError {
			w.logger.Warn().Str("stream", "stderr").Msg(line)
		} else {
			w.logger.Info().Str("stream", "stdout").Msg(line)
		}
	}
	return len(p), nil
}
