package runtimedriver

import (
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// pollInterval is how often Reaper checks whether a watched pid is still
// alive. Go offers no blocking non-child waitpid, so polling is the only
// option for a pid the runtime subprocess forked, not dobbyd itself.
const pollInterval = 250 * time.Millisecond

// Reaper watches a set of container init pids and reports back when one
// exits, grounded on the embedded containerd manager's monitor goroutine:
// one watcher per supervised process, reporting unexpected exits upward
// rather than restarting anything itself.
type Reaper struct {
	logger zerolog.Logger
	stop   chan struct{}
}

// NewReaper returns a Reaper; it does nothing until Watch is called.
func NewReaper(logger zerolog.Logger) *Reaper {
	return &Reaper{logger: logger, stop: make(chan struct{})}
}

// Watch blocks in a new goroutine until the process at pid exits, then
// calls onExit with the pid. Cancel with Stop.
func (r *Reaper) Watch(pid int, onExit func(pid int)) {
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				if err := syscall.Kill(pid, 0); err != nil {
					r.logger.Info().Int("pid", pid).Msg("watched process exited")
					onExit(pid)
					return
				}
			}
		}
	}()
}

// Stop halts every in-flight Watch goroutine.
func (r *Reaper) Stop() {
	close(r.stop)
}
