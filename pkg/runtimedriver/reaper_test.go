package runtimedriver

import (
	"os/exec"
	"testing"
	"time"

	"github.com/rdkcentral/dobbyd/pkg/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperWatchReportsExit(t *testing.T) {
	cmd := exec.Command("sleep", "0.1")
	require.NoError(t, cmd.Start())
	// Reap the child as soon as it exits: an unreaped zombie still
	// answers kill(pid, 0), so the reaper would never see it go.
	go cmd.Wait()

	r := NewReaper(log.Logger)
	defer r.Stop()

	done := make(chan int, 1)
	r.Watch(cmd.Process.Pid, func(pid int) { done <- pid })

	select {
	case pid := <-done:
		assert.Equal(t, cmd.Process.Pid, pid)
	case <-time.After(3 * time.Second):
		t.Fatal("reaper did not report exit in time")
	}
}
