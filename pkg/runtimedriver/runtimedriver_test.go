package runtimedriver

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPidFileParsesPlainInteger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid")
	require.NoError(t, os.WriteFile(path, []byte("4242"), 0o644))

	pid, err := readPidFile(path)

	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
}

func TestReadPidFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pid")
	require.NoError(t, os.WriteFile(path, []byte("not-a-pid"), 0o644))

	_, err := readPidFile(path)

	assert.Error(t, err)
}

func TestWaitForExitReturnsTrueOnceProcessExits(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	// Reap the child as soon as it exits: an unreaped zombie still
	// answers kill(pid, 0), so waitForExit would never see it go.
	go cmd.Wait()

	exited := waitForExit(pid, 2*time.Second)

	assert.True(t, exited)
}

func TestWaitForExitReturnsFalseWhenStillRunning(t *testing.T) {
	cmd := exec.Command("sleep", "5")
	require.NoError(t, cmd.Start())
	defer func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}()

	exited := waitForExit(cmd.Process.Pid, 100*time.Millisecond)

	assert.False(t, exited)
}

func TestNewFallsBackToDefaultRuntimePath(t *testing.T) {
	d := New("")
	assert.Equal(t, DefaultRuntimePath, d.runtimePath)

	d2 := New("/opt/bin/crun")
	assert.Equal(t, "/opt/bin/crun", d2.runtimePath)
}
