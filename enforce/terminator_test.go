package enforce

import (
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// startGroupedSleep runs a sleep child as its own process group leader so a
// test can kill that group without touching the test process.
func startGroupedSleep(t *testing.T) (*exec.Cmd, int) {
	t.Helper()

	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}

	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	pgid, err := unix.Getpgid(cmd.Process.Pid)
	require.NoError(t, err)
	require.NotEqual(t, unix.Getpgrp(), pgid, "child must lead its own group")
	return cmd, pgid
}

// waitFor returns the wait error, failing the test if the process does not
// exit in time.
func waitFor(t *testing.T, cmd *exec.Cmd) error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("process did not exit after group termination")
		return nil
	}
}

func TestGroupTerminatorKillsGroup(t *testing.T) {
	cmd, pgid := startGroupedSleep(t)

	terminator := NewGroupTerminator(GroupTerminatorConfig{
		PGID: pgid,
		Log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, terminator.Terminate("debugger=true"))

	err := waitFor(t, cmd)
	require.Error(t, err)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.Equal(t, syscall.SIGKILL, status.Signal())
}

func TestGroupTerminatorCustomSignal(t *testing.T) {
	cmd, pgid := startGroupedSleep(t)

	terminator := NewGroupTerminator(GroupTerminatorConfig{
		PGID:   pgid,
		Signal: unix.SIGTERM,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, terminator.Terminate("root_signals=2"))

	err := waitFor(t, cmd)
	require.Error(t, err)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.Equal(t, syscall.SIGTERM, status.Signal())
}

func TestGroupTerminatorUnknownGroup(t *testing.T) {
	cmd, pgid := startGroupedSleep(t)

	// Kill the group, reap the child, then the pgid no longer exists.
	require.NoError(t, unix.Kill(-pgid, unix.SIGKILL))
	_ = waitFor(t, cmd)

	terminator := NewGroupTerminator(GroupTerminatorConfig{
		PGID: pgid,
		Log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	err := terminator.Terminate("vpn=true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to signal process group")
}
