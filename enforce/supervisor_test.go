package enforce

import (
	"context"
	"io"
	"log/slog"
	"os/exec"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartSupervisedIsolatesGroup(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep binary not available")
	}

	sup, err := StartSupervised(context.Background(), []string{"sleep", "30"}, discardLogger())
	require.NoError(t, err)

	assert.NotEqual(t, unix.Getpgrp(), sup.PGID(), "child must not share the guard's group")

	require.NoError(t, sup.Terminator(discardLogger()).Terminate("debugger=true"))

	err = sup.Wait()
	require.Error(t, err)
	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr)
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	require.True(t, ok)
	assert.Equal(t, syscall.SIGKILL, status.Signal())
}

func TestStartSupervisedCleanExit(t *testing.T) {
	if _, err := exec.LookPath("true"); err != nil {
		t.Skip("true binary not available")
	}

	sup, err := StartSupervised(context.Background(), []string{"true"}, discardLogger())
	require.NoError(t, err)
	assert.NoError(t, sup.Wait())
}

func TestStartSupervisedValidation(t *testing.T) {
	_, err := StartSupervised(context.Background(), nil, discardLogger())
	require.Error(t, err)

	_, err = StartSupervised(context.Background(), []string{"/nonexistent-guarded-app"}, discardLogger())
	require.Error(t, err)
}
