package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Supervisor runs the guarded application as a child process in its own
// process group, so a TERMINATE decision can end the application and
// everything it spawned without taking the guard down.
type Supervisor struct {
	cmd  *exec.Cmd
	pgid int
	log  *slog.Logger
}

// StartSupervised launches argv as a supervised child. Standard streams pass
// through to the guard's own.
func StartSupervised(ctx context.Context, argv []string, log *slog.Logger) (*Supervisor, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("supervisor requires a command")
	}
	if log == nil {
		log = slog.Default()
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", argv[0], err)
	}

	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		// Setpgid makes the child its own group leader
		pgid = cmd.Process.Pid
	}

	log.Info("Supervising guarded process",
		slog.String("command", argv[0]),
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("pgid", pgid))

	return &Supervisor{cmd: cmd, pgid: pgid, log: log}, nil
}

// PGID returns the child's process group id.
func (s *Supervisor) PGID() int {
	return s.pgid
}

// Wait blocks until the child exits.
func (s *Supervisor) Wait() error {
	err := s.cmd.Wait()
	if err != nil {
		s.log.Warn("Guarded process exited",
			slog.Int("pid", s.cmd.Process.Pid),
			"err", err)
		return err
	}
	s.log.Info("Guarded process exited cleanly",
		slog.Int("pid", s.cmd.Process.Pid))
	return nil
}

// Terminator returns a GroupTerminator aimed at the supervised group.
func (s *Supervisor) Terminator(log *slog.Logger) *GroupTerminator {
	return NewGroupTerminator(GroupTerminatorConfig{PGID: s.pgid, Log: log})
}
