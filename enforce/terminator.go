package enforce

import (
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"
)

// GroupTerminator ends a whole process group with an untrappable signal.
// With PGID zero it targets the caller's own group, taking the guard down
// together with the host application, which is the intended TERMINATE
// semantic for in-process embeddings.
type GroupTerminator struct {
	pgid   int
	signal unix.Signal
	log    *slog.Logger
}

// GroupTerminatorConfig carries the terminator settings.
type GroupTerminatorConfig struct {
	// PGID is the target process group. Zero means the caller's own group.
	PGID int

	// Signal overrides the default SIGKILL.
	Signal unix.Signal

	Log *slog.Logger
}

// NewGroupTerminator creates a process group terminator.
func NewGroupTerminator(cfg GroupTerminatorConfig) *GroupTerminator {
	if cfg.Signal == 0 {
		cfg.Signal = unix.SIGKILL
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &GroupTerminator{
		pgid:   cfg.PGID,
		signal: cfg.Signal,
		log:    cfg.Log,
	}
}

// Terminate signals the process group. The reason is logged before the
// signal goes out since nothing may run afterwards.
func (t *GroupTerminator) Terminate(reason string) error {
	pgid := t.pgid
	if pgid == 0 {
		pgid = unix.Getpgrp()
	}

	t.log.Error("Terminating process group",
		slog.Int("pgid", pgid),
		slog.String("signal", unix.SignalName(t.signal)),
		slog.String("reason", reason))

	if err := unix.Kill(-pgid, t.signal); err != nil {
		return fmt.Errorf("failed to signal process group %d: %w", pgid, err)
	}
	return nil
}
