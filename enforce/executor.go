package enforce

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/miaadrajabi/integrity-guard/audit"
	"github.com/miaadrajabi/integrity-guard/interfaces"
	"github.com/miaadrajabi/integrity-guard/policy"
)

// BlockerFunc adapts a function to the ScreenBlocker interface.
type BlockerFunc func(reason string) error

// ShowBlockingScreen calls f.
func (f BlockerFunc) ShowBlockingScreen(reason string) error { return f(reason) }

// TerminatorFunc adapts a function to the ProcessTerminator interface.
type TerminatorFunc func(reason string) error

// Terminate calls f.
func (f TerminatorFunc) Terminate(reason string) error { return f(reason) }

// ExecutorConfig carries the executor hooks. Both hooks are optional; a nil
// hook reduces the action to logging and audit, which is what library
// embeddings without a UI surface want.
type ExecutorConfig struct {
	// Screen is invoked for BLOCK and TERMINATE decisions.
	Screen interfaces.ScreenBlocker

	// Terminator is invoked for TERMINATE decisions, after the screen.
	Terminator interfaces.ProcessTerminator

	// Audit receives an enforcement event for every side-effecting action.
	Audit interfaces.AuditSink

	Log *slog.Logger
}

// Executor turns policy decisions into side effects. ALLOW, WARN and DEGRADE
// pass through with logging only; BLOCK raises the blocking screen;
// TERMINATE raises the screen and then ends the host process group.
//
// Execute has no error path: hook failures are logged and audited, never
// propagated, so enforcement cannot be suppressed by a failing hook.
type Executor struct {
	screen     interfaces.ScreenBlocker
	terminator interfaces.ProcessTerminator
	audit      interfaces.AuditSink
	log        *slog.Logger
}

// NewExecutor creates an executor with the given hooks.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Executor{
		screen:     cfg.Screen,
		terminator: cfg.Terminator,
		audit:      cfg.Audit,
		log:        cfg.Log,
	}
}

// Execute carries out a single decision.
func (e *Executor) Execute(ctx context.Context, decision policy.PolicyDecision) {
	switch decision.Action {
	case policy.ActionAllow:
		e.log.Debug("Policy allows",
			slog.String("reason", decision.Reason))

	case policy.ActionWarn:
		e.log.Warn("Policy warning",
			slog.String("reason", decision.Reason))

	case policy.ActionDegrade:
		e.log.Warn("Policy degrades functionality",
			slog.String("reason", decision.Reason))

	case policy.ActionBlock:
		e.log.Error("Policy blocks execution",
			slog.String("reason", decision.Reason))
		e.showScreen(decision.Reason)
		e.recordEnforcement(ctx, decision)

	case policy.ActionTerminate:
		e.log.Error("Policy terminates process group",
			slog.String("reason", decision.Reason))
		e.showScreen(decision.Reason)
		// Audit before the process group goes away.
		e.recordEnforcement(ctx, decision)
		e.terminate(decision.Reason)
	}
}

// ExecuteMax reduces a decision set to its most severe decision and executes
// it. Returns the decision that was executed.
func (e *Executor) ExecuteMax(ctx context.Context, decisions []policy.PolicyDecision) policy.PolicyDecision {
	decision := policy.MaxSeverity(decisions)
	e.Execute(ctx, decision)
	return decision
}

func (e *Executor) showScreen(reason string) {
	if e.screen == nil {
		return
	}
	if err := e.screen.ShowBlockingScreen(reason); err != nil {
		e.log.Error("Blocking screen hook failed",
			slog.String("reason", reason),
			"err", err)
	}
}

func (e *Executor) terminate(reason string) {
	if e.terminator == nil {
		e.log.Warn("No terminator configured, TERMINATE reduced to blocking",
			slog.String("reason", reason))
		return
	}
	if err := e.terminator.Terminate(reason); err != nil {
		e.log.Error("Process termination failed",
			slog.String("reason", reason),
			"err", err)
	}
}

func (e *Executor) recordEnforcement(ctx context.Context, decision policy.PolicyDecision) {
	event := interfaces.AuditEvent{
		Kind:   interfaces.AuditEnforcement,
		Action: decision.Action.String(),
		Reason: decision.Reason,
	}
	if err := e.audit.Record(ctx, event); err != nil {
		e.log.Debug("Failed to record enforcement event", "err", err)
	}
}

// Summary renders a one-line enforcement summary for status surfaces.
func Summary(decision policy.PolicyDecision) string {
	return fmt.Sprintf("%s (%s)", decision.Action, decision.Reason)
}
