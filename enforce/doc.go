// Package enforce carries policy decisions out against the running system.
//
// The Executor is the single entry point. It maps each action to a side
// effect and never returns an error: a guard that fails open because its
// blocking screen misbehaved would defeat the point, so hook failures are
// logged and audited instead of propagated.
//
//	ALLOW              log only
//	WARN, DEGRADE      log at warning level
//	BLOCK              show the blocking screen
//	TERMINATE          show the blocking screen, then end the process group
//
// Blocking and termination are injected behaviors. Hosts provide a
// ScreenBlocker (how "blocked" looks on this platform) and a
// ProcessTerminator (what "terminate" means); both are optional, and an
// Executor without them degrades to log-and-audit.
//
// # Process Groups
//
// GroupTerminator signals a whole unix process group rather than a single
// pid, so the guarded application cannot shed the kill by forking. When the
// guard supervises the application itself, StartSupervised runs it as a
// child in a fresh group and hands back a terminator scoped to that group,
// leaving the guard alive to record the outcome.
package enforce
