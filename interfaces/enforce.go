package interfaces

// ScreenBlocker presents the blocking surface to the user. The guard only
// decides when to show it; rendering belongs to the host.
type ScreenBlocker interface {
	// ShowBlockingScreen makes the blocking surface visible with the
	// decision reason attached.
	ShowBlockingScreen(reason string) error
}

// ProcessTerminator ends the guarded application. Implementations terminate
// the whole process group so no host code runs afterwards.
type ProcessTerminator interface {
	// Terminate ends the guarded process group. It does not return on
	// success when the guard itself is part of the group.
	Terminate(reason string) error
}
