package interfaces

import "context"

// AuditKind classifies a recorded guard event.
type AuditKind string

const (
	// AuditDecision records a policy evaluation outcome.
	AuditDecision AuditKind = "decision"

	// AuditEnforcement records an executed enforcement action.
	AuditEnforcement AuditKind = "enforcement"

	// AuditConfigLoad records which loader step produced the active config.
	AuditConfigLoad AuditKind = "config_load"

	// AuditConfigDowngrade records a fall from signed to unsigned or
	// default configuration.
	AuditConfigDowngrade AuditKind = "config_downgrade"

	// AuditKeysCleared records destruction of device key material.
	AuditKeysCleared AuditKind = "keys_cleared"

	// AuditKeyImported records installation of external key material.
	AuditKeyImported AuditKind = "key_imported"
)

// AuditEvent is the payload of one tamper-evident audit record. Fields are
// flat strings so sinks can marshal them deterministically.
type AuditEvent struct {
	Kind   AuditKind `json:"kind"`
	Signal string    `json:"signal,omitempty"`
	Action string    `json:"action,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Detail string    `json:"detail,omitempty"`
}

// AuditSink appends guard events to tamper-evident storage. Implementations
// are safe for concurrent use.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}
