// Package audit provides a tamper-evident event log for guard activity.
//
// Events are appended as JSONL with SHA-256 hash chaining: each entry
// carries the hash of the previous line, so any edit, deletion, or insertion
// breaks every later link. The chain starts from a fixed genesis hash and
// survives process restarts; Open recovers the tail from the existing file.
//
// The Log records policy decisions, enforcement actions, configuration
// loader downgrades, and key lifecycle events through the
// interfaces.AuditSink contract. Verify replays a log file and reports the
// first broken link.
//
// # Usage Example
//
//	sink, err := audit.Open("/var/lib/guardd/audit.jsonl")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sink.Close()
//
//	sink.Record(ctx, interfaces.AuditEvent{
//		Kind:   interfaces.AuditDecision,
//		Signal: "emulator_signals",
//		Action: "BLOCK",
//		Reason: "emulator_signals=3",
//	})
//
//	result := audit.Verify("/var/lib/guardd/audit.jsonl")
//	if !result.Valid {
//		log.Printf("audit chain broken at line %d: %s", result.ErrorLine, result.Error)
//	}
package audit
