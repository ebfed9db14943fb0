package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miaadrajabi/integrity-guard/interfaces"
)

// GenesisHash is the prev_hash of the first entry in a new log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// Entry is one line in the hash-chained JSONL log. The field order is fixed
// so json.Marshal output is reproducible for hashing.
type Entry struct {
	ID        string `json:"id"`
	Timestamp string `json:"ts"`
	interfaces.AuditEvent
	PrevHash string `json:"prev_hash"`
}

// Log is an append-only JSONL sink with SHA-256 hash chaining. Each entry's
// prev_hash is the hash of the previous line, so edits, deletions, and
// insertions anywhere in the file break the chain.
type Log struct {
	path string

	mu       sync.Mutex
	file     *os.File
	prevHash string
}

var _ interfaces.AuditSink = (*Log)(nil)

// Open opens or creates a log file for appending. An existing file is read
// to the last line to recover the chain tail.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: could not create directory: %w", err)
	}

	prevHash := GenesisHash
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		last, err := lastLine(path)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			prevHash = HashLine(last)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: could not open log: %w", err)
	}

	return &Log{path: path, file: file, prevHash: prevHash}, nil
}

// Record appends the event with a fresh id, a UTC timestamp, and the current
// chain tail, then syncs the file.
func (l *Log) Record(ctx context.Context, event interfaces.AuditEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit: log is closed")
	}

	entry := Entry{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		AuditEvent: event,
		PrevHash:   l.prevHash,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: could not marshal entry: %w", err)
	}

	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: could not write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: could not sync log: %w", err)
	}

	l.prevHash = HashLine(line)
	return nil
}

// Close flushes and closes the underlying file. Records after Close fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// HashLine returns "sha256:<hex>" over the given line.
func HashLine(line []byte) string {
	sum := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(sum[:])
}

func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: could not read existing log: %w", err)
	}
	defer f.Close()

	var last []byte
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: could not scan existing log: %w", err)
	}
	return last, nil
}

// Nop returns a sink that discards every event, for setups that run without
// an audit log.
func Nop() interfaces.AuditSink { return nopSink{} }

type nopSink struct{}

func (nopSink) Record(ctx context.Context, event interfaces.AuditEvent) error { return nil }
