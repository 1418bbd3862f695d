package sor

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// outboxFileRecord is a single append-only journal line under OUTBOX_PATH.
type outboxFileRecord struct {
	IntentKey string                 `json:"intent_key"`
	COID      string                 `json:"coid"`
	State     OutboxState            `json:"state"`
	CreatedTS int64                  `json:"created_ts"`
	UpdatedTS int64                  `json:"updated_ts"`
	Ctx       map[string]interface{} `json:"ctx,omitempty"`
}

// FileOutbox is the default Outbox persistence backend: it appends a JSON
// line per state transition to OUTBOX_PATH, rotating the file once it
// exceeds rotateMB and flushing every flushEvery writes. The in-memory
// Outbox index (capped at maxInMemory entries, oldest-terminal-first
// eviction) is what guards consult; the file is the durable record used
// for startup replay, never truncated by index eviction.
type FileOutbox struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	writer      *bufio.Writer
	rotateBytes int64
	flushEvery  int
	writesSince int
	bytesSince  int64
	index       *Outbox
}

// NewFileOutbox opens (creating if needed) the journal at path and wraps
// an in-memory Outbox index capped at maxInMemory entries.
func NewFileOutbox(path string, rotateMB int, flushEvery int, dupeWindow time.Duration, maxInMemory int) (*FileOutbox, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sor: opening outbox file %q: %w", path, err)
	}
	return &FileOutbox{
		path:        path,
		file:        f,
		writer:      bufio.NewWriter(f),
		rotateBytes: int64(rotateMB) * 1024 * 1024,
		flushEvery:  flushEvery,
		index:       NewOutbox(dupeWindow, maxInMemory),
	}, nil
}

// ShouldSend consults the in-memory index and appends a "pending" record
// to the journal when a send is newly begun.
func (f *FileOutbox) ShouldSend(key, coid string, ctx map[string]interface{}, now time.Time) bool {
	send := f.index.ShouldSend(key, now)
	if send {
		_ = f.appendLocked(outboxFileRecord{IntentKey: key, COID: coid, State: OutboxPending, CreatedTS: now.Unix(), UpdatedTS: now.Unix(), Ctx: ctx})
	}
	return send
}

// MarkAcked updates the index and appends an "acked" record.
func (f *FileOutbox) MarkAcked(key, coid string, now time.Time) {
	f.index.MarkAcked(key, now)
	_ = f.appendLocked(outboxFileRecord{IntentKey: key, COID: coid, State: OutboxAcked, UpdatedTS: now.Unix()})
}

// MarkTerminal updates the index and appends a "terminal" record. The
// journal line is retained permanently; only the in-memory index entry is
// subject to later TTL/size eviction (DESIGN.md Open Question #1).
func (f *FileOutbox) MarkTerminal(key, coid string, now time.Time) {
	f.index.MarkTerminal(key, now)
	_ = f.appendLocked(outboxFileRecord{IntentKey: key, COID: coid, State: OutboxTerminal, UpdatedTS: now.Unix()})
}

// Cleanup delegates to the in-memory index; the journal file itself is
// only ever pruned by rotation, never by this call.
func (f *FileOutbox) Cleanup(now time.Time) {
	f.index.Cleanup(now)
}

// Close flushes and closes the underlying file.
func (f *FileOutbox) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writer.Flush(); err != nil {
		return err
	}
	return f.file.Close()
}

func (f *FileOutbox) appendLocked(rec outboxFileRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	n, err := f.writer.Write(line)
	if err != nil {
		return err
	}
	f.bytesSince += int64(n)
	f.writesSince++

	if f.flushEvery > 0 && f.writesSince >= f.flushEvery {
		if err := f.writer.Flush(); err != nil {
			return err
		}
		f.writesSince = 0
	}
	if f.rotateBytes > 0 && f.bytesSince >= f.rotateBytes {
		if err := f.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

func (f *FileOutbox) rotateLocked() error {
	if err := f.writer.Flush(); err != nil {
		return err
	}
	if err := f.file.Close(); err != nil {
		return err
	}
	rotatedPath := fmt.Sprintf("%s.%d", f.path, time.Now().UnixNano())
	if err := os.Rename(f.path, rotatedPath); err != nil {
		return err
	}
	newFile, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	f.file = newFile
	f.writer = bufio.NewWriter(newFile)
	f.bytesSince = 0
	return nil
}
