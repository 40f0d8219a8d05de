// Package journal is an append-only JSON-lines audit log of every mutation a
// sweep attempts. It is never read back to make decisions.
package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EntryType defines the type of journal entry
type EntryType string

const (
	EntrySweepStarted  EntryType = "sweep_started"
	EntrySweepFinished EntryType = "sweep_finished"
	EntryDryRun        EntryType = "dry_run"
	EntryExecuting     EntryType = "executing"
	EntryExecuted      EntryType = "executed"
	EntryFailed        EntryType = "failed"
	EntrySkipped       EntryType = "skipped"
)

// Entry represents a single journal line
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	RunID      string          `json:"run_id"`
	Sequence   int64           `json:"sequence"`
	Type       EntryType       `json:"type"`
	ResourceID string          `json:"resource_id,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Journal writes entries for one sweep run. A nil *Journal discards
// everything, so callers need not check whether journaling is enabled.
type Journal struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	runID    string
	path     string
}

// Open creates a new journal file in dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	runID := uuid.NewString()
	filename := fmt.Sprintf("siivous-%s-%s.jsonl", time.Now().UTC().Format("20060102-150405"), runID[:8])
	path := filepath.Join(dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	return &Journal{
		file:   file,
		writer: bufio.NewWriter(file),
		runID:  runID,
		path:   path,
	}, nil
}

// RunID returns the identifier stamped on every entry.
func (j *Journal) RunID() string {
	if j == nil {
		return ""
	}
	return j.runID
}

// Path returns the journal file path.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.path
}

// Close flushes and closes the journal
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.writer.Flush(); err != nil {
		return err
	}
	return j.file.Close()
}

// Append adds an entry to the journal
func (j *Journal) Append(entryType EntryType, resourceID string, data any) error {
	return j.append(entryType, resourceID, data, nil)
}

// AppendError adds an entry carrying an error
func (j *Journal) AppendError(entryType EntryType, resourceID string, data any, errToLog error) error {
	return j.append(entryType, resourceID, data, errToLog)
}

func (j *Journal) append(entryType EntryType, resourceID string, data any, errToLog error) error {
	if j == nil {
		return nil
	}

	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal journal data: %w", err)
		}
		raw = b
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.sequence++
	entry := Entry{
		Timestamp:  time.Now().UTC(),
		RunID:      j.runID,
		Sequence:   j.sequence,
		Type:       entryType,
		ResourceID: resourceID,
		Data:       raw,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	return j.writeEntry(entry)
}

// writeEntry writes a single entry and syncs it to disk
func (j *Journal) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	if _, err := j.writer.Write(line); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	if err := j.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := j.writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	return j.file.Sync()
}

// Reader iterates over the entries of a journal file
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens a journal file for reading
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry. It returns io.EOF at the end of the file.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}
