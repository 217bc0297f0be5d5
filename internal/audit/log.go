// Package audit provides the append-only JSONL decision log. Every plan,
// adjustment, placement failure and fill decision is recorded with a
// correlation id so a position's full lifecycle can be traced, including
// operations that ultimately failed.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Event is one audit record. Details carries action-specific fields;
// currency values must arrive already formatted as strings, never as raw
// floats, so precision survives read-back.
type Event struct {
	Action        string
	CorrelationID string
	Symbol        string
	Details       map[string]string
}

// Writer appends compact JSON lines to a single log file. Appends are
// mutex-guarded so concurrent call sites cannot interleave partial lines.
type Writer struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// NewWriter opens (or creates) the log file in append mode.
func NewWriter(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create audit log directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log %s: %w", path, err)
	}
	return &Writer{file: file, path: path}, nil
}

// Append writes one event as a single compact JSON line.
func (w *Writer) Append(ev Event) error {
	record := map[string]string{
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"action":         ev.Action,
		"correlation_id": ev.CorrelationID,
		"symbol":         ev.Symbol,
	}
	for k, v := range ev.Details {
		if _, reserved := record[k]; reserved {
			continue
		}
		record[k] = v
	}

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event %s: %w", ev.Action, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to append audit event %s: %w", ev.Action, err)
	}
	return nil
}

// Path returns the log file path.
func (w *Writer) Path() string {
	return w.path
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// ReadAll parses every line of an audit log back into key/value records.
// Intended for reconciliation tooling and tests.
func ReadAll(path string) ([]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log %s: %w", path, err)
	}

	var records []map[string]string
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var rec map[string]string
				if err := json.Unmarshal(data[start:i], &rec); err != nil {
					return nil, fmt.Errorf("malformed audit line at offset %d: %w", start, err)
				}
				records = append(records, rec)
			}
			start = i + 1
		}
	}
	return records, nil
}

// SortedKeys returns a record's keys in stable order, for deterministic
// rendering in reconciliation output.
func SortedKeys(record map[string]string) []string {
	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
