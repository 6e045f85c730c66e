// Package history persists executed queries.
package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
)

const DefaultMaxEntries = 2000

// Recorder appends one JSON line per entry and keeps the newest entries in
// memory for Recent. An empty path keeps history in memory only.
type Recorder struct {
	mu     sync.Mutex
	path   string
	max    int
	recent []executor.HistoryEntry
}

var _ executor.HistoryRecorder = (*Recorder)(nil)

// Open loads up to max entries from path. Malformed lines are skipped.
func Open(path string, max int) (*Recorder, error) {
	if max <= 0 {
		max = DefaultMaxEntries
	}
	r := &Recorder{path: path, max: max}
	if path == "" {
		return r, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return r, nil
		}
		return nil, fmt.Errorf("history: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
	for sc.Scan() {
		var e executor.HistoryEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		r.push(e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("history: read: %w", err)
	}
	return r, nil
}

func (r *Recorder) push(e executor.HistoryEntry) {
	r.recent = append(r.recent, e)
	if len(r.recent) > r.max {
		r.recent = r.recent[len(r.recent)-r.max:]
	}
}

// Record appends e.
func (r *Recorder) Record(ctx context.Context, e executor.HistoryEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("history: marshal: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.push(e)
	if r.path == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("history: mkdir: %w", err)
	}
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("history: open: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("history: write: %w", err)
	}
	return nil
}

// Recent returns up to n entries, oldest first. n <= 0 returns everything kept.
func (r *Recorder) Recent(n int) []executor.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.recent) {
		n = len(r.recent)
	}
	out := make([]executor.HistoryEntry, n)
	copy(out, r.recent[len(r.recent)-n:])
	return out
}
