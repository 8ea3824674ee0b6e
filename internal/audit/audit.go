// Package audit keeps an append-only JSON-lines journal of every step the
// engine applies to an image.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry records a single applied step.
type Entry struct {
	Time    time.Time `json:"time"`
	PlanID  string    `json:"plan_id"`
	FMRI    string    `json:"fmri,omitempty"`
	Op      string    `json:"op"` // "install" | "update" | "remove"
	Action  string    `json:"action"`
	Key     string    `json:"key"`
	Outcome string    `json:"outcome"` // "success" | "failure"
	Error   string    `json:"error,omitempty"`
}

// Journal appends entries to a file.
type Journal struct {
	Path string

	mu sync.Mutex
}

// Open returns a Journal writing to path. The file is created on first use.
func Open(path string) *Journal {
	return &Journal{Path: path}
}

// Record appends e. Write failures are ignored so that journaling never
// fails a plan.
func (j *Journal) Record(e Entry) {
	if j == nil || j.Path == "" {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	line, err := json.Marshal(e)
	if err != nil {
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(j.Path), 0o755); err != nil {
		return
	}
	f, err := os.OpenFile(j.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(line, '\n'))
}

// Read loads entries, optionally filtered by plan ID or FMRI. It returns the
// last limit entries (all if limit <= 0).
func (j *Journal) Read(filter string, limit int) ([]Entry, error) {
	f, err := os.Open(j.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed lines
		}
		if filter != "" && e.PlanID != filter && e.FMRI != filter {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
