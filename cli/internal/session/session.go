// Package session persists the most recent generation session so `lareview
// last` can show it. One JSON file per state dir, written atomically (temp
// file then rename).
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"lareview/cli/internal/erruser"
)

const recordFilename = "session.json"

// Record is the persisted snapshot of one generation session.
type Record struct {
	RunID      string    `json:"run_id"`
	AgentID    string    `json:"agent_id"`
	Status     string    `json:"status"`
	ReviewID   string    `json:"review_id,omitempty"`
	TaskCount  int       `json:"task_count,omitempty"`
	Source     string    `json:"source,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Load reads the record from stateDir/session.json. A missing file returns a
// zero Record and nil error; a corrupt file returns an error.
func Load(stateDir string) (Record, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, recordFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, erruser.New("Could not read session file.", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, erruser.New("Session file is invalid or corrupted.", err)
	}
	return r, nil
}

// Save writes the record to stateDir/session.json, creating stateDir when
// needed. The write is atomic so a crash never leaves a half-written file.
func Save(stateDir string, r *Record) error {
	if r == nil {
		return erruser.New("Cannot save nil session record.", nil)
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return erruser.New("Could not create session directory.", err)
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return erruser.New("Could not save session.", err)
	}
	path := filepath.Join(stateDir, recordFilename)
	f, err := os.CreateTemp(stateDir, "session.*.tmp")
	if err != nil {
		return erruser.New("Could not save session.", err)
	}
	tmpPath := f.Name()
	defer func() { _ = os.Remove(tmpPath) }()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return erruser.New("Could not save session.", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return erruser.New("Could not save session.", err)
	}
	if err := f.Close(); err != nil {
		return erruser.New("Could not save session.", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return erruser.New("Could not save session.", err)
	}
	return nil
}
