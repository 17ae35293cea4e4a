package importer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const DefaultStatePath = "~/.cartographer/import-state.json"

// Import records one export file that was run through the pipeline.
type Import struct {
	Path       string    `json:"path"`
	SHA256     string    `json:"sha256"`
	RunID      string    `json:"run_id"`
	ImportedAt time.Time `json:"imported_at"`
}

// State remembers which exports have been imported so that re-running an
// import over the same files is a no-op.
type State struct {
	StartedAt      time.Time `json:"started_at"`
	LastImportedAt time.Time `json:"last_imported_at"`
	Imports        []Import  `json:"imports"`
	Errors         []string  `json:"errors"`

	path string
}

// LoadState loads the state at path, or starts a new one if the file does
// not exist.
func LoadState(path string) (*State, error) {
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{
				StartedAt: time.Now().UTC(),
				path:      p,
			}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	return &s, nil
}

func (s *State) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// Lookup finds an earlier import of the same content, wherever it was read
// from.
func (s *State) Lookup(sha string) (Import, bool) {
	for _, imp := range s.Imports {
		if imp.SHA256 == sha {
			return imp, true
		}
	}
	return Import{}, false
}

func (s *State) Record(imp Import) {
	s.Imports = append(s.Imports, imp)
	s.LastImportedAt = imp.ImportedAt
}

func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
