package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// FileStore persists one JSON file per alert id, rewritten on every
// lifecycle transition. It is the durable record; the in-memory table is
// rebuilt from it on startup.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create alert dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Save(a *Alert) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	if err := os.WriteFile(s.path(a.ID), data, 0o644); err != nil {
		return fmt.Errorf("write alert file: %w", err)
	}
	return nil
}

// LoadAll reads every persisted alert. Unreadable files are skipped so one
// corrupt record does not prevent startup.
func (s *FileStore) LoadAll() ([]*Alert, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read alert dir: %w", err)
	}

	var alerts []*Alert
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "alert-") || !strings.HasSuffix(name, ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}

		var a Alert
		if err := json.Unmarshal(data, &a); err != nil {
			continue
		}
		alerts = append(alerts, &a)
	}
	return alerts, nil
}

func (s *FileStore) path(id uuid.UUID) string {
	return filepath.Join(s.dir, fmt.Sprintf("alert-%s.json", id))
}
