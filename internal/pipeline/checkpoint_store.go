package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"conveyor/source/kafka"
)

// CheckpointStore persists the reader's offset map between epochs. This is
// the engine side of the checkpoint boundary: the connector only produces and
// consumes the map.
type CheckpointStore struct {
	Path string
}

// Load returns the stored checkpoint, or nil on first-ever start.
func (s *CheckpointStore) Load() (kafka.Checkpoint, error) {
	raw, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cp kafka.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint %s: %w", s.Path, err)
	}
	return cp, nil
}

// Save writes atomically via temp-file rename so a crash mid-write leaves the
// previous epoch's checkpoint intact.
func (s *CheckpointStore) Save(cp kafka.Checkpoint) error {
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}
