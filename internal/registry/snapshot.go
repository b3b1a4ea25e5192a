package registry

import (
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"

	"github.com/quorumforge/aiorch/internal/core"
)

// Snapshot is a denormalized, best-effort on-disk cache of the current
// project list, written with the teacher's atomic temp-file+rename
// idiom. It exists purely to let an operator inspect project state
// without a database client; SQLite via storage.ProjectRepo remains the
// source of truth and the only thing List() actually reads from.
type Snapshot struct {
	path string
	mu   sync.Mutex
}

// NewSnapshot constructs a Snapshot writer. An empty path disables it.
func NewSnapshot(path string) *Snapshot {
	return &Snapshot{path: path}
}

type snapshotFile struct {
	GeneratedAt time.Time       `yaml:"generated_at"`
	Projects    []*core.Project `yaml:"projects"`
}

// Write atomically replaces the snapshot file with the given projects.
func (s *Snapshot) Write(projects []*core.Project) error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := yaml.Marshal(snapshotFile{GeneratedAt: time.Now(), Projects: projects})
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path, data, 0o600)
}

// Invalidate marks the cache stale by deleting it; the next Write call
// regenerates it from the source of truth. Best-effort: a missing or
// unremovable file is not an error callers need to act on.
func (s *Snapshot) Invalidate() {
	if s.path == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = os.Remove(s.path)
}
