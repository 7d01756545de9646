package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"kiln/internal/logging"
)

// Checkpoint is a self-contained snapshot of phase-level state, keyed by
// phase name and timestamp. Each checkpoint supersedes the previous one;
// resume reads only the latest.
type Checkpoint struct {
	Phase     Phase     `json:"phase"`
	Timestamp time.Time `json:"timestamp"`
	State     State     `json:"state"`
}

// CheckpointStore persists checkpoints under <kilnDir>/checkpoints.
type CheckpointStore struct {
	dir string
}

// NewCheckpointStore creates a store rooted at the given .kiln directory.
func NewCheckpointStore(kilnDir string) *CheckpointStore {
	return &CheckpointStore{dir: filepath.Join(kilnDir, "checkpoints")}
}

// Write persists a checkpoint atomically (temp file + rename) and
// updates the latest pointer.
func (cs *CheckpointStore) Write(st *State) error {
	if err := os.MkdirAll(cs.dir, 0755); err != nil {
		return err
	}

	ck := Checkpoint{
		Phase:     st.Phase,
		Timestamp: time.Now().UTC(),
		State:     *st,
	}

	data, err := json.MarshalIndent(&ck, "", "  ")
	if err != nil {
		return err
	}

	name := fmt.Sprintf("%s_%s.json",
		ck.Timestamp.Format("20060102T150405.000000000"),
		strings.TrimPrefix(string(ck.Phase), "/"))

	tmp := filepath.Join(cs.dir, "."+name+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	final := filepath.Join(cs.dir, name)
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}

	// latest.json is a convenience copy; the timestamped file is the
	// record.
	latestTmp := filepath.Join(cs.dir, ".latest.json.tmp")
	if err := os.WriteFile(latestTmp, data, 0644); err == nil {
		_ = os.Rename(latestTmp, filepath.Join(cs.dir, "latest.json"))
	}

	logging.LifecycleDebug("checkpoint written: %s", name)
	return nil
}

// Latest returns the state from the most recent checkpoint.
func (cs *CheckpointStore) Latest() (*State, error) {
	data, err := os.ReadFile(filepath.Join(cs.dir, "latest.json"))
	if err != nil {
		// Fall back to scanning timestamped files.
		data, err = cs.newestTimestamped()
		if err != nil {
			return nil, err
		}
	}

	var ck Checkpoint
	if err := json.Unmarshal(data, &ck); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint: %w", err)
	}
	return &ck.State, nil
}

// newestTimestamped reads the lexicographically newest checkpoint file.
func (cs *CheckpointStore) newestTimestamped() ([]byte, error) {
	entries, err := os.ReadDir(cs.dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == "latest.json" || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no checkpoints in %s", cs.dir)
	}

	// Timestamp-prefixed names sort chronologically.
	sort.Strings(names)
	return os.ReadFile(filepath.Join(cs.dir, names[len(names)-1]))
}
