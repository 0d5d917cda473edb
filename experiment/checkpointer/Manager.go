package checkpointer

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// ErrNoCheckpoint is returned when restoring from a directory without
// checkpoints
var ErrNoCheckpoint = errors.New("no checkpoint")

const (
	// Prefix is the name prefix of checkpoint directories
	Prefix = "ckpt"

	indexFile = "checkpoint"
	stateFile = "state.gob"
)

// Entry describes one saved checkpoint
type Entry struct {
	Name   string    `json:"name"`
	Number int       `json:"number"`
	Step   int       `json:"step"`
	Time   time.Time `json:"time"`
	RunID  string    `json:"run_id"`
}

// index is the JSON index of a checkpoint directory
type index struct {
	Latest      string  `json:"latest"`
	Saves       int     `json:"saves"`
	Checkpoints []Entry `json:"checkpoints"`
}

// Manager saves checkpoints to directories dir/ckpt-1, dir/ckpt-2, ...
// and keeps at most maxToKeep of the most recent ones. Numbering
// continues across runs sharing dir.
type Manager struct {
	dir       string
	maxToKeep int
	runID     string
	index     index
	names     func() string
}

// NewManager returns a Manager saving checkpoints in dir. If maxToKeep
// is 0, all checkpoints are kept.
func NewManager(dir string, maxToKeep int) (*Manager, error) {
	if maxToKeep < 0 {
		return nil, fmt.Errorf("newManager: max to keep must be "+
			"non-negative but got %v", maxToKeep)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("newManager: %w", err)
	}

	idx, err := readIndex(dir)
	if err != nil {
		return nil, fmt.Errorf("newManager: %w", err)
	}

	return &Manager{
		dir:       dir,
		maxToKeep: maxToKeep,
		runID:     uuid.NewString(),
		index:     idx,
		names:     FilenameEnumerator(idx.Saves, Prefix+"-", ""),
	}, nil
}

// Dir returns the directory checkpoints are saved in
func (m *Manager) Dir() string {
	return m.dir
}

// Prefix returns the path prefix of checkpoint directories
func (m *Manager) Prefix() string {
	return filepath.Join(m.dir, Prefix)
}

// RunID returns the identifier stamped into the checkpoints saved by
// this Manager
func (m *Manager) RunID() string {
	return m.runID
}

// Checkpoints returns the retained checkpoints, oldest first
func (m *Manager) Checkpoints() []Entry {
	return append([]Entry(nil), m.index.Checkpoints...)
}

// Latest returns the most recent checkpoint
func (m *Manager) Latest() (Entry, error) {
	if len(m.index.Checkpoints) == 0 {
		return Entry{}, fmt.Errorf("latest: %v: %w", m.dir, ErrNoCheckpoint)
	}
	return m.index.Checkpoints[len(m.index.Checkpoints)-1], nil
}

// Save saves state as a new checkpoint and deletes the oldest
// checkpoints beyond the retention count
func (m *Manager) Save(state State) (Entry, error) {
	name := m.names()
	path := filepath.Join(m.dir, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Entry{}, fmt.Errorf("save: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return Entry{}, fmt.Errorf("save: %w", err)
	}
	if err := writeAtomic(filepath.Join(path, stateFile),
		buf.Bytes()); err != nil {
		return Entry{}, fmt.Errorf("save: %w", err)
	}

	entry := Entry{
		Name:   name,
		Number: m.index.Saves + 1,
		Step:   state.Step,
		Time:   time.Now().UTC(),
		RunID:  m.runID,
	}
	m.index.Saves++
	m.index.Latest = name
	m.index.Checkpoints = append(m.index.Checkpoints, entry)

	for m.maxToKeep > 0 && len(m.index.Checkpoints) > m.maxToKeep {
		oldest := m.index.Checkpoints[0]
		if err := os.RemoveAll(filepath.Join(m.dir, oldest.Name)); err != nil {
			return Entry{}, fmt.Errorf("save: %w", err)
		}
		m.index.Checkpoints = m.index.Checkpoints[1:]
	}

	if err := m.writeIndex(); err != nil {
		return Entry{}, fmt.Errorf("save: %w", err)
	}
	return entry, nil
}

// Load loads the state saved in the checkpoint e
func (m *Manager) Load(e Entry) (State, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, e.Name, stateFile))
	if err != nil {
		return State{}, fmt.Errorf("load: %w", err)
	}

	var state State
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&state); err != nil {
		return State{}, fmt.Errorf("load: %v: %w", e.Name, err)
	}
	return state, nil
}

// Restore loads the state of the most recent checkpoint
func (m *Manager) Restore() (State, error) {
	latest, err := m.Latest()
	if err != nil {
		return State{}, fmt.Errorf("restore: %w", err)
	}
	return m.Load(latest)
}

func (m *Manager) writeIndex() error {
	data, err := json.MarshalIndent(m.index, "", "  ")
	if err != nil {
		return fmt.Errorf("writeIndex: %w", err)
	}
	return writeAtomic(filepath.Join(m.dir, indexFile), data)
}

func readIndex(dir string) (index, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFile))
	if errors.Is(err, os.ErrNotExist) {
		return index{}, nil
	} else if err != nil {
		return index{}, fmt.Errorf("readIndex: %w", err)
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return index{}, fmt.Errorf("readIndex: %w", err)
	}
	return idx, nil
}

// writeAtomic writes data to a temporary file which is then renamed to
// path
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
