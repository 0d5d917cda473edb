package checkpointer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/distillrl/solver"
)

func state(t *testing.T, step int) State {
	t.Helper()
	params := []*tensor.Dense{
		tensor.New(tensor.WithShape(2, 2),
			tensor.WithBacking([]float64{1, 2, 3, float64(step)})),
	}
	opt := solver.State{
		Iteration: step,
		M:         [][]float64{{0.1, 0.2, 0.3, 0.4}},
		V:         [][]float64{{0.5, 0.6, 0.7, 0.8}},
	}
	s, err := NewState(step, params, opt)
	require.NoError(t, err)
	return s
}

func dirs(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, Prefix+"-*"))
	require.NoError(t, err)
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	return names
}

func TestFilenameEnumerator(t *testing.T) {
	next := FilenameEnumerator(3, "ckpt-", ".gob")
	assert.Equal(t, "ckpt-4.gob", next())
	assert.Equal(t, "ckpt-5.gob", next())
}

func TestRestoreEmpty(t *testing.T) {
	m, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)

	_, err = m.Restore()
	assert.ErrorIs(t, err, ErrNoCheckpoint)
	_, err = m.Latest()
	assert.ErrorIs(t, err, ErrNoCheckpoint)
}

func TestSaveRestore(t *testing.T) {
	m, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)

	want := state(t, 7)
	entry, err := m.Save(want)
	require.NoError(t, err)
	assert.Equal(t, "ckpt-1", entry.Name)
	assert.Equal(t, 7, entry.Step)
	assert.Equal(t, m.RunID(), entry.RunID)

	have, err := m.Restore()
	require.NoError(t, err)
	assert.Equal(t, want, have)

	weights, err := have.Weights()
	require.NoError(t, err)
	require.Len(t, weights, 1)
	assert.Equal(t, []float64{1, 2, 3, 7}, weights[0].Data())
}

func TestRetention(t *testing.T) {
	const saves, keep = 7, 3
	dir := t.TempDir()
	m, err := NewManager(dir, keep)
	require.NoError(t, err)

	for i := 1; i <= saves; i++ {
		_, err := m.Save(state(t, i*10))
		require.NoError(t, err)
	}

	assert.ElementsMatch(t, []string{"ckpt-5", "ckpt-6", "ckpt-7"},
		dirs(t, dir))

	entries := m.Checkpoints()
	require.Len(t, entries, keep)
	for i, e := range entries {
		assert.Equal(t, (saves-keep+i+1)*10, e.Step)
	}

	latest, err := m.Latest()
	require.NoError(t, err)
	assert.Equal(t, "ckpt-7", latest.Name)
}

func TestUnboundedRetention(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 0)
	require.NoError(t, err)

	// Saving twice at the same step yields two checkpoints
	for _, step := range []int{5, 10, 10} {
		_, err := m.Save(state(t, step))
		require.NoError(t, err)
	}
	assert.Len(t, dirs(t, dir), 3)
	assert.Len(t, m.Checkpoints(), 3)
}

func TestReopen(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 2)
	require.NoError(t, err)
	for _, step := range []int{1, 2, 3} {
		_, err := m.Save(state(t, step))
		require.NoError(t, err)
	}

	reopened, err := NewManager(dir, 2)
	require.NoError(t, err)
	assert.NotEqual(t, m.RunID(), reopened.RunID())

	restored, err := reopened.Restore()
	require.NoError(t, err)
	assert.Equal(t, 3, restored.Step)

	entry, err := reopened.Save(state(t, 4))
	require.NoError(t, err)
	assert.Equal(t, "ckpt-4", entry.Name)
	assert.ElementsMatch(t, []string{"ckpt-3", "ckpt-4"}, dirs(t, dir))
}

func TestNewManagerInvalid(t *testing.T) {
	_, err := NewManager(t.TempDir(), -1)
	assert.Error(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, indexFile),
		[]byte("{"), 0o644))
	_, err = NewManager(dir, 0)
	assert.Error(t, err)
}

type counter struct {
	step     int
	restored []State
}

func (c *counter) Checkpoint() (State, error) {
	return State{Step: c.step}, nil
}

func (c *counter) Restore(s State) error {
	c.restored = append(c.restored, s)
	return nil
}

func TestNStep(t *testing.T) {
	m, err := NewManager(t.TempDir(), 0)
	require.NoError(t, err)
	object := &counter{}
	c := NewNStep(5, object, m)

	var saved []int
	for step := 1; step <= 20; step++ {
		object.step = step
		ok, err := c.Checkpoint(step)
		require.NoError(t, err)
		if ok {
			saved = append(saved, step)
		}
	}
	assert.Equal(t, []int{5, 10, 15, 20}, saved)
	assert.Len(t, m.Checkpoints(), 4)
}
