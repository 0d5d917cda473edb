package distill

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/samuelfneumann/distillrl/dataset"
	"github.com/samuelfneumann/distillrl/experiment/checkpointer"
	"github.com/samuelfneumann/distillrl/experiment/summary"
	"github.com/samuelfneumann/distillrl/metrics"
)

const (
	batchSize = 2
	samples   = 8
	targetDim = 3
)

// batches serves a fixed sequence of batches
type batches struct {
	all  []dataset.Batch
	next int
}

func (b *batches) Next() (dataset.Batch, error) {
	if b.next >= len(b.all) {
		return dataset.Batch{}, dataset.ErrExhausted
	}
	b.next++
	return b.all[b.next-1], nil
}

func (b *batches) TargetDim() int {
	return targetDim
}

func newBatches(n int, dim int) []dataset.Batch {
	rng := rand.New(rand.NewSource(1))
	out := make([]dataset.Batch, n)
	for i := range out {
		s := make([]float64, batchSize*samples)
		for j := range s {
			s[j] = rng.NormFloat64()
		}
		t := make([]float64, batchSize*dim)
		for j := range t {
			t[j] = rng.Float64()
		}
		out[i] = dataset.NewBatch(s, samples, t, dim)
	}
	return out
}

func testConfig(dir string) Config {
	c := DefaultConfig()
	c.FilePatterns = []string{filepath.Join(dir, "*.tfrecord")}
	c.SamplesKey = "audio"
	c.TargetKey = "embedding"
	c.ModelType = "mlp_4"
	c.TargetDim = targetDim
	c.FrameHop = 4
	c.BatchSize = batchSize
	c.MaxSampleLength = samples
	c.ShuffleBufferSize = 1
	c.LearningRate = 0.01
	c.LogDir = dir
	c.TrainingSteps = 6
	c.MeasurementStoreInterval = 5
	c.LogInterval = 2
	c.Seed = 3
	return c
}

func newTrainer(t *testing.T, c Config, data Data, opts ...Option) *Trainer {
	t.Helper()
	trainer, err := NewTrainer(c, data, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { trainer.Close() })
	return trainer
}

func flatten(t *testing.T, trainer *Trainer) []float64 {
	t.Helper()
	var out []float64
	for _, p := range trainer.Params() {
		out = append(out, p.Data().([]float64)...)
	}
	return out
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"NoFilePatterns", func(c *Config) { c.FilePatterns = nil }},
		{"NoLogDir", func(c *Config) { c.LogDir = "" }},
		{"NoShuffleBuffer", func(c *Config) { c.ShuffleBufferSize = 0 }},
		{"NoModelType", func(c *Config) { c.ModelType = "" }},
		{"UnknownModelType", func(c *Config) { c.ModelType = "conformer" }},
		{"ZeroBatch", func(c *Config) { c.BatchSize = 0 }},
		{"ZeroSteps", func(c *Config) { c.TrainingSteps = 0 }},
		{"NegativeKeep", func(c *Config) { c.CheckpointMaxToKeep = -1 }},
		{"ZeroLR", func(c *Config) { c.LearningRate = 0 }},
		{"FrameHop", func(c *Config) { c.MaxSampleLength = 10 }},
	}

	assert.NoError(t, testConfig(t.TempDir()).Validate())
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := testConfig(t.TempDir())
			test.modify(&c)
			assert.ErrorIs(t, c.Validate(), ErrConfig)
		})
	}
}

func TestNewTrainerTargetDim(t *testing.T) {
	c := testConfig(t.TempDir())
	c.TargetDim = targetDim + 1
	_, err := NewTrainer(c, &batches{}, nil)
	assert.ErrorIs(t, err, ErrShape)
}

func TestNewTrainerInvalidConfig(t *testing.T) {
	c := testConfig(t.TempDir())
	c.LogDir = ""
	_, err := NewTrainer(c, &batches{}, nil)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestCheckpointCadence(t *testing.T) {
	dir := t.TempDir()
	c := testConfig(dir)
	c.TrainingSteps = 20
	c.MeasurementStoreInterval = 5

	collector := metrics.NewCollector("distill")
	trainer := newTrainer(t, c, &batches{all: newBatches(25, targetDim)},
		WithMetrics(collector))
	require.NoError(t, trainer.Run(context.Background()))

	assert.Equal(t, 20, trainer.GlobalStep())

	// Four periodic checkpoints and the final checkpoint
	entries := trainer.Checkpoints()
	require.Len(t, entries, 5)
	steps := make([]int, len(entries))
	for i, e := range entries {
		steps[i] = e.Step
	}
	assert.Equal(t, []int{5, 10, 15, 20, 20}, steps)

	matches, err := filepath.Glob(filepath.Join(dir, checkpointer.Prefix+"-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 5)

	require.NoError(t, trainer.Close())
	scalars, err := summary.Read(dir)
	require.NoError(t, err)
	for _, tag := range []string{LossTag, SmoothedLossTag, MAETag} {
		assert.Len(t, summary.Tag(scalars, tag), 20, tag)
	}

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/metrics", nil))
	assert.Contains(t, rec.Body.String(), "distill_checkpoints_total 5")
}

func TestCheckpointRetention(t *testing.T) {
	dir := t.TempDir()
	c := testConfig(dir)
	c.TrainingSteps = 20
	c.MeasurementStoreInterval = 2
	c.CheckpointMaxToKeep = 3

	trainer := newTrainer(t, c, &batches{all: newBatches(20, targetDim)})
	require.NoError(t, trainer.Run(context.Background()))

	entries := trainer.Checkpoints()
	require.Len(t, entries, 3)
	assert.Equal(t, "ckpt-11", entries[len(entries)-1].Name)

	matches, err := filepath.Glob(filepath.Join(dir, checkpointer.Prefix+"-*"))
	require.NoError(t, err)
	assert.Len(t, matches, 3)
}

func TestRestoreResumesTrajectory(t *testing.T) {
	all := newBatches(6, targetDim)

	uninterrupted := newTrainer(t, testConfig(t.TempDir()),
		&batches{all: all})
	require.NoError(t, uninterrupted.Run(context.Background()))
	want := flatten(t, uninterrupted)

	dir := t.TempDir()
	first := testConfig(dir)
	first.TrainingSteps = 3
	interrupted := newTrainer(t, first, &batches{all: all[:3]})
	require.NoError(t, interrupted.Run(context.Background()))
	require.Equal(t, 3, interrupted.GlobalStep())

	resumed := newTrainer(t, testConfig(dir), &batches{all: all[3:]})
	require.NoError(t, resumed.Run(context.Background()))
	assert.Equal(t, 6, resumed.GlobalStep())

	have := flatten(t, resumed)
	require.Len(t, have, len(want))
	assert.InDeltaSlice(t, want, have, 1e-12)
	assert.NotEqual(t, flatten(t, interrupted), have)
}

func TestShapeErrorBeforeUpdate(t *testing.T) {
	dir := t.TempDir()
	trainer := newTrainer(t, testConfig(dir),
		&batches{all: newBatches(2, targetDim+1)})
	initial := flatten(t, trainer)

	err := trainer.Run(context.Background())
	assert.ErrorIs(t, err, ErrShape)
	assert.Equal(t, 0, trainer.GlobalStep())
	assert.Equal(t, initial, flatten(t, trainer))
	assert.Empty(t, trainer.Checkpoints())
}

func TestDebugReturnsAfterRestore(t *testing.T) {
	dir := t.TempDir()
	c := testConfig(dir)
	first := newTrainer(t, c, &batches{all: newBatches(6, targetDim)})
	require.NoError(t, first.Run(context.Background()))

	c.Debug = true
	data := &batches{all: newBatches(6, targetDim)}
	debug := newTrainer(t, c, data)
	require.NoError(t, debug.Run(context.Background()))

	assert.Equal(t, 6, debug.GlobalStep())
	assert.Equal(t, flatten(t, first), flatten(t, debug))
	assert.Equal(t, 0, data.next)
	assert.Len(t, debug.Checkpoints(), 2)
}

func TestDataExhausted(t *testing.T) {
	c := testConfig(t.TempDir())
	c.TrainingSteps = 100
	trainer := newTrainer(t, c, &batches{all: newBatches(3, targetDim)})
	require.NoError(t, trainer.Run(context.Background()))

	assert.Equal(t, 3, trainer.GlobalStep())
	assert.Len(t, trainer.Checkpoints(), 1)
	assert.Greater(t, trainer.SmoothedLoss(), 0.0)
	assert.Greater(t, trainer.SmoothedMAE(), 0.0)
}

func TestCancelledSavesFinalCheckpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	trainer := newTrainer(t, testConfig(t.TempDir()),
		&batches{all: newBatches(6, targetDim)})
	require.NoError(t, trainer.Run(ctx))
	assert.Equal(t, 0, trainer.GlobalStep())
	assert.Len(t, trainer.Checkpoints(), 1)
}

func TestPipelineData(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(2))
	examples := make([]dataset.Example, 4)
	for i := range examples {
		audio := make([]float32, samples+3)
		for j := range audio {
			audio[j] = float32(rng.NormFloat64())
		}
		examples[i] = dataset.Example{
			"audio":     dataset.Feature{Floats: audio},
			"embedding": dataset.Feature{Floats: []float32{1, 0, -1}},
		}
	}
	require.NoError(t, dataset.WriteFile(filepath.Join(dir, "train.tfrecord"),
		examples))

	c := testConfig(dir)
	c.NumEpochs = 2
	c.ShuffleBufferSize = 4
	c.TrainingSteps = 100

	source, err := dataset.NewFileSource(c.FilePatterns)
	require.NoError(t, err)
	pipeline, err := dataset.New(context.Background(), source, c.Pipeline())
	require.NoError(t, err)
	defer pipeline.Close()

	trainer := newTrainer(t, c, pipeline)
	require.NoError(t, trainer.Run(context.Background()))

	// Two epochs of four examples in batches of two
	assert.Equal(t, 4, trainer.GlobalStep())
}
