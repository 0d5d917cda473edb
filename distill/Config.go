package distill

import (
	"errors"
	"fmt"

	"github.com/samuelfneumann/distillrl/dataset"
	"github.com/samuelfneumann/distillrl/network"
)

var (
	// ErrConfig is returned for missing or invalid configuration
	ErrConfig = errors.New("invalid configuration")

	// ErrShape is returned when the shapes of the data and the model
	// do not agree
	ErrShape = errors.New("shape mismatch")
)

// Config configures a distillation Trainer
type Config struct {
	FilePatterns []string
	SamplesKey   string
	TargetKey    string

	ModelType string
	TargetDim int
	FrameHop  int

	BatchSize         int
	MaxSampleLength   int
	ShuffleBufferSize int
	NumEpochs         int

	LearningRate float64
	Seed         uint64

	LogDir string

	// TrainingSteps bounds the global step
	TrainingSteps int

	// MeasurementStoreInterval is the number of steps between
	// checkpoints
	MeasurementStoreInterval int

	// CheckpointMaxToKeep is the number of checkpoints retained, 0
	// meaning all are kept
	CheckpointMaxToKeep int

	// LogInterval is the number of steps between progress lines
	LogInterval int

	// Debug returns from Run after the latest checkpoint is restored
	Debug bool
}

// DefaultConfig returns the default configuration. File patterns,
// keys, model type, shuffle buffer size and log directory have no
// defaults.
func DefaultConfig() Config {
	return Config{
		TargetDim:                1024,
		FrameHop:                 160,
		BatchSize:                1,
		MaxSampleLength:          32000,
		NumEpochs:                50,
		LearningRate:             0.001,
		TrainingSteps:            1000,
		MeasurementStoreInterval: 10,
		LogInterval:              10,
	}
}

// Validate checks the Config for errors. All errors wrap ErrConfig.
func (c Config) Validate() error {
	var missing []string
	if len(c.FilePatterns) == 0 {
		missing = append(missing, "file_patterns")
	}
	if c.SamplesKey == "" {
		missing = append(missing, "samples_key")
	}
	if c.TargetKey == "" {
		missing = append(missing, "target_key")
	}
	if c.ModelType == "" {
		missing = append(missing, "model_type")
	}
	if c.ShuffleBufferSize == 0 {
		missing = append(missing, "shuffle_buffer_size")
	}
	if c.LogDir == "" {
		missing = append(missing, "logdir")
	}
	if len(missing) > 0 {
		return fmt.Errorf("validate: %w: missing required %v", ErrConfig,
			missing)
	}

	if _, err := network.ParseModelType(c.ModelType); err != nil {
		return fmt.Errorf("validate: %w: %v", ErrConfig, err)
	}

	positive := []struct {
		name  string
		value int
	}{
		{"train_batch_size", c.BatchSize},
		{"max_sample_length", c.MaxSampleLength},
		{"shuffle_buffer_size", c.ShuffleBufferSize},
		{"training_steps", c.TrainingSteps},
		{"measurement_store_interval", c.MeasurementStoreInterval},
		{"target_dim", c.TargetDim},
		{"frame_hop", c.FrameHop},
		{"log_interval", c.LogInterval},
	}
	for _, p := range positive {
		if p.value < 1 {
			return fmt.Errorf("validate: %w: %v must be positive but got %v",
				ErrConfig, p.name, p.value)
		}
	}

	if c.NumEpochs < 0 {
		return fmt.Errorf("validate: %w: num_epochs must be non-negative",
			ErrConfig)
	}
	if c.CheckpointMaxToKeep < 0 {
		return fmt.Errorf("validate: %w: checkpoint_max_to_keep must be "+
			"non-negative", ErrConfig)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("validate: %w: lr must be positive", ErrConfig)
	}
	if c.MaxSampleLength%c.FrameHop != 0 {
		return fmt.Errorf("validate: %w: max_sample_length (%v) must be a "+
			"multiple of frame_hop (%v)", ErrConfig, c.MaxSampleLength,
			c.FrameHop)
	}
	return nil
}

// Pipeline returns the configuration of the input pipeline
func (c Config) Pipeline() dataset.Config {
	return dataset.Config{
		SamplesKey:        c.SamplesKey,
		TargetKey:         c.TargetKey,
		BatchSize:         c.BatchSize,
		MaxSampleLength:   c.MaxSampleLength,
		ShuffleBufferSize: c.ShuffleBufferSize,
		NumEpochs:         c.NumEpochs,
		TargetDim:         c.TargetDim,
		Seed:              c.Seed,
	}
}
