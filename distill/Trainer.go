// Package distill trains a student audio embedding model to match the
// embeddings of a teacher model precomputed in a dataset.
//
// Training is a single loop driven by Run. Each step draws a batch,
// runs the student forward, computes the mean squared error to the
// teacher embeddings, takes one Adam step, and updates the running
// loss and mean absolute error. Checkpoints are saved every
// MeasurementStoreInterval steps and once more when the loop exits,
// and the latest checkpoint is restored when Run starts.
package distill

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/distillrl/dataset"
	"github.com/samuelfneumann/distillrl/experiment/checkpointer"
	"github.com/samuelfneumann/distillrl/experiment/summary"
	"github.com/samuelfneumann/distillrl/initwfn"
	"github.com/samuelfneumann/distillrl/metrics"
	"github.com/samuelfneumann/distillrl/network"
	"github.com/samuelfneumann/distillrl/solver"
)

// Adam hyperparameters
const (
	beta1   = 0.9
	beta2   = 0.999
	epsilon = 1e-8
)

// Summary tags written on each step
const (
	LossTag         = "mse_loss"
	SmoothedLossTag = "mse_loss_smoothed"
	MAETag          = "mae"
)

// Data produces training batches. Next returns dataset.ErrExhausted
// when no batches remain. dataset.Pipeline implements Data.
type Data interface {
	Next() (dataset.Batch, error)

	// TargetDim returns the declared embedding dimension of the
	// targets
	TargetDim() int
}

// Option configures a Trainer
type Option func(*Trainer)

// WithMetrics exports the training scalars to c
func WithMetrics(c *metrics.Collector) Option {
	return func(t *Trainer) {
		t.metrics = c
	}
}

// Trainer trains a student model by distillation
type Trainer struct {
	config Config
	data   Data
	logger *zap.Logger

	model   network.NeuralNet
	targets *G.Node
	lossVal *G.Value
	vm      G.VM
	solver  *solver.Solver

	manager      *checkpointer.Manager
	checkpointer checkpointer.Checkpointer
	summary      *summary.Writer
	metrics      *metrics.Collector

	loss metrics.Mean
	mae  metrics.Mean
	step int
}

// NewTrainer returns a Trainer of the student described by c on data.
// The declared embedding dimension of data, the target dimension of c
// and the output dimension of the model must agree.
func NewTrainer(c Config, data Data, logger *zap.Logger,
	opts ...Option) (*Trainer, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newTrainer: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if data.TargetDim() != c.TargetDim {
		return nil, fmt.Errorf("newTrainer: %w: data embedding dimension "+
			"(%v) != target dimension (%v)", ErrShape, data.TargetDim(),
			c.TargetDim)
	}

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return nil, fmt.Errorf("newTrainer: %w", err)
	}

	g := G.NewGraph()
	model, err := network.NewAudioEmbedder(c.ModelType, c.BatchSize,
		c.MaxSampleLength, c.FrameHop, c.TargetDim, g, init.Seeded(c.Seed))
	if err != nil {
		return nil, fmt.Errorf("newTrainer: %w: %v", ErrConfig, err)
	}
	if model.Outputs() != c.TargetDim {
		return nil, fmt.Errorf("newTrainer: %w: model output dimension "+
			"(%v) != target dimension (%v)", ErrShape, model.Outputs(),
			c.TargetDim)
	}
	if len(model.Learnables()) == 0 {
		return nil, fmt.Errorf("newTrainer: %w: model %v has no trainable "+
			"variables", ErrConfig, c.ModelType)
	}

	targets := G.NewMatrix(g, tensor.Float64,
		G.WithShape(c.BatchSize, c.TargetDim), G.WithName("distillTargets"),
		G.WithInit(G.Zeroes()))
	loss := G.Must(G.Sub(model.Prediction(), targets))
	loss = G.Must(G.Mean(G.Must(G.Square(loss))))

	lossVal := new(G.Value)
	G.Read(loss, lossVal)
	if _, err := G.Grad(loss, model.Learnables()...); err != nil {
		return nil, fmt.Errorf("newTrainer: could not compute gradient: %w",
			err)
	}

	// The loss is already a batch mean
	adam, err := solver.NewAdam(c.LearningRate, epsilon, beta1, beta2, 1)
	if err != nil {
		return nil, fmt.Errorf("newTrainer: %w", err)
	}

	manager, err := checkpointer.NewManager(c.LogDir, c.CheckpointMaxToKeep)
	if err != nil {
		return nil, fmt.Errorf("newTrainer: %w", err)
	}
	writer, err := summary.NewWriter(c.LogDir, manager.RunID())
	if err != nil {
		return nil, fmt.Errorf("newTrainer: %w", err)
	}

	t := &Trainer{
		config:  c,
		data:    data,
		logger:  logger,
		model:   model,
		targets: targets,
		lossVal: lossVal,
		vm:      G.NewTapeMachine(g, G.BindDualValues(model.Learnables()...)),
		solver:  adam,
		manager: manager,
		summary: writer,
	}
	t.checkpointer = checkpointer.NewNStep(c.MeasurementStoreInterval, t,
		manager)
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Run restores the latest checkpoint and trains until the data is
// exhausted, TrainingSteps is reached or ctx is cancelled, then saves
// a final checkpoint. Errors of a step are returned without saving a
// checkpoint.
func (t *Trainer) Run(ctx context.Context) error {
	t.logger.Info("starting distillation",
		zap.String("logdir", t.config.LogDir),
		zap.Int("batch_size", t.config.BatchSize),
		zap.String("checkpoint_prefix", t.manager.Prefix()),
		zap.String("run_id", t.manager.RunID()),
	)

	state, err := t.manager.Restore()
	switch {
	case errors.Is(err, checkpointer.ErrNoCheckpoint):
		t.logger.Info("no checkpoint found, training from scratch")
	case err != nil:
		return fmt.Errorf("run: %w", err)
	default:
		if err := t.Restore(state); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		t.logger.Info("restored checkpoint", zap.Int("step", t.step))
	}

	if t.config.Debug {
		return t.summary.Flush()
	}

	t.logger.Info("starting loop", zap.Int("train_batch_size",
		t.config.BatchSize))
	for t.step < t.config.TrainingSteps && ctx.Err() == nil {
		batch, err := t.data.Next()
		if errors.Is(err, dataset.ErrExhausted) {
			t.logger.Info("data exhausted", zap.Int("step", t.step))
			break
		} else if err != nil && ctx.Err() != nil {
			break
		} else if err != nil {
			return fmt.Errorf("run: step %v: %w", t.step+1, err)
		}

		if err := t.Step(batch); err != nil {
			return fmt.Errorf("run: %w", err)
		}
		if err := t.report(); err != nil {
			return fmt.Errorf("run: %w", err)
		}

		saved, err := t.checkpointer.Checkpoint(t.step)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		if saved && t.metrics != nil {
			t.metrics.CheckpointSaved()
		}
	}
	if ctx.Err() != nil {
		t.logger.Warn("training interrupted", zap.Int("step", t.step),
			zap.Error(ctx.Err()))
	}

	if err := t.save(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	t.logger.Info("finished training", zap.Int("step", t.step))
	return t.summary.Flush()
}

// Step takes one training step on batch
func (t *Trainer) Step(batch dataset.Batch) error {
	if err := t.validate(batch); err != nil {
		return fmt.Errorf("step: %w", err)
	}

	samples, ok := batch.Samples.Data().([]float64)
	if !ok {
		return fmt.Errorf("step: %w: samples are not float64", ErrShape)
	}
	if err := t.model.SetInput(samples); err != nil {
		return fmt.Errorf("step: %w", err)
	}
	if err := G.Let(t.targets, batch.Targets); err != nil {
		return fmt.Errorf("step: could not set targets: %w", err)
	}

	if err := t.vm.RunAll(); err != nil {
		return fmt.Errorf("step: could not run model: %w", err)
	}
	prediction := append([]float64(nil),
		t.model.Output().Data().([]float64)...)
	loss := scalarValue(*t.lossVal)

	if err := t.solver.Step(t.model.Model()); err != nil {
		return fmt.Errorf("step: could not step solver: %w", err)
	}
	t.vm.Reset()
	t.step++

	targets := batch.Targets.Data().([]float64)
	squared, err := metrics.SquaredErrors(prediction, targets,
		t.config.TargetDim)
	if err != nil {
		return fmt.Errorf("step: %w", err)
	}
	absolute, err := metrics.AbsoluteErrors(prediction, targets,
		t.config.TargetDim)
	if err != nil {
		return fmt.Errorf("step: %w", err)
	}
	t.loss.Update(squared...)
	t.mae.Update(absolute...)

	scalars := map[string]float64{
		LossTag:         loss,
		SmoothedLossTag: t.loss.Result(),
		MAETag:          t.mae.Result(),
	}
	if err := t.summary.Scalars(scalars, t.step); err != nil {
		return fmt.Errorf("step: %w", err)
	}
	if t.metrics != nil {
		t.metrics.Observe(t.step, scalars)
	}
	return nil
}

// validate checks the shapes of batch against the model
func (t *Trainer) validate(batch dataset.Batch) error {
	if batch.Samples == nil || batch.Targets == nil {
		return fmt.Errorf("validate: %w: incomplete batch", ErrShape)
	}

	samples, targets := batch.Samples.Shape(), batch.Targets.Shape()
	if len(samples) != 2 || len(targets) != 2 {
		return fmt.Errorf("validate: %w: samples and targets must have "+
			"rank 2 but got shapes %v and %v", ErrShape, samples, targets)
	}
	if samples[0] != t.config.BatchSize ||
		samples[1] != t.config.MaxSampleLength {
		return fmt.Errorf("validate: %w: samples have shape %v but want "+
			"(%v, %v)", ErrShape, samples, t.config.BatchSize,
			t.config.MaxSampleLength)
	}
	if targets[0] != t.config.BatchSize || targets[1] != t.config.TargetDim {
		return fmt.Errorf("validate: %w: targets have shape %v but want "+
			"(%v, %v)", ErrShape, targets, t.config.BatchSize,
			t.config.TargetDim)
	}
	return nil
}

// report logs a progress line every LogInterval steps
func (t *Trainer) report() error {
	if t.step%t.config.LogInterval != 0 {
		return nil
	}
	t.logger.Info("training",
		zap.Int("step", t.step),
		zap.Float64("train_loss", t.loss.Result()),
		zap.Float64("train_mae", t.mae.Result()),
	)
	return t.summary.Flush()
}

// save saves a checkpoint unconditionally
func (t *Trainer) save() error {
	state, err := t.Checkpoint()
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if _, err := t.manager.Save(state); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if t.metrics != nil {
		t.metrics.CheckpointSaved()
	}
	return nil
}

// Checkpoint returns the state of the model and optimizer
func (t *Trainer) Checkpoint() (checkpointer.State, error) {
	opt, err := t.solver.State()
	if err != nil {
		return checkpointer.State{}, fmt.Errorf("checkpoint: %w", err)
	}
	return checkpointer.NewState(t.step, network.Params(t.model), opt)
}

// Restore restores the model and optimizer from state
func (t *Trainer) Restore(state checkpointer.State) error {
	weights, err := state.Weights()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := network.SetParams(t.model, weights); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if err := t.solver.SetState(state.Optimizer); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	t.step = state.Step
	return nil
}

// GlobalStep returns the number of steps taken, including those of
// restored checkpoints
func (t *Trainer) GlobalStep() int {
	return t.step
}

// SmoothedLoss returns the running mean squared error since the
// Trainer was created
func (t *Trainer) SmoothedLoss() float64 {
	return t.loss.Result()
}

// SmoothedMAE returns the running mean absolute error since the
// Trainer was created
func (t *Trainer) SmoothedMAE() float64 {
	return t.mae.Result()
}

// Params returns a snapshot of the student's weights
func (t *Trainer) Params() []*tensor.Dense {
	return network.Params(t.model)
}

// Checkpoints returns the retained checkpoints
func (t *Trainer) Checkpoints() []checkpointer.Entry {
	return t.manager.Checkpoints()
}

// Close releases the resources of the Trainer
func (t *Trainer) Close() error {
	err := t.summary.Close()
	if closeErr := t.vm.Close(); err == nil {
		err = closeErr
	}
	return err
}

func scalarValue(v G.Value) float64 {
	switch data := v.Data().(type) {
	case float64:
		return data
	case []float64:
		return data[0]
	}
	panic(fmt.Sprintf("scalarValue: unexpected value type %T", v.Data()))
}
