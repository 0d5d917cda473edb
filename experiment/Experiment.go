// Package experiment implements functionality for running an
// experiment. An offline experiment steps a learner on previously
// collected data and periodically evaluates an actor, which pulls its
// weights from the learner, in an environment.
package experiment

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/distillrl/agent"
	env "github.com/samuelfneumann/distillrl/environment"
	"github.com/samuelfneumann/distillrl/experiment/summary"
	"github.com/samuelfneumann/distillrl/experiment/trackers"
	"github.com/samuelfneumann/distillrl/metrics"
	ts "github.com/samuelfneumann/distillrl/timestep"
)

// Config represents a configuration of an offline experiment
type Config struct {
	// Steps is the number of learner steps
	Steps int

	// EvalInterval is the number of learner steps between evaluations,
	// 0 meaning evaluation happens only after the last step
	EvalInterval int

	// EvalEpisodes is the number of episodes of each evaluation
	EvalEpisodes int
}

// Validate checks the Config for errors
func (c Config) Validate() error {
	if c.Steps < 1 {
		return fmt.Errorf("validate: steps must be positive")
	}
	if c.EvalInterval < 0 {
		return fmt.Errorf("validate: eval interval must be non-negative")
	}
	if c.EvalEpisodes < 1 {
		return fmt.Errorf("validate: eval episodes must be positive")
	}
	return nil
}

// Option configures an Offline experiment
type Option func(*Offline)

// WithTrackers registers Trackers which track every evaluation timestep
func WithTrackers(t ...trackers.Tracker) Option {
	return func(o *Offline) {
		o.trackers = append(o.trackers, t...)
	}
}

// WithSummary records the mean evaluation return in w
func WithSummary(w *summary.Writer) Option {
	return func(o *Offline) {
		o.summary = w
	}
}

// WithMetrics exports the mean evaluation return to c
func WithMetrics(c *metrics.Collector) Option {
	return func(o *Offline) {
		o.metrics = c
	}
}

// Offline is an experiment which trains a learner offline and
// evaluates an actor online
type Offline struct {
	config  Config
	learner agent.Learner
	actor   agent.Actor
	env     env.Environment
	logger  *zap.Logger

	trackers []trackers.Tracker
	summary  *summary.Writer
	metrics  *metrics.Collector

	currentSteps int
	evaluations  [][]float64
}

// NewOffline returns a new offline experiment
func NewOffline(c Config, learner agent.Learner, actor agent.Actor,
	e env.Environment, logger *zap.Logger, opts ...Option) (*Offline,
	error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("newOffline: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Offline{
		config:  c,
		learner: learner,
		actor:   actor,
		env:     e,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Run runs all learner steps, evaluating the actor every EvalInterval
// steps and after the last step. Run returns early with the context's
// error if ctx is cancelled.
func (o *Offline) Run(ctx context.Context) error {
	for o.currentSteps < o.config.Steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := o.learner.Step(); err != nil {
			return fmt.Errorf("run: step %v: %w", o.currentSteps+1, err)
		}
		o.currentSteps++

		interval := o.config.EvalInterval
		last := o.currentSteps == o.config.Steps
		if last || (interval > 0 && o.currentSteps%interval == 0) {
			if _, err := o.Evaluate(); err != nil {
				return fmt.Errorf("run: %w", err)
			}
		}
	}
	return nil
}

// Evaluate pulls the latest weights into the actor and runs
// EvalEpisodes episodes in evaluation mode, returning the episodic
// returns
func (o *Offline) Evaluate() ([]float64, error) {
	if err := o.actor.Update(true); err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	wasEval := o.actor.IsEval()
	o.actor.Eval()
	if !wasEval {
		defer o.actor.Train()
	}

	returns := trackers.NewReturn("")
	for i := 0; i < o.config.EvalEpisodes; i++ {
		if err := o.RunEpisode(returns); err != nil {
			return nil, fmt.Errorf("evaluate: episode %v: %w", i, err)
		}
	}

	episodic := returns.Returns()
	o.evaluations = append(o.evaluations, episodic)
	mean, std := stat.MeanStdDev(episodic, nil)

	o.logger.Info("evaluation",
		zap.Int("step", o.currentSteps),
		zap.Float64("mean_return", mean),
		zap.Float64("std_return", std),
	)
	if o.summary != nil {
		if err := o.summary.Scalar("eval_return", mean,
			o.currentSteps); err != nil {
			return nil, fmt.Errorf("evaluate: %w", err)
		}
	}
	if o.metrics != nil {
		o.metrics.Observe(o.currentSteps,
			map[string]float64{"eval_return": mean})
	}
	return episodic, nil
}

// RunEpisode runs a single episode, tracking each timestep with extra
// and the registered Trackers
func (o *Offline) RunEpisode(extra ...trackers.Tracker) error {
	step := o.env.Reset()
	if err := o.actor.ObserveFirst(step); err != nil {
		return fmt.Errorf("runEpisode: %w", err)
	}
	o.track(step, extra)

	for !step.Last() {
		action := o.actor.SelectAction(step)
		step, _ = o.env.Step(action)
		o.track(step, extra)

		if err := o.actor.Observe(action, step); err != nil {
			return fmt.Errorf("runEpisode: %w", err)
		}
	}
	return nil
}

// Evaluations returns the episodic returns of each evaluation
func (o *Offline) Evaluations() [][]float64 {
	return o.evaluations
}

// Steps returns the number of learner steps taken
func (o *Offline) Steps() int {
	return o.currentSteps
}

// Save saves all the data cached by the Trackers to disk
func (o *Offline) Save() error {
	for _, t := range o.trackers {
		if err := t.Save(); err != nil {
			return fmt.Errorf("save: %w", err)
		}
	}
	return nil
}

func (o *Offline) track(t ts.TimeStep, extra []trackers.Tracker) {
	for _, tracker := range o.trackers {
		tracker.Track(t)
	}
	for _, tracker := range extra {
		tracker.Track(t)
	}
}
