// Package demonstrations stores previously collected transitions on
// disk and serves them to offline learners as batches.
package demonstrations

import (
	"encoding/gob"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/distillrl/agent"
	"github.com/samuelfneumann/distillrl/expreplay"
	"github.com/samuelfneumann/distillrl/timestep"
)

// record is the on-disk form of a timestep.Transition
type record struct {
	State, Action         []float64
	Reward, Discount      float64
	NextState, NextAction []float64
}

// Save writes transitions to the file at path
func Save(path string, transitions []timestep.Transition) error {
	records := make([]record, len(transitions))
	for i, t := range transitions {
		records[i] = record{
			State:     t.State.RawVector().Data,
			Action:    t.Action.RawVector().Data,
			Reward:    t.Reward,
			Discount:  t.Discount,
			NextState: t.NextState.RawVector().Data,
		}
		if t.NextAction != nil {
			records[i].NextAction = t.NextAction.RawVector().Data
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if err := gob.NewEncoder(file).Encode(records); err != nil {
		file.Close()
		return fmt.Errorf("save: could not encode demonstrations: %w", err)
	}
	return file.Close()
}

// Load reads transitions written by Save
func Load(path string) ([]timestep.Transition, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	defer file.Close()

	var records []record
	if err := gob.NewDecoder(file).Decode(&records); err != nil {
		return nil, fmt.Errorf("load: could not decode demonstrations: %w",
			err)
	}

	transitions := make([]timestep.Transition, len(records))
	for i, r := range records {
		nextAction := r.NextAction
		if len(nextAction) == 0 {
			nextAction = make([]float64, len(r.Action))
		}
		transitions[i] = timestep.Transition{
			State:      mat.NewVecDense(len(r.State), r.State),
			Action:     mat.NewVecDense(len(r.Action), r.Action),
			Reward:     r.Reward,
			Discount:   r.Discount,
			NextState:  mat.NewVecDense(len(r.NextState), r.NextState),
			NextAction: mat.NewVecDense(len(nextAction), nextAction),
		}
	}
	return transitions, nil
}

// iterator samples batches of demonstrations uniformly with
// replacement. It never runs out of batches.
type iterator struct {
	buffer expreplay.ExperienceReplayer
}

// NewIterator returns an Iterator over transitions which produces
// batches of batchSize transitions, sampled with a source seeded by
// seed
func NewIterator(transitions []timestep.Transition, batchSize int,
	seed uint64) (agent.Iterator, error) {
	if len(transitions) == 0 {
		return nil, fmt.Errorf("newIterator: no demonstrations")
	}
	features := transitions[0].State.Len()
	actions := transitions[0].Action.Len()

	buffer, err := expreplay.Config{
		Name:              "demonstrations",
		RemoveMethod:      expreplay.Fifo,
		SampleMethod:      expreplay.Uniform,
		RemoveSize:        1,
		SampleSize:        batchSize,
		MinReplayCapacity: 1,
		MaxReplayCapacity: len(transitions),
	}.Create(features, actions, seed)
	if err != nil {
		return nil, fmt.Errorf("newIterator: %w", err)
	}

	for i, t := range transitions {
		if err := buffer.Add(t); err != nil {
			return nil, fmt.Errorf("newIterator: demonstration %v: %w", i,
				err)
		}
	}
	return &iterator{buffer: buffer}, nil
}

// Next returns the next batch of demonstrations
func (it *iterator) Next() (timestep.Batch, error) {
	return it.buffer.Sample()
}

// Factory returns a function which loads the demonstrations at path
// and returns an Iterator over them
func Factory(path string, batchSize int, seed uint64) func() (agent.Iterator,
	error) {
	return func() (agent.Iterator, error) {
		transitions, err := Load(path)
		if err != nil {
			return nil, err
		}
		return NewIterator(transitions, batchSize, seed)
	}
}

// FromTransitions returns a factory serving the given transitions
func FromTransitions(transitions []timestep.Transition, batchSize int,
	seed uint64) func() (agent.Iterator, error) {
	return func() (agent.Iterator, error) {
		return NewIterator(transitions, batchSize, seed)
	}
}
