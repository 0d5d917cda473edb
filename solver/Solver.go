// Package solver implements functionality to wrap Gorgonia Solvers
// so that they can be JSON serialized into configuraiton files.
package solver

import (
	"encoding/json"
	"fmt"
	"reflect"

	G "gorgonia.org/gorgonia"
)

// Type describes different types of solvers that are available
type Type string

// Available solver types
const (
	Adam    Type = "Adam"
	Vanilla Type = "Vanilla"
	RMSProp Type = "RMSProp"
)

// Solver wraps Gorgonia Solvers so that they can be JSON marshalled and
// unmarshalled.
type Solver struct {
	G.Solver `json:"-"`
	Type
	Config
}

// newSolver returns a new solver with the given type and configuration.
func newSolver(t Type, c Config) (*Solver, error) {
	if !c.ValidType(t) {
		return nil, fmt.Errorf("newSolver: invalid solver type %v for "+
			"configuration %T", t, c)
	}
	solver := Solver{Type: t, Config: c}
	solver.Solver = solver.Config.Create()

	return &solver, nil
}

// New returns a solver of type t with default hyperparameters and the
// given step size
func New(t Type, stepSize float64, batchSize int) (*Solver, error) {
	switch t {
	case Adam:
		return NewDefaultAdam(stepSize, batchSize)
	case RMSProp:
		return NewDefaultRMSProp(stepSize, batchSize)
	case Vanilla:
		return NewVanilla(stepSize, batchSize, -1.0)
	}
	return nil, fmt.Errorf("new: no such solver type %v", t)
}

// State returns a snapshot of the internal state of the wrapped
// solver. An error is returned if the wrapped solver cannot export its
// state.
func (s *Solver) State() (State, error) {
	c, ok := s.Solver.(Checkpointable)
	if !ok {
		return State{}, fmt.Errorf("state: solver %v cannot export its "+
			"state", s.Type)
	}
	return c.State(), nil
}

// SetState restores the internal state of the wrapped solver
func (s *Solver) SetState(state State) error {
	c, ok := s.Solver.(Checkpointable)
	if !ok {
		return fmt.Errorf("setState: solver %v cannot import its state",
			s.Type)
	}
	return c.SetState(state)
}

// UnmarshalJSON implements the json.Unmarshaller interface
func (s *Solver) UnmarshalJSON(data []byte) error {
	config, typeName, err := unmarshalConfig(
		data,
		"Type",
		"Config",
		map[string]reflect.Type{
			string(Vanilla): reflect.TypeOf(VanillaConfig{}),
			string(Adam):    reflect.TypeOf(AdamConfig{}),
			string(RMSProp): reflect.TypeOf(RMSPropConfig{}),
		})
	if err != nil {
		return err
	}

	s.Type = typeName
	s.Config = config
	s.Solver = s.Config.Create()

	return nil
}

// unmarshalConfig uses reflection to unmarshall a Config into its
// concrete type. Both the Config and its Type are returned.
func unmarshalConfig(data []byte, typeJsonField, valueJsonField string,
	customTypes map[string]reflect.Type) (Config, Type, error) {
	m := map[string]interface{}{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, "", err
	}

	typeName, ok := m[typeJsonField].(string)
	if !ok {
		return nil, "", fmt.Errorf("unmarshalConfig: missing field %v",
			typeJsonField)
	}
	ty, found := customTypes[typeName]
	if !found {
		return nil, "", fmt.Errorf("unmarshalConfig: no such solver type %v",
			typeName)
	}
	value := reflect.New(ty).Interface()

	valueBytes, err := json.Marshal(m[valueJsonField])
	if err != nil {
		return nil, "", err
	}

	if err = json.Unmarshal(valueBytes, value); err != nil {
		return nil, "", err
	}
	concreteValue := reflect.ValueOf(value).Elem().Interface().(Config)

	return concreteValue, Type(typeName), nil
}

// Checkpointable is a Gorgonia Solver whose internal state can be
// exported and later restored, so that training resumed from a
// checkpoint follows the same trajectory as uninterrupted training.
type Checkpointable interface {
	G.Solver
	State() State
	SetState(State) error
}

// Config implements a Gorgonia Solver configuration and can be used to
// create Gorgonia Solvers they describe.
type Config interface {
	Create() G.Solver

	// ValidType returns whether a specific Solver type can be created
	// with the Config
	ValidType(Type) bool
}
