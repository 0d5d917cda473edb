package agent

import (
	"fmt"
	"sync"

	"gorgonia.org/tensor"
)

// VariableClient pulls named parameter snapshots from a VariableSource
// for an actor. Each successful pull increases the client's version,
// which lets the owner apply new weights only when they change.
type VariableClient struct {
	source VariableSource
	names  []string
	device Device

	mu      sync.Mutex
	params  [][]*tensor.Dense
	version int
	err     error
	pending sync.WaitGroup
}

// NewVariableClient returns a client reading names from source, with
// computation placed on device
func NewVariableClient(source VariableSource, device Device,
	names ...string) (*VariableClient, error) {
	if source == nil {
		return nil, fmt.Errorf("newVariableClient: %w", ErrNoVariableSource)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("newVariableClient: no variable names")
	}
	return &VariableClient{source: source, names: names, device: device}, nil
}

// Update pulls the latest variables. If wait is false the pull happens
// on a separate goroutine, and any error is returned by the next call
// to Update.
func (v *VariableClient) Update(wait bool) error {
	if wait {
		v.pending.Wait()
		v.fetch()

		v.mu.Lock()
		defer v.mu.Unlock()
		err := v.err
		v.err = nil
		return err
	}

	v.mu.Lock()
	err := v.err
	v.err = nil
	v.mu.Unlock()

	v.pending.Add(1)
	go func() {
		defer v.pending.Done()
		v.fetch()
	}()
	return err
}

func (v *VariableClient) fetch() {
	params, err := v.source.Variables(v.names...)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.err = fmt.Errorf("update: %w", err)
		return
	}
	v.params = params
	v.version++
}

// Params returns the latest variables in the order of the client's
// names, and the version of the snapshot. Version 0 means no snapshot
// has been pulled.
func (v *VariableClient) Params() ([][]*tensor.Dense, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.params, v.version
}

// Names returns the variable names read by the client
func (v *VariableClient) Names() []string {
	return v.names
}

// Device returns the device the client's owner computes on
func (v *VariableClient) Device() Device {
	return v.device
}
