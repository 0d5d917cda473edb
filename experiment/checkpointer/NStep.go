package checkpointer

// nStep implements checkpointing every N steps
type nStep struct {
	interval int
	object   Checkpointable
	manager  *Manager
}

// NewNStep returns a checkpointer that saves object with manager every
// n global steps.
func NewNStep(n int, object Checkpointable, manager *Manager) Checkpointer {
	return &nStep{
		interval: n,
		object:   object,
		manager:  manager,
	}
}

// Checkpoint saves the tracked object if step is a multiple of the
// interval
func (n *nStep) Checkpoint(step int) (bool, error) {
	if n.interval < 1 || step%n.interval != 0 {
		return false, nil
	}

	state, err := n.object.Checkpoint()
	if err != nil {
		return false, err
	}
	if _, err := n.manager.Save(state); err != nil {
		return false, err
	}
	return true, nil
}
