package counting

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIncrement(t *testing.T) {
	c := NewCounter(nil, "")

	counts := c.Increment(map[string]int{"steps": 1})
	assert.Equal(t, map[string]int{"steps": 1}, counts)

	c.Increment(map[string]int{"steps": 2, "episodes": 1})
	assert.Equal(t, 3, c.Count("steps"))
	assert.Equal(t, 1, c.Count("episodes"))
	assert.Equal(t, 0, c.Count("missing"))
}

func TestParentIsPrefixed(t *testing.T) {
	parent := NewCounter(nil, "")
	learner := NewCounter(parent, "learner")
	actor := NewCounter(parent, "actor")

	learner.Increment(map[string]int{"steps": 5})
	actor.Increment(map[string]int{"steps": 2})

	assert.Equal(t, map[string]int{"steps": 5}, learner.Get())
	assert.Equal(t, map[string]int{"learner_steps": 5, "actor_steps": 2},
		parent.Get())
}

func TestConcurrentIncrement(t *testing.T) {
	c := NewCounter(nil, "")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Increment(map[string]int{"steps": 1})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 800, c.Count("steps"))
}

func TestGetReturnsCopy(t *testing.T) {
	c := NewCounter(nil, "")
	c.Increment(map[string]int{"steps": 1})

	counts := c.Get()
	counts["steps"] = 100
	assert.Equal(t, 1, c.Count("steps"))
}
