// Package expreplay implements experience replay buffers. A buffer is
// either filled online by an adder or, for offline agents, filled
// once with demonstrations and then only sampled.
package expreplay

import (
	"container/list"
	"fmt"

	"github.com/samuelfneumann/distillrl/timestep"
	"github.com/samuelfneumann/distillrl/utils/intutils"
)

// Config implements a specific configuration of an ExperienceReplayer
type Config struct {
	Name              string
	RemoveMethod      SelectorType
	SampleMethod      SelectorType
	RemoveSize        int
	SampleSize        int
	MaxReplayCapacity int
	MinReplayCapacity int
}

// BatchSize returns the number of samples drawn by a buffer created
// with the Config
func (c Config) BatchSize() int {
	return c.SampleSize
}

// Create creates and returns the ExperienceReplayer with the specified
// Config.
func (c Config) Create(featureSize, actionSize int,
	seed uint64) (ExperienceReplayer, error) {
	remover, err := CreateSelector(c.RemoveMethod, c.RemoveSize, seed)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}
	sampler, err := CreateSelector(c.SampleMethod, c.SampleSize, seed)
	if err != nil {
		return nil, fmt.Errorf("create: %w", err)
	}

	return New(c.Name, remover, sampler, c.MinReplayCapacity,
		c.MaxReplayCapacity, featureSize, actionSize)
}

// ExperienceReplayer implements an experience replay buffer
type ExperienceReplayer interface {
	// Name returns the name of the buffer
	Name() string

	// Add adds a transition to the buffer
	Add(t timestep.Transition) error

	// Sample samples a batch of experience from the buffer
	Sample() (timestep.Batch, error)

	// Capacity returns the current number of samples in the buffer
	Capacity() int

	// MaxCapacity returns the maximum allowable samples in the buffer
	MaxCapacity() int

	// MinCapacity returns the number of samples required to be in
	// the buffer before the buffer can be sampled
	MinCapacity() int

	// BatchSize returns the number of samples returned by Sample()
	BatchSize() int
}

// cache implements a concrete ExperienceReplayer
type cache struct {
	name string

	stateCache      []float64
	actionCache     []float64
	rewardCache     []float64
	discountCache   []float64
	nextStateCache  []float64
	nextActionCache []float64

	// The indices of the cache that are empty and have no data
	emptyIndices []int

	// The indices of the cache that have data
	inUseIndices []int

	// orderOfInsert outlines the order the chronological order of
	// inserts. For i > j, the data at index orderOfInsert[i] was
	// inserted into the buffer after the data at index orderOfInsert[j]
	orderOfInsert *list.List

	// Outlines how data is removed and sampled
	remover Selector
	sampler Selector

	minCapacity int
	maxCapacity int
	featureSize int
	actionSize  int
}

// New creates and returns a new ExperienceReplayer. The remover and
// sampler paramters are Selectors which determine how data is removed
// and sampled from the replay buffer. The featureSize and actionSize
// parameters define the size of the feature and action vectors.
//
// Pixel observations should be flattened before adding to the buffer.
func New(name string, remover, sampler Selector, minCapacity, maxCapacity,
	featureSize, actionSize int) (ExperienceReplayer, error) {
	if minCapacity <= 0 {
		return nil, fmt.Errorf("new: minCapacity must be > 0")
	}
	if maxCapacity < minCapacity {
		return nil, fmt.Errorf("new: maxCapacity (%v) must be >= "+
			"minCapacity (%v)", maxCapacity, minCapacity)
	}
	if sampler.BatchSize() < 1 {
		return nil, fmt.Errorf("new: batch size must be > 0")
	}
	if remover.BatchSize() < 1 {
		return nil, fmt.Errorf("new: remove size must be > 0")
	}
	remover.registerAsRemover()

	emptyIndices := make([]int, maxCapacity)
	for i := 0; i < maxCapacity; i++ {
		// Filled from the back, so data is first inserted at index 0
		emptyIndices[i] = maxCapacity - 1 - i
	}

	return &cache{
		name: name,

		stateCache:      make([]float64, maxCapacity*featureSize),
		actionCache:     make([]float64, maxCapacity*actionSize),
		rewardCache:     make([]float64, maxCapacity),
		discountCache:   make([]float64, maxCapacity),
		nextStateCache:  make([]float64, maxCapacity*featureSize),
		nextActionCache: make([]float64, maxCapacity*actionSize),

		emptyIndices:  emptyIndices,
		inUseIndices:  make([]int, 0, maxCapacity),
		orderOfInsert: list.New(),

		remover: remover,
		sampler: sampler,

		minCapacity: minCapacity,
		maxCapacity: maxCapacity,
		featureSize: featureSize,
		actionSize:  actionSize,
	}, nil
}

// Name returns the name of the cache
func (c *cache) Name() string {
	return c.name
}

// insertOrder returns a slice of at most n indices which describes
// the order that the first n data were inserted into the buffer.
// The length of the returned slice is the minimum between n and the
// number of elements currently in the buffer
func (c *cache) insertOrder(n int) []int {
	size := intutils.Min(n, c.Capacity())
	insertOrder := make([]int, 0, size)

	for element := c.orderOfInsert.Front(); element != nil &&
		len(insertOrder) < size; element = element.Next() {
		insertOrder = append(insertOrder, element.Value.(int))
	}
	return insertOrder
}

// removeFront removes the earliest tracked index that is at
// which data was inserted at.
func (c *cache) removeFront() {
	if front := c.orderOfInsert.Front(); front != nil {
		c.orderOfInsert.Remove(front)
	}
}

// removeFromOrder removes index from the tracked insertion order
func (c *cache) removeFromOrder(index int) {
	for element := c.orderOfInsert.Front(); element != nil; element = element.Next() {
		if element.Value.(int) == index {
			c.orderOfInsert.Remove(element)
			return
		}
	}
}

// BatchSize returns the number of samples sampled using Sample() -
// a.k.a the batch size
func (c *cache) BatchSize() int {
	return c.sampler.BatchSize()
}

// remove removes elements from the cache using indices sampled from the
// cache's remover
func (c *cache) remove() {
	indices := c.remover.choose(c)
	for _, index := range indices {
		for i := range c.inUseIndices {
			if c.inUseIndices[i] == index {
				last := len(c.inUseIndices) - 1
				c.inUseIndices[i] = c.inUseIndices[last]
				c.inUseIndices = c.inUseIndices[:last]
				c.emptyIndices = append(c.emptyIndices, index)
				break
			}
		}
		if _, fifo := c.remover.(*fifoSelector); !fifo {
			c.removeFromOrder(index)
		}
	}
}

// Sample samples and returns a batch of transitions from the replay
// buffer
func (c *cache) Sample() (timestep.Batch, error) {
	if c.Capacity() == 0 {
		return timestep.Batch{}, &ExpReplayError{Op: "sample", Err: errEmptyCache}
	}
	if c.Capacity() < c.MinCapacity() {
		return timestep.Batch{}, &ExpReplayError{
			Op:  "sample",
			Err: errInsufficientSamples,
		}
	}

	indices := c.sampler.choose(c)
	size := len(indices)

	batch := timestep.Batch{
		Size:       size,
		State:      make([]float64, size*c.featureSize),
		Action:     make([]float64, size*c.actionSize),
		Reward:     make([]float64, size),
		Discount:   make([]float64, size),
		NextState:  make([]float64, size*c.featureSize),
		NextAction: make([]float64, size*c.actionSize),
	}

	for i, index := range indices {
		batchStart, expStart := i*c.featureSize, index*c.featureSize
		copy(batch.State[batchStart:batchStart+c.featureSize],
			c.stateCache[expStart:expStart+c.featureSize])
		copy(batch.NextState[batchStart:batchStart+c.featureSize],
			c.nextStateCache[expStart:expStart+c.featureSize])

		batchStart, expStart = i*c.actionSize, index*c.actionSize
		copy(batch.Action[batchStart:batchStart+c.actionSize],
			c.actionCache[expStart:expStart+c.actionSize])
		copy(batch.NextAction[batchStart:batchStart+c.actionSize],
			c.nextActionCache[expStart:expStart+c.actionSize])

		batch.Reward[i] = c.rewardCache[index]
		batch.Discount[i] = c.discountCache[index]
	}

	return batch, nil
}

// Capacity returns the current number of elements in the cache that
// are available for sampling
func (c *cache) Capacity() int {
	return len(c.inUseIndices)
}

// MaxCapacity returns the maximum number of elements that are allowed
// in the cache
func (c *cache) MaxCapacity() int {
	return c.maxCapacity
}

// MinCapacity returns the minimum number of elements required in the
// cache before sampling is allowed
func (c *cache) MinCapacity() int {
	return c.minCapacity
}

// Add adds a transition to the cache
func (c *cache) Add(t timestep.Transition) error {
	if t.State.Len() != c.featureSize || t.NextState.Len() != c.featureSize {
		return fmt.Errorf("add: invalid feature size \n\twant(%v)\n\thave(%v)",
			c.featureSize, t.State.Len())
	}
	if t.Action.Len() != c.actionSize || t.NextAction.Len() != c.actionSize {
		return fmt.Errorf("add: invalid action size \n\twant(%v)\n\thave(%v)",
			c.actionSize, t.Action.Len())
	}

	if c.Capacity() >= c.maxCapacity {
		c.remove()
	}

	last := len(c.emptyIndices) - 1
	index := c.emptyIndices[last]
	c.emptyIndices = c.emptyIndices[:last]
	c.orderOfInsert.PushBack(index)
	c.inUseIndices = append(c.inUseIndices, index)

	stateInd := index * c.featureSize
	copy(c.stateCache[stateInd:stateInd+c.featureSize], t.State.RawVector().Data)
	copy(c.nextStateCache[stateInd:stateInd+c.featureSize],
		t.NextState.RawVector().Data)

	actionInd := index * c.actionSize
	copy(c.actionCache[actionInd:actionInd+c.actionSize],
		t.Action.RawVector().Data)
	copy(c.nextActionCache[actionInd:actionInd+c.actionSize],
		t.NextAction.RawVector().Data)

	c.rewardCache[index] = t.Reward
	c.discountCache[index] = t.Discount

	return nil
}

// String returns the string representation of the cache
func (c *cache) String() string {
	return fmt.Sprintf("%v | capacity: %v/%v | batch size: %v", c.name,
		c.Capacity(), c.maxCapacity, c.BatchSize())
}
