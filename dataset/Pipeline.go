// Package dataset implements the input pipeline of the distillation
// trainer. Audio clips and their target embeddings are read as
// tf.Examples from TFRecord files, shuffled, cropped or padded to a
// fixed length, and batched into tensors.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/exp/rand"
	"gorgonia.org/tensor"
)

// ErrExhausted is returned by Next once all epochs have been served
var ErrExhausted = errors.New("dataset exhausted")

// ErrTargetDim is returned when an example's target does not have the
// declared dimension
var ErrTargetDim = errors.New("target dimension mismatch")

// defaultPrefetch is the number of batches buffered ahead of Next by
// default
const defaultPrefetch = 2

// Config configures a Pipeline
type Config struct {
	SamplesKey string
	TargetKey  string

	BatchSize         int
	MaxSampleLength   int
	ShuffleBufferSize int

	// NumEpochs is the number of passes over the source, 0 meaning
	// the pipeline never ends
	NumEpochs int

	// TargetDim is the declared embedding dimension of the targets
	TargetDim int

	// Prefetch is the number of batches read ahead, defaultPrefetch if
	// 0
	Prefetch int

	Seed uint64
}

// Validate checks the Config for errors
func (c Config) Validate() error {
	if c.SamplesKey == "" || c.TargetKey == "" {
		return fmt.Errorf("validate: samples and target keys must be set")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("validate: batch size must be positive")
	}
	if c.MaxSampleLength < 1 {
		return fmt.Errorf("validate: max sample length must be positive")
	}
	if c.ShuffleBufferSize < 0 {
		return fmt.Errorf("validate: shuffle buffer size must be " +
			"non-negative")
	}
	if c.NumEpochs < 0 {
		return fmt.Errorf("validate: number of epochs must be " +
			"non-negative")
	}
	if c.TargetDim < 1 {
		return fmt.Errorf("validate: target dimension must be positive")
	}
	if c.Prefetch < 0 {
		return fmt.Errorf("validate: prefetch must be non-negative")
	}
	return nil
}

// Batch is a batch of audio clips and their target embeddings
type Batch struct {
	// Samples has shape (batch, samples)
	Samples *tensor.Dense

	// Targets has shape (batch, embedding dimension)
	Targets *tensor.Dense
}

// Size returns the number of clips in the batch
func (b Batch) Size() int {
	return b.Samples.Shape()[0]
}

// NewBatch returns a batch with the given row major backings
func NewBatch(samples []float64, samplesLen int, targets []float64,
	targetDim int) Batch {
	return Batch{
		Samples: tensor.New(tensor.WithShape(len(samples)/samplesLen,
			samplesLen), tensor.WithBacking(samples)),
		Targets: tensor.New(tensor.WithShape(len(targets)/targetDim,
			targetDim), tensor.WithBacking(targets)),
	}
}

type result struct {
	batch Batch
	err   error
}

// element is a decoded example
type element struct {
	samples []float64
	target  []float64
}

// Pipeline serves batches from a Source. A single goroutine reads,
// shuffles and batches examples ahead of Next into a bounded channel.
type Pipeline struct {
	config  Config
	ctx     context.Context
	cancel  context.CancelFunc
	batches chan result
	wg      sync.WaitGroup
	err     error
}

// New returns a Pipeline serving batches from source. The pipeline
// stops reading when ctx is cancelled or Close is called.
func New(ctx context.Context, source Source, c Config) (*Pipeline, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("new: %w", err)
	}
	prefetch := c.Prefetch
	if prefetch == 0 {
		prefetch = defaultPrefetch
	}

	ctx, cancel := context.WithCancel(ctx)
	p := &Pipeline{
		config:  c,
		ctx:     ctx,
		cancel:  cancel,
		batches: make(chan result, prefetch),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.batches)
		p.run(source)
	}()
	return p, nil
}

// TargetDim returns the declared embedding dimension of the targets
func (p *Pipeline) TargetDim() int {
	return p.config.TargetDim
}

// BatchSize returns the number of clips per batch
func (p *Pipeline) BatchSize() int {
	return p.config.BatchSize
}

// SampleLength returns the number of samples of each clip
func (p *Pipeline) SampleLength() int {
	return p.config.MaxSampleLength
}

// Next returns the next batch. ErrExhausted is returned after the last
// batch. Errors are sticky.
func (p *Pipeline) Next() (Batch, error) {
	if p.err != nil {
		return Batch{}, p.err
	}

	r, ok := <-p.batches
	switch {
	case !ok && p.ctx.Err() != nil:
		p.err = fmt.Errorf("next: %w", p.ctx.Err())
	case !ok:
		p.err = ErrExhausted
	case r.err != nil:
		p.err = fmt.Errorf("next: %w", r.err)
	default:
		return r.batch, nil
	}
	return Batch{}, p.err
}

// Close stops the reader goroutine and waits for it to exit
func (p *Pipeline) Close() error {
	p.cancel()
	for range p.batches {
	}
	p.wg.Wait()
	return nil
}

// send sends r to Next, returning false if the pipeline was stopped
func (p *Pipeline) send(r result) bool {
	select {
	case p.batches <- r:
		return true
	case <-p.ctx.Done():
		return false
	}
}

func (p *Pipeline) run(source Source) {
	c := p.config
	rng := rand.New(rand.NewSource(c.Seed))
	shuffle := newShuffleBuffer(c.ShuffleBufferSize, rng)

	samples := make([]float64, 0, c.BatchSize*c.MaxSampleLength)
	targets := make([]float64, 0, c.BatchSize*c.TargetDim)
	add := func(e element) bool {
		samples = append(samples, e.samples...)
		targets = append(targets, e.target...)
		if len(targets) < c.BatchSize*c.TargetDim {
			return true
		}

		batch := NewBatch(samples, c.MaxSampleLength, targets, c.TargetDim)
		samples = make([]float64, 0, c.BatchSize*c.MaxSampleLength)
		targets = make([]float64, 0, c.BatchSize*c.TargetDim)
		return p.send(result{batch: batch})
	}

	for epoch := 0; c.NumEpochs == 0 || epoch < c.NumEpochs; epoch++ {
		it, err := source.Open()
		if err != nil {
			p.send(result{err: fmt.Errorf("epoch %v: %w", epoch, err)})
			return
		}

		count := 0
		for {
			if p.ctx.Err() != nil {
				it.Close()
				return
			}

			example, err := it.Next()
			if err == io.EOF {
				break
			} else if err != nil {
				it.Close()
				p.send(result{err: fmt.Errorf("epoch %v: %w", epoch, err)})
				return
			}
			count++

			e, err := p.decode(example, rng)
			if err != nil {
				it.Close()
				p.send(result{err: fmt.Errorf("epoch %v: example %v: %w",
					epoch, count-1, err)})
				return
			}

			if out, ok := shuffle.push(e); ok && !add(out) {
				it.Close()
				return
			}
		}
		if err := it.Close(); err != nil {
			p.send(result{err: fmt.Errorf("epoch %v: %w", epoch, err)})
			return
		}

		if count == 0 {
			p.send(result{err: fmt.Errorf("epoch %v: source has no "+
				"examples", epoch)})
			return
		}
	}

	// Incomplete final batches are dropped
	for shuffle.len() > 0 {
		if !add(shuffle.pop()) {
			return
		}
	}
}

// decode extracts the clip and target of an example. Clips longer than
// the maximum sample length are randomly cropped, shorter clips are
// padded with zeros.
func (p *Pipeline) decode(example Example, rng *rand.Rand) (element, error) {
	samples, err := example.Float64s(p.config.SamplesKey)
	if err != nil {
		return element{}, fmt.Errorf("decode: %w", err)
	}
	target, err := example.Float64s(p.config.TargetKey)
	if err != nil {
		return element{}, fmt.Errorf("decode: %w", err)
	}
	if len(target) != p.config.TargetDim {
		return element{}, fmt.Errorf("decode: %w\n\twant(%v)\n\thave(%v)",
			ErrTargetDim, p.config.TargetDim, len(target))
	}

	length := p.config.MaxSampleLength
	clip := make([]float64, length)
	if len(samples) > length {
		start := rng.Intn(len(samples) - length + 1)
		copy(clip, samples[start:start+length])
	} else {
		copy(clip, samples)
	}
	return element{samples: clip, target: target}, nil
}

// shuffleBuffer shuffles a stream of elements. Once full, each new
// element replaces a uniformly chosen element of the buffer, which is
// emitted.
type shuffleBuffer struct {
	size     int
	elements []element
	rng      *rand.Rand
}

func newShuffleBuffer(size int, rng *rand.Rand) *shuffleBuffer {
	return &shuffleBuffer{
		size:     size,
		elements: make([]element, 0, size),
		rng:      rng,
	}
}

func (s *shuffleBuffer) len() int {
	return len(s.elements)
}

// push adds e to the buffer and returns the emitted element, if any
func (s *shuffleBuffer) push(e element) (element, bool) {
	if s.size <= 1 {
		return e, true
	}
	if len(s.elements) < s.size {
		s.elements = append(s.elements, e)
		return element{}, false
	}
	i := s.rng.Intn(len(s.elements))
	out := s.elements[i]
	s.elements[i] = e
	return out, true
}

// pop removes and returns a uniformly chosen element
func (s *shuffleBuffer) pop() element {
	i := s.rng.Intn(len(s.elements))
	out := s.elements[i]
	last := len(s.elements) - 1
	s.elements[i] = s.elements[last]
	s.elements = s.elements[:last]
	return out
}
