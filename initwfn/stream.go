package initwfn

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// stream is a random source shared by every call of a seeded InitWFn
type stream struct {
	src rand.Source
}

func newStream(seed uint64) *stream {
	return &stream{src: rand.NewSource(seed)}
}

// fans returns the fan in and fan out of a weight with shape s.
// Weights of fully connected layers have shape (in, out).
func fans(s ...int) (float64, float64) {
	switch len(s) {
	case 0:
		return 1, 1
	case 1:
		return float64(s[0]), float64(s[0])
	}
	receptive := 1
	for _, dim := range s[2:] {
		receptive *= dim
	}
	return float64(s[0] * receptive), float64(s[1] * receptive)
}

func size(s ...int) int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// fill returns a backing slice of the proper Dtype filled with draws
// from sample
func fill(dt tensor.Dtype, n int, sample func() float64) interface{} {
	switch dt {
	case tensor.Float64:
		out := make([]float64, n)
		for i := range out {
			out[i] = sample()
		}
		return out

	case tensor.Float32:
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(sample())
		}
		return out
	}
	panic(fmt.Sprintf("initwfn: dtype %v not supported", dt))
}

// gaussian returns an InitWFn drawing from N(mean, std^2)
func (st *stream) gaussian(mean, std func(s ...int) float64) func(
	tensor.Dtype, ...int) interface{} {
	return func(dt tensor.Dtype, s ...int) interface{} {
		dist := distuv.Normal{Mu: mean(s...), Sigma: std(s...), Src: st.src}
		return fill(dt, size(s...), dist.Rand)
	}
}

// uniform returns an InitWFn drawing from U[-bound, bound] when low
// is nil, or U[low, high] otherwise
func (st *stream) uniform(low, high func(s ...int) float64) func(
	tensor.Dtype, ...int) interface{} {
	return func(dt tensor.Dtype, s ...int) interface{} {
		min, max := low(s...), high(s...)
		if min == max {
			return fill(dt, size(s...), func() float64 { return min })
		}
		dist := distuv.Uniform{Min: min, Max: max, Src: st.src}
		return fill(dt, size(s...), dist.Rand)
	}
}

func constant(v float64) func(s ...int) float64 {
	return func(...int) float64 { return v }
}

func glorotBound(gain float64) func(s ...int) float64 {
	return func(s ...int) float64 {
		in, out := fans(s...)
		return gain * math.Sqrt(6/(in+out))
	}
}

func glorotStd(gain float64) func(s ...int) float64 {
	return func(s ...int) float64 {
		in, out := fans(s...)
		return gain * math.Sqrt(2/(in+out))
	}
}

func heBound(gain float64) func(s ...int) float64 {
	return func(s ...int) float64 {
		in, _ := fans(s...)
		return gain * math.Sqrt(3/in)
	}
}

func heStd(gain float64) func(s ...int) float64 {
	return func(s ...int) float64 {
		in, _ := fans(s...)
		return gain / math.Sqrt(in)
	}
}

func negate(f func(s ...int) float64) func(s ...int) float64 {
	return func(s ...int) float64 { return -f(s...) }
}
