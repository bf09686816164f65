package env

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r1"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Cardinality determines whether the values a Spec describes are
// continuous or discrete
type Cardinality string

const (
	Continuous Cardinality = "Continuous"
	Discrete   Cardinality = "Discrete"
)

// Spec tells the shape and bounds of an action or an observation.
// Discrete specs hold integer values between their bounds, inclusive.
type Spec struct {
	Shape      mat.Vector
	LowerBound mat.Vector
	UpperBound mat.Vector
	Cardinality
}

// NewSpec constructs a specification from per-dimension bounds
func NewSpec(lower, upper []float64, cardinality Cardinality) Spec {
	if len(lower) != len(upper) {
		panic(fmt.Sprintf("lower bounds length %v must match upper bounds length %v",
			len(lower), len(upper)))
	}
	n := len(lower)
	return Spec{
		Shape:       mat.NewVecDense(n, nil),
		LowerBound:  mat.NewVecDense(n, append([]float64(nil), lower...)),
		UpperBound:  mat.NewVecDense(n, append([]float64(nil), upper...)),
		Cardinality: cardinality,
	}
}

// Box is a continuous spec of n dimensions sharing the bounds [low, high]
func Box(n int, low, high float64) Spec {
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := range lower {
		lower[i], upper[i] = low, high
	}
	return NewSpec(lower, upper, Continuous)
}

// Len returns the number of dimensions
func (s Spec) Len() int {
	return s.Shape.Len()
}

// Bounds returns the interval of every dimension
func (s Spec) Bounds() []r1.Interval {
	bounds := make([]r1.Interval, s.Len())
	for i := range bounds {
		bounds[i] = r1.Interval{Min: s.LowerBound.AtVec(i), Max: s.UpperBound.AtVec(i)}
	}
	return bounds
}

// Contains reports whether v has the spec's length and every component lies
// within its bounds. NaN is never contained.
func (s Spec) Contains(v mat.Vector) bool {
	if v == nil || v.Len() != s.Len() {
		return false
	}
	for i, b := range s.Bounds() {
		x := v.AtVec(i)
		if math.IsNaN(x) || x < b.Min || x > b.Max {
			return false
		}
		if s.Cardinality == Discrete && x != math.Trunc(x) {
			return false
		}
	}
	return true
}

// Clip returns a copy of v with every component clamped to its bounds.
// Discrete components are rounded first.
func (s Spec) Clip(v mat.Vector) *mat.VecDense {
	out := mat.NewVecDense(v.Len(), nil)
	out.CopyVec(v)
	for i, b := range s.Bounds() {
		x := out.AtVec(i)
		if s.Cardinality == Discrete {
			x = math.Round(x)
		}
		out.SetVec(i, math.Max(b.Min, math.Min(b.Max, x)))
	}
	return out
}

// Sampler draws random vectors from a Spec
type Sampler struct {
	spec    Spec
	uniform *distmv.Uniform
	dims    []distuv.Rander
}

// Sampler returns a seeded sampler. Bounded dimensions are sampled
// uniformly; unbounded ones from a standard normal.
func (s Spec) Sampler(seed uint64) *Sampler {
	src := rand.NewSource(seed)
	bounds := s.Bounds()
	sm := &Sampler{spec: s}

	finite := true
	for _, b := range bounds {
		if math.IsInf(b.Min, 0) || math.IsInf(b.Max, 0) {
			finite = false
			break
		}
	}
	if finite && s.Cardinality == Continuous {
		sm.uniform = distmv.NewUniform(bounds, src)
		return sm
	}

	sm.dims = make([]distuv.Rander, len(bounds))
	for i, b := range bounds {
		switch {
		case math.IsInf(b.Min, 0) || math.IsInf(b.Max, 0):
			sm.dims[i] = distuv.Normal{Mu: 0, Sigma: 1, Src: src}
		case s.Cardinality == Discrete:
			// floor(U[min, max+1)) is uniform over the integers in [min, max]
			sm.dims[i] = distuv.Uniform{Min: math.Ceil(b.Min), Max: math.Floor(b.Max) + 1, Src: src}
		default:
			sm.dims[i] = distuv.Uniform{Min: b.Min, Max: b.Max, Src: src}
		}
	}
	return sm
}

// Sample draws one vector contained in the spec
func (sm *Sampler) Sample() *mat.VecDense {
	if sm.uniform != nil {
		return mat.NewVecDense(sm.spec.Len(), sm.uniform.Rand(nil))
	}
	out := make([]float64, len(sm.dims))
	for i, d := range sm.dims {
		out[i] = d.Rand()
	}
	v := mat.NewVecDense(len(out), out)
	if sm.spec.Cardinality == Discrete {
		for i := range out {
			out[i] = math.Floor(out[i])
		}
		return sm.spec.Clip(v)
	}
	return v
}
