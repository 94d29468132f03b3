// Package sampling provides the stochastic primitives behind Thompson
// allocation: standard normal via Box–Muller, Gamma via Marsaglia–Tsang,
// and Beta as a ratio of two Gammas.
package sampling

import (
	"math"
	"math/rand"
	"sync"
)

// maxRejectionIters caps the Gamma acceptance loop. The rejection step
// accepts with very high probability per iteration, so hitting the cap
// indicates degenerate inputs; we fall back to the distribution mean
// rather than spin forever.
const maxRejectionIters = 1000

// Sampler draws from the distributions used by the allocation engine.
// Safe for concurrent use; draws are serialized on an internal mutex.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Sampler seeded for reproducible draws.
func New(seed int64) *Sampler {
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// NewFromSource creates a Sampler around an existing source.
func NewFromSource(src rand.Source) *Sampler {
	return &Sampler{rng: rand.New(src)}
}

// Normal draws a standard normal variate using Box–Muller, consuming
// two independent uniforms per call.
func (s *Sampler) Normal() float64 {
	s.mu.Lock()
	u1 := s.rng.Float64()
	u2 := s.rng.Float64()
	s.mu.Unlock()

	// Float64 can return exactly 0; log(0) is -Inf.
	if u1 < 1e-300 {
		u1 = 1e-300
	}
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// Gamma draws from Gamma(shape, rate) using Marsaglia–Tsang. Shapes
// below 1 are boosted through Gamma(1+shape) and a uniform power.
// Degenerate inputs (non-finite or non-positive) return 0.
func (s *Sampler) Gamma(shape, rate float64) float64 {
	if !isFinitePositive(shape) || !isFinitePositive(rate) {
		return 0
	}

	if shape < 1 {
		// Boost: Gamma(shape) = Gamma(1+shape) * U^(1/shape)
		u := s.uniform()
		if u < 1e-300 {
			u = 1e-300
		}
		return s.Gamma(1+shape, rate) * math.Pow(u, 1/shape)
	}

	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)

	for i := 0; i < maxRejectionIters; i++ {
		x := s.Normal()
		v := 1 + c*x
		v = v * v * v
		if v <= 0 {
			continue
		}

		u := s.uniform()
		x2 := x * x
		if u < 1-0.0331*x2*x2 {
			return d * v / rate
		}
		if math.Log(u) < 0.5*x2+d*(1-v+math.Log(v)) {
			return d * v / rate
		}
	}

	// Acceptance loop exhausted: numerical degeneracy, not an error.
	return shape / rate
}

// Beta draws from Beta(alpha, beta) as g1/(g1+g2) with two independent
// rate-1 Gammas. This avoids direct Beta sampling instability for small
// shape parameters.
func (s *Sampler) Beta(alpha, beta float64) float64 {
	g1 := s.Gamma(alpha, 1)
	g2 := s.Gamma(beta, 1)
	if g1+g2 <= 0 {
		return 0
	}
	return g1 / (g1 + g2)
}

func (s *Sampler) uniform() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func isFinitePositive(x float64) bool {
	return x > 0 && !math.IsInf(x, 0) && !math.IsNaN(x)
}
