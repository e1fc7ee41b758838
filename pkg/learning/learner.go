// Package learning implements the distributed stochastic-gradient sampler
// for the assortative mixed-membership blockmodel: the per-iteration
// protocol, the phi/pi and theta updates, and the held-out perplexity
// evaluator.
package learning

import (
	"math"
)

// MCMCNonzeroGuard is the smallest allowed positive value for any pi, phi,
// theta or beta entry. Updates clamp to it to prevent underflow to zero.
const MCMCNonzeroGuard = 1e-24

// ConvergenceThreshold is the relative perplexity change below which the
// run counts as converged.
const ConvergenceThreshold = 1e-12

// Learner carries the model state and hyperparameters shared by every
// sampler variant.
type Learner struct {
	// priors
	Alpha   float64
	Eta     [2]float64
	K       int
	Epsilon float64

	// network constants
	N int32

	// Beta is the per-community link strength, derived from Theta.
	Beta []float64
	// Theta is the K x 2 unnormalised parameterisation of Beta. Only the
	// master mutates it.
	Theta [][]float64

	MiniBatchSize int
	LinkRatio     float64

	// StepCount starts at 1 and advances once per iteration.
	StepCount int
	// A, B, C are the Robbins-Monro step size parameters.
	A, B, C float64

	MaxIteration int

	// PpxsHeldOut is the trajectory of held-out perplexities.
	PpxsHeldOut []float64
}

// EpsT returns the Robbins-Monro step size a*(1 + t/b)^(-c) for the current
// step.
func (l *Learner) EpsT() float64 {
	return l.A * math.Pow(1.0+float64(l.StepCount)/l.B, -l.C)
}

// IsConverged reports whether the last two perplexity measurements are
// within the convergence threshold of each other.
func (l *Learner) IsConverged() bool {
	n := len(l.PpxsHeldOut)
	if n < 2 {
		return false
	}
	return math.Abs(l.PpxsHeldOut[n-1]-l.PpxsHeldOut[n-2])/l.PpxsHeldOut[n-2] <= ConvergenceThreshold
}

// BetaFromTheta recomputes Beta row-wise as theta[k][1]/(theta[k][0]+theta[k][1]).
func (l *Learner) BetaFromTheta(flatTheta []float64) {
	for k := 0; k < l.K; k++ {
		t0 := flatTheta[2*k]
		t1 := flatTheta[2*k+1]
		l.Beta[k] = t1 / (t0 + t1)
	}
}

// CalEdgeLikelihood returns the likelihood p(y | pi_a, pi_b, beta), summing
// the z_ab = z_ba community terms in O(K) plus the off-diagonal remainder
// weighted by epsilon.
func (l *Learner) CalEdgeLikelihood(piA, piB []float64, y bool) float64 {
	prob := 0.0
	s := 0.0

	for k := 0; k < l.K; k++ {
		f := piA[k] * piB[k]
		s += f
		if y {
			prob += f * l.Beta[k]
		} else {
			prob += f * (1.0 - l.Beta[k])
		}
	}

	if y {
		prob += (1.0 - s) * l.Epsilon
	} else {
		prob += (1.0 - s) * (1.0 - l.Epsilon)
	}

	return prob
}
