// Package gae implements generalized advantage estimation - GAE(λ) -
// following https://arxiv.org/abs/1506.02438 over batches of parallel
// trajectories
package gae

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Estimator computes GAE(λ) advantages over time-major buffers of
// parallel trajectories. The discount factor γ and the λ coefficient
// trade off bias against variance of the advantage signal.
type Estimator struct {
	Discount float64 // Discount factor γ
	Lambda   float64 // λ for GAE(λ) calculation
}

// New creates and returns a new Estimator, validating that both
// coefficients lie in [0, 1]
func New(discount, lambda float64) (Estimator, error) {
	if discount < 0 || discount > 1 {
		return Estimator{}, fmt.Errorf("new: discount must be in [0, 1], "+
			"have %v", discount)
	}
	if lambda < 0 || lambda > 1 {
		return Estimator{}, fmt.Errorf("new: lambda must be in [0, 1], "+
			"have %v", lambda)
	}
	return Estimator{Discount: discount, Lambda: lambda}, nil
}

// Advantages computes the advantage of every recorded step. The
// rewards, values, and masks matrices are time-major with one row per
// step and one column per trajectory. masks holds 1.0 where the
// episode was alive entering the step and 0.0 where it had just
// terminated; a zero next-step mask cuts the recursion so that no
// value or advantage bootstraps across an episode boundary.
//
// lastValue is the bootstrap value estimate for the state after the
// final recorded step of each trajectory, and lastMask is the
// continuation mask entering that state.
//
// The computation is a strictly sequential backward recurrence over
// time: each step's advantage depends on the next step's, so it
// cannot be reordered or parallelized over the time axis.
func (e Estimator) Advantages(rewards, values, masks *mat.Dense,
	lastValue, lastMask *mat.VecDense) (*mat.Dense, error) {
	steps, procs := rewards.Dims()
	if r, c := values.Dims(); r != steps || c != procs {
		return nil, fmt.Errorf("advantages: illegal values shape "+
			"\n\twant(%dx%d)\n\thave(%dx%d)", steps, procs, r, c)
	}
	if r, c := masks.Dims(); r != steps || c != procs {
		return nil, fmt.Errorf("advantages: illegal masks shape "+
			"\n\twant(%dx%d)\n\thave(%dx%d)", steps, procs, r, c)
	}
	if lastValue.Len() != procs || lastMask.Len() != procs {
		return nil, fmt.Errorf("advantages: illegal bootstrap length "+
			"\n\twant(%v)\n\thave(%v, %v)", procs, lastValue.Len(),
			lastMask.Len())
	}

	advantages := mat.NewDense(steps, procs, nil)
	for t := steps - 1; t >= 0; t-- {
		for p := 0; p < procs; p++ {
			var nextValue, nextMask, nextAdvantage float64
			if t < steps-1 {
				nextValue = values.At(t+1, p)
				nextMask = masks.At(t+1, p)
				nextAdvantage = advantages.At(t+1, p)
			} else {
				nextValue = lastValue.AtVec(p)
				nextMask = lastMask.AtVec(p)
			}

			delta := rewards.At(t, p) +
				e.Discount*nextValue*nextMask - values.At(t, p)
			advantages.Set(t, p,
				delta+e.Discount*e.Lambda*nextAdvantage*nextMask)
		}
	}

	return advantages, nil
}
