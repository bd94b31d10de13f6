package rollout

import (
	"gonum.org/v1/gonum/mat"
)

// Batch is one flat experience batch of steps*procs transitions, the
// unit consumed by a parameter update. Fields are process-major: flat
// index k = p*steps + t holds the transition produced by process p at
// local time t, so all frames of process 0 come first, contiguously
// and in time order, followed by all frames of process 1, and so on.
// Downstream truncated-backprop training depends on each contiguous
// sub-block of recurrence entries belonging to a single process's
// unbroken time sequence; the ordering must be preserved exactly.
type Batch struct {
	// Obs holds the preprocessed observations, one row per transition
	Obs *mat.Dense

	// Memory holds the recurrent memory entering each transition, one
	// row per transition. Nil for non-recurrent models, along with
	// Mask.
	Memory *mat.Dense
	Mask   *mat.VecDense

	Action    *mat.VecDense
	Value     *mat.VecDense
	Reward    *mat.VecDense
	Advantage *mat.VecDense
	LogProb   *mat.VecDense

	// Returnn is the value function training target: the value
	// estimate plus the GAE advantage. It is not the raw environment
	// return.
	Returnn *mat.VecDense
}

// Len returns the number of transitions in the batch
func (b *Batch) Len() int {
	return b.Value.Len()
}

// flatten transposes a time-major steps×procs matrix into a
// process-major flat vector of length steps*procs with
// flat[p*steps+t] = m[t][p]
func flatten(m *mat.Dense) *mat.VecDense {
	steps, procs := m.Dims()
	flat := mat.NewVecDense(steps*procs, nil)
	for p := 0; p < procs; p++ {
		for t := 0; t < steps; t++ {
			flat.SetVec(p*steps+t, m.At(t, p))
		}
	}
	return flat
}

// unflatten inverts flatten, recovering the time-major steps×procs
// matrix from a process-major flat vector
func unflatten(flat *mat.VecDense, steps, procs int) *mat.Dense {
	m := mat.NewDense(steps, procs, nil)
	for p := 0; p < procs; p++ {
		for t := 0; t < steps; t++ {
			m.Set(t, p, flat.AtVec(p*steps+t))
		}
	}
	return m
}

// flattenObs reshapes the time-major observation buffer into the flat
// process-major order. Observations are irregular payloads that cannot
// be transposed as a dense array, so the reshaping is an explicit
// double iteration: process-major outer, time-major inner.
func flattenObs(obss [][]mat.Vector, steps, procs int) []mat.Vector {
	flat := make([]mat.Vector, 0, steps*procs)
	for p := 0; p < procs; p++ {
		for t := 0; t < steps; t++ {
			flat = append(flat, obss[t][p])
		}
	}
	return flat
}

// flattenMemory reshapes the per-step memory matrices into one flat
// (steps*procs)×memorySize matrix in the same process-major order
func flattenMemory(memories []*mat.Dense, steps, procs int) *mat.Dense {
	_, memorySize := memories[0].Dims()
	flat := mat.NewDense(steps*procs, memorySize, nil)
	for p := 0; p < procs; p++ {
		for t := 0; t < steps; t++ {
			flat.SetRow(p*steps+t, memories[t].RawRowView(p))
		}
	}
	return flat
}
