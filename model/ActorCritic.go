// Package model defines the actor-critic model interface consumed by
// the rollout collector, along with concrete implementations
package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Distribution represents a batched action distribution, one
// distribution per row of the model input that produced it
type Distribution interface {
	// Sample samples one action per distribution in the batch
	Sample() []int

	// LogProb returns the log probability of each action under the
	// corresponding distribution in the batch
	LogProb(actions []int) []float64
}

// ActorCritic is a policy and value model evaluated in batch mode: one
// forward pass produces an action distribution and a state value
// estimate for every row of the input at once.
//
// Forward passes made by a collector must never contribute to
// backpropagation; implementations must not accumulate gradients when
// called through this interface.
type ActorCritic interface {
	// Recurrent returns whether the model propagates a recurrent
	// memory between steps
	Recurrent() bool

	// MemorySize returns the length of per-process memory vectors.
	// Non-recurrent models return 0.
	MemorySize() int

	// Forward evaluates the model on a batch of preprocessed
	// observations, one observation per row, returning the action
	// distribution, the state value estimates, and, for recurrent
	// models, the updated memory. Non-recurrent models receive a nil
	// memory and return a nil memory.
	Forward(obs *mat.Dense, memory *mat.Dense) (Distribution, *mat.VecDense,
		*mat.Dense, error)
}

// Preprocessor converts raw observations into the batch format a model
// can handle, one observation per row of the returned matrix. It is a
// pure function.
type Preprocessor func(obss []mat.Vector) (*mat.Dense, error)

// DefaultPreprocessor stacks dense observation vectors row-wise into a
// single matrix
func DefaultPreprocessor(obss []mat.Vector) (*mat.Dense, error) {
	if len(obss) == 0 {
		return nil, fmt.Errorf("preprocess: no observations given")
	}

	cols := obss[0].Len()
	batch := mat.NewDense(len(obss), cols, nil)
	for i, obs := range obss {
		if obs.Len() != cols {
			return nil, fmt.Errorf("preprocess: illegal observation length "+
				"at row %d \n\twant(%v)\n\thave(%v)", i, cols, obs.Len())
		}
		for j := 0; j < cols; j++ {
			batch.Set(i, j, obs.AtVec(j))
		}
	}

	return batch, nil
}
