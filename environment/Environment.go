// Package environment outlines the interfaces needed to implement
// concrete environments that can be driven by a rollout collector
package environment

import (
	"gonum.org/v1/gonum/mat"
)

// Info holds the per-step metadata reported by an environment
// alongside its reward. Keys may name auxiliary reward channels, which
// are numeric signals tracked for monitoring only, as well as
// diagnostic values passed through to the logs verbatim.
type Info map[string]float64

// Get returns the value stored under key, or def if the key is absent.
// A channel key absent from an Info contributes its default; absence
// is never an error.
func (i Info) Get(key string, def float64) float64 {
	if val, ok := i[key]; ok {
		return val
	}
	return def
}

// Environment implements a single simulated environment with discrete
// actions. An Environment starts ready to use; Reset() resets it
// between episodes.
type Environment interface {
	// Reset resets the environment to a starting state and returns
	// the first observation of the new episode
	Reset() (mat.Vector, error)

	// Step takes one action in the environment, returning the next
	// observation, the reward, whether the episode has terminated,
	// and the step metadata
	Step(action int) (mat.Vector, float64, bool, Info, error)

	// ObservationSize returns the length of observation vectors
	ObservationSize() int

	// NumActions returns the number of discrete actions
	NumActions() int
}

// VecEnv implements a batch of environments stepped together. A call
// to Step blocks until every environment in the batch has produced
// its result, and results are always indexed by the stable position
// of each environment in the batch.
type VecEnv interface {
	// Len returns the number of environments in the batch
	Len() int

	// Reset resets every environment, returning one observation per
	// environment
	Reset() ([]mat.Vector, error)

	// Step takes one action in each environment. An environment whose
	// episode terminates is reset immediately, and the observation
	// returned for it is the first observation of its next episode.
	Step(actions []int) ([]mat.Vector, []float64, []bool, []Info, error)
}
