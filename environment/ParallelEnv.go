package environment

import (
	"fmt"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"
)

// ParallelEnv steps a slice of Environments concurrently, presenting
// them as one synchronous batched VecEnv. Each batched call fans out
// to one goroutine per environment and blocks until all sub-results
// are ready. Environments whose episodes terminate are reset
// automatically so that every slot in the batch is always live.
type ParallelEnv struct {
	envs []Environment
}

// NewParallelEnv creates and returns a new ParallelEnv over the given
// environments. All environments must share observation and action
// layouts.
func NewParallelEnv(envs []Environment) (*ParallelEnv, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("newParallelEnv: no environments given")
	}
	for i, env := range envs {
		if env.ObservationSize() != envs[0].ObservationSize() {
			return nil, fmt.Errorf("newParallelEnv: environment %d "+
				"observation size mismatch \n\twant(%v)\n\thave(%v)", i,
				envs[0].ObservationSize(), env.ObservationSize())
		}
		if env.NumActions() != envs[0].NumActions() {
			return nil, fmt.Errorf("newParallelEnv: environment %d action "+
				"count mismatch \n\twant(%v)\n\thave(%v)", i,
				envs[0].NumActions(), env.NumActions())
		}
	}

	return &ParallelEnv{envs: envs}, nil
}

// Len returns the number of environments stepped in parallel
func (p *ParallelEnv) Len() int {
	return len(p.envs)
}

// ObservationSize returns the length of observation vectors
func (p *ParallelEnv) ObservationSize() int {
	return p.envs[0].ObservationSize()
}

// NumActions returns the number of discrete actions
func (p *ParallelEnv) NumActions() int {
	return p.envs[0].NumActions()
}

// Reset resets every environment concurrently and returns the first
// observation of each
func (p *ParallelEnv) Reset() ([]mat.Vector, error) {
	obs := make([]mat.Vector, len(p.envs))

	workers := pool.New().WithErrors()
	for i := range p.envs {
		i := i
		workers.Go(func() error {
			o, err := p.envs[i].Reset()
			if err != nil {
				return fmt.Errorf("reset: environment %d: %v", i, err)
			}
			obs[i] = o
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, err
	}

	return obs, nil
}

// Step takes actions[i] in environment i for all environments
// concurrently. If an environment's episode ends, the environment is
// reset and the returned observation for that slot is the reset
// observation, while the reward, done flag, and info describe the
// terminating step.
func (p *ParallelEnv) Step(actions []int) ([]mat.Vector, []float64, []bool,
	[]Info, error) {
	if len(actions) != len(p.envs) {
		return nil, nil, nil, nil, fmt.Errorf("step: illegal actions "+
			"length \n\twant(%v)\n\thave(%v)", len(p.envs), len(actions))
	}

	obs := make([]mat.Vector, len(p.envs))
	rewards := make([]float64, len(p.envs))
	dones := make([]bool, len(p.envs))
	infos := make([]Info, len(p.envs))

	workers := pool.New().WithErrors()
	for i := range p.envs {
		i := i
		workers.Go(func() error {
			o, r, done, info, err := p.envs[i].Step(actions[i])
			if err != nil {
				return fmt.Errorf("step: environment %d: %v", i, err)
			}
			if done {
				o, err = p.envs[i].Reset()
				if err != nil {
					return fmt.Errorf("step: environment %d: %v", i, err)
				}
			}
			obs[i] = o
			rewards[i] = r
			dones[i] = done
			infos[i] = info
			return nil
		})
	}
	if err := workers.Wait(); err != nil {
		return nil, nil, nil, nil, err
	}

	return obs, rewards, dones, infos, nil
}
