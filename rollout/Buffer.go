package rollout

import (
	"gonum.org/v1/gonum/mat"
)

// buffer is the fixed-size time-major storage for one collection
// cycle. Primary axes are [step][proc]; vector-valued fields carry an
// extra trailing dimension. Every container is fully overwritten each
// cycle, so a buffer is allocated once per Collector and reused.
type buffer struct {
	steps int
	procs int

	// obss[t][p] is the observation process p saw entering step t
	obss [][]mat.Vector

	// memories[t] is the recurrent memory of all processes entering
	// step t, one row per process. Nil for non-recurrent models.
	memories []*mat.Dense

	masks    *mat.Dense
	actions  *mat.Dense
	values   *mat.Dense
	rewards  *mat.Dense
	logProbs *mat.Dense

	// channels holds one steps×procs matrix per declared auxiliary
	// reward channel. Slots for steps where a channel was absent stay
	// at zero.
	channels map[string]*mat.Dense
}

// newBuffer allocates the storage for steps frames of procs parallel
// processes. A memorySize of 0 means the model is not recurrent and
// no memory is stored.
func newBuffer(steps, procs, memorySize int, channels []string) *buffer {
	b := &buffer{
		steps:    steps,
		procs:    procs,
		obss:     make([][]mat.Vector, steps),
		masks:    mat.NewDense(steps, procs, nil),
		actions:  mat.NewDense(steps, procs, nil),
		values:   mat.NewDense(steps, procs, nil),
		rewards:  mat.NewDense(steps, procs, nil),
		logProbs: mat.NewDense(steps, procs, nil),
		channels: make(map[string]*mat.Dense, len(channels)),
	}

	if memorySize > 0 {
		b.memories = make([]*mat.Dense, steps)
		for t := range b.memories {
			b.memories[t] = mat.NewDense(procs, memorySize, nil)
		}
	}

	for _, name := range channels {
		b.channels[name] = mat.NewDense(steps, procs, nil)
	}

	return b
}

// record writes one transition row at slot t for every process: the
// observations, mask, and memory the processes had entering the step,
// the sampled actions with their log probabilities and value
// estimates, and the recorded rewards (main channel plus every
// declared auxiliary channel).
func (b *buffer) record(t int, obss []mat.Vector, memory *mat.Dense,
	mask *mat.VecDense, actions []int, values *mat.VecDense,
	logProbs []float64, rewards []float64, channels map[string][]float64) {
	b.obss[t] = obss
	if b.memories != nil {
		b.memories[t].Copy(memory)
	}

	for p := 0; p < b.procs; p++ {
		b.masks.Set(t, p, mask.AtVec(p))
		b.actions.Set(t, p, float64(actions[p]))
		b.values.Set(t, p, values.AtVec(p))
		b.logProbs.Set(t, p, logProbs[p])
		b.rewards.Set(t, p, rewards[p])
	}

	for name, vals := range channels {
		row := b.channels[name]
		for p, val := range vals {
			row.Set(t, p, val)
		}
	}
}
