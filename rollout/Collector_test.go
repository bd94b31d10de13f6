package rollout

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gorollout/environment"
	"github.com/samuelfneumann/gorollout/model"
)

// scriptedEnv is a deterministic VecEnv whose observations encode the
// producing process and step so that batch ordering can be verified:
// the observation entering step t in process p is 100*p + t, and the
// reward for step t in process p is t + 10*p.
type scriptedEnv struct {
	procs int
	step  int

	// dones[t][p] terminates process p's episode on step t
	dones map[int][]int
}

func (s *scriptedEnv) Len() int { return s.procs }

func (s *scriptedEnv) obs() []mat.Vector {
	obss := make([]mat.Vector, s.procs)
	for p := 0; p < s.procs; p++ {
		obss[p] = mat.NewVecDense(1, []float64{float64(100*p + s.step)})
	}
	return obss
}

func (s *scriptedEnv) Reset() ([]mat.Vector, error) {
	s.step = 0
	return s.obs(), nil
}

func (s *scriptedEnv) Step(actions []int) ([]mat.Vector, []float64, []bool,
	[]environment.Info, error) {
	rewards := make([]float64, s.procs)
	dones := make([]bool, s.procs)
	infos := make([]environment.Info, s.procs)
	for p := 0; p < s.procs; p++ {
		rewards[p] = float64(s.step + 10*p)
		infos[p] = environment.Info{
			"aux":     float64(s.step + 1),
			"counter": float64(s.step),
			"setting": 42,
		}
	}
	for _, p := range s.dones[s.step] {
		dones[p] = true
	}

	s.step++
	obss := s.obs()
	return obss, rewards, dones, infos, nil
}

// stubDist always samples action 1 with log probability -0.5
type stubDist struct{ batch int }

func (d stubDist) Sample() []int {
	actions := make([]int, d.batch)
	for i := range actions {
		actions[i] = 1
	}
	return actions
}

func (d stubDist) LogProb(actions []int) []float64 {
	logProbs := make([]float64, len(actions))
	for i := range logProbs {
		logProbs[i] = -0.5
	}
	return logProbs
}

// constModel is a non-recurrent model predicting a constant value
type constModel struct{ value float64 }

func (m constModel) Recurrent() bool  { return false }
func (m constModel) MemorySize() int  { return 0 }
func (m constModel) Forward(obs *mat.Dense, memory *mat.Dense) (
	model.Distribution, *mat.VecDense, *mat.Dense, error) {
	rows, _ := obs.Dims()
	values := mat.NewVecDense(rows, nil)
	for i := 0; i < rows; i++ {
		values.SetVec(i, m.value)
	}
	return stubDist{batch: rows}, values, nil, nil
}

// echoMemoryModel is a recurrent model that records the memory it is
// given on every forward pass and returns that memory incremented by
// one in every component
type echoMemoryModel struct {
	memorySize int
	seen       []*mat.Dense
}

func (m *echoMemoryModel) Recurrent() bool { return true }
func (m *echoMemoryModel) MemorySize() int { return m.memorySize }
func (m *echoMemoryModel) Forward(obs *mat.Dense, memory *mat.Dense) (
	model.Distribution, *mat.VecDense, *mat.Dense, error) {
	rows, _ := obs.Dims()

	recorded := mat.NewDense(rows, m.memorySize, nil)
	recorded.Copy(memory)
	m.seen = append(m.seen, recorded)

	next := mat.NewDense(rows, m.memorySize, nil)
	next.Copy(memory)
	next.Apply(func(_, _ int, v float64) float64 { return v + 1 }, next)

	return stubDist{batch: rows}, mat.NewVecDense(rows, nil), next, nil
}

func newTestCollector(t *testing.T, env environment.VecEnv,
	ac model.ActorCritic, conf Config) *Collector {
	t.Helper()
	c, err := New(env, ac, conf, zerolog.Nop())
	require.NoError(t, err)
	return c
}

func TestNewValidatesPreconditions(t *testing.T) {
	env := &scriptedEnv{procs: 2}

	// Frame count must be a positive multiple of recurrence
	_, err := New(env, constModel{}, Config{
		FramesPerProc: 5, Recurrence: 2, Discount: 0.99, GAELambda: 0.95,
	}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(env, constModel{}, Config{
		FramesPerProc: 0, Recurrence: 1, Discount: 0.99, GAELambda: 0.95,
	}, zerolog.Nop())
	assert.Error(t, err)

	// Non-recurrent models require recurrence 1
	_, err = New(env, constModel{}, Config{
		FramesPerProc: 4, Recurrence: 2, Discount: 0.99, GAELambda: 0.95,
	}, zerolog.Nop())
	assert.Error(t, err)

	_, err = New(env, constModel{}, Config{
		FramesPerProc: 4, Recurrence: 1, Discount: 0.99, GAELambda: 0.95,
	}, zerolog.Nop())
	assert.NoError(t, err)
}

// TestCollectShapeInvariant checks that every field of the flat batch
// has exactly steps*procs entries and that Returnn is the value
// estimate plus the advantage everywhere
func TestCollectShapeInvariant(t *testing.T) {
	const (
		steps = 5
		procs = 3
	)

	env := &scriptedEnv{procs: procs, dones: map[int][]int{2: {0}}}
	c := newTestCollector(t, env, constModel{value: 0.5}, Config{
		FramesPerProc: steps, Recurrence: 1, Discount: 0.99, GAELambda: 0.95,
	})

	batch, logs, err := c.Collect()
	require.NoError(t, err)

	assert.Equal(t, steps*procs, batch.Len())
	assert.Equal(t, steps*procs, batch.Action.Len())
	assert.Equal(t, steps*procs, batch.Reward.Len())
	assert.Equal(t, steps*procs, batch.Advantage.Len())
	assert.Equal(t, steps*procs, batch.LogProb.Len())
	assert.Equal(t, steps*procs, batch.Returnn.Len())
	rows, _ := batch.Obs.Dims()
	assert.Equal(t, steps*procs, rows)

	for k := 0; k < batch.Len(); k++ {
		assert.InDelta(t, batch.Value.AtVec(k)+batch.Advantage.AtVec(k),
			batch.Returnn.AtVec(k), 1e-12)
	}

	assert.Equal(t, steps*procs, logs.NumFrames)

	// Non-recurrent batches carry no memory
	assert.Nil(t, batch.Memory)
	assert.Nil(t, batch.Mask)
}

// TestCollectContiguity checks that flat index k = p*steps + t always
// holds the transition produced by process p at local time t
func TestCollectContiguity(t *testing.T) {
	const (
		steps = 4
		procs = 3
	)

	env := &scriptedEnv{procs: procs}
	c := newTestCollector(t, env, constModel{}, Config{
		FramesPerProc: steps, Recurrence: 1, Discount: 0.99, GAELambda: 0.95,
	})

	batch, _, err := c.Collect()
	require.NoError(t, err)

	for p := 0; p < procs; p++ {
		for s := 0; s < steps; s++ {
			k := p*steps + s
			assert.Equal(t, float64(100*p+s), batch.Obs.At(k, 0),
				"observation at flat index %d", k)
			assert.Equal(t, float64(s+10*p), batch.Reward.AtVec(k),
				"reward at flat index %d", k)
			assert.Equal(t, 1.0, batch.Action.AtVec(k))
			assert.Equal(t, -0.5, batch.LogProb.AtVec(k))
		}
	}
}

// TestFlattenUnflatten checks that reshaping then inverting the
// permutation recovers the original time-major buffer bit-for-bit
func TestFlattenUnflatten(t *testing.T) {
	const (
		steps = 7
		procs = 4
	)

	data := make([]float64, steps*procs)
	for i := range data {
		data[i] = float64(i)*0.37 - 2.5
	}
	m := mat.NewDense(steps, procs, data)

	recovered := unflatten(flatten(m), steps, procs)
	assert.True(t, mat.Equal(m, recovered))
}

// TestCollectRecurrentMasking terminates one process mid-cycle and
// checks that the model receives a zeroed memory for it on the next
// step, while the batch carries the memory and mask fields
func TestCollectRecurrentMasking(t *testing.T) {
	const (
		steps      = 4
		procs      = 2
		memorySize = 2
	)

	env := &scriptedEnv{procs: procs, dones: map[int][]int{1: {0}}}
	ac := &echoMemoryModel{memorySize: memorySize}
	c := newTestCollector(t, env, ac, Config{
		FramesPerProc: steps, Recurrence: 2, Discount: 0.99, GAELambda: 0.95,
	})

	batch, _, err := c.Collect()
	require.NoError(t, err)

	require.NotNil(t, batch.Memory)
	require.NotNil(t, batch.Mask)
	rows, cols := batch.Memory.Dims()
	assert.Equal(t, steps*procs, rows)
	assert.Equal(t, memorySize, cols)
	assert.Equal(t, steps*procs, batch.Mask.Len())

	// Process 0's episode ended on step 1, so the forward pass for
	// step 2 must see a zeroed memory for process 0 while process 1's
	// memory keeps accumulating
	require.Len(t, ac.seen, steps+1) // one bootstrap pass at the end
	assert.Equal(t, 0.0, ac.seen[2].At(0, 0))
	assert.Equal(t, 2.0, ac.seen[2].At(1, 0))

	// The recorded mask for process 0 at local time 2 is 0
	assert.Equal(t, 0.0, batch.Mask.AtVec(0*steps+2))
	assert.Equal(t, 1.0, batch.Mask.AtVec(1*steps+2))
}

// TestCollectStatistics checks the cycle logs: episode bookkeeping
// flows through to the summary, auxiliary channels accumulate, and
// the diagnostics are copied verbatim from the last step's metadata
// of process 0
func TestCollectStatistics(t *testing.T) {
	const (
		steps = 5
		procs = 2
	)

	env := &scriptedEnv{procs: procs, dones: map[int][]int{2: {0}}}
	c := newTestCollector(t, env, constModel{}, Config{
		FramesPerProc: steps, Recurrence: 1, Discount: 0.99, GAELambda: 0.95,
		Channels:    []string{"aux"},
		Diagnostics: []string{"counter", "setting"},
	})

	_, logs, err := c.Collect()
	require.NoError(t, err)

	// Process 0's episode covered steps 0..2 with rewards 0+1+2
	returns := logs.Episodes.ReturnPerEpisode
	require.NotEmpty(t, returns)
	assert.Equal(t, 3.0, returns[len(returns)-1])

	frames := logs.Episodes.FramesPerEpisode
	assert.Equal(t, 3.0, frames[len(frames)-1])

	// The aux channel reported s+1 on step s: 1+2+3 over the episode
	aux := logs.Episodes.ChannelPerEpisode["aux"]
	require.NotEmpty(t, aux)
	assert.Equal(t, 6.0, aux[len(aux)-1])

	assert.Equal(t, float64(steps-1), logs.Diagnostics["counter"])
	assert.Equal(t, 42.0, logs.Diagnostics["setting"])
}

// TestCollectRewardShaping checks that a configured shaper rewrites
// the recorded main reward while raw returns stay untouched in the
// statistics
func TestCollectRewardShaping(t *testing.T) {
	const (
		steps = 3
		procs = 2
	)

	env := &scriptedEnv{procs: procs, dones: map[int][]int{1: {0}}}
	c := newTestCollector(t, env, constModel{}, Config{
		FramesPerProc: steps, Recurrence: 1, Discount: 0.99, GAELambda: 0.95,
		Shaper: func(obs mat.Vector, action int, reward float64,
			done bool) float64 {
			return 2 * reward
		},
	})

	batch, logs, err := c.Collect()
	require.NoError(t, err)

	// Recorded rewards are doubled
	for s := 0; s < steps; s++ {
		assert.Equal(t, float64(2*s), batch.Reward.AtVec(0*steps+s))
	}

	// Raw returns are reported next to reshaped returns: process 0's
	// episode covered steps 0..1
	returns := logs.Episodes.ReturnPerEpisode
	reshaped := logs.Episodes.ReshapedReturnPerEpisode
	assert.Equal(t, 1.0, returns[len(returns)-1])
	assert.Equal(t, 2.0, reshaped[len(reshaped)-1])
}

// TestCollectSecondCycle checks that the live rollout state bridges
// cycles: a second Collect picks up where the first left off
func TestCollectSecondCycle(t *testing.T) {
	const (
		steps = 3
		procs = 2
	)

	env := &scriptedEnv{procs: procs}
	c := newTestCollector(t, env, constModel{}, Config{
		FramesPerProc: steps, Recurrence: 1, Discount: 0.99, GAELambda: 0.95,
	})

	_, _, err := c.Collect()
	require.NoError(t, err)

	batch, _, err := c.Collect()
	require.NoError(t, err)

	// The second cycle starts at step index 3 for every process
	assert.Equal(t, float64(3), batch.Obs.At(0, 0))
	assert.Equal(t, float64(100+3), batch.Obs.At(steps, 0))
}
