// Package rollout implements the experience-collection core of an
// on-policy reinforcement learning trainer. A Collector drives a
// batch of parallel environments for a fixed horizon, records
// per-step transitions into a time-major buffer, computes GAE(λ)
// advantages, and reshapes the buffer into a process-major flat batch
// for a parameter update, while aggregating multi-channel episode
// statistics for monitoring.
package rollout

import (
	"fmt"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gorollout/environment"
	"github.com/samuelfneumann/gorollout/gae"
	"github.com/samuelfneumann/gorollout/model"
	"github.com/samuelfneumann/gorollout/stats"
	"github.com/samuelfneumann/gorollout/utils/floatutils"
)

// RewardShaper recomputes the main reward of one process for one
// step. It is called with the observation produced by the step, the
// sampled action, the raw reward, and the done flag. Reshaping only
// rewrites the main reward recorded in the training buffer; auxiliary
// channels are orthogonal to reshaping and always recorded raw.
type RewardShaper func(obs mat.Vector, action int, reward float64,
	done bool) float64

// Config is a specific configuration of a Collector
type Config struct {
	// FramesPerProc is the number of frames collected from every
	// process per collection cycle. It must be a positive multiple of
	// Recurrence.
	FramesPerProc int

	// Discount is the discount factor γ for future rewards
	Discount float64

	// GAELambda is the λ coefficient in the GAE formula
	// ([Schulman et al., 2015](https://arxiv.org/abs/1506.02438))
	GAELambda float64

	// Recurrence is the number of steps gradients are propagated back
	// in time by the downstream update. Non-recurrent models must use
	// a Recurrence of 1.
	Recurrence int

	// Channels declares the auxiliary reward channel names to record.
	// A channel key absent from an environment's step metadata
	// contributes zero.
	Channels []string

	// Diagnostics names the metadata keys copied verbatim from the
	// last step's metadata of process 0 into each cycle's logs
	Diagnostics []string

	// Preprocess converts raw observations into model input. If nil,
	// model.DefaultPreprocessor is used.
	Preprocess model.Preprocessor

	// Shaper optionally recomputes the recorded main reward. Nil
	// records raw rewards.
	Shaper RewardShaper
}

// Logs is the per-cycle monitoring summary returned by Collect
type Logs struct {
	// NumFrames is the total number of frames collected this cycle
	NumFrames int

	// Episodes holds the trailing window of completed-episode
	// statistics for the main and auxiliary channels
	Episodes stats.Summary

	// Diagnostics holds the configured pass-through values copied
	// verbatim from the last step's metadata of process 0
	Diagnostics map[string]float64
}

// Collector collects batches of experience from a batch of parallel
// environments. Exactly one Collect call may be in flight at a time
// per Collector; the Collector owns its buffers and the live rollout
// state bridging consecutive cycles.
type Collector struct {
	env       environment.VecEnv
	model     model.ActorCritic
	conf      Config
	estimator gae.Estimator
	agg       *stats.Aggregator

	numProcs  int
	numFrames int
	recurrent bool

	// Live rollout state bridging consecutive collection cycles
	obs    []mat.Vector
	mask   *mat.VecDense
	memory *mat.Dense

	buf    *buffer
	logger zerolog.Logger
}

// New creates and returns a new Collector, resetting the environments
// to obtain the initial live state. Precondition violations in the
// configuration are fatal here; no partial initialization occurs.
func New(env environment.VecEnv, ac model.ActorCritic, conf Config,
	logger zerolog.Logger) (*Collector, error) {
	if conf.FramesPerProc <= 0 {
		return nil, fmt.Errorf("new: frames per process must be positive, "+
			"have %d", conf.FramesPerProc)
	}
	if conf.Recurrence < 1 {
		return nil, fmt.Errorf("new: recurrence must be at least 1, have %d",
			conf.Recurrence)
	}
	if conf.FramesPerProc%conf.Recurrence != 0 {
		return nil, fmt.Errorf("new: frames per process (%d) must be a "+
			"multiple of recurrence (%d)", conf.FramesPerProc,
			conf.Recurrence)
	}
	if !ac.Recurrent() && conf.Recurrence != 1 {
		return nil, fmt.Errorf("new: non-recurrent model requires a "+
			"recurrence of 1, have %d", conf.Recurrence)
	}
	if ac.Recurrent() && ac.MemorySize() <= 0 {
		return nil, fmt.Errorf("new: recurrent model reports memory size %d",
			ac.MemorySize())
	}

	estimator, err := gae.New(conf.Discount, conf.GAELambda)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	if conf.Preprocess == nil {
		conf.Preprocess = model.DefaultPreprocessor
	}

	numProcs := env.Len()
	agg, err := stats.NewAggregator(numProcs, conf.Channels, logger)
	if err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	obs, err := env.Reset()
	if err != nil {
		return nil, fmt.Errorf("new: could not reset environments: %v", err)
	}

	c := &Collector{
		env:       env,
		model:     ac,
		conf:      conf,
		estimator: estimator,
		agg:       agg,
		numProcs:  numProcs,
		numFrames: conf.FramesPerProc * numProcs,
		recurrent: ac.Recurrent(),
		obs:       obs,
		mask: mat.NewVecDense(numProcs,
			floatutils.Ones(numProcs)),
		buf: newBuffer(conf.FramesPerProc, numProcs, ac.MemorySize(),
			conf.Channels),
		logger: logger.With().
			Str("component", "rollout_collector").
			Logger(),
	}
	if c.recurrent {
		c.memory = mat.NewDense(numProcs, ac.MemorySize(), nil)
	}

	return c, nil
}

// NumFrames returns the number of transitions produced per cycle
func (c *Collector) NumFrames() int {
	return c.numFrames
}

// Collect runs one collection cycle: it advances all environments by
// FramesPerProc steps, computes advantages over the recorded buffer,
// and returns the flat experience batch together with the cycle's log
// summary.
//
// The next actions are computed in batch mode for all environments at
// the same time, and the experience of each process occupies one
// contiguous block of the returned batch. An environment failure
// aborts the cycle and propagates; no retry is attempted.
func (c *Collector) Collect() (*Batch, Logs, error) {
	var lastInfos []environment.Info

	for t := 0; t < c.conf.FramesPerProc; t++ {
		// One agent-environment interaction, evaluated without
		// gradient tracking
		dist, values, nextMemory, err := c.forward()
		if err != nil {
			return nil, Logs{}, fmt.Errorf("collect: step %d: %v", t, err)
		}

		actions := dist.Sample()
		logProbs := dist.LogProb(actions)

		nextObs, rewards, dones, infos, err := c.env.Step(actions)
		if err != nil {
			return nil, Logs{}, fmt.Errorf("collect: step %d: %v", t, err)
		}

		recorded := c.recordedRewards(nextObs, actions, rewards, dones)
		channels := c.channelValues(infos)

		c.buf.record(t, c.obs, c.memory, c.mask, actions, values, logProbs,
			recorded, channels)

		// Advance the live rollout state
		c.obs = nextObs
		nextMask := mat.NewVecDense(c.numProcs, nil)
		for p, done := range dones {
			if !done {
				nextMask.SetVec(p, 1)
			}
		}
		c.mask = nextMask
		if c.recurrent {
			c.memory = nextMemory
		}

		c.agg.Observe(rewards, recorded, channels, c.mask.RawVector().Data,
			dones)

		if t == c.conf.FramesPerProc-1 {
			lastInfos = infos
		}
	}

	// Bootstrap value estimate for the state after the last recorded
	// step
	_, lastValue, _, err := c.forward()
	if err != nil {
		return nil, Logs{}, fmt.Errorf("collect: bootstrap: %v", err)
	}

	advantages, err := c.estimator.Advantages(c.buf.rewards, c.buf.values,
		c.buf.masks, lastValue, c.mask)
	if err != nil {
		return nil, Logs{}, fmt.Errorf("collect: %v", err)
	}

	batch, err := c.reshape(advantages)
	if err != nil {
		return nil, Logs{}, fmt.Errorf("collect: %v", err)
	}
	if !floatutils.Finite(batch.Reward.RawVector().Data...) ||
		!floatutils.Finite(batch.Advantage.RawVector().Data...) {
		return nil, Logs{}, fmt.Errorf("collect: non-finite reward or " +
			"advantage in batch")
	}

	logs := Logs{
		NumFrames:   c.numFrames,
		Episodes:    c.agg.Summarize(),
		Diagnostics: c.diagnostics(lastInfos),
	}

	c.logger.Debug().
		Int("frames", logs.NumFrames).
		Int("episodes", len(logs.Episodes.ReturnPerEpisode)).
		Msg("collection cycle complete")

	return batch, logs, nil
}

// forward evaluates the model on the current live observations,
// masking the recurrent memory of terminated processes so that no
// state leaks across an episode boundary
func (c *Collector) forward() (model.Distribution, *mat.VecDense, *mat.Dense,
	error) {
	batchObs, err := c.conf.Preprocess(c.obs)
	if err != nil {
		return nil, nil, nil, err
	}

	var memory *mat.Dense
	if c.recurrent {
		memory = mat.NewDense(c.numProcs, c.model.MemorySize(), nil)
		for p := 0; p < c.numProcs; p++ {
			row := memory.RawRowView(p)
			copy(row, c.memory.RawRowView(p))
			for j := range row {
				row[j] *= c.mask.AtVec(p)
			}
		}
	}

	return c.model.Forward(batchObs, memory)
}

// recordedRewards returns the main rewards as they are written into
// the training buffer: raw, or recomputed per process by the
// configured shaper
func (c *Collector) recordedRewards(obs []mat.Vector, actions []int,
	rewards []float64, dones []bool) []float64 {
	if c.conf.Shaper == nil {
		return rewards
	}

	shaped := make([]float64, len(rewards))
	for p := range rewards {
		shaped[p] = c.conf.Shaper(obs[p], actions[p], rewards[p], dones[p])
	}
	return shaped
}

// channelValues extracts one value per process for every declared
// auxiliary channel. Channels absent from a process's metadata
// contribute zero.
func (c *Collector) channelValues(
	infos []environment.Info) map[string][]float64 {
	channels := make(map[string][]float64, len(c.conf.Channels))
	for _, name := range c.conf.Channels {
		vals := make([]float64, c.numProcs)
		for p, info := range infos {
			vals[p] = info.Get(name, 0)
		}
		channels[name] = vals
	}
	return channels
}

// diagnostics copies the configured pass-through keys verbatim from
// the last step's metadata of process 0
func (c *Collector) diagnostics(infos []environment.Info) map[string]float64 {
	diag := make(map[string]float64, len(c.conf.Diagnostics))
	if len(infos) == 0 {
		return diag
	}
	for _, key := range c.conf.Diagnostics {
		diag[key] = infos[0].Get(key, 0)
	}
	return diag
}

// reshape transposes the filled time-major buffer into the
// process-major flat batch and attaches the bootstrap-derived returns
func (c *Collector) reshape(advantages *mat.Dense) (*Batch, error) {
	steps, procs := c.conf.FramesPerProc, c.numProcs

	batch := &Batch{
		Action:    flatten(c.buf.actions),
		Value:     flatten(c.buf.values),
		Reward:    flatten(c.buf.rewards),
		Advantage: flatten(advantages),
		LogProb:   flatten(c.buf.logProbs),
	}

	if c.recurrent {
		batch.Memory = flattenMemory(c.buf.memories, steps, procs)
		batch.Mask = flatten(c.buf.masks)
	}

	// Value function training target
	batch.Returnn = mat.NewVecDense(batch.Value.Len(), nil)
	batch.Returnn.AddVec(batch.Value, batch.Advantage)

	obs, err := c.conf.Preprocess(flattenObs(c.buf.obss, steps, procs))
	if err != nil {
		return nil, fmt.Errorf("reshape: could not preprocess "+
			"observations: %v", err)
	}
	batch.Obs = obs

	return batch, nil
}
