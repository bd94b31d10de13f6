// Package stats implements episode statistics aggregation across a
// batch of parallel environments
package stats

import (
	"fmt"

	"github.com/rs/zerolog"
)

// Summary holds one collection cycle's trailing window of completed
// episode statistics. Every list holds one scalar per completed
// episode, oldest first. If no episode completed during the cycle,
// the lists re-expose the trailing window from earlier cycles rather
// than coming back empty.
type Summary struct {
	// ReturnPerEpisode holds the raw episodic return of the main
	// reward channel
	ReturnPerEpisode []float64

	// ReshapedReturnPerEpisode holds the episodic return of the main
	// reward channel as recorded in the training buffer, which differs
	// from ReturnPerEpisode only when reward reshaping is configured
	ReshapedReturnPerEpisode []float64

	// FramesPerEpisode holds the number of frames in each episode
	FramesPerEpisode []float64

	// ChannelPerEpisode holds the episodic sum of every declared
	// auxiliary channel. Auxiliary channels are recorded raw; they are
	// orthogonal to reward reshaping.
	ChannelPerEpisode map[string][]float64
}

// Aggregator tracks running episodic sums for the main reward channel
// and a statically declared set of auxiliary channels across a batch
// of parallel environments, flushing each environment's sums to
// completed-episode histories whenever its episode terminates.
//
// An Aggregator persists across collection cycles: running sums bridge
// cycles for episodes still in flight, and the completed-episode
// histories keep a trailing window so that a cycle without completions
// still summarizes recent behaviour.
type Aggregator struct {
	numProcs int
	channels []string

	// Running per-environment episodic sums. A terminated
	// environment's accumulators are zeroed by multiplying with the
	// post-step continuation mask; multiplying by 0 is the reset.
	episodeReturn   []float64
	episodeReshaped []float64
	episodeFrames   []float64
	episodeChannel  map[string][]float64

	// Completed-episode histories, appended on termination and
	// truncated to a trailing window of numProcs entries after each
	// Summarize call. The window policy is uniform across the main and
	// auxiliary channels.
	doneCount       int
	returns         []float64
	reshapedReturns []float64
	frames          []float64
	channelReturns  map[string][]float64

	logger zerolog.Logger
}

// NewAggregator creates and returns a new Aggregator for numProcs
// parallel environments and the given auxiliary channel names. The
// channel set is fixed for the Aggregator's lifetime; channels absent
// from a step's observations contribute zero.
func NewAggregator(numProcs int, channels []string,
	logger zerolog.Logger) (*Aggregator, error) {
	if numProcs <= 0 {
		return nil, fmt.Errorf("newAggregator: numProcs must be positive")
	}
	seen := make(map[string]bool, len(channels))
	for _, name := range channels {
		if seen[name] {
			return nil, fmt.Errorf("newAggregator: duplicate channel %q",
				name)
		}
		seen[name] = true
	}

	a := &Aggregator{
		numProcs:        numProcs,
		channels:        append([]string(nil), channels...),
		episodeReturn:   make([]float64, numProcs),
		episodeReshaped: make([]float64, numProcs),
		episodeFrames:   make([]float64, numProcs),
		episodeChannel:  make(map[string][]float64, len(channels)),
		returns:         make([]float64, numProcs),
		reshapedReturns: make([]float64, numProcs),
		frames:          make([]float64, numProcs),
		channelReturns:  make(map[string][]float64, len(channels)),
		logger: logger.With().
			Str("component", "stats_aggregator").
			Logger(),
	}
	for _, name := range channels {
		a.episodeChannel[name] = make([]float64, numProcs)
		a.channelReturns[name] = make([]float64, numProcs)
	}

	return a, nil
}

// Channels returns the declared auxiliary channel names
func (a *Aggregator) Channels() []string {
	return append([]string(nil), a.channels...)
}

// Observe records one step of per-environment scalars. The rewards
// argument holds the raw main reward, reshaped holds the main reward
// as recorded in the training buffer, and channels holds the values
// of any declared auxiliary channels present this step. The mask holds
// the post-step continuation indicator (1.0 alive, 0.0 terminated)
// and done marks environments whose episode ended on this step.
//
// Observe panics if any argument's length disagrees with the number
// of environments declared at construction.
func (a *Aggregator) Observe(rewards, reshaped []float64,
	channels map[string][]float64, mask []float64, done []bool) {
	a.checkLen("rewards", len(rewards))
	a.checkLen("reshaped", len(reshaped))
	a.checkLen("mask", len(mask))
	a.checkLen("done", len(done))
	for name, vals := range channels {
		if _, ok := a.episodeChannel[name]; !ok {
			panic(fmt.Sprintf("observe: undeclared channel %q", name))
		}
		a.checkLen(name, len(vals))
	}

	// Accumulate this step into the running episodic sums
	for p := 0; p < a.numProcs; p++ {
		a.episodeReturn[p] += rewards[p]
		a.episodeReshaped[p] += reshaped[p]
		a.episodeFrames[p]++
	}
	for name, vals := range channels {
		accum := a.episodeChannel[name]
		for p, val := range vals {
			accum[p] += val
		}
	}

	// Flush terminated environments to the completed-episode histories
	for p, d := range done {
		if !d {
			continue
		}
		a.doneCount++
		a.returns = append(a.returns, a.episodeReturn[p])
		a.reshapedReturns = append(a.reshapedReturns, a.episodeReshaped[p])
		a.frames = append(a.frames, a.episodeFrames[p])
		for _, name := range a.channels {
			a.channelReturns[name] = append(a.channelReturns[name],
				a.episodeChannel[name][p])
		}

		a.logger.Debug().
			Int("proc", p).
			Float64("return", a.episodeReturn[p]).
			Float64("frames", a.episodeFrames[p]).
			Msg("episode completed")
	}

	// Zero the accumulators of terminated environments. Live
	// environments have mask 1 and are untouched.
	for p := 0; p < a.numProcs; p++ {
		a.episodeReturn[p] *= mask[p]
		a.episodeReshaped[p] *= mask[p]
		a.episodeFrames[p] *= mask[p]
		for _, name := range a.channels {
			a.episodeChannel[name][p] *= mask[p]
		}
	}
}

// Summarize returns the trailing window of completed-episode
// statistics and ends the current summary period. The window holds
// the last max(completions since the previous Summarize, numProcs)
// entries of every history, so a cycle with no completions still
// reports one full window of stale entries.
//
// After summarizing, every history is truncated to its last numProcs
// entries and the completion counter is reset.
func (a *Aggregator) Summarize() Summary {
	keep := a.doneCount
	if keep < a.numProcs {
		keep = a.numProcs
	}

	summary := Summary{
		ReturnPerEpisode:         tail(a.returns, keep),
		ReshapedReturnPerEpisode: tail(a.reshapedReturns, keep),
		FramesPerEpisode:         tail(a.frames, keep),
		ChannelPerEpisode:        make(map[string][]float64, len(a.channels)),
	}
	for _, name := range a.channels {
		summary.ChannelPerEpisode[name] = tail(a.channelReturns[name], keep)
	}

	a.doneCount = 0
	a.returns = tail(a.returns, a.numProcs)
	a.reshapedReturns = tail(a.reshapedReturns, a.numProcs)
	a.frames = tail(a.frames, a.numProcs)
	for _, name := range a.channels {
		a.channelReturns[name] = tail(a.channelReturns[name], a.numProcs)
	}

	return summary
}

// checkLen panics if a per-environment argument has the wrong length
func (a *Aggregator) checkLen(name string, have int) {
	if have != a.numProcs {
		panic(fmt.Sprintf("observe: illegal %s length \n\twant(%v)"+
			"\n\thave(%v)", name, a.numProcs, have))
	}
}

// tail returns a copy of the last n entries of data, or of all of
// data if it holds fewer than n entries
func tail(data []float64, n int) []float64 {
	if n > len(data) {
		n = len(data)
	}
	out := make([]float64, n)
	copy(out, data[len(data)-n:])
	return out
}
