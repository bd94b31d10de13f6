// Package experiment implements functionality for running repeated
// collection and update cycles
package experiment

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/gorollout/rollout"
	"github.com/samuelfneumann/gorollout/utils/progressbar"
)

// Updater consumes one flat experience batch per cycle and updates
// the model parameters from it. The optimization itself is outside
// this module; anything exposing this method can drive learning.
type Updater interface {
	UpdateParameters(*rollout.Batch) error
}

// Experiment runs collection cycles against a Collector, handing each
// flat batch to an Updater and logging each cycle's episode
// statistics
type Experiment struct {
	collector *rollout.Collector
	updater   Updater
	cycles    int

	bar    *progressbar.ProgressBar
	logger zerolog.Logger
}

// New creates and returns a new Experiment running the given number
// of collection cycles
func New(collector *rollout.Collector, updater Updater, cycles int,
	logger zerolog.Logger) (*Experiment, error) {
	if collector == nil {
		return nil, fmt.Errorf("new: no collector given")
	}
	if updater == nil {
		return nil, fmt.Errorf("new: no updater given")
	}
	if cycles <= 0 {
		return nil, fmt.Errorf("new: cycles must be positive, have %d",
			cycles)
	}

	return &Experiment{
		collector: collector,
		updater:   updater,
		cycles:    cycles,
		bar:       progressbar.New(25, cycles, time.Second),
		logger: logger.With().
			Str("component", "experiment").
			Logger(),
	}, nil
}

// Run runs the entire experiment, collecting and updating for every
// cycle. A collection or update failure aborts the experiment and is
// returned.
func (e *Experiment) Run() error {
	e.bar.Display()
	defer e.bar.Close()

	frames := 0
	for cycle := 1; cycle <= e.cycles; cycle++ {
		batch, logs, err := e.collector.Collect()
		if err != nil {
			return fmt.Errorf("run: cycle %d: %v", cycle, err)
		}

		if err := e.updater.UpdateParameters(batch); err != nil {
			return fmt.Errorf("run: cycle %d: could not update "+
				"parameters: %v", cycle, err)
		}

		frames += logs.NumFrames
		event := e.logger.Info().
			Int("cycle", cycle).
			Int("frames", frames).
			Float64("return_mean",
				stat.Mean(logs.Episodes.ReturnPerEpisode, nil)).
			Float64("frames_per_episode_mean",
				stat.Mean(logs.Episodes.FramesPerEpisode, nil))
		for key, val := range logs.Diagnostics {
			event = event.Float64(key, val)
		}
		event.Msg("cycle complete")

		e.bar.Increment()
	}

	return nil
}
