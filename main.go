package main

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/samuelfneumann/gorollout/environment"
	"github.com/samuelfneumann/gorollout/environment/gridcleanup"
	"github.com/samuelfneumann/gorollout/experiment"
	"github.com/samuelfneumann/gorollout/model"
	"github.com/samuelfneumann/gorollout/rollout"
)

// noUpdate is a placeholder parameter update: it consumes each batch
// and does nothing. Plug a learner in here to train.
type noUpdate struct{}

func (noUpdate) UpdateParameters(*rollout.Batch) error { return nil }

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	conf := experiment.DefaultConfig()
	if len(os.Args) > 1 {
		var err error
		conf, err = experiment.LoadConfig(os.Args[1])
		if err != nil {
			logger.Fatal().Err(err).Msg("could not load configuration")
		}
	}
	conf.Channels = gridcleanup.Channels()
	conf.Diagnostics = gridcleanup.Diagnostics()

	// Create the environments
	envs := make([]environment.Environment, conf.Procs)
	for i := range envs {
		env, err := gridcleanup.New(5, 5, 3, 2, 0.1, 100,
			conf.Seed+uint64(i))
		if err != nil {
			logger.Fatal().Err(err).Msg("could not create environment")
		}
		envs[i] = env
	}

	// Create the actor-critic model
	ac, err := model.NewCategoricalMLP(envs[0].ObservationSize(),
		envs[0].NumActions(), conf.Procs, conf.Hidden, conf.Seed)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not create model")
	}
	defer ac.Close()

	// Experiment
	exp, err := conf.Create(envs, ac, noUpdate{}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not create experiment")
	}
	if err := exp.Run(); err != nil {
		logger.Fatal().Err(err).Msg("experiment failed")
	}
}
