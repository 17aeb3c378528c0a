package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/reconquest/cog"
	"github.com/reconquest/karma-go"
	"github.com/reconquest/traffic-light/internal/audit"
	"github.com/reconquest/traffic-light/internal/light"
	"github.com/reconquest/traffic-light/internal/metrics"
	"github.com/reconquest/traffic-light/internal/signal"
	"golang.org/x/sync/errgroup"
)

// Simulation is the world the lights live in: it owns the lights and the
// waiters that stand at them.
type Simulation struct {
	config  *Config
	metrics *metrics.Metrics
	lights  []*light.Light
	log     *cog.Logger

	context context.Context
	cancel  context.CancelFunc
	waiters errgroup.Group
	workers sync.WaitGroup
}

func NewSimulation(config *Config, logger *cog.Logger) *Simulation {
	context, cancel := context.WithCancel(context.Background())
	return &Simulation{
		config:  config,
		metrics: metrics.New(),
		log:     logger,
		context: context,
		cancel:  cancel,
	}
}

func (simulation *Simulation) Start() error {
	for i := 0; i < simulation.config.Lights; i++ {
		id := uuid.New().String()

		options := simulation.config.CycleOptions()
		options.Reporter = simulation.metrics.Reporter(id)

		traffic := light.New(light.Options{
			ID:    id,
			Cycle: options,
			Log:   simulation.log.NewChildWithPrefix(fmt.Sprintf("[light:%s] ", id)),
		})

		err := traffic.Simulate()
		if err != nil {
			traffic.Close()

			return karma.Describe("light", traffic.ID()).
				Format(err, "unable to start simulation")
		}

		simulation.lights = append(simulation.lights, traffic)

		simulation.watch(traffic)

		for waiter := 0; waiter < simulation.config.Waiters; waiter++ {
			simulation.wait(traffic, waiter)
		}
	}

	simulation.log.Infof(
		nil,
		"simulation started: %d lights, %d waiters per light",
		len(simulation.lights), simulation.config.Waiters,
	)

	return nil
}

// watch reports a light whose cycler died; such a light keeps its last
// phase forever.
func (simulation *Simulation) watch(traffic *light.Light) {
	simulation.workers.Add(1)
	go func() {
		defer audit.Go("watch", traffic.ID())()
		defer simulation.workers.Done()

		if !traffic.Terminated().Wait() {
			simulation.log.Errorf(
				karma.Describe("light", traffic.ID()).Reason(traffic.Err()),
				"light is stuck in phase %s",
				traffic.CurrentPhase(),
			)
		}
	}()
}

func (simulation *Simulation) wait(traffic *light.Light, waiter int) {
	simulation.waiters.Go(func() error {
		defer audit.Go("waiter", traffic.ID(), waiter)()

		for {
			err := traffic.WaitForGreenContext(simulation.context)
			if err != nil {
				if karma.Contains(err, context.Canceled) ||
					karma.Contains(err, signal.ErrorClosed) {
					return nil
				}

				return karma.
					Describe("light", traffic.ID()).
					Describe("waiter", waiter).
					Format(err, "unable to wait for green")
			}

			simulation.metrics.ObserveGreenWait(traffic.ID())

			simulation.log.Debugf(
				karma.Describe("light", traffic.ID()).Describe("waiter", waiter),
				"green, passing",
			)
		}
	})
}

func (simulation *Simulation) Lights() []*light.Light {
	return simulation.lights
}

func (simulation *Simulation) Metrics() *metrics.Metrics {
	return simulation.metrics
}

func (simulation *Simulation) Shutdown() {
	simulation.cancel()

	err := simulation.waiters.Wait()
	if err != nil {
		simulation.log.Errorf(err, "waiter failed")
	}

	for _, traffic := range simulation.lights {
		err := traffic.Close()
		if err != nil {
			simulation.log.Errorf(err, "unable to close light %s", traffic.ID())
		}
	}

	simulation.workers.Wait()
}
