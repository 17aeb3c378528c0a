package light

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/reconquest/cog"
	"github.com/reconquest/karma-go"
	"github.com/reconquest/pkg/log"
	"github.com/reconquest/traffic-light/internal/audit"
	"github.com/reconquest/traffic-light/internal/cycler"
	"github.com/reconquest/traffic-light/internal/phase"
	"github.com/reconquest/traffic-light/internal/signal"
	"github.com/reconquest/traffic-light/internal/syncdo"
)

var (
	ErrorAlreadyRunning = errors.New("traffic light is already running")
	ErrorClosed         = errors.New("traffic light is closed")
)

// Change is one phase switch published by the cycler. Sequence numbers start
// at one and grow by one per switch.
type Change struct {
	Phase    phase.Phase
	Sequence uint64
}

type Options struct {
	// ID identifies the light in logs and metrics, random when empty.
	ID string

	// Cycle configures the cycler started by Simulate. Its Log is replaced by
	// the light's logger when empty.
	Cycle cycler.Options

	Log *cog.Logger
}

// Light is a traffic light: a cycler goroutine switches its phase and every
// switch is published to a channel that waiters consume.
type Light struct {
	id       string
	phase    *phase.Holder
	channel  *signal.Channel[Change]
	sequence atomic.Uint64
	cycle    cycler.Options
	log      *cog.Logger

	context context.Context
	cancel  context.CancelFunc
	workers sync.WaitGroup

	simulated  syncdo.Action
	closed     syncdo.Action
	terminated signal.Condition

	errMutex sync.Mutex
	err      error
}

func New(options Options) *Light {
	if options.ID == "" {
		options.ID = uuid.New().String()
	}

	if options.Log == nil {
		options.Log = log.NewChildWithPrefix(fmt.Sprintf("[light:%s] ", options.ID))
	}

	if options.Cycle.Log == nil {
		options.Cycle.Log = options.Log
	}

	context, cancel := context.WithCancel(context.Background())

	return &Light{
		id:         options.ID,
		phase:      phase.NewHolder(phase.Red),
		channel:    signal.NewChannel[Change](),
		cycle:      options.Cycle,
		log:        options.Log,
		context:    context,
		cancel:     cancel,
		terminated: signal.NewCondition(),
	}
}

func (light *Light) ID() string {
	return light.id
}

// Simulate starts the cycler goroutine. It can be called only once.
func (light *Light) Simulate() error {
	if light.closed.Done() {
		return ErrorClosed
	}

	ran, err := light.simulated.Try(light.start)
	if !ran {
		if light.closed.Done() {
			return ErrorClosed
		}

		return ErrorAlreadyRunning
	}

	return err
}

func (light *Light) start() error {
	cycle, err := cycler.New(light.phase, publisher(light.publish), light.cycle)
	if err != nil {
		light.fail(err)

		return karma.Format(err, "unable to create cycler")
	}

	light.workers.Add(1)
	go func() {
		defer audit.Go("light", light.id)()
		defer light.workers.Done()

		err := cycle.Run(light.context)
		if err != nil {
			light.log.Errorf(err, "cycler died, light will not change phase anymore")
			light.fail(err)

			return
		}

		light.terminated.Satisfy()
	}()

	light.log.Infof(nil, "simulation started")

	return nil
}

// publish is called by the cycler goroutine only, so sequence numbers reach
// the channel in order.
func (light *Light) publish(value phase.Phase) error {
	return light.channel.Send(Change{
		Phase:    value,
		Sequence: light.sequence.Add(1),
	})
}

func (light *Light) fail(err error) {
	light.errMutex.Lock()
	light.err = err
	light.errMutex.Unlock()

	light.terminated.Unsatisfy()
}

// CurrentPhase returns a snapshot of the phase. It is not synchronized with
// the channel: a waiter may still be about to receive the phase returned
// here.
func (light *Light) CurrentPhase() phase.Phase {
	return light.phase.Load()
}

// WaitForGreen blocks until the light switches to green. A light that is
// green already is not enough, the next switch to green is awaited even when
// older switches are still pending in the channel.
func (light *Light) WaitForGreen() error {
	return light.WaitFor(context.Background(), phase.Green)
}

func (light *Light) WaitForGreenContext(ctx context.Context) error {
	return light.WaitFor(ctx, phase.Green)
}

// WaitFor consumes changes from the channel until a switch to target
// published after the call began is received. Older changes and changes to
// other phases are discarded.
func (light *Light) WaitFor(ctx context.Context, target phase.Phase) error {
	since := light.sequence.Load()

	for {
		change, err := light.channel.ReceiveContext(ctx)
		if err != nil {
			return err
		}

		if change.Sequence > since && change.Phase == target {
			return nil
		}
	}
}

// Terminated is resolved once the cycler goroutine exits: satisfied after
// Close, unsatisfied when the cycler died.
func (light *Light) Terminated() signal.Condition {
	return light.terminated
}

// Err returns the reason the cycler died, if it did.
func (light *Light) Err() error {
	light.errMutex.Lock()
	defer light.errMutex.Unlock()

	return light.err
}

func (light *Light) Channel() *signal.Channel[Change] {
	return light.channel
}

// Close stops the cycler, waits for it to exit and releases all waiters.
func (light *Light) Close() error {
	return light.closed.Do(func() error {
		// waits for a concurrent Simulate and prevents any later one
		_ = light.simulated.Do(func() error { return ErrorClosed })

		light.cancel()
		light.workers.Wait()

		light.channel.Close()

		// a light that never ran still terminates cleanly
		light.terminated.Satisfy()

		light.log.Debugf(nil, "closed")

		return nil
	})
}

type publisher func(phase.Phase) error

func (fn publisher) Send(value phase.Phase) error {
	return fn(value)
}
