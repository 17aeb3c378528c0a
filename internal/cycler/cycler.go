package cycler

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"errors"
	"math/rand"
	"time"

	"github.com/reconquest/cog"
	"github.com/reconquest/karma-go"
	"github.com/reconquest/pkg/log"
	"github.com/reconquest/traffic-light/internal/clock"
	"github.com/reconquest/traffic-light/internal/phase"
)

const (
	DefaultMin  = 4000 * time.Millisecond
	DefaultMax  = 6000 * time.Millisecond
	DefaultTick = time.Millisecond
)

var ErrorClockUnavailable = errors.New("monotonic clock is unavailable")

// Publisher receives every phase the cycler switches to.
type Publisher interface {
	Send(phase.Phase) error
}

type Transition struct {
	Phase phase.Phase
	At    time.Time
	// Elapsed is how long the previous phase actually lasted, Scheduled is
	// how long it was meant to last.
	Elapsed   time.Duration
	Scheduled time.Duration
	Next      time.Duration
}

type Reporter interface {
	ReportTransition(Transition)
}

type Options struct {
	Min  time.Duration
	Max  time.Duration
	Tick time.Duration

	// Fixed draws the cycle duration once and reuses it for every cycle.
	Fixed bool

	Clock    clock.Clock
	Source   rand.Source
	Reporter Reporter
	Log      *cog.Logger
}

type Cycler struct {
	current   *phase.Holder
	publisher Publisher
	clock     clock.Clock
	random    *rand.Rand
	reporter  Reporter
	log       *cog.Logger

	min   time.Duration
	max   time.Duration
	tick  time.Duration
	fixed bool

	lastUpdate time.Time
	duration   time.Duration
}

// New prepares a cycler for the given phase holder. The first cycle starts
// now.
func New(current *phase.Holder, publisher Publisher, options Options) (*Cycler, error) {
	if current == nil {
		return nil, errors.New("phase holder is not specified")
	}

	if publisher == nil {
		return nil, errors.New("publisher is not specified")
	}

	if options.Min == 0 && options.Max == 0 {
		options.Min, options.Max = DefaultMin, DefaultMax
	}

	if options.Min <= 0 || options.Max < options.Min {
		return nil, karma.
			Describe("min", options.Min).
			Describe("max", options.Max).
			Format(nil, "invalid cycle duration range")
	}

	if options.Tick == 0 {
		options.Tick = DefaultTick
	}

	if options.Tick < 0 {
		return nil, karma.Describe("tick", options.Tick).
			Format(nil, "invalid tick duration")
	}

	if options.Clock == nil {
		options.Clock = clock.Real{}
	}

	if options.Source == nil {
		options.Source = rand.NewSource(seed())
	}

	if options.Log == nil {
		options.Log = log.NewChildWithPrefix("[cycler] ")
	}

	now, err := options.Clock.Now()
	if err != nil {
		return nil, karma.Describe("cause", err.Error()).
			Format(ErrorClockUnavailable, "unable to start cycle")
	}

	cycler := &Cycler{
		current:    current,
		publisher:  publisher,
		clock:      options.Clock,
		random:     rand.New(options.Source),
		reporter:   options.Reporter,
		log:        options.Log,
		min:        options.Min,
		max:        options.Max,
		tick:       options.Tick,
		fixed:      options.Fixed,
		lastUpdate: now,
	}

	cycler.duration = cycler.draw()

	return cycler, nil
}

// Duration returns the length of the current cycle. It is only safe to call
// before Run or from the Reporter.
func (cycler *Cycler) Duration() time.Duration {
	return cycler.duration
}

// Run alternates the phase until ctx is cancelled. It returns nil on
// cancellation and an error when the clock or the publisher fails; the
// cycler is not usable afterwards.
func (cycler *Cycler) Run(ctx context.Context) error {
	cycler.log.Debugf(nil, "cycling, first phase change in %s", cycler.duration)

	for {
		if ctx.Err() != nil {
			return nil
		}

		now, err := cycler.clock.Now()
		if err != nil {
			return karma.Describe("cause", err.Error()).
				Format(ErrorClockUnavailable, "unable to measure cycle")
		}

		elapsed := now.Sub(cycler.lastUpdate)
		if elapsed >= cycler.duration {
			err := cycler.advance(elapsed)
			if err != nil {
				return err
			}
		}

		cycler.clock.Sleep(cycler.tick)
	}
}

func (cycler *Cycler) advance(elapsed time.Duration) error {
	next := cycler.current.Flip()

	now, err := cycler.clock.Now()
	if err != nil {
		return karma.Describe("cause", err.Error()).
			Format(ErrorClockUnavailable, "unable to record phase change")
	}

	cycler.lastUpdate = now

	err = cycler.publisher.Send(next)
	if err != nil {
		return karma.Describe("phase", next).
			Format(err, "unable to publish phase")
	}

	scheduled := cycler.duration
	if !cycler.fixed {
		cycler.duration = cycler.draw()
	}

	cycler.log.Tracef(
		nil,
		"phase changed to %s after %s, next change in %s",
		next, elapsed, cycler.duration,
	)

	if cycler.reporter != nil {
		cycler.reporter.ReportTransition(Transition{
			Phase:     next,
			At:        now,
			Elapsed:   elapsed,
			Scheduled: scheduled,
			Next:      cycler.duration,
		})
	}

	return nil
}

// draw picks a cycle duration uniformly from [min, max] with millisecond
// granularity.
func (cycler *Cycler) draw() time.Duration {
	spread := int64((cycler.max - cycler.min) / time.Millisecond)
	return cycler.min + time.Duration(cycler.random.Int63n(spread+1))*time.Millisecond
}

func seed() int64 {
	var buffer [8]byte

	_, err := cryptorand.Read(buffer[:])
	if err != nil {
		return time.Now().UnixNano()
	}

	return int64(binary.LittleEndian.Uint64(buffer[:]))
}
