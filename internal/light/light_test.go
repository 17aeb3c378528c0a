package light

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/reconquest/karma-go"
	"github.com/reconquest/traffic-light/internal/clock"
	"github.com/reconquest/traffic-light/internal/cycler"
	"github.com/reconquest/traffic-light/internal/phase"
	"github.com/reconquest/traffic-light/internal/signal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

const (
	fastMin = 50 * time.Millisecond
	fastMax = 80 * time.Millisecond
	epsilon = 50 * time.Millisecond
)

func newFastLight() *Light {
	return New(Options{
		Cycle: cycler.Options{Min: fastMin, Max: fastMax},
	})
}

func TestNew_StartsRedAndIdle(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	test := assert.New(t)

	light := New(Options{})
	defer light.Close()

	test.Equal(phase.Red, light.CurrentPhase())
	test.Equal(0, light.Channel().Len())
	test.False(light.Terminated().Resolved())

	_, err := uuid.Parse(light.ID())
	test.NoError(err)

	test.Equal("north", New(Options{ID: "north"}).ID())
}

func TestLight_Simulate_Twice(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	test := assert.New(t)

	light := newFastLight()

	test.NoError(light.Simulate())
	test.Equal(ErrorAlreadyRunning, light.Simulate())

	test.NoError(light.Close())
	test.Equal(ErrorClosed, light.Simulate())
}

func TestLight_Simulate_AfterClose(t *testing.T) {
	test := assert.New(t)

	light := newFastLight()
	test.NoError(light.Close())
	test.NoError(light.Close())

	test.Equal(ErrorClosed, light.Simulate())
	test.True(light.Terminated().Wait())
}

func TestLight_WaitForGreen_WakesUp(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	test := assert.New(t)

	light := newFastLight()
	defer light.Close()

	test.NoError(light.Simulate())

	started := time.Now()

	type outcome struct {
		current phase.Phase
		err     error
	}

	result := make(chan outcome, 1)
	go func() {
		err := light.WaitForGreen()
		result <- outcome{current: light.CurrentPhase(), err: err}
	}()

	select {
	case got := <-result:
		test.NoError(got.err)
		test.Equal(phase.Green, got.current)
		test.True(time.Since(started) <= 2*fastMax+epsilon)
	case <-time.After(2*fastMax + time.Second):
		t.Fatal("WaitForGreen did not return")
	}
}

func TestLight_WaitForGreen_RealCycle(t *testing.T) {
	if testing.Short() {
		t.Skip("runs a full-length cycle")
	}

	test := assert.New(t)

	light := New(Options{})
	defer light.Close()

	test.NoError(light.Simulate())

	ctx, cancel := context.WithTimeout(
		context.Background(),
		2*cycler.DefaultMax+epsilon,
	)
	defer cancel()

	test.NoError(light.WaitForGreenContext(ctx))
	test.Equal(phase.Green, light.CurrentPhase())
}

func TestLight_Channel_AlternatesStartingWithGreen(t *testing.T) {
	test := assert.New(t)

	light := New(Options{
		Cycle: cycler.Options{Clock: clock.NewFake(time.Unix(0, 0))},
	})
	defer light.Close()

	test.NoError(light.Simulate())

	received := []phase.Phase{}
	for i := 0; i < 10; i++ {
		change, err := light.Channel().Receive()
		test.NoError(err)
		test.Equal(uint64(i+1), change.Sequence)
		received = append(received, change.Phase)
	}

	expected := []phase.Phase{
		phase.Green, phase.Red, phase.Green, phase.Red, phase.Green,
		phase.Red, phase.Green, phase.Red, phase.Green, phase.Red,
	}
	test.Equal(expected, received, spew.Sdump(received))
}

func TestLight_Channel_RealCycleTiming(t *testing.T) {
	if testing.Short() {
		t.Skip("runs ten full-length cycles")
	}

	test := assert.New(t)

	light := New(Options{})
	defer light.Close()

	test.NoError(light.Simulate())

	previous := time.Now()
	expected := phase.Green
	for i := 0; i < 10; i++ {
		change, err := light.Channel().Receive()
		test.NoError(err)
		test.Equal(expected, change.Phase)
		expected = expected.Next()

		now := time.Now()
		if i > 0 {
			elapsed := now.Sub(previous)
			test.True(elapsed >= cycler.DefaultMin-epsilon, "%s", elapsed)
			test.True(elapsed <= cycler.DefaultMax+epsilon, "%s", elapsed)
		}
		previous = now
	}
}

func TestLight_WaitForGreen_SkipsPendingChanges(t *testing.T) {
	test := assert.New(t)

	light := New(Options{})
	defer light.Close()

	for _, value := range []phase.Phase{
		phase.Green, phase.Red, phase.Green, phase.Red,
	} {
		light.phase.Store(value)
		test.NoError(light.publish(value))
	}

	test.Equal(4, light.Channel().Len())

	done := make(chan error, 1)
	go func() {
		done <- light.WaitForGreen()
	}()

	select {
	case err := <-done:
		test.FailNow("returned on a green published before the call", "%v", err)
	case <-time.After(50 * time.Millisecond):
	}

	test.Equal(0, light.Channel().Len(), "pending changes should be drained")

	light.phase.Store(phase.Green)
	test.NoError(light.publish(phase.Green))

	select {
	case err := <-done:
		test.NoError(err)
	case <-time.After(time.Second):
		test.FailNow("next green did not release the waiter")
	}

	test.Equal(phase.Green, light.CurrentPhase())
}

func TestLight_WaitForGreen_LateWaiterBlocksUntilNextGreen(t *testing.T) {
	test := assert.New(t)

	light := New(Options{
		Cycle: cycler.Options{Min: fastMin, Max: fastMin, Fixed: true},
	})
	defer light.Close()

	test.NoError(light.Simulate())

	deadline := time.Now().Add(5 * time.Second)
	for light.Channel().Len() < 3 || light.CurrentPhase() != phase.Red {
		if time.Now().After(deadline) {
			test.FailNow("no backlog built up")
		}

		time.Sleep(time.Millisecond)
	}

	test.NoError(light.WaitForGreen())
	test.Equal(phase.Green, light.CurrentPhase())
}

func TestLight_WaitForGreen_ConcurrentWaiters(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	test := assert.New(t)

	light := newFastLight()
	defer light.Close()

	test.NoError(light.Simulate())

	// every green is consumed by a single waiter, so three waiters need at
	// least three greens
	ctx, cancel := context.WithTimeout(context.Background(), 8*fastMax+time.Second)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < 3; i++ {
		group.Go(func() error {
			return light.WaitForGreenContext(ctx)
		})
	}

	test.NoError(group.Wait())
}

func TestLight_CurrentPhase_NeverTorn(t *testing.T) {
	test := assert.New(t)

	light := New(Options{
		Cycle: cycler.Options{Min: time.Millisecond, Max: 2 * time.Millisecond},
	})
	defer light.Close()

	test.NoError(light.Simulate())

	seen := map[phase.Phase]int{}
	for i := 0; i < 10000; i++ {
		current := light.CurrentPhase()
		test.True(current.Valid(), "invalid phase %d", current)
		seen[current]++
	}

	test.NotEmpty(seen)
}

func TestLight_CurrentPhase_EventuallyChanges(t *testing.T) {
	test := assert.New(t)

	light := newFastLight()
	defer light.Close()

	initial := light.CurrentPhase()
	test.NoError(light.Simulate())

	deadline := time.Now().Add(fastMax + epsilon)
	for time.Now().Before(deadline) {
		if light.CurrentPhase() != initial {
			return
		}

		time.Sleep(time.Millisecond)
	}

	t.Fatalf("phase did not change within %s", fastMax+epsilon)
}

func TestLight_Close_ReleasesWaiters(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	test := assert.New(t)

	light := New(Options{
		Cycle: cycler.Options{Min: time.Hour, Max: time.Hour},
	})

	test.NoError(light.Simulate())

	errs := make(chan error, 2)
	wg := sync.WaitGroup{}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- light.WaitForGreen()
		}()
	}

	time.Sleep(20 * time.Millisecond)

	test.NoError(light.Close())
	wg.Wait()

	for i := 0; i < 2; i++ {
		test.Equal(signal.ErrorClosed, <-errs)
	}

	test.True(light.Terminated().Wait())
	test.NoError(light.Err())
	test.Equal(phase.Red, light.CurrentPhase())
}

func TestLight_WaitForGreenContext_Cancelled(t *testing.T) {
	test := assert.New(t)

	light := New(Options{
		Cycle: cycler.Options{Min: time.Hour, Max: time.Hour},
	})
	defer light.Close()

	test.NoError(light.Simulate())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	test.Equal(context.DeadlineExceeded, light.WaitForGreenContext(ctx))
}

func TestLight_ClockFailure_DegradesLight(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	test := assert.New(t)

	fake := clock.NewFake(time.Unix(0, 0))

	light := New(Options{
		Cycle: cycler.Options{Clock: fake},
	})
	defer light.Close()

	test.NoError(light.Simulate())

	fake.Fail(errors.New("clock is gone"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := light.Terminated().WaitContext(ctx)
	test.NoError(err)
	test.False(ok)
	test.True(karma.Contains(light.Err(), cycler.ErrorClockUnavailable))

	// no restart: the phase stays wherever the cycler left it
	stuck := light.CurrentPhase()
	time.Sleep(10 * time.Millisecond)
	test.Equal(stuck, light.CurrentPhase())
}

func TestLight_Simulate_InvalidCycle(t *testing.T) {
	test := assert.New(t)

	light := New(Options{
		Cycle: cycler.Options{Min: time.Second, Max: time.Millisecond},
	})
	defer light.Close()

	test.Error(light.Simulate())
	test.False(light.Terminated().Wait())
	test.Error(light.Err())
}
