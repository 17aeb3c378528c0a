// Package clock provides the monotonic time source used by the phase cycler.
package clock

import (
	"runtime"
	"sync"
	"time"
)

type Clock interface {
	// Now returns a reading that carries the monotonic clock, so that
	// differences between readings are immune to wall clock jumps.
	Now() (time.Time, error)
	Sleep(duration time.Duration)
}

type Real struct{}

func (Real) Now() (time.Time, error) {
	// time.Now is the only constructor that keeps the monotonic reading;
	// UTC/In/Round would strip it.
	return time.Now(), nil
}

func (Real) Sleep(duration time.Duration) {
	time.Sleep(duration)
}

// Fake is a manually driven clock. Sleep advances the fake time instead of
// blocking, which lets a cycler run through hours of phases in milliseconds.
type Fake struct {
	mutex   sync.Mutex
	current time.Time
	err     error
	sleeps  int
}

func NewFake(start time.Time) *Fake {
	return &Fake{current: start}
}

func (fake *Fake) Now() (time.Time, error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	if fake.err != nil {
		return time.Time{}, fake.err
	}

	return fake.current, nil
}

func (fake *Fake) Sleep(duration time.Duration) {
	fake.mutex.Lock()
	fake.current = fake.current.Add(duration)
	fake.sleeps++
	fake.mutex.Unlock()

	runtime.Gosched()
}

func (fake *Fake) Advance(duration time.Duration) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	fake.current = fake.current.Add(duration)
}

// Fail makes every following Now call return err.
func (fake *Fake) Fail(err error) {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	fake.err = err
}

func (fake *Fake) Sleeps() int {
	fake.mutex.Lock()
	defer fake.mutex.Unlock()

	return fake.sleeps
}
