package signal

import (
	"context"
	"sync"
)

// Condition is a one-shot latch with two outcomes. Waiters block until either
// Satisfy or Unsatisfy is called; the first call wins.
type Condition interface {
	Satisfy()
	Unsatisfy()
	Wait() bool
	WaitContext(ctx context.Context) (bool, error)
	Resolved() bool
}

const (
	pending uint8 = iota
	satisfied
	unsatisfied
)

func NewCondition() Condition {
	return &condition{
		sync: sync.NewCond(&sync.Mutex{}),
	}
}

type condition struct {
	sync  *sync.Cond
	state uint8
}

func (condition *condition) Satisfy() {
	condition.resolve(satisfied)
}

func (condition *condition) Unsatisfy() {
	condition.resolve(unsatisfied)
}

func (condition *condition) resolve(state uint8) {
	condition.sync.L.Lock()
	if condition.state == pending {
		condition.state = state
	}
	condition.sync.Broadcast()
	condition.sync.L.Unlock()
}

func (condition *condition) Wait() bool {
	ok, _ := condition.WaitContext(context.Background())
	return ok
}

func (condition *condition) WaitContext(ctx context.Context) (bool, error) {
	stop := context.AfterFunc(ctx, func() {
		condition.sync.L.Lock()
		condition.sync.Broadcast()
		condition.sync.L.Unlock()
	})
	defer stop()

	condition.sync.L.Lock()
	defer condition.sync.L.Unlock()

	for condition.state == pending {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		condition.sync.Wait()
	}

	return condition.state == satisfied, nil
}

func (condition *condition) Resolved() bool {
	condition.sync.L.Lock()
	defer condition.sync.L.Unlock()

	return condition.state != pending
}
