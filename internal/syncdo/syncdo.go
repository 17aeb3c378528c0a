package syncdo

import "sync"

// Action runs a function at most once and remembers its result.
type Action struct {
	done  bool
	err   error
	mutex sync.Mutex
}

// Do runs fn on the first call; later calls return the first call's error
// without running anything.
func (action *Action) Do(fn func() error) error {
	_, err := action.Try(fn)
	return err
}

// Try is like Do but also reports whether this call was the one that ran fn.
func (action *Action) Try(fn func() error) (bool, error) {
	action.mutex.Lock()
	defer action.mutex.Unlock()

	if action.done {
		return false, action.err
	}

	action.done = true
	action.err = fn()

	return true, action.err
}

func (action *Action) Done() bool {
	action.mutex.Lock()
	defer action.mutex.Unlock()

	return action.done
}
