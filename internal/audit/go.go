// Package audit keeps track of the goroutines spawned by the simulation so
// that a stuck light can be diagnosed on a live process.
package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/reconquest/pkg/log"
	"github.com/reconquest/sign-go"
)

var (
	gosrc = filepath.Join(os.Getenv("GOPATH"), "src")

	enabled atomic.Bool
	tracked = &registry{goroutines: map[string]time.Time{}}
)

type registry struct {
	id         atomic.Int64
	mutex      sync.Mutex
	goroutines map[string]time.Time
}

func (registry *registry) add(name string) {
	registry.mutex.Lock()
	registry.goroutines[name] = time.Now()
	registry.mutex.Unlock()
}

func (registry *registry) remove(name string) {
	registry.mutex.Lock()
	delete(registry.goroutines, name)
	registry.mutex.Unlock()
}

func (registry *registry) list() []string {
	registry.mutex.Lock()

	names := make([]string, 0, len(registry.goroutines))
	for name, started := range registry.goroutines {
		names = append(
			names,
			fmt.Sprintf("%s (running %s)", name, time.Since(started).Truncate(time.Millisecond)),
		)
	}

	registry.mutex.Unlock()

	sort.Strings(names)

	return names
}

// Start enables tracking, logs the number of tracked goroutines every
// interval and dumps all of them on SIGHUP.
func Start(interval time.Duration) {
	enabled.Store(true)

	go func() {
		defer Go("audit", "watcher")()

		for {
			log.Tracef(
				nil,
				"{audit} goroutines audit: %d runtime: %d",
				NumGoroutines(),
				runtime.NumGoroutine(),
			)

			time.Sleep(interval)
		}
	}()

	go sign.Notify(func(_ os.Signal) bool {
		defer Go("audit", "sighup")()

		routines := Goroutines()

		log.Warningf(nil, "{audit} goroutines: %d", len(routines))
		for _, routine := range routines {
			log.Warningf(nil, "{audit} %s", routine)
		}

		return true
	}, syscall.SIGHUP)
}

func noop() {}

// Go registers the calling goroutine until the returned function is called:
//
//	defer audit.Go("light", id)()
func Go(token ...interface{}) func() {
	if !enabled.Load() {
		return noop
	}

	_, filename, line, _ := runtime.Caller(1)

	name := fmt.Sprintf(
		"%05d %s:%d",
		tracked.id.Add(1),
		strings.TrimPrefix(strings.TrimPrefix(filename, gosrc), "/"),
		line,
	)
	if len(token) > 0 {
		name += fmt.Sprintf(" | %v", token)
	}

	tracked.add(name)

	return func() {
		tracked.remove(name)
	}
}

func NumGoroutines() int {
	tracked.mutex.Lock()
	defer tracked.mutex.Unlock()

	return len(tracked.goroutines)
}

func Goroutines() []string {
	return tracked.list()
}
