// Package telephony reports the signal of the local modems. The monitor is
// shared by every device session; it reference counts its watchers and only
// listens for modem changes while at least one watch is held.
package telephony

import (
	"sort"
	"sync"
)

// Signal is the per-modem entry of a connectivity report, in wire form.
type Signal struct {
	NetworkType    string `json:"networkType"`
	SignalStrength int64  `json:"signalStrength"`
}

// Monitor is implemented by ModemManager and by test doubles.
type Monitor interface {
	// SignalStrengths maps a modem id to its current signal.
	SignalStrengths() map[string]Signal
	// Watch calls f after any modem changes. The returned function is
	// idempotent.
	Watch(f func()) (unwatch func())
}

// watchSet fans change events out to watchers and runs start when the
// first watcher arrives and the returned stop when the last one leaves.
type watchSet struct {
	start func() (stop func())

	mu       sync.Mutex
	nextID   int
	watchers map[int]func()
	stop     func()
}

func newWatchSet(start func() (stop func())) *watchSet {
	return &watchSet{start: start, watchers: make(map[int]func())}
}

func (w *watchSet) add(f func()) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.watchers[id] = f
	if len(w.watchers) == 1 && w.stop == nil {
		w.stop = w.start()
	}
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { w.remove(id) })
	}
}

func (w *watchSet) remove(id int) {
	w.mu.Lock()
	delete(w.watchers, id)
	var stop func()
	if len(w.watchers) == 0 {
		stop = w.stop
		w.stop = nil
	}
	w.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (w *watchSet) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.watchers)
}

func (w *watchSet) emit() {
	w.mu.Lock()
	ids := make([]int, 0, len(w.watchers))
	for id := range w.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fs := make([]func(), 0, len(ids))
	for _, id := range ids {
		fs = append(fs, w.watchers[id])
	}
	w.mu.Unlock()
	for _, f := range fs {
		f()
	}
}
