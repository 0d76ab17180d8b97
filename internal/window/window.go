// Package window tracks the application's top-level windows and which of
// them has focus.
package window

import (
	"sort"
	"sync"
)

type watchers[T any] struct {
	nextID int
	funcs  map[int]func(T)
}

func (w *watchers[T]) add(mu *sync.Mutex, f func(T)) func() {
	mu.Lock()
	if w.funcs == nil {
		w.funcs = make(map[int]func(T))
	}
	id := w.nextID
	w.nextID++
	w.funcs[id] = f
	mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			delete(w.funcs, id)
			mu.Unlock()
		})
	}
}

// snapshot must be called with mu held.
func (w *watchers[T]) snapshot() []func(T) {
	ids := make([]int, 0, len(w.funcs))
	for id := range w.funcs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fs := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fs = append(fs, w.funcs[id])
	}
	return fs
}

type Window struct {
	title string

	mu       sync.Mutex
	active   bool
	watchers watchers[bool]
}

func (w *Window) Title() string {
	return w.title
}

func (w *Window) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// SetActive records a focus change. Watchers run only when the value changes.
func (w *Window) SetActive(active bool) {
	w.mu.Lock()
	if w.active == active {
		w.mu.Unlock()
		return
	}
	w.active = active
	fs := w.watchers.snapshot()
	w.mu.Unlock()
	for _, f := range fs {
		f(active)
	}
}

func (w *Window) WatchActive(f func(active bool)) (unwatch func()) {
	return w.watchers.add(&w.mu, f)
}

type List struct {
	mu       sync.Mutex
	windows  []*Window
	watchers watchers[struct{}]
}

func NewList() *List {
	return &List{}
}

func (l *List) Add(title string) *Window {
	w := &Window{title: title}
	l.mu.Lock()
	l.windows = append(l.windows, w)
	fs := l.watchers.snapshot()
	l.mu.Unlock()
	for _, f := range fs {
		f(struct{}{})
	}
	return w
}

func (l *List) Remove(w *Window) {
	l.mu.Lock()
	removed := false
	for i, x := range l.windows {
		if x == w {
			l.windows = append(l.windows[:i], l.windows[i+1:]...)
			removed = true
			break
		}
	}
	fs := l.watchers.snapshot()
	l.mu.Unlock()
	if !removed {
		return
	}
	for _, f := range fs {
		f(struct{}{})
	}
}

// Track adds a window and returns a func that marks it inactive and removes
// it. release may be called more than once.
func (l *List) Track(title string) (w *Window, release func()) {
	w = l.Add(title)
	var once sync.Once
	return w, func() {
		once.Do(func() {
			w.SetActive(false)
			l.Remove(w)
		})
	}
}

func (l *List) Windows() []*Window {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Window(nil), l.windows...)
}

// Active returns the focused window, or nil.
func (l *List) Active() *Window {
	for _, w := range l.Windows() {
		if w.IsActive() {
			return w
		}
	}
	return nil
}

// WatchItems calls f after a window is added or removed.
func (l *List) WatchItems(f func()) (unwatch func()) {
	return l.watchers.add(&l.mu, func(struct{}) { f() })
}
