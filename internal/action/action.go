// Package action implements the action surface of a plugin: named,
// enable/disable-able operations, some carrying a read-only state value.
package action

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNotFound = errors.New("action not found")
	ErrDisabled = errors.New("action disabled")
)

// Action is a snapshot of one entry of a Group.
type Action struct {
	// Name is qualified with the group scope, e.g. "photo.request".
	Name    string
	Enabled bool
	// Stateful actions carry State; nil State on a stateless action.
	Stateful bool
	State    interface{}
}

type entry struct {
	enabled  bool
	stateful bool
	state    interface{}
	activate func(param interface{})
}

// Group holds the actions of one plugin instance. Actions start disabled.
type Group struct {
	scope string

	mu       sync.Mutex
	order    []string
	actions  map[string]*entry
	nextID   int
	watchers map[int]func(Action)
}

func NewGroup(scope string) *Group {
	return &Group{
		scope:    scope,
		actions:  make(map[string]*entry),
		watchers: make(map[int]func(Action)),
	}
}

func (g *Group) Scope() string {
	return g.scope
}

// Add registers a stateless action.
func (g *Group) Add(name string, activate func(param interface{})) {
	g.add(name, &entry{activate: activate})
}

// AddStateful registers an action carrying state. A nil activate makes the
// action read-only: activating it succeeds and does nothing.
func (g *Group) AddStateful(name string, initial interface{}, activate func(param interface{})) {
	g.add(name, &entry{stateful: true, state: initial, activate: activate})
}

func (g *Group) add(name string, e *entry) {
	g.mu.Lock()
	if _, exists := g.actions[name]; exists {
		g.mu.Unlock()
		panic(fmt.Sprintf("action: %s.%s added twice", g.scope, name))
	}
	g.order = append(g.order, name)
	g.actions[name] = e
	snapshot := g.snapshot(name, e)
	g.mu.Unlock()
	g.emit(snapshot)
}

func (g *Group) snapshot(name string, e *entry) Action {
	return Action{
		Name:     g.scope + "." + name,
		Enabled:  e.enabled,
		Stateful: e.stateful,
		State:    e.state,
	}
}

// Lookup returns a snapshot of an action by its unqualified name.
func (g *Group) Lookup(name string) (Action, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.actions[name]
	if !ok {
		return Action{}, false
	}
	return g.snapshot(name, e), true
}

// SetEnabled changes one action. Unknown names panic.
func (g *Group) SetEnabled(name string, enabled bool) {
	g.update(name, func(e *entry) bool {
		if e.enabled == enabled {
			return false
		}
		e.enabled = enabled
		return true
	})
}

// SetState replaces the state of a stateful action. Unknown or stateless
// names panic.
func (g *Group) SetState(name string, state interface{}) {
	g.update(name, func(e *entry) bool {
		if !e.stateful {
			panic(fmt.Sprintf("action: %s.%s is stateless", g.scope, name))
		}
		e.state = state
		return true
	})
}

func (g *Group) update(name string, f func(*entry) bool) {
	g.mu.Lock()
	e, ok := g.actions[name]
	if !ok {
		g.mu.Unlock()
		panic(fmt.Sprintf("action: %s.%s does not exist", g.scope, name))
	}
	changed := f(e)
	snapshot := g.snapshot(name, e)
	g.mu.Unlock()
	if changed {
		g.emit(snapshot)
	}
}

// Toggle enables or disables every action of the group. State values are
// kept as they are.
func (g *Group) Toggle(enabled bool) {
	g.mu.Lock()
	var changed []Action
	for _, name := range g.order {
		e := g.actions[name]
		if e.enabled != enabled {
			e.enabled = enabled
			changed = append(changed, g.snapshot(name, e))
		}
	}
	g.mu.Unlock()
	for _, a := range changed {
		g.emit(a)
	}
}

// Activate runs an enabled action on the calling goroutine.
func (g *Group) Activate(name string, param interface{}) error {
	g.mu.Lock()
	e, ok := g.actions[name]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("%s.%s: %w", g.scope, name, ErrNotFound)
	}
	if !e.enabled {
		g.mu.Unlock()
		return fmt.Errorf("%s.%s: %w", g.scope, name, ErrDisabled)
	}
	activate := e.activate
	g.mu.Unlock()
	if activate != nil {
		activate(param)
	}
	return nil
}

// List returns snapshots of all actions in the order they were added.
func (g *Group) List() []Action {
	g.mu.Lock()
	defer g.mu.Unlock()
	list := make([]Action, 0, len(g.order))
	for _, name := range g.order {
		list = append(list, g.snapshot(name, g.actions[name]))
	}
	return list
}

// Watch calls f after every change of an action. The returned function
// removes the watch and may be called more than once.
func (g *Group) Watch(f func(Action)) (unwatch func()) {
	g.mu.Lock()
	id := g.nextID
	g.nextID++
	g.watchers[id] = f
	g.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.watchers, id)
			g.mu.Unlock()
		})
	}
}

func (g *Group) emit(a Action) {
	g.mu.Lock()
	ids := make([]int, 0, len(g.watchers))
	for id := range g.watchers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fs := make([]func(Action), 0, len(ids))
	for _, id := range ids {
		fs = append(fs, g.watchers[id])
	}
	g.mu.Unlock()
	for _, f := range fs {
		f(a)
	}
}
