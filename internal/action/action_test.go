package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivate(t *testing.T) {
	g := NewGroup("photo")
	var calls int
	g.Add("request", func(param interface{}) { calls++ })

	err := g.Activate("request", nil)
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Zero(t, calls)

	g.Toggle(true)
	require.NoError(t, g.Activate("request", nil))
	assert.Equal(t, 1, calls)

	err = g.Activate("missing", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadOnlyStatefulAction(t *testing.T) {
	g := NewGroup("connectivity_report")
	g.AddStateful("state", map[string]interface{}{}, nil)
	g.SetEnabled("state", true)

	require.NoError(t, g.Activate("state", "ignored"))

	g.SetState("state", map[string]interface{}{"title": "Signal Strength"})
	a, ok := g.Lookup("state")
	require.True(t, ok)
	assert.Equal(t, "connectivity_report.state", a.Name)
	assert.True(t, a.Stateful)
	assert.Equal(t, map[string]interface{}{"title": "Signal Strength"}, a.State)
}

func TestToggleKeepsState(t *testing.T) {
	g := NewGroup("connectivity_report")
	g.AddStateful("state", "last", nil)
	g.Toggle(true)
	g.Toggle(false)

	a, _ := g.Lookup("state")
	assert.False(t, a.Enabled)
	assert.Equal(t, "last", a.State)
}

func TestWatch(t *testing.T) {
	g := NewGroup("photo")
	var seen []Action
	unwatch := g.Watch(func(a Action) { seen = append(seen, a) })

	g.Add("request", nil)
	g.Toggle(true)
	g.Toggle(true)
	g.SetEnabled("request", false)
	require.Len(t, seen, 3)
	assert.Equal(t, "photo.request", seen[1].Name)
	assert.True(t, seen[1].Enabled)
	assert.False(t, seen[2].Enabled)

	unwatch()
	unwatch()
	g.Toggle(true)
	assert.Len(t, seen, 3)
}

func TestListOrder(t *testing.T) {
	g := NewGroup("x")
	g.Add("b", nil)
	g.Add("a", nil)
	list := g.List()
	require.Len(t, list, 2)
	assert.Equal(t, "x.b", list[0].Name)
	assert.Equal(t, "x.a", list[1].Name)
}

func TestMisuse(t *testing.T) {
	g := NewGroup("x")
	g.Add("a", nil)
	assert.Panics(t, func() { g.Add("a", nil) })
	assert.Panics(t, func() { g.SetEnabled("missing", true) })
	assert.Panics(t, func() { g.SetState("a", 1) })
}
