package notify

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerReplacesByID(t *testing.T) {
	l := NewLogger(log.New(io.Discard, "", 0))

	require.NoError(t, l.Show("dev|connectivity_report|offline", Notification{Title: "a"}))
	require.NoError(t, l.Show("dev|connectivity_report|offline", Notification{Title: "b"}))
	shown := l.Shown()
	require.Len(t, shown, 1)
	assert.Equal(t, "b", shown["dev|connectivity_report|offline"].Title)

	require.NoError(t, l.Withdraw("dev|connectivity_report|offline"))
	require.NoError(t, l.Withdraw("dev|connectivity_report|offline"))
	assert.Empty(t, l.Shown())
}

func TestDBusForget(t *testing.T) {
	d := NewDBus(nil, "pairlink", log.New(io.Discard, "", 0))
	d.ids["a"] = 4
	d.ids["b"] = 5

	d.forget(4)
	assert.Equal(t, map[string]uint32{"b": 5}, d.ids)
}

// fakeServer answers Notify with increasing ids. With hang set it blocks
// until the call's context is done.
type fakeServer struct {
	dbus.BusObject

	mu      sync.Mutex
	hang    bool
	nextID  uint32
	methods []string
}

func (f *fakeServer) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	f.mu.Lock()
	f.methods = append(f.methods, method)
	hang := f.hang
	f.nextID++
	id := f.nextID
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return &dbus.Call{Method: method, Err: ctx.Err()}
	}
	call := &dbus.Call{Method: method}
	if method == serviceName+".Notify" {
		call.Body = []interface{}{id}
	}
	return call
}

func newFakeDBus(hang bool) (*DBus, *fakeServer) {
	f := &fakeServer{hang: hang}
	d := NewDBus(nil, "pairlink", log.New(io.Discard, "", 0))
	d.obj = f
	return d, f
}

func TestDBusShowAndWithdraw(t *testing.T) {
	d, f := newFakeDBus(false)
	require.NoError(t, d.Show("a", Notification{Title: "a"}))
	assert.Equal(t, map[string]uint32{"a": 1}, d.ids)

	require.NoError(t, d.Withdraw("a"))
	require.NoError(t, d.Withdraw("a"))
	assert.Empty(t, d.ids)
	assert.Equal(t, []string{serviceName + ".Notify", serviceName + ".CloseNotification"}, f.methods)
}

func TestDBusSlowServerTimesOut(t *testing.T) {
	saved := callTimeout
	callTimeout = 50 * time.Millisecond
	t.Cleanup(func() { callTimeout = saved })

	d, _ := newFakeDBus(true)
	d.ids["b"] = 5
	done := make(chan error, 1)
	go func() { done <- d.Show("a", Notification{Title: "a"}) }()

	// the lock is free while the call is pending
	forgotten := make(chan struct{})
	go func() {
		d.forget(5)
		close(forgotten)
	}()
	select {
	case <-forgotten:
	case <-time.After(time.Second):
		t.Fatal("forget blocked by a pending call")
	}

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("Show did not time out")
	}
	assert.Empty(t, d.ids)
}
