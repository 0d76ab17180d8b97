// Package capabilitytest provides a capability.Host that records what a
// plugin does, for plugin tests.
package capabilitytest

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"go.pairlink.org/internal/action"
	"go.pairlink.org/internal/capability"
	"go.pairlink.org/internal/notify"
	"go.pairlink.org/internal/packet"
	"go.pairlink.org/internal/settings"
)

// Download is a transfer requested by a plugin. Tests finish it by calling
// Done, which the host runs like the session would: posted.
type Download struct {
	Payload packet.Payload
	Dest    string
	Done    func(path string, err error)
}

type Host struct {
	id   string
	name string

	settings *settings.Settings
	actions  *action.Group
	ctx      context.Context
	cancel   context.CancelFunc
	info     *log.Logger
	debug    *log.Logger

	mu            sync.Mutex
	state         capability.State
	queued        []*packet.Packet
	notifications map[string]notify.Notification
	menu          map[string]capability.MenuItem
	downloads     []Download
	posted        []func()
}

var _ capability.Host = (*Host)(nil)

// NewHost returns a host for the capability d of the device "phone". The
// settings live in a temporary database.
func NewHost(t testing.TB, d capability.Descriptor) *Host {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "data.db"), 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := d.Settings
	if schema == nil {
		schema = settings.Schema{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &Host{
		id:            "phone",
		name:          "Phone",
		settings:      settings.NewStore(db).Scope("phone/"+d.ID, schema),
		actions:       action.NewGroup(d.ID),
		ctx:           ctx,
		cancel:        cancel,
		info:          log.New(io.Discard, "", 0),
		debug:         log.New(io.Discard, "", 0),
		notifications: make(map[string]notify.Notification),
		menu:          make(map[string]capability.MenuItem),
	}
}

func (h *Host) DeviceID() string {
	return h.id
}

func (h *Host) DeviceName() string {
	return h.name
}

func (h *Host) State() capability.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// SetState changes what State returns. The test calls UpdateState itself.
func (h *Host) SetState(s capability.State) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

func (h *Host) QueuePacket(p *packet.Packet) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queued = append(h.queued, p)
}

// TakeQueued returns and forgets the packets queued so far.
func (h *Host) TakeQueued() []*packet.Packet {
	h.mu.Lock()
	defer h.mu.Unlock()
	q := h.queued
	h.queued = nil
	return q
}

func (h *Host) ShowNotification(key string, n notify.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notifications[key] = n
}

func (h *Host) HideNotification(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.notifications, key)
}

// Notifications returns the notifications shown, by key.
func (h *Host) Notifications() map[string]notify.Notification {
	h.mu.Lock()
	defer h.mu.Unlock()
	shown := make(map[string]notify.Notification, len(h.notifications))
	for k, n := range h.notifications {
		shown[k] = n
	}
	return shown
}

func (h *Host) Settings() *settings.Settings {
	return h.settings
}

func (h *Host) Actions() *action.Group {
	return h.actions
}

func (h *Host) SetMenuItem(item capability.MenuItem) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.menu[item.Action] = item
}

func (h *Host) RemoveMenuItem(actionName string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.menu, actionName)
}

func (h *Host) Menu() map[string]capability.MenuItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	menu := make(map[string]capability.MenuItem, len(h.menu))
	for k, v := range h.menu {
		menu[k] = v
	}
	return menu
}

func (h *Host) Post(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.posted = append(h.posted, f)
}

// RunPosted runs the posted functions in order, skipping them once the
// context is cancelled, and returns how many it ran.
func (h *Host) RunPosted() int {
	n := 0
	for {
		h.mu.Lock()
		if len(h.posted) == 0 {
			h.mu.Unlock()
			return n
		}
		f := h.posted[0]
		h.posted = h.posted[1:]
		h.mu.Unlock()
		if h.ctx.Err() == nil {
			f()
			n++
		}
	}
}

func (h *Host) Context() context.Context {
	return h.ctx
}

// Cancel cancels the context, as the session does before Disable.
func (h *Host) Cancel() {
	h.cancel()
}

func (h *Host) Download(payload packet.Payload, dest string, done func(path string, err error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.downloads = append(h.downloads, Download{
		Payload: payload,
		Dest:    dest,
		Done: func(path string, err error) {
			h.Post(func() { done(path, err) })
		},
	})
}

func (h *Host) Downloads() []Download {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Download(nil), h.downloads...)
}

func (h *Host) LoggerInfo() *log.Logger {
	return h.info
}

func (h *Host) LoggerDebug() *log.Logger {
	return h.debug
}

// SetLoggers replaces the discarding loggers. Call it before the plugin
// runs.
func (h *Host) SetLoggers(info, debug *log.Logger) {
	h.info = info
	h.debug = debug
}
