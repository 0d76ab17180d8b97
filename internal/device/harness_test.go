package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"go.pairlink.org/internal/capability"
	"go.pairlink.org/internal/dbutil"
	"go.pairlink.org/internal/metric"
	"go.pairlink.org/internal/notify"
	"go.pairlink.org/internal/packet"
	"go.pairlink.org/internal/settings"
	"go.pairlink.org/internal/transfer"
	"go.pairlink.org/internal/transport"
	"go.pairlink.org/internal/workerpool"
)

const typePing = "kdeconnect.ping"

var discard = log.New(io.Discard, "", 0)

// recorder is a plugin that records what its host calls.
type recorder struct {
	host capability.Host

	mu       sync.Mutex
	events   []string
	packets  []*packet.Packet
	failures []error
	saved    []string
}

func (r *recorder) record(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, v...))
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Packets() []*packet.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*packet.Packet(nil), r.packets...)
}

func (r *recorder) Failures() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.failures...)
}

func (r *recorder) Saved() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.saved...)
}

func (r *recorder) Enable() {
	r.record("enable")
	r.host.Actions().Add("send", func(interface{}) {
		r.host.QueuePacket(packet.New(typePing).Set("message", "hello").MustFinish())
	})
	r.host.SetMenuItem(capability.MenuItem{Action: "device.ping.send", Label: "Send Ping"})
}

func (r *recorder) Disable() {
	r.record("disable")
}

func (r *recorder) UpdateState(s capability.State) {
	r.record("state %s", s)
	r.host.Actions().Toggle(s.Active())
}

func (r *recorder) HandlePacket(p *packet.Packet) {
	r.mu.Lock()
	r.packets = append(r.packets, p)
	r.mu.Unlock()
	if pl, ok := p.Payload(); ok {
		dest := p.Body().StringWithDefault("dest", "")
		r.host.Download(pl, dest, func(path string, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			if err != nil {
				r.failures = append(r.failures, err)
				return
			}
			r.saved = append(r.saved, path)
		})
	}
}

func (r *recorder) DeliveryFailed(p *packet.Packet, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

type harness struct {
	t        *testing.T
	db       *bolt.DB
	cfg      Config
	notifier *notify.Logger
	metrics  *metric.Metrics

	mu        sync.Mutex
	recorders []*recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "data.db"), 0600, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool, err := workerpool.NewPool(2, workerpool.RetryDelay(time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(pool.StopAndWait)

	h := &harness{t: t, db: db, notifier: notify.NewLogger(discard), metrics: metric.New()}
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(capability.Descriptor{
		ID:       "ping",
		Name:     "Ping",
		Incoming: []string{typePing},
		Outgoing: []string{typePing},
		Schemas: map[string]string{
			typePing: `{"type": "object", "properties": {"message": {"type": "string"}}}`,
		},
	}, func(host capability.Host) capability.Plugin {
		r := &recorder{host: host}
		h.mu.Lock()
		h.recorders = append(h.recorders, r)
		h.mu.Unlock()
		return r
	}))
	table, err := reg.Compile()
	require.NoError(t, err)

	h.cfg = Config{
		Table:       table,
		DB:          db,
		Settings:    settings.NewStore(db),
		Notifier:    h.notifier,
		Transfers:   transfer.NewExecutor(pool, discard, discard),
		Metrics:     h.metrics,
		LoggerInfo:  discard,
		LoggerDebug: discard,
	}
	return h
}

func (h *harness) open(id string) *Session {
	h.t.Helper()
	s, err := NewSession(id, h.cfg)
	require.NoError(h.t, err)
	h.t.Cleanup(s.Close)
	return s
}

func (h *harness) openPaired(id string) *Session {
	h.t.Helper()
	require.NoError(h.t, dbutil.UpsertSaveable(h.db, Record{ID: id, Name: "Phone", Paired: true}))
	return h.open(id)
}

func (h *harness) recorder(i int) *recorder {
	h.t.Helper()
	h.mu.Lock()
	defer h.mu.Unlock()
	require.Greater(h.t, len(h.recorders), i)
	return h.recorders[i]
}

func (h *harness) recorderCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.recorders)
}

func remoteIdentity(id string) Identity {
	return Identity{
		ID:              id,
		Name:            "Phone",
		Type:            "phone",
		ProtocolVersion: ProtocolVersion,
		Incoming:        []string{typePing},
		Outgoing:        []string{typePing},
	}
}

// fakeChannel is the local end of a channel whose remote end is the test.
type fakeChannel struct {
	in      chan *packet.Packet
	out     chan *packet.Packet
	payload []byte

	mu       sync.Mutex
	writeErr error
	once     sync.Once
	closed   chan struct{}
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		in:     make(chan *packet.Packet, 16),
		out:    make(chan *packet.Packet, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeChannel) ReadPacket() (*packet.Packet, error) {
	select {
	case p := <-c.in:
		return p, nil
	case <-c.closed:
		return nil, transport.ErrClosed
	}
}

func (c *fakeChannel) WritePacket(ctx context.Context, p *packet.Packet) error {
	c.mu.Lock()
	err := c.writeErr
	c.mu.Unlock()
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return transport.ErrClosed
	case c.out <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeChannel) OpenPayload(ctx context.Context, pl packet.Payload) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(c.payload)), nil
}

func (c *fakeChannel) RemoteAddr() string {
	return "fake"
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeChannel) failWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

func expectSent(t *testing.T, c *fakeChannel) *packet.Packet {
	t.Helper()
	select {
	case p := <-c.out:
		return p
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no packet sent")
		return nil
	}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}
