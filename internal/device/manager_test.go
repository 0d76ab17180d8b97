package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pairlink.org/internal/dbutil"
	"go.pairlink.org/internal/packet"
	"go.pairlink.org/internal/transport"
)

func newManager(t *testing.T, h *harness) *Manager {
	t.Helper()
	m := NewManager(Identity{ID: NewID(), Name: "Desktop", Type: "desktop", TCPPort: 1716}, h.cfg)
	t.Cleanup(m.Close)
	return m
}

// remoteHandshake plays the remote side of a handshake on ch and returns
// the identity it received.
func remoteHandshake(ch *transport.StreamChannel, remote Identity) <-chan *packet.Packet {
	got := make(chan *packet.Packet, 1)
	go func() {
		defer close(got)
		if err := ch.WritePacket(context.Background(), remote.Packet()); err != nil {
			return
		}
		p, err := ch.ReadPacket()
		if err != nil {
			return
		}
		got <- p
	}()
	return got
}

func TestManagerAnnouncesCapabilities(t *testing.T) {
	h := newHarness(t)
	m := newManager(t, h)

	local := m.Local()
	assert.Equal(t, []string{typePing}, local.Incoming)
	assert.Equal(t, []string{typePing}, local.Outgoing)
	assert.Equal(t, int64(ProtocolVersion), local.ProtocolVersion)
}

func TestManagerConnect(t *testing.T) {
	h := newHarness(t)
	m := newManager(t, h)
	local, remote := transport.Pipe()
	defer remote.Close()

	remoteID := NewID()
	got := remoteHandshake(remote, remoteIdentity(remoteID))
	s, err := m.Connect(context.Background(), local)
	require.NoError(t, err)

	p := <-got
	require.NotNil(t, p)
	identity, err := ParseIdentity(p)
	require.NoError(t, err)
	assert.Equal(t, m.Local().ID, identity.ID)
	assert.Equal(t, "Desktop", identity.Name)
	assert.Equal(t, int64(1716), identity.TCPPort)

	assert.Equal(t, remoteID, s.ID())
	assert.Equal(t, "Phone", s.Name())
	assert.True(t, s.State().Connected)
	same, ok := m.Session(remoteID)
	require.True(t, ok)
	assert.Same(t, s, same)
	assert.Len(t, m.Sessions(), 1)

	remote.Close()
	eventually(t, func() bool { return !s.State().Connected }, "not detached")
}

func TestManagerConnectRejectsSelf(t *testing.T) {
	h := newHarness(t)
	m := newManager(t, h)
	local, remote := transport.Pipe()
	defer remote.Close()

	self := remoteIdentity(m.Local().ID)
	remoteHandshake(remote, self)
	_, err := m.Connect(context.Background(), local)
	assert.Error(t, err)
	assert.Empty(t, m.Sessions())
}

func TestManagerConnectRejectsBadIdentity(t *testing.T) {
	h := newHarness(t)
	m := newManager(t, h)
	local, remote := transport.Pipe()
	defer remote.Close()

	go func() {
		remote.WritePacket(context.Background(), packet.New(TypeIdentity).Set("deviceId", "short").MustFinish())
		remote.ReadPacket()
	}()
	_, err := m.Connect(context.Background(), local)
	assert.ErrorIs(t, err, packet.ErrMalformedPacket)
}

func TestManagerConnectCancelled(t *testing.T) {
	h := newHarness(t)
	m := newManager(t, h)
	local, remote := transport.Pipe()
	defer remote.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.Connect(ctx, local)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestManagerConnectSilentPeerTimesOut(t *testing.T) {
	saved := identityTimeout
	identityTimeout = 50 * time.Millisecond
	t.Cleanup(func() { identityTimeout = saved })

	h := newHarness(t)
	m := newManager(t, h)
	ch := newFakeChannel()

	_, err := m.Connect(context.Background(), ch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, ch.isClosed())
	assert.Empty(t, m.Sessions())
}

func TestManagerRestore(t *testing.T) {
	h := newHarness(t)
	paired, unpaired := NewID(), NewID()
	require.NoError(t, dbutil.UpsertSaveable(h.db, Record{ID: paired, Name: "Phone", Paired: true}))
	require.NoError(t, dbutil.UpsertSaveable(h.db, Record{ID: unpaired, Name: "Tablet"}))

	m := newManager(t, h)
	require.NoError(t, m.Restore())
	sessions := m.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, paired, sessions[0].ID())
	assert.Equal(t, "Phone", sessions[0].Name())
	assert.True(t, sessions[0].State().Paired)

	m.Close()
	_, err := m.Open(paired)
	assert.ErrorIs(t, err, ErrClosed)
}
