package device

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"go.pairlink.org/internal/transport"
)

// identityTimeout bounds the identity exchange on a new channel.
var identityTimeout = 10 * time.Second

// Manager owns the sessions of all known devices.
type Manager struct {
	local       Identity
	cfg         Config
	loggerInfo  *log.Logger
	loggerDebug *log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager announces local with the packet types of every registered
// capability.
func NewManager(local Identity, cfg Config) *Manager {
	a := cfg.Table.Announcement()
	local.Incoming = a.Incoming
	local.Outgoing = a.Outgoing
	if local.ProtocolVersion == 0 {
		local.ProtocolVersion = ProtocolVersion
	}
	return &Manager{
		local:       local,
		cfg:         cfg,
		loggerInfo:  cfg.LoggerInfo,
		loggerDebug: cfg.LoggerDebug,
		sessions:    make(map[string]*Session),
	}
}

func (m *Manager) Local() Identity {
	return m.local
}

// Open returns the session of id, creating it if needed.
func (m *Manager) Open(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s, err := NewSession(id, m.cfg)
	if err != nil {
		return nil, err
	}
	m.sessions[id] = s
	return s, nil
}

func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns the open sessions ordered by device id.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list
}

// Restore opens a session for every paired device remembered in the
// database.
func (m *Manager) Restore() error {
	recs, err := Records(m.cfg.DB)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if !rec.Paired {
			continue
		}
		if _, err := m.Open(rec.ID); err != nil {
			return fmt.Errorf("restore device %s failed: %w", rec.ID, err)
		}
		m.loggerDebug.Printf("restored device %s (%s)", rec.ID, rec.Name)
	}
	return nil
}

// Connect exchanges identities on ch and attaches it to the session of the
// remote device. ch is closed on error.
func (m *Manager) Connect(ctx context.Context, ch transport.Channel) (*Session, error) {
	remote, err := m.handshake(ctx, ch)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("handshake with %s failed: %w", ch.RemoteAddr(), err)
	}
	if remote.ID == m.local.ID {
		ch.Close()
		return nil, fmt.Errorf("handshake with %s failed: connected to self", ch.RemoteAddr())
	}
	s, err := m.Open(remote.ID)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if err := s.Attach(ch, remote); err != nil {
		ch.Close()
		return nil, err
	}
	return s, nil
}

func (m *Manager) handshake(ctx context.Context, ch transport.Channel) (Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, identityTimeout)
	defer cancel()
	// a blocked read only returns once the channel is closed
	stop := context.AfterFunc(ctx, func() { ch.Close() })
	defer stop()

	written := make(chan error, 1)
	go func() {
		written <- ch.WritePacket(ctx, m.local.Packet())
	}()
	p, err := ch.ReadPacket()
	if err != nil {
		if ctx.Err() != nil {
			return Identity{}, ctx.Err()
		}
		return Identity{}, err
	}
	if err := <-written; err != nil {
		return Identity{}, err
	}
	return ParseIdentity(p)
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
