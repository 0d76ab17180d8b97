// Package device implements the session with one remote device: connection
// and pairing state, routing of inbound packets to capability plugins on a
// single sequence, and the FIFO of outbound packets.
package device

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"go.pairlink.org/internal/action"
	"go.pairlink.org/internal/capability"
	"go.pairlink.org/internal/dbutil"
	"go.pairlink.org/internal/metric"
	"go.pairlink.org/internal/notify"
	"go.pairlink.org/internal/packet"
	"go.pairlink.org/internal/settings"
	"go.pairlink.org/internal/transfer"
	"go.pairlink.org/internal/transport"
)

var (
	ErrNotConnected = errors.New("device not connected")
	ErrNotPaired    = errors.New("device not paired")
	ErrClosed       = errors.New("session closed")
)

const pairTimeout = 30 * time.Second

// Config holds what sessions share.
type Config struct {
	Table     *capability.Table
	DB        *bolt.DB
	Settings  *settings.Store
	Notifier  notify.Notifier
	Transfers *transfer.Executor
	// Metrics may be nil.
	Metrics     *metric.Metrics
	LoggerInfo  *log.Logger
	LoggerDebug *log.Logger
}

type menuEntry struct {
	item  capability.MenuItem
	owner *pluginSlot
}

type Session struct {
	id          string
	table       *capability.Table
	db          *bolt.DB
	store       *settings.Store
	notifier    notify.Notifier
	transfers   *transfer.Executor
	metrics     *metric.Metrics
	loggerInfo  *log.Logger
	loggerDebug *log.Logger
	enabled     *settings.Settings
	seq         *sequence

	// guarded by mu, written on the sequence only
	mu            sync.Mutex
	name          string
	state         capability.State
	link          *link
	pairRequested bool
	menu          []menuEntry

	// owned by the sequence
	record       Record
	remote       *Identity
	plugins      []*pluginSlot
	unwatches    []func()
	pairOutgoing bool
	pairTimer    *time.Timer
	pairGen      int
	closed       bool
}

// NewSession creates the session of a device and its plugins. The session
// starts disconnected; paired if the device was paired before.
func NewSession(id string, cfg Config) (*Session, error) {
	rec, _, err := loadRecord(cfg.DB, id)
	if err != nil {
		return nil, err
	}
	if rec.Name == "" {
		rec.Name = id
	}
	prefix := "[device " + id + "] "
	s := &Session{
		id:          id,
		table:       cfg.Table,
		db:          cfg.DB,
		store:       cfg.Settings,
		notifier:    cfg.Notifier,
		transfers:   cfg.Transfers,
		metrics:     cfg.Metrics,
		loggerInfo:  subLogger(cfg.LoggerInfo, prefix),
		loggerDebug: subLogger(cfg.LoggerDebug, prefix),
		seq:         newSequence(),
		name:        rec.Name,
		state:       capability.State{Paired: rec.Paired},
		record:      rec,
		plugins:     make([]*pluginSlot, len(cfg.Table.Entries())),
	}
	schema := make(settings.Schema)
	for _, e := range cfg.Table.Entries() {
		schema[e.Descriptor.ID] = true
	}
	s.enabled = cfg.Settings.Scope(id+"/capabilities", schema)
	s.metrics.SessionState("", s.state.String())
	s.seq.invoke(s.start)
	return s, nil
}

func subLogger(l *log.Logger, prefix string) *log.Logger {
	return log.New(l.Writer(), l.Prefix()+prefix, l.Flags())
}

func (s *Session) start() {
	for _, e := range s.table.Entries() {
		s.unwatches = append(s.unwatches, s.enabled.Watch(e.Descriptor.ID, func(bool) {
			s.seq.post(s.reconcile)
		}))
	}
	s.reconcile()
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) State() capability.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// PairRequested reports whether the remote device asked to pair and waits
// for Pair.
func (s *Session) PairRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairRequested
}

// Invoke runs f on the session sequence and waits for it. It must not be
// called from the sequence.
func (s *Session) Invoke(f func()) error {
	if !s.seq.invoke(f) {
		return ErrClosed
	}
	return nil
}

// SetCapabilityEnabled enables or disables a capability for this device.
func (s *Session) SetCapabilityEnabled(id string, enabled bool) error {
	if !s.hasCapability(id) {
		return fmt.Errorf("unknown capability %q", id)
	}
	return s.enabled.SetBool(id, enabled)
}

func (s *Session) CapabilityEnabled(id string) bool {
	if !s.hasCapability(id) {
		return false
	}
	return s.enabled.Bool(id)
}

func (s *Session) hasCapability(id string) bool {
	for _, e := range s.table.Entries() {
		if e.Descriptor.ID == id {
			return true
		}
	}
	return false
}

// reconcile creates and destroys plugins so that exactly the enabled
// capabilities the remote device supports have one.
func (s *Session) reconcile() {
	if s.closed {
		return
	}
	entries := s.table.Entries()
	want := make([]bool, len(entries))
	for i, e := range entries {
		want[i] = s.enabled.Bool(e.Descriptor.ID) && s.remoteSupports(e.Descriptor)
	}
	for i := len(entries) - 1; i >= 0; i-- {
		if !want[i] && s.plugins[i] != nil {
			s.disablePlugin(i)
		}
	}
	for i := range entries {
		if want[i] && s.plugins[i] == nil {
			s.enablePlugin(i)
		}
	}
}

func (s *Session) remoteSupports(d capability.Descriptor) bool {
	if s.remote == nil || (len(d.Incoming) == 0 && len(d.Outgoing) == 0) {
		return true
	}
	for _, typ := range d.Incoming {
		for _, t := range s.remote.Outgoing {
			if t == typ {
				return true
			}
		}
	}
	for _, typ := range d.Outgoing {
		for _, t := range s.remote.Incoming {
			if t == typ {
				return true
			}
		}
	}
	return false
}

func (s *Session) enablePlugin(i int) {
	e := s.table.Entries()[i]
	slot := newPluginSlot(s, e.Descriptor)
	slot.plugin = e.Factory(slot)
	s.plugins[i] = slot
	s.loggerDebug.Printf("enabling %s", e.Descriptor.ID)
	slot.plugin.Enable()
	slot.plugin.UpdateState(s.State())
}

func (s *Session) disablePlugin(i int) {
	slot := s.plugins[i]
	s.plugins[i] = nil
	s.loggerDebug.Printf("disabling %s", slot.desc.ID)
	slot.cancel()
	slot.plugin.Disable()
	s.mu.Lock()
	menu := s.menu[:0]
	for _, m := range s.menu {
		if m.owner != slot {
			menu = append(menu, m)
		}
	}
	s.menu = menu
	s.mu.Unlock()
}

// transition broadcasts a new state to every plugin in registration order.
func (s *Session) transition(state capability.State) {
	s.mu.Lock()
	old := s.state
	if old == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	s.metrics.SessionState(old.String(), state.String())
	s.loggerInfo.Printf("%s -> %s", old, state)
	for _, slot := range s.plugins {
		if slot != nil {
			slot.plugin.UpdateState(state)
		}
	}
}

// Attach makes ch the channel of the session. A channel already attached is
// closed and replaced.
func (s *Session) Attach(ch transport.Channel, remote Identity) error {
	var err error
	if !s.seq.invoke(func() { err = s.attach(ch, remote) }) {
		return ErrClosed
	}
	return err
}

func (s *Session) attach(ch transport.Channel, remote Identity) error {
	if s.closed {
		return ErrClosed
	}
	if remote.ID != s.id {
		return fmt.Errorf("identity %s does not belong to device %s", remote.ID, s.id)
	}
	if s.link != nil {
		s.loggerDebug.Printf("replacing channel %s", s.link.ch.RemoteAddr())
		s.dropLink(s.link)
	}
	l := newLink(ch)
	s.mu.Lock()
	s.link = l
	s.name = remote.Name
	s.mu.Unlock()
	s.remote = &remote

	s.record.Name = remote.Name
	s.record.Type = remote.Type
	s.record.LastSeen = time.Now()
	s.saveRecord()

	go s.writeLoop(l)
	go s.readLoop(l)
	s.loggerInfo.Printf("connected via %s", ch.RemoteAddr())
	s.reconcile()
	s.transition(capability.State{Connected: true, Paired: s.State().Paired})
	return nil
}

// Detach drops the channel as if the transport was lost.
func (s *Session) Detach() {
	s.seq.invoke(func() {
		if s.link != nil {
			s.detach(s.link)
		}
	})
}

func (s *Session) detach(l *link) {
	if s.link != l {
		return
	}
	s.dropLink(l)
	s.cancelPairRequests()
	s.loggerInfo.Printf("disconnected")
	s.transition(capability.State{Connected: false, Paired: s.State().Paired})
}

func (s *Session) dropLink(l *link) {
	s.mu.Lock()
	s.link = nil
	s.mu.Unlock()
	l.cancel()
	l.ch.Close()
	for _, o := range l.drain() {
		s.reportFailure(o, ErrNotConnected)
	}
}

func isMalformed(err error) bool {
	return errors.Is(err, packet.ErrMalformedPacket)
}

// receive dispatches one inbound packet on the sequence.
func (s *Session) receive(l *link, p *packet.Packet) {
	if s.closed || s.link != l {
		return
	}
	switch p.Type() {
	case TypeIdentity:
		s.loggerDebug.Printf("ignoring identity after handshake")
		return
	case TypePair:
		s.handlePair(p)
		return
	}
	if !s.State().Paired {
		s.loggerInfo.Printf("warning: dropping %s from unpaired device", p)
		s.metrics.Dropped(metric.DropUnpaired)
		return
	}
	i, ok := s.table.Lookup(p.Type())
	if !ok {
		s.loggerInfo.Printf("warning: dropping %s: no capability accepts it", p)
		s.metrics.Dropped(metric.DropUnrouted)
		return
	}
	if err := s.table.Validate(p); err != nil {
		s.loggerInfo.Printf("warning: dropping packet: %s", err)
		s.metrics.Dropped(metric.DropInvalid)
		return
	}
	slot := s.plugins[i]
	if slot == nil {
		s.loggerDebug.Printf("dropping %s: capability disabled", p)
		s.metrics.Dropped(metric.DropUnrouted)
		return
	}
	s.metrics.Received(p.Type())
	slot.plugin.HandlePacket(p)
}

// QueuePacket queues a packet of the session itself. It never blocks.
func (s *Session) QueuePacket(p *packet.Packet) {
	s.queue(outgoing{p: p})
}

// queue hands o to the link. Packets of plugins only leave for paired
// devices.
func (s *Session) queue(o outgoing) {
	s.mu.Lock()
	l := s.link
	paired := s.state.Paired
	if l != nil && (paired || o.origin == nil) {
		l.enqueue(o)
	}
	s.mu.Unlock()
	switch {
	case l == nil:
		s.reportFailure(o, ErrNotConnected)
	case !paired && o.origin != nil:
		s.reportFailure(o, ErrNotPaired)
	}
}

// reportFailure delivers a failure to the plugin that queued the packet,
// later, on the sequence.
func (s *Session) reportFailure(o outgoing, err error) {
	s.metrics.DeliveryFailed(o.p.Type())
	s.seq.post(func() {
		slot := o.origin
		if slot == nil || slot.ctx.Err() != nil {
			s.loggerDebug.Printf("%s not delivered: %s", o.p, err)
			return
		}
		if h, ok := slot.plugin.(capability.DeliveryFailureHandler); ok {
			h.DeliveryFailed(o.p, err)
			return
		}
		slot.loggerDebug.Printf("%s not delivered: %s", o.p, err)
	})
}

func (s *Session) saveRecord() {
	if err := dbutil.UpsertSaveable(s.db, s.record); err != nil {
		s.loggerInfo.Printf("failed to save device record: %s", err)
	}
}

func (s *Session) notificationID(capabilityID, key string) string {
	return s.id + "|" + capabilityID + "|" + key
}

func (s *Session) showNotification(capabilityID, key string, n notify.Notification) {
	if err := s.notifier.Show(s.notificationID(capabilityID, key), n); err != nil {
		s.loggerInfo.Printf("failed to show notification %s: %s", key, err)
	}
}

func (s *Session) hideNotification(capabilityID, key string) {
	if err := s.notifier.Withdraw(s.notificationID(capabilityID, key)); err != nil {
		s.loggerInfo.Printf("failed to withdraw notification %s: %s", key, err)
	}
}

// Actions lists the actions of every plugin.
func (s *Session) Actions() []action.Action {
	var list []action.Action
	s.seq.invoke(func() {
		for _, slot := range s.plugins {
			if slot != nil {
				list = append(list, slot.actions.List()...)
			}
		}
	})
	return list
}

// ActivateAction activates an action by its qualified name, for example
// "photo.request" or "device.photo.request".
func (s *Session) ActivateAction(name string, param interface{}) error {
	name = strings.TrimPrefix(name, "device.")
	scope, short, ok := strings.Cut(name, ".")
	if !ok {
		return fmt.Errorf("%s: %w", name, action.ErrNotFound)
	}
	var err error
	if !s.seq.invoke(func() {
		for _, slot := range s.plugins {
			if slot != nil && slot.desc.ID == scope {
				err = slot.actions.Activate(short, param)
				return
			}
		}
		err = fmt.Errorf("%s: %w", name, action.ErrNotFound)
	}) {
		return ErrClosed
	}
	return err
}

// Menu returns the menu items published by the plugins.
func (s *Session) Menu() []capability.MenuItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]capability.MenuItem, 0, len(s.menu))
	for _, m := range s.menu {
		items = append(items, m.item)
	}
	return items
}

func (s *Session) setMenuItem(owner *pluginSlot, item capability.MenuItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.menu {
		if m.item.Action == item.Action {
			s.menu[i] = menuEntry{item: item, owner: owner}
			return
		}
	}
	s.menu = append(s.menu, menuEntry{item: item, owner: owner})
}

func (s *Session) removeMenuItem(actionName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, m := range s.menu {
		if m.item.Action == actionName {
			s.menu = append(s.menu[:i], s.menu[i+1:]...)
			return
		}
	}
}

// Close disconnects and destroys the plugins in reverse registration
// order. It must not be called from the sequence.
func (s *Session) Close() {
	s.seq.post(func() {
		if s.closed {
			return
		}
		if s.link != nil {
			s.detach(s.link)
		}
		for i := len(s.plugins) - 1; i >= 0; i-- {
			if s.plugins[i] != nil {
				s.disablePlugin(i)
			}
		}
		for _, unwatch := range s.unwatches {
			unwatch()
		}
		s.stopPairTimer()
		s.closed = true
		s.metrics.SessionState(s.State().String(), "")
	})
	s.seq.close()
	<-s.seq.done
}
