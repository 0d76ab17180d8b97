// Package capability defines the contract between a device session and the
// plugins that implement one protocol capability each, and the registry that
// routes packet types to them.
package capability

import (
	"context"
	"log"

	"go.pairlink.org/internal/action"
	"go.pairlink.org/internal/notify"
	"go.pairlink.org/internal/packet"
	"go.pairlink.org/internal/settings"
)

// State combines the two independent flags of a device session.
type State struct {
	Connected bool
	Paired    bool
}

// Active reports whether capabilities may act: connected and paired.
func (s State) Active() bool {
	return s.Connected && s.Paired
}

func (s State) String() string {
	switch {
	case s.Connected && s.Paired:
		return "connected-paired"
	case s.Connected:
		return "connected-unpaired"
	case s.Paired:
		return "paired-disconnected"
	default:
		return "disconnected"
	}
}

// Plugin is one capability instance bound to one device session. Every
// method is called on the session sequence, never concurrently.
type Plugin interface {
	// Enable is called once, after construction.
	Enable()
	// Disable is called once, when the session or the capability goes away.
	// Watches and pending work must be released before it returns.
	Disable()
	// UpdateState is called after Enable with the current state and then on
	// every transition, before any packet received in the new state.
	UpdateState(s State)
	// HandlePacket receives packets of the descriptor's incoming types only.
	HandlePacket(p *packet.Packet)
}

// DeliveryFailureHandler is implemented by plugins that want to know when a
// packet they queued could not be written.
type DeliveryFailureHandler interface {
	DeliveryFailed(p *packet.Packet, err error)
}

// MenuItem is an entry of a device's menu that activates a device action.
type MenuItem struct {
	Action string
	Label  string
	Icon   string
}

// Host is what a session offers to each of its plugins.
type Host interface {
	DeviceID() string
	DeviceName() string
	State() State

	// QueuePacket never blocks. Failures are reported to DeliveryFailed.
	QueuePacket(p *packet.Packet)
	// ShowNotification replaces any notification shown under the same key.
	ShowNotification(key string, n notify.Notification)
	HideNotification(key string)

	Settings() *settings.Settings
	Actions() *action.Group
	SetMenuItem(item MenuItem)
	RemoveMenuItem(action string)

	// Post runs f on the session sequence. Posts made after the plugin was
	// disabled are dropped.
	Post(f func())
	// Context is cancelled before Disable is called.
	Context() context.Context
	// Download saves a payload of the packet being handled. done runs on the
	// session sequence unless the plugin was disabled first.
	Download(payload packet.Payload, dest string, done func(path string, err error))

	LoggerInfo() *log.Logger
	LoggerDebug() *log.Logger
}

// Factory creates the plugin of a capability for one session.
type Factory func(h Host) Plugin

// Descriptor is published by a capability at registration.
type Descriptor struct {
	// ID is the short name used for settings and notifications, for example
	// "connectivity_report".
	ID       string
	Name     string
	Incoming []string
	Outgoing []string
	// Schemas maps incoming packet types to JSON schemas of their body.
	Schemas map[string]string
	// Settings lists the per-device settings with their defaults.
	Settings settings.Schema
}
