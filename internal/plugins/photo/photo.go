// Package photo receives pictures taken on the remote device and asks it to
// take new ones.
package photo

import (
	"fmt"
	"path/filepath"

	"go.pairlink.org/internal/capability"
	"go.pairlink.org/internal/errorbehavior"
	"go.pairlink.org/internal/notify"
	"go.pairlink.org/internal/packet"
)

const (
	ID = "photo"

	TypePhoto   = "kdeconnect.photo"
	TypeRequest = "kdeconnect.photo.request"

	menuAction = "device.photo.request"
)

var Descriptor = capability.Descriptor{
	ID:       ID,
	Name:     "Photo",
	Incoming: []string{TypePhoto, TypeRequest},
	Outgoing: []string{TypePhoto, TypeRequest},
	Schemas: map[string]string{
		TypePhoto: `{"type": "object", "properties": {"filename": {"type": "string"}}}`,
	},
}

// Register adds the capability to r. Photos are saved in dir.
func Register(r *capability.Registry, dir string) error {
	return r.Register(Descriptor, func(h capability.Host) capability.Plugin {
		return New(h, dir)
	})
}

type Plugin struct {
	host capability.Host
	dir  string
}

func New(h capability.Host, dir string) *Plugin {
	return &Plugin{host: h, dir: dir}
}

func (p *Plugin) Enable() {
	p.host.Actions().Add("request", func(interface{}) {
		p.host.QueuePacket(packet.New(TypeRequest).MustFinish())
	})
	p.host.SetMenuItem(capability.MenuItem{
		Action: menuAction,
		Label:  "Take Photo",
		Icon:   "camera-photo-symbolic",
	})
}

func (p *Plugin) Disable() {
	p.host.RemoveMenuItem(menuAction)
}

func (p *Plugin) UpdateState(s capability.State) {
	p.host.Actions().Toggle(s.Active())
}

func (p *Plugin) HandlePacket(pkt *packet.Packet) {
	switch pkt.Type() {
	case TypePhoto:
		p.handlePhoto(pkt)
	case TypeRequest:
		// taking pictures on this device is not supported
		p.host.LoggerDebug().Printf("ignoring %s", pkt)
	default:
		panic("photo: unexpected packet type " + pkt.Type())
	}
}

func (p *Plugin) handlePhoto(pkt *packet.Packet) {
	payload, ok := pkt.Payload()
	if !ok {
		p.host.LoggerInfo().Printf("warning: %s: missing payload", pkt)
		return
	}
	filename, err := pkt.GetString("filename")
	if err != nil {
		p.host.LoggerInfo().Printf("warning: %s: filename: %s", pkt, err)
		return
	}
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		p.host.LoggerInfo().Printf("warning: %s: invalid filename %q", pkt, filename)
		return
	}

	p.host.Download(payload, filepath.Join(p.dir, name), func(path string, err error) {
		if err == nil {
			p.host.LoggerDebug().Printf("saved %s", path)
			return
		}
		if errorbehavior.IsCancelled(err) {
			return
		}
		p.host.LoggerInfo().Printf("warning: %s", err)
		p.host.ShowNotification("photo", notify.Notification{
			Title: "Transfer Failed",
			Body:  fmt.Sprintf("Failed to receive “%s” from %s", name, p.host.DeviceName()),
			Icon:  "dialog-error-symbolic",
		})
	})
}
