// Package connectivityreport exchanges the mobile network signal of the
// local modems and the remote device, and alerts when the remote device
// loses service.
package connectivityreport

import (
	"fmt"
	"log"
	"strings"

	"go.pairlink.org/internal/capability"
	"go.pairlink.org/internal/notify"
	"go.pairlink.org/internal/packet"
	"go.pairlink.org/internal/telephony"
)

const (
	ID = "connectivity_report"

	TypeReport  = "kdeconnect.connectivity_report"
	TypeRequest = "kdeconnect.connectivity_report.request"

	SettingShareState          = "share-state"
	SettingOfflineNotification = "offline-notification"

	notificationOffline = "offline"
)

const reportSchema = `{
	"type": "object",
	"properties": {
		"signalStrengths": {"type": "object"}
	}
}`

var Descriptor = capability.Descriptor{
	ID:       ID,
	Name:     "Connectivity Report",
	Incoming: []string{TypeReport, TypeRequest},
	Outgoing: []string{TypeReport, TypeRequest},
	Schemas:  map[string]string{TypeReport: reportSchema},
	Settings: map[string]bool{
		SettingShareState:          true,
		SettingOfflineNotification: false,
	},
}

// Register adds the capability to r. Every session shares monitor.
func Register(r *capability.Registry, monitor telephony.Monitor) error {
	return r.Register(Descriptor, func(h capability.Host) capability.Plugin {
		return New(h, monitor)
	})
}

type Plugin struct {
	host    capability.Host
	monitor telephony.Monitor
	unwatch func()
	average float64
}

func New(h capability.Host, monitor telephony.Monitor) *Plugin {
	return &Plugin{host: h, monitor: monitor}
}

func (p *Plugin) Enable() {
	p.host.Actions().AddStateful("state", map[string]interface{}{}, nil)
}

func (p *Plugin) Disable() {
	p.watchTelephony(false)
}

func (p *Plugin) UpdateState(s capability.State) {
	if s.Active() {
		p.watchTelephony(true)
		p.sendState()
		p.host.QueuePacket(packet.New(TypeRequest).MustFinish())
		return
	}
	p.watchTelephony(false)
	p.host.Actions().Toggle(false)
}

func (p *Plugin) HandlePacket(pkt *packet.Packet) {
	switch pkt.Type() {
	case TypeReport:
		p.handleReport(pkt)
	case TypeRequest:
		p.sendState()
	default:
		panic("connectivityreport: unexpected packet type " + pkt.Type())
	}
}

// Average is the mean strength of the in-service signals of the last
// report.
func (p *Plugin) Average() float64 {
	return p.average
}

func (p *Plugin) watchTelephony(watch bool) {
	if (p.unwatch != nil) == watch {
		return
	}
	if watch {
		p.unwatch = p.monitor.Watch(func() {
			p.host.Post(p.sendState)
		})
		return
	}
	p.unwatch()
	p.unwatch = nil
}

func (p *Plugin) sendState() {
	if !p.host.Settings().Bool(SettingShareState) {
		return
	}
	p.host.QueuePacket(packet.New(TypeReport).
		Set("signalStrengths", p.monitor.SignalStrengths()).
		MustFinish())
}

func (p *Plugin) handleReport(pkt *packet.Packet) {
	signals, err := pkt.GetObject("signalStrengths")
	if err != nil {
		p.host.LoggerInfo().Printf("warning: %s: %s", pkt, err)
		return
	}
	status, average := summarize(signals, p.host.LoggerInfo())
	p.average = average

	actions := p.host.Actions()
	actions.SetState("state", status)
	actions.SetEnabled("state", len(status) > 0)

	if average > 0 {
		p.host.HideNotification(notificationOffline)
	} else if p.host.Settings().Bool(SettingOfflineNotification) {
		p.host.ShowNotification(notificationOffline, notify.Notification{
			Title: fmt.Sprintf("%s: No Service", p.host.DeviceName()),
			Body:  "No mobile network service.",
			Icon:  "network-cellular-offline-symbolic",
		})
	}
}

type signal struct {
	networkType    string
	signalStrength int64
}

func parseEntry(signals *packet.Object, id string) (signal, error) {
	sig := signal{networkType: "Unknown", signalStrength: -1}
	raw, err := signals.GetObject(id)
	if err != nil {
		return sig, err
	}
	if raw.Has("networkType") {
		v, err := raw.GetString("networkType")
		if err != nil {
			return sig, err
		}
		sig.networkType = v
	}
	if raw.Has("signalStrength") {
		v, err := raw.GetInt("signalStrength")
		if err != nil {
			return sig, err
		}
		sig.signalStrength = v
	}
	return sig, nil
}

// summarize builds the state of the status action from the signal entries
// of a report. Entries with a wrong type are skipped; offline entries
// (negative strength) are listed but not averaged.
func summarize(signals *packet.Object, logger *log.Logger) (map[string]interface{}, float64) {
	entries := make(map[string]interface{})
	var (
		sum   float64
		nodes float64
		parts []string
	)
	for _, id := range signals.Keys() {
		sig, err := parseEntry(signals, id)
		if err != nil {
			logger.Printf("warning: skipping signal %q: %s", id, err)
			continue
		}
		entries[id] = map[string]interface{}{
			"network-type":    sig.networkType,
			"signal-strength": sig.signalStrength,
			"icon-name":       NetworkTypeIcon(sig.networkType),
		}
		if sig.signalStrength >= 0 {
			sum += float64(sig.signalStrength)
			nodes++
			parts = append(parts, fmt.Sprintf("%s %d/4", sig.networkType, sig.signalStrength))
		}
	}

	var average float64
	if sum > 0 {
		average = sum / nodes
	}
	body := "No Service"
	if len(parts) > 0 {
		body = strings.Join(parts, ", ")
	}
	return map[string]interface{}{
		"signal-strengths": entries,
		"icon-name":        SignalStrengthIcon(average),
		"title":            "Signal Strength",
		"body":             body,
	}, average
}

// NetworkTypeIcon returns the themed icon of a radio access technology.
func NetworkTypeIcon(networkType string) string {
	switch networkType {
	case "GSM", "CDMA", "iDEN":
		return "network-cellular-2g-symbolic"
	case "UMTS", "CDMA2000":
		return "network-cellular-3g-symbolic"
	case "EDGE":
		return "network-cellular-edge-symbolic"
	case "GPRS":
		return "network-cellular-gprs-symbolic"
	case "HSPA":
		return "network-cellular-hspa-symbolic"
	case "LTE":
		return "network-cellular-4g-symbolic"
	case "5G":
		return "network-cellular-5g-symbolic"
	}
	return "network-cellular-symbolic"
}

// SignalStrengthIcon returns the themed icon of a strength from 0 to 4.
// Negative strengths mean offline.
func SignalStrengthIcon(strength float64) string {
	switch {
	case strength >= 4:
		return "network-cellular-signal-excellent-symbolic"
	case strength >= 3:
		return "network-cellular-signal-good-symbolic"
	case strength >= 2:
		return "network-cellular-signal-ok-symbolic"
	case strength >= 1:
		return "network-cellular-signal-weak-symbolic"
	case strength >= 0:
		return "network-cellular-signal-none-symbolic"
	}
	return "network-cellular-offline-symbolic"
}
