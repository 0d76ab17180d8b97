package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"go.pairlink.org/internal/capability"
	"go.pairlink.org/internal/config"
	"go.pairlink.org/internal/dbutil"
	"go.pairlink.org/internal/device"
	container2 "go.pairlink.org/internal/fyneutil/container"
	"go.pairlink.org/internal/fyneutil/form"
	widget2 "go.pairlink.org/internal/fyneutil/widget"
	"go.pairlink.org/internal/plugins/connectivityreport"
	"go.pairlink.org/internal/plugins/photo"
)

const devicesRefreshInterval = 2 * time.Second

func tabDevices(ctx context.Context, w fyne.Window, svc *services) *container.TabItem {
	session := func(v dbutil.Saveable) (*device.Session, bool) {
		return svc.manager.Session(v.(device.Record).ID)
	}
	state := func(v dbutil.Saveable) capability.State {
		if s, ok := session(v); ok {
			return s.State()
		}
		return capability.State{Paired: v.(device.Record).Paired}
	}

	tableAttrs := []widget2.TableAttribute{
		{Name: "Name", Width: 180, Value: func(v dbutil.Saveable) string {
			return v.(device.Record).Name
		}},
		{Name: "Type", Width: 80, Value: func(v dbutil.Saveable) string {
			return v.(device.Record).Type
		}},
		{Name: "Status", Width: 180, Value: func(v dbutil.Saveable) string {
			return deviceStatus(v, session)
		}},
		{Name: "Signal", Width: 160, Value: func(v dbutil.Saveable) string {
			s, ok := session(v)
			if !ok {
				return ""
			}
			return signalSummary(s)
		}},
		{Name: "Last Seen", Width: 150, Value: func(v dbutil.Saveable) string {
			return v.(device.Record).LastSeen.Format("2006-01-02 15:04")
		}},
		{Name: "Actions", Actions: true, Width: 470},
	}
	sessionAction := func(f func(*device.Session) error) func(v dbutil.Saveable, refreshChan chan<- struct{}) func() {
		return func(v dbutil.Saveable, refreshChan chan<- struct{}) func() {
			return func() {
				s, ok := session(v)
				if !ok {
					logAndShowError(device.ErrNotConnected, w)
					return
				}
				if err := f(s); err != nil {
					logAndShowError(err, w)
				}
				go func() {
					refreshChan <- struct{}{}
				}()
			}
		}
	}
	tableActions := []widget2.Action{
		{
			Name: "Pair",
			Icon: theme.ConfirmIcon(),
			Func: sessionAction(func(s *device.Session) error {
				return s.Pair()
			}),
			Enabled: func(v dbutil.Saveable) bool {
				st := state(v)
				return st.Connected && !st.Paired
			},
		},
		{
			Name: "Unpair",
			Icon: theme.CancelIcon(),
			Func: sessionAction(func(s *device.Session) error {
				return s.Unpair()
			}),
			Enabled: func(v dbutil.Saveable) bool {
				return state(v).Paired
			},
		},
		{
			Name: "Take Photo",
			Icon: theme.FileImageIcon(),
			Func: sessionAction(func(s *device.Session) error {
				return s.ActivateAction("device."+photo.ID+".request", nil)
			}),
			Enabled: func(v dbutil.Saveable) bool {
				s, ok := session(v)
				return ok && s.State().Active() && s.CapabilityEnabled(photo.ID)
			},
		},
		{
			Name: "Capabilities",
			Icon: theme.SettingsIcon(),
			Func: func(v dbutil.Saveable, refreshChan chan<- struct{}) func() {
				return func() {
					showCapabilities(w, svc, v.(device.Record), session)
				}
			},
		},
	}

	loop := func(refreshChan <-chan struct{}, t *widget2.Table, noticeLabel *widget.Label) {
		ticker := time.NewTicker(devicesRefreshInterval)
		defer ticker.Stop()
		for {
			recs, err := device.Records(db)
			if err != nil {
				logError(err)
				noticeLabel.SetText("Failed to read devices")
			} else {
				rows := make([]dbutil.Saveable, len(recs))
				for i, rec := range recs {
					rows[i] = rec
				}
				t.UpdateAndRefresh(rows)
				noticeLabel.SetText(devicesNotice(recs, svc))
			}
			select {
			case <-ctx.Done():
				return
			case <-refreshChan:
			case <-ticker.C:
			}
		}
	}

	refreshChan := make(chan struct{})
	connectButton := widget.NewButtonWithIcon("Connect…", theme.ContentAddIcon(), func() {
		showConnect(w, svc, refreshChan)
	})
	content := container2.NewTable(refreshChan, tableAttrs, tableActions, loop, connectButton)
	return container.NewTabItemWithIcon("Devices", theme.ComputerIcon(), content)
}

func deviceStatus(v dbutil.Saveable, session func(dbutil.Saveable) (*device.Session, bool)) string {
	rec := v.(device.Record)
	s, ok := session(v)
	if !ok {
		if rec.Paired {
			return "Paired, disconnected"
		}
		return "Disconnected"
	}
	st := s.State()
	var parts []string
	if st.Connected {
		parts = append(parts, "Connected")
	} else {
		parts = append(parts, "Disconnected")
	}
	switch {
	case st.Paired:
		parts = append(parts, "paired")
	case s.PairRequested():
		parts = append(parts, "pairing requested")
	}
	return strings.Join(parts, ", ")
}

// signalSummary returns the body of the connectivity state, e.g. "LTE 3/4".
func signalSummary(s *device.Session) string {
	for _, a := range s.Actions() {
		if a.Name != connectivityreport.ID+".state" || !a.Enabled {
			continue
		}
		if state, ok := a.State.(map[string]interface{}); ok {
			body, _ := state["body"].(string)
			return body
		}
	}
	return ""
}

func devicesNotice(recs []device.Record, svc *services) string {
	connected := 0
	for _, s := range svc.manager.Sessions() {
		if s.State().Connected {
			connected++
		}
	}
	return fmt.Sprintf("%d known, %d connected", len(recs), connected)
}

func showConnect(w fyne.Window, svc *services, refreshChan chan<- struct{}) {
	options, err := knownPeers(db)
	if err != nil {
		logError(err)
	}
	description := fmt.Sprintf("Address of the device, for example 192.168.1.10:%d", config.DefaultPort)
	form.ShowEntryCompletionPopup(w, "Connect to Device", description, "Connect", "host:port", options, form.FilterOptions, func(addr string) error {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid address %q: %w", addr, err)
		}
		go func() {
			ctx, cancel := context.WithTimeout(svc.ctx, 10*time.Second)
			defer cancel()
			if err := svc.dial(ctx, addr); err != nil {
				if !errors.Is(err, context.Canceled) {
					logAndShowError(err, w)
				}
				return
			}
			refreshChan <- struct{}{}
		}()
		return nil
	})
}

func showCapabilities(w fyne.Window, svc *services, rec device.Record, session func(dbutil.Saveable) (*device.Session, bool)) {
	s, ok := session(rec)
	if !ok {
		var err error
		if s, err = svc.manager.Open(rec.ID); err != nil {
			logAndShowError(err, w)
			return
		}
	}
	items := []fyne.CanvasObject{}
	for _, e := range svc.table.Entries() {
		d := e.Descriptor
		enabled := widget.NewCheck(d.Name, nil)
		enabled.SetChecked(s.CapabilityEnabled(d.ID))
		enabled.OnChanged = func(b bool) {
			if err := s.SetCapabilityEnabled(d.ID, b); err != nil {
				logAndShowError(err, w)
			}
		}
		items = append(items, enabled)

		pluginSettings := svc.store.Scope(rec.ID+"/"+d.ID, d.Settings)
		for _, key := range sortedKeys(d.Settings) {
			key := key
			c := widget.NewCheck(settingLabel(key), nil)
			c.SetChecked(pluginSettings.Bool(key))
			c.OnChanged = func(b bool) {
				if err := pluginSettings.SetBool(key, b); err != nil {
					logAndShowError(err, w)
				}
			}
			items = append(items, container.NewPadded(c))
		}
	}
	if len(items) == 0 {
		dialog.ShowInformation("Capabilities", "No capabilities are registered.", w)
		return
	}
	widget2.ShowModal(w, "Capabilities of "+rec.Name, "", "Close", container.NewVBox(items...), nil)
}
