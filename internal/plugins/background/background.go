// Package background asks the desktop for permission to keep running
// without a window and to start at login. Unlike capabilities it belongs to
// the application, not to a device.
package background

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go.pairlink.org/internal/portal"
	"go.pairlink.org/internal/settings"
	"go.pairlink.org/internal/window"
)

const (
	Scope            = "plugin/background"
	SettingAutostart = "autostart"

	reason        = "Pairlink wants to run as a service"
	revokeTimeout = 5 * time.Second
)

var Schema = settings.Schema{SettingAutostart: false}

var commandline = []string{"pairlink", "--service"}

// Plugin requests the background permission whenever the autostart setting
// changes. The desktop shows a prompt, so the request waits until one of
// the windows has focus.
type Plugin struct {
	settings    *settings.Settings
	portal      portal.Requester
	windows     *window.List
	loggerInfo  *log.Logger
	loggerDebug *log.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	mu             sync.Mutex
	autostart      bool
	closed         bool
	unwatchSetting func()
	// unwatchItems is set while a request waits for a focused window.
	unwatchItems func()
	watched      map[*window.Window]func()
}

func New(store *settings.Store, requester portal.Requester, windows *window.List, loggerInfo, loggerDebug *log.Logger) *Plugin {
	ctx, cancel := context.WithCancel(context.Background())
	return &Plugin{
		settings:    store.Scope(Scope, Schema),
		portal:      requester,
		windows:     windows,
		loggerInfo:  log.New(loggerInfo.Writer(), loggerInfo.Prefix()+"[background] ", loggerInfo.Flags()),
		loggerDebug: log.New(loggerDebug.Writer(), loggerDebug.Prefix()+"[background] ", loggerDebug.Flags()),
		ctx:         ctx,
		cancel:      cancel,
		watched:     make(map[*window.Window]func()),
	}
}

// Settings returns the application settings of the plugin.
func (p *Plugin) Settings() *settings.Settings {
	return p.settings
}

// Start watches the autostart setting and requests the permission for its
// current value.
func (p *Plugin) Start() {
	p.mu.Lock()
	p.unwatchSetting = p.settings.Watch(SettingAutostart, p.autostartChanged)
	p.mu.Unlock()
	p.autostartChanged(p.settings.Bool(SettingAutostart))
}

// Waiting reports whether a request waits for a focused window.
func (p *Plugin) Waiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unwatchItems != nil
}

func (p *Plugin) autostartChanged(autostart bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.autostart = autostart
	if p.unwatchItems != nil {
		return
	}
	if p.windows.Active() != nil {
		p.requestLocked()
		return
	}
	p.loggerDebug.Printf("no active window, deferring request")
	p.unwatchItems = p.windows.WatchItems(p.windowsChanged)
	p.watchWindowsLocked()
	// a window may have gained focus before the watches were in place
	if p.windows.Active() != nil {
		p.stopWaitingLocked()
		p.requestLocked()
	}
}

func (p *Plugin) windowsChanged() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unwatchItems == nil {
		return
	}
	if p.windows.Active() != nil {
		p.stopWaitingLocked()
		p.requestLocked()
		return
	}
	p.watchWindowsLocked()
}

func (p *Plugin) windowActivated(active bool) {
	if !active {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unwatchItems == nil {
		return
	}
	p.stopWaitingLocked()
	p.requestLocked()
}

func (p *Plugin) watchWindowsLocked() {
	current := make(map[*window.Window]bool)
	for _, w := range p.windows.Windows() {
		current[w] = true
		if _, ok := p.watched[w]; !ok {
			p.watched[w] = w.WatchActive(p.windowActivated)
		}
	}
	for w, unwatch := range p.watched {
		if !current[w] {
			unwatch()
			delete(p.watched, w)
		}
	}
}

func (p *Plugin) stopWaitingLocked() {
	if p.unwatchItems != nil {
		p.unwatchItems()
		p.unwatchItems = nil
	}
	for w, unwatch := range p.watched {
		unwatch()
		delete(p.watched, w)
	}
}

func (p *Plugin) requestLocked() {
	req := p.request()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.report(p.portal.RequestBackground(p.ctx, req))
	}()
}

func (p *Plugin) request() portal.BackgroundRequest {
	req := portal.BackgroundRequest{Reason: reason}
	if p.autostart {
		req.Autostart = true
		req.Commandline = commandline
	}
	return req
}

func (p *Plugin) report(err error) {
	switch {
	case err == nil:
		p.loggerDebug.Printf("background permission granted")
	case errors.Is(err, portal.ErrPermissionDenied):
		p.loggerDebug.Printf("permission denied")
	case errors.Is(err, context.Canceled):
	default:
		p.loggerInfo.Printf("warning: %s", err)
	}
}

// Close cancels pending requests. With a window in focus it also revokes
// autostart; without one the revoke would prompt behind nothing, so it is
// skipped.
func (p *Plugin) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	if p.unwatchSetting != nil {
		p.unwatchSetting()
	}
	p.stopWaitingLocked()
	p.autostart = false
	active := p.windows.Active() != nil
	req := p.request()
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	if !active {
		p.loggerDebug.Printf("no active window, skipping revoke")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
	defer cancel()
	p.report(p.portal.RequestBackground(ctx, req))
}
