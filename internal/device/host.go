package device

import (
	"context"
	"errors"
	"fmt"
	"log"

	"go.pairlink.org/internal/action"
	"go.pairlink.org/internal/capability"
	"go.pairlink.org/internal/errorbehavior"
	"go.pairlink.org/internal/notify"
	"go.pairlink.org/internal/packet"
	"go.pairlink.org/internal/settings"
	"go.pairlink.org/internal/transfer"
)

// pluginSlot is the capability.Host of one plugin instance.
type pluginSlot struct {
	s           *Session
	desc        capability.Descriptor
	plugin      capability.Plugin
	ctx         context.Context
	cancel      context.CancelFunc
	settings    *settings.Settings
	actions     *action.Group
	loggerInfo  *log.Logger
	loggerDebug *log.Logger
}

func newPluginSlot(s *Session, desc capability.Descriptor) *pluginSlot {
	ctx, cancel := context.WithCancel(context.Background())
	schema := desc.Settings
	if schema == nil {
		schema = settings.Schema{}
	}
	prefix := "[" + desc.ID + "] "
	return &pluginSlot{
		s:           s,
		desc:        desc,
		ctx:         ctx,
		cancel:      cancel,
		settings:    s.store.Scope(s.id+"/"+desc.ID, schema),
		actions:     action.NewGroup(desc.ID),
		loggerInfo:  subLogger(s.loggerInfo, prefix),
		loggerDebug: subLogger(s.loggerDebug, prefix),
	}
}

func (h *pluginSlot) DeviceID() string {
	return h.s.id
}

func (h *pluginSlot) DeviceName() string {
	return h.s.Name()
}

func (h *pluginSlot) State() capability.State {
	return h.s.State()
}

func (h *pluginSlot) QueuePacket(p *packet.Packet) {
	h.s.queue(outgoing{p: p, origin: h})
}

func (h *pluginSlot) ShowNotification(key string, n notify.Notification) {
	h.s.showNotification(h.desc.ID, key, n)
}

func (h *pluginSlot) HideNotification(key string) {
	h.s.hideNotification(h.desc.ID, key)
}

func (h *pluginSlot) Settings() *settings.Settings {
	return h.settings
}

func (h *pluginSlot) Actions() *action.Group {
	return h.actions
}

func (h *pluginSlot) SetMenuItem(item capability.MenuItem) {
	h.s.setMenuItem(h, item)
}

func (h *pluginSlot) RemoveMenuItem(actionName string) {
	h.s.removeMenuItem(actionName)
}

func (h *pluginSlot) Post(f func()) {
	h.s.seq.post(func() {
		if h.ctx.Err() == nil {
			f()
		}
	})
}

func (h *pluginSlot) Context() context.Context {
	return h.ctx
}

func (h *pluginSlot) Download(payload packet.Payload, dest string, done func(path string, err error)) {
	finish := func(path string, err error) {
		switch {
		case err == nil:
			h.s.metrics.TransferFinished("ok")
		case errorbehavior.IsCancelled(err):
			h.s.metrics.TransferFinished("cancelled")
		default:
			h.s.metrics.TransferFinished("failed")
		}
		h.Post(func() { done(path, err) })
	}

	h.s.mu.Lock()
	l := h.s.link
	h.s.mu.Unlock()
	if l == nil {
		finish("", fmt.Errorf("%w: %w", transfer.ErrTransferFailed, ErrNotConnected))
		return
	}
	// the transfer ends with the plugin or the channel, whichever goes first
	ctx, cancel := context.WithCancel(h.ctx)
	stop := context.AfterFunc(l.ctx, cancel)
	req := transfer.Request{Source: l.ch, Payload: payload, Dest: dest}
	_, err := h.s.transfers.Download(ctx, req, func(path string, err error) {
		stop()
		cancel()
		finish(path, err)
	})
	if err != nil {
		stop()
		cancel()
		if !errors.Is(err, transfer.ErrTransferFailed) {
			err = fmt.Errorf("%w: %w", transfer.ErrTransferFailed, err)
		}
		finish("", err)
	}
}

func (h *pluginSlot) LoggerInfo() *log.Logger {
	return h.loggerInfo
}

func (h *pluginSlot) LoggerDebug() *log.Logger {
	return h.loggerDebug
}
