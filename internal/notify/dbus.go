package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	serviceName = "org.freedesktop.Notifications"
	servicePath = "/org/freedesktop/Notifications"
)

// callTimeout bounds a call to the notification server.
var callTimeout = 2 * time.Second

// DBus shows notifications through org.freedesktop.Notifications. Keys are
// mapped to server ids so that re-showing a key passes replaces_id.
type DBus struct {
	conn        *dbus.Conn
	obj         dbus.BusObject
	appName     string
	loggerDebug *log.Logger

	mu  sync.Mutex
	ids map[string]uint32
}

var _ Notifier = (*DBus)(nil)

func NewDBus(conn *dbus.Conn, appName string, loggerDebug *log.Logger) *DBus {
	return &DBus{
		conn:        conn,
		obj:         conn.Object(serviceName, servicePath),
		appName:     appName,
		loggerDebug: loggerDebug,
		ids:         make(map[string]uint32),
	}
}

// Show does not hold the lock during the call, so a slow server only
// delays the caller.
func (d *DBus) Show(id string, n Notification) error {
	d.mu.Lock()
	replaces := d.ids[id]
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	var serverID uint32
	err := d.obj.CallWithContext(ctx,
		serviceName+".Notify", 0,
		d.appName,
		replaces,
		n.Icon,
		n.Title,
		n.Body,
		[]string{},
		map[string]dbus.Variant{},
		int32(-1),
	).Store(&serverID)
	if err != nil {
		return fmt.Errorf("dbus call 'Notify' failed: %w", err)
	}
	d.mu.Lock()
	d.ids[id] = serverID
	d.mu.Unlock()
	d.loggerDebug.Printf("[notify] %s shown as %d", id, serverID)
	return nil
}

func (d *DBus) Withdraw(id string) error {
	d.mu.Lock()
	serverID, ok := d.ids[id]
	delete(d.ids, id)
	d.mu.Unlock()
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	if err := d.obj.CallWithContext(ctx, serviceName+".CloseNotification", 0, serverID).Err; err != nil {
		return fmt.Errorf("dbus call 'CloseNotification' failed: %w", err)
	}
	return nil
}

// Listen forgets ids of notifications the user dismissed, so that the next
// Show opens a fresh notification. It returns when ctx is done.
func (d *DBus) Listen(ctx context.Context) error {
	err := d.conn.AddMatchSignalContext(
		ctx,
		dbus.WithMatchInterface(serviceName),
		dbus.WithMatchMember("NotificationClosed"),
		dbus.WithMatchObjectPath(servicePath),
	)
	if err != nil {
		return fmt.Errorf("DBus.AddMatch failed for NotificationClosed: %w", err)
	}
	signalChan := make(chan *dbus.Signal, 8)
	d.conn.Signal(signalChan)
	defer d.conn.RemoveSignal(signalChan)
	for {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-signalChan:
			if sig == nil || sig.Name != serviceName+".NotificationClosed" || len(sig.Body) == 0 {
				continue
			}
			serverID, ok := sig.Body[0].(uint32)
			if !ok {
				continue
			}
			d.forget(serverID)
		}
	}
}

func (d *DBus) forget(serverID uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, sid := range d.ids {
		if sid == serverID {
			delete(d.ids, id)
			d.loggerDebug.Printf("[notify] %s closed", id)
		}
	}
}
