// Package portal asks xdg-desktop-portal for permission to keep running in
// the background and to be started at login.
package portal

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/oklog/ulid/v2"
)

const (
	serviceName     = "org.freedesktop.portal.Desktop"
	servicePath     = "/org/freedesktop/portal/desktop"
	backgroundIface = "org.freedesktop.portal.Background"
	requestIface    = "org.freedesktop.portal.Request"
)

// Response codes of org.freedesktop.portal.Request.Response.
const (
	responseSuccess   = 0
	responseCancelled = 1
)

var ErrPermissionDenied = errors.New("background permission denied")

type BackgroundRequest struct {
	Reason      string
	Autostart   bool
	Commandline []string
}

// Requester is implemented by DBus and by test doubles.
type Requester interface {
	// RequestBackground blocks until the user answered or ctx is done.
	RequestBackground(ctx context.Context, req BackgroundRequest) error
}

type DBus struct {
	conn        *dbus.Conn
	loggerDebug *log.Logger
}

var _ Requester = (*DBus)(nil)

func NewDBus(conn *dbus.Conn, loggerDebug *log.Logger) *DBus {
	return &DBus{conn: conn, loggerDebug: loggerDebug}
}

func (d *DBus) RequestBackground(ctx context.Context, req BackgroundRequest) error {
	names := d.conn.Names()
	if len(names) == 0 {
		return fmt.Errorf("dbus connection has no unique name")
	}
	token, err := handleToken()
	if err != nil {
		return err
	}
	handle := requestPath(names[0], token)

	// subscribe before the call so the response cannot be missed
	matchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	err = d.conn.AddMatchSignalContext(
		matchCtx,
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
		dbus.WithMatchObjectPath(handle),
	)
	if err != nil {
		return fmt.Errorf("DBus.AddMatch failed for Response: %w", err)
	}
	defer d.conn.RemoveMatchSignal(
		dbus.WithMatchInterface(requestIface),
		dbus.WithMatchMember("Response"),
		dbus.WithMatchObjectPath(handle),
	)
	signalChan := make(chan *dbus.Signal, 4)
	d.conn.Signal(signalChan)
	defer d.conn.RemoveSignal(signalChan)

	options := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(token),
		"reason":       dbus.MakeVariant(req.Reason),
		"autostart":    dbus.MakeVariant(req.Autostart),
	}
	if len(req.Commandline) > 0 {
		options["commandline"] = dbus.MakeVariant(req.Commandline)
	}
	var returned dbus.ObjectPath
	err = d.conn.Object(serviceName, servicePath).CallWithContext(ctx, backgroundIface+".RequestBackground", 0, "", options).Store(&returned)
	if err != nil {
		return fmt.Errorf("dbus call 'RequestBackground' failed: %w", err)
	}
	if returned != handle {
		// old portals ignore handle_token
		d.loggerDebug.Printf("[portal] request handle %s differs from %s", returned, handle)
		handle = returned
	}

	for {
		select {
		case <-ctx.Done():
			d.conn.Object(serviceName, handle).Call(requestIface+".Close", 0)
			return ctx.Err()
		case sig := <-signalChan:
			if sig == nil || sig.Path != handle || sig.Name != requestIface+".Response" {
				continue
			}
			return parseResponse(sig.Body)
		}
	}
}

func handleToken() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), crand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate handle token failed: %w", err)
	}
	return "pairlink_" + strings.ToLower(id.String()), nil
}

// requestPath is the object path the portal uses for a request made by the
// connection with the given unique name.
func requestPath(uniqueName, token string) dbus.ObjectPath {
	sender := strings.ReplaceAll(strings.TrimPrefix(uniqueName, ":"), ".", "_")
	return dbus.ObjectPath(servicePath + "/request/" + sender + "/" + token)
}

func parseResponse(body []interface{}) error {
	if len(body) < 2 {
		return fmt.Errorf("malformed portal response: %v", body)
	}
	code, ok := body[0].(uint32)
	if !ok {
		return fmt.Errorf("malformed portal response code: %v", body[0])
	}
	switch code {
	case responseSuccess:
	case responseCancelled:
		return ErrPermissionDenied
	default:
		return fmt.Errorf("portal request failed with response %d", code)
	}
	results, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return fmt.Errorf("malformed portal response results: %v", body[1])
	}
	if v, ok := results["background"]; ok {
		if allowed, ok := v.Value().(bool); ok && !allowed {
			return ErrPermissionDenied
		}
	}
	return nil
}
