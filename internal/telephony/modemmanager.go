package telephony

import (
	"context"
	"log"
	"path"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	serviceName = "org.freedesktop.ModemManager1"
	servicePath = "/org/freedesktop/ModemManager1"
	modemIface  = serviceName + ".Modem"

	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"
)

// Modem states below "registered" mean there is no service.
const modemStateRegistered = 8

// Access technology bits, highest generation first.
var accessTechnologies = [...]struct {
	mask        uint32
	networkType string
}{
	{1 << 15, "5G"},
	{1 << 14, "LTE"},
	{1<<6 | 1<<7 | 1<<8 | 1<<9, "HSPA"},
	{1 << 5, "UMTS"},
	{1<<11 | 1<<12 | 1<<13, "CDMA2000"},
	{1 << 10, "CDMA"},
	{1 << 4, "EDGE"},
	{1 << 3, "GPRS"},
	{1<<1 | 1<<2, "GSM"},
}

var matchOptions = [...][]dbus.MatchOption{
	{
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchPathNamespace(servicePath),
	},
	{
		dbus.WithMatchInterface(objectManagerIface),
		dbus.WithMatchMember("InterfacesAdded"),
		dbus.WithMatchObjectPath(servicePath),
	},
	{
		dbus.WithMatchInterface(objectManagerIface),
		dbus.WithMatchMember("InterfacesRemoved"),
		dbus.WithMatchObjectPath(servicePath),
	},
}

// ModemManager reads modems from the ModemManager service on the system bus.
type ModemManager struct {
	conn        *dbus.Conn
	loggerInfo  *log.Logger
	loggerDebug *log.Logger
	watches     *watchSet
}

var _ Monitor = (*ModemManager)(nil)

func NewModemManager(conn *dbus.Conn, loggerInfo, loggerDebug *log.Logger) *ModemManager {
	m := &ModemManager{
		conn:        conn,
		loggerInfo:  loggerInfo,
		loggerDebug: loggerDebug,
	}
	m.watches = newWatchSet(m.listen)
	return m
}

func (m *ModemManager) SignalStrengths() map[string]Signal {
	signals := make(map[string]Signal)
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err := m.conn.Object(serviceName, servicePath).Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects)
	if err != nil {
		m.loggerDebug.Printf("[telephony] dbus call 'GetManagedObjects' failed: %s", err)
		return signals
	}
	for objPath, ifaces := range objects {
		props, ok := ifaces[modemIface]
		if !ok {
			continue
		}
		signals[path.Base(string(objPath))] = signalFromProps(props)
	}
	return signals
}

func (m *ModemManager) Watch(f func()) func() {
	return m.watches.add(f)
}

func (m *ModemManager) listen() func() {
	ctx, cancel := context.WithCancel(context.Background())
	for _, opts := range matchOptions {
		if err := m.conn.AddMatchSignalContext(ctx, opts...); err != nil {
			m.loggerInfo.Printf("[telephony] DBus.AddMatch failed: %s", err)
		}
	}
	signalChan := make(chan *dbus.Signal, 8)
	m.conn.Signal(signalChan)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-signalChan:
				if sig == nil || !strings.HasPrefix(string(sig.Path), servicePath) {
					continue
				}
				m.loggerDebug.Printf("[telephony] %s on %s", sig.Name, sig.Path)
				m.watches.emit()
			}
		}
	}()
	return func() {
		cancel()
		<-done
		m.conn.RemoveSignal(signalChan)
		for _, opts := range matchOptions {
			if err := m.conn.RemoveMatchSignal(opts...); err != nil {
				m.loggerDebug.Printf("[telephony] DBus.RemoveMatch failed: %s", err)
			}
		}
	}
}

// signalFromProps converts the properties of a Modem object. Signal quality
// is a percentage and maps onto the 0-4 bars of the protocol; a modem that
// is not registered on a network reports -1.
func signalFromProps(props map[string]dbus.Variant) Signal {
	s := Signal{NetworkType: "Unknown", SignalStrength: -1}

	if v, ok := props["AccessTechnologies"]; ok {
		if tech, ok := v.Value().(uint32); ok {
			for _, at := range accessTechnologies {
				if tech&at.mask != 0 {
					s.NetworkType = at.networkType
					break
				}
			}
		}
	}

	state := int32(-1)
	if v, ok := props["State"]; ok {
		if st, ok := v.Value().(int32); ok {
			state = st
		}
	}
	if state < modemStateRegistered {
		return s
	}

	if v, ok := props["SignalQuality"]; ok {
		if quality, ok := v.Value().([]interface{}); ok && len(quality) > 0 {
			if percent, ok := quality[0].(uint32); ok {
				bars := int64(percent) / 20
				if bars > 4 {
					bars = 4
				}
				s.SignalStrength = bars
			}
		}
	}
	return s
}
