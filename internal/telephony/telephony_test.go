package telephony

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
)

func TestWatchSetReferenceCounts(t *testing.T) {
	var starts, stops int
	w := newWatchSet(func() func() {
		starts++
		return func() { stops++ }
	})

	var calls int
	unwatchA := w.add(func() { calls++ })
	unwatchB := w.add(func() { calls++ })
	assert.Equal(t, 1, starts)

	w.emit()
	assert.Equal(t, 2, calls)

	unwatchA()
	unwatchA()
	assert.Equal(t, 0, stops)
	assert.Equal(t, 1, w.count())

	unwatchB()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 0, w.count())

	w.emit()
	assert.Equal(t, 2, calls)

	unwatch := w.add(func() {})
	assert.Equal(t, 2, starts)
	unwatch()
	assert.Equal(t, 2, stops)
}

func TestSignalFromProps(t *testing.T) {
	for name, tt := range map[string]struct {
		props map[string]dbus.Variant
		want  Signal
	}{
		"lte registered": {
			props: map[string]dbus.Variant{
				"State":              dbus.MakeVariant(int32(11)),
				"AccessTechnologies": dbus.MakeVariant(uint32(1 << 14)),
				"SignalQuality":      dbus.MakeVariant([]interface{}{uint32(65), true}),
			},
			want: Signal{NetworkType: "LTE", SignalStrength: 3},
		},
		"full signal caps at four": {
			props: map[string]dbus.Variant{
				"State":              dbus.MakeVariant(int32(8)),
				"AccessTechnologies": dbus.MakeVariant(uint32(1<<1 | 1<<4)),
				"SignalQuality":      dbus.MakeVariant([]interface{}{uint32(100), true}),
			},
			want: Signal{NetworkType: "EDGE", SignalStrength: 4},
		},
		"searching is offline": {
			props: map[string]dbus.Variant{
				"State":              dbus.MakeVariant(int32(7)),
				"AccessTechnologies": dbus.MakeVariant(uint32(1 << 8)),
				"SignalQuality":      dbus.MakeVariant([]interface{}{uint32(80), true}),
			},
			want: Signal{NetworkType: "HSPA", SignalStrength: -1},
		},
		"no properties": {
			props: map[string]dbus.Variant{},
			want:  Signal{NetworkType: "Unknown", SignalStrength: -1},
		},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, signalFromProps(tt.props))
		})
	}
}
