package portal

import (
	"regexp"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestPath(t *testing.T) {
	got := requestPath(":1.42", "pairlink_abc")
	assert.Equal(t, dbus.ObjectPath("/org/freedesktop/portal/desktop/request/1_42/pairlink_abc"), got)
	assert.True(t, got.IsValid())
}

func TestHandleTokenIsPathElement(t *testing.T) {
	a, err := handleToken()
	require.NoError(t, err)
	b, err := handleToken()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, regexp.MustCompile(`^[A-Za-z0-9_]+$`), a)
}

func TestParseResponse(t *testing.T) {
	granted := map[string]dbus.Variant{"background": dbus.MakeVariant(true), "autostart": dbus.MakeVariant(true)}
	denied := map[string]dbus.Variant{"background": dbus.MakeVariant(false)}

	assert.NoError(t, parseResponse([]interface{}{uint32(0), granted}))
	assert.NoError(t, parseResponse([]interface{}{uint32(0), map[string]dbus.Variant{}}))
	assert.ErrorIs(t, parseResponse([]interface{}{uint32(0), denied}), ErrPermissionDenied)
	assert.ErrorIs(t, parseResponse([]interface{}{uint32(1), granted}), ErrPermissionDenied)

	err := parseResponse([]interface{}{uint32(2), granted})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPermissionDenied)

	assert.Error(t, parseResponse([]interface{}{uint32(0)}))
	assert.Error(t, parseResponse([]interface{}{"0", granted}))
}
