package photo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pairlink.org/internal/capability"
	"go.pairlink.org/internal/capability/capabilitytest"
	"go.pairlink.org/internal/packet"
	"go.pairlink.org/internal/transfer"
)

const dir = "/home/user/Pictures"

func newPlugin(t *testing.T) (*Plugin, *capabilitytest.Host) {
	t.Helper()
	host := capabilitytest.NewHost(t, Descriptor)
	p := New(host, dir)
	p.Enable()
	p.UpdateState(capability.State{Connected: true, Paired: true})
	return p, host
}

func photo(filename interface{}, withPayload bool) *packet.Packet {
	b := packet.New(TypePhoto)
	if filename != nil {
		b.Set("filename", filename)
	}
	if withPayload {
		b.SetPayload(1024, map[string]interface{}{"port": 1739})
	}
	return b.MustFinish()
}

func TestPhotoStartsOneTransfer(t *testing.T) {
	p, host := newPlugin(t)

	p.HandlePacket(photo("IMG_0001.jpg", true))
	downloads := host.Downloads()
	require.Len(t, downloads, 1)
	assert.Equal(t, filepath.Join(dir, "IMG_0001.jpg"), downloads[0].Dest)
	assert.Equal(t, int64(1024), downloads[0].Payload.Size)

	downloads[0].Done(filepath.Join(dir, "IMG_0001.jpg"), nil)
	host.RunPosted()
	assert.Empty(t, host.Notifications())
}

func TestPhotoFilenameReducedToBase(t *testing.T) {
	p, host := newPlugin(t)
	p.HandlePacket(photo("../../.ssh/authorized_keys", true))
	p.HandlePacket(photo("..", true))

	downloads := host.Downloads()
	require.Len(t, downloads, 1)
	assert.Equal(t, filepath.Join(dir, "authorized_keys"), downloads[0].Dest)
}

func TestPhotoIgnoredWithoutPayloadOrFilename(t *testing.T) {
	p, host := newPlugin(t)

	p.HandlePacket(photo("IMG_0001.jpg", false))
	p.HandlePacket(photo(nil, true))
	p.HandlePacket(photo(42, true))

	assert.Empty(t, host.Downloads())
	assert.Empty(t, host.Notifications())
}

func TestMalformedPhotoWarns(t *testing.T) {
	host := capabilitytest.NewHost(t, Descriptor)
	var info, debug bytes.Buffer
	host.SetLoggers(log.New(&info, "", 0), log.New(&debug, "", 0))
	p := New(host, dir)
	p.Enable()
	p.UpdateState(capability.State{Connected: true, Paired: true})

	p.HandlePacket(photo(nil, true))
	p.HandlePacket(photo(42, true))
	p.HandlePacket(photo("IMG_0001.jpg", false))

	assert.Equal(t, 3, strings.Count(info.String(), "warning: "))
	assert.Contains(t, info.String(), "filename")
	assert.NotContains(t, debug.String(), "filename")
	assert.Empty(t, host.Downloads())
}

func TestTransferFailureNotifies(t *testing.T) {
	p, host := newPlugin(t)
	p.HandlePacket(photo("IMG_0001.jpg", true))

	err := fmt.Errorf("%w: IMG_0001.jpg: %w", transfer.ErrTransferFailed, errors.New("connection reset"))
	host.Downloads()[0].Done("", err)
	assert.Empty(t, host.Notifications(), "result is delivered on the sequence")
	host.RunPosted()

	n, ok := host.Notifications()["photo"]
	require.True(t, ok)
	assert.Equal(t, "Transfer Failed", n.Title)
	assert.Equal(t, "Failed to receive “IMG_0001.jpg” from Phone", n.Body)
	assert.Equal(t, "dialog-error-symbolic", n.Icon)
}

func TestCancelledTransferIsSilent(t *testing.T) {
	p, host := newPlugin(t)
	p.HandlePacket(photo("IMG_0001.jpg", true))

	host.Downloads()[0].Done("", context.Canceled)
	host.RunPosted()
	assert.Empty(t, host.Notifications())
}

func TestNoCallbackAfterDisable(t *testing.T) {
	p, host := newPlugin(t)
	p.HandlePacket(photo("IMG_0001.jpg", true))

	host.Cancel()
	p.Disable()
	host.Downloads()[0].Done("", transfer.ErrTransferFailed)
	assert.Equal(t, 0, host.RunPosted())
	assert.Empty(t, host.Notifications())
}

func TestRequestAction(t *testing.T) {
	p, host := newPlugin(t)

	require.NoError(t, host.Actions().Activate("request", nil))
	queued := host.TakeQueued()
	require.Len(t, queued, 1)
	assert.Equal(t, TypeRequest, queued[0].Type())
	assert.Zero(t, queued[0].Body().Len())

	p.UpdateState(capability.State{Connected: true})
	assert.Error(t, host.Actions().Activate("request", nil))
}

func TestMenuItem(t *testing.T) {
	p, host := newPlugin(t)
	item, ok := host.Menu()["device.photo.request"]
	require.True(t, ok)
	assert.Equal(t, "Take Photo", item.Label)
	assert.Equal(t, "camera-photo-symbolic", item.Icon)

	p.Disable()
	assert.Empty(t, host.Menu())
}

func TestPhotoRequestTolerated(t *testing.T) {
	p, host := newPlugin(t)
	assert.NotPanics(t, func() { p.HandlePacket(packet.New(TypeRequest).MustFinish()) })
	assert.Empty(t, host.TakeQueued())
	assert.Empty(t, host.Downloads())
}
