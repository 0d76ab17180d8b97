package transport

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pairlink.org/internal/errorbehavior"
	"go.pairlink.org/internal/packet"
)

func TestPipeRoundTrip(t *testing.T) {
	a, b := Pipe()
	defer a.Close()
	defer b.Close()

	sent := packet.New("kdeconnect.ping").Set("message", "hi").MustFinish()
	errc := make(chan error, 1)
	go func() { errc <- a.WritePacket(context.Background(), sent) }()

	got, err := b.ReadPacket()
	require.NoError(t, err)
	require.NoError(t, <-errc)
	assert.Equal(t, sent.ID(), got.ID())
	assert.Equal(t, "kdeconnect.ping", got.Type())
	msg, err := got.GetString("message")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg)
}

func TestReadSkipsBlankLinesAndSurvivesMalformed(t *testing.T) {
	local, remote := net.Pipe()
	ch := NewStreamChannel(local, "pipe", nil)
	defer ch.Close()

	go func() {
		remote.Write([]byte("\n{\"type\":\"\"}\n\n{\"id\":1,\"type\":\"kdeconnect.ping\",\"body\":{}}\n"))
		remote.Close()
	}()

	_, err := ch.ReadPacket()
	assert.ErrorIs(t, err, packet.ErrMalformedPacket)

	p, err := ch.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "kdeconnect.ping", p.Type())

	_, err = ch.ReadPacket()
	assert.ErrorIs(t, err, io.EOF)
}

func TestClosedChannel(t *testing.T) {
	a, b := Pipe()
	defer b.Close()

	done := make(chan error, 1)
	go func() {
		_, err := a.ReadPacket()
		done <- err
	}()
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("ReadPacket did not return after Close")
	}
	err := a.WritePacket(context.Background(), packet.New("kdeconnect.ping").MustFinish())
	assert.ErrorIs(t, err, ErrClosed)

	_, err = a.OpenPayload(context.Background(), packet.Payload{})
	assert.ErrorIs(t, err, ErrNoPayload)
}

func TestListenAndDial(t *testing.T) {
	l, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan *StreamChannel, 1)
	served := make(chan error, 1)
	go func() {
		served <- l.Serve(ctx, func(ch *StreamChannel) { accepted <- ch })
	}()

	client, err := Dial(ctx, l.Addr().String())
	require.NoError(t, err)
	defer client.Close()
	require.NoError(t, client.WritePacket(ctx, packet.New("kdeconnect.identity").Set("deviceId", "a").MustFinish()))

	server := <-accepted
	defer server.Close()
	p, err := server.ReadPacket()
	require.NoError(t, err)
	assert.Equal(t, "kdeconnect.identity", p.Type())

	cancel()
	assert.NoError(t, <-served)
}

func TestLANPayloadOpener(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("0123456789extra"))
		conn.Close()
	}()
	port := ln.Addr().(*net.TCPAddr).Port

	p, err := packet.New("kdeconnect.photo").
		Set("filename", "a.jpg").
		SetPayload(10, map[string]interface{}{"port": port}).
		Finish()
	require.NoError(t, err)
	pl, ok := p.Payload()
	require.True(t, ok)

	r, err := LANPayloadOpener("127.0.0.1")(context.Background(), pl)
	require.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestLANPayloadOpenerErrors(t *testing.T) {
	open := LANPayloadOpener("127.0.0.1")

	_, err := open(context.Background(), packet.Payload{Size: 1})
	require.Error(t, err)
	assert.False(t, errorbehavior.IsRetryable(err))

	p := packet.New("kdeconnect.photo").SetPayload(1, map[string]interface{}{"port": "x"}).MustFinish()
	pl, _ := p.Payload()
	_, err = open(context.Background(), pl)
	assert.ErrorIs(t, err, packet.ErrTypeMismatch)
	assert.False(t, errorbehavior.IsRetryable(err))

	// a port nobody listens on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	port, _ := strconv.Atoi(portStr)
	p = packet.New("kdeconnect.photo").SetPayload(1, map[string]interface{}{"port": port}).MustFinish()
	pl, _ = p.Payload()
	_, err = open(context.Background(), pl)
	require.Error(t, err)
	assert.True(t, errorbehavior.IsRetryable(err))
}
