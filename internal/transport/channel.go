// Package transport moves packets between two devices. A channel carries one
// JSON packet per line; payloads travel on separate streams opened on demand.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.pairlink.org/internal/packet"
)

// MaxPacketSize bounds a single packet line.
const MaxPacketSize = 4 << 20

var (
	ErrClosed    = errors.New("channel closed")
	ErrNoPayload = errors.New("channel cannot open payloads")
)

// Channel is a bidirectional packet link to one remote device.
type Channel interface {
	// ReadPacket blocks until the next packet. A malformed line returns an
	// error wrapping packet.ErrMalformedPacket and the channel stays usable;
	// any other error means the channel is finished.
	ReadPacket() (*packet.Packet, error)
	WritePacket(ctx context.Context, p *packet.Packet) error
	// OpenPayload opens the stream announced by a packet's payload descriptor.
	OpenPayload(ctx context.Context, pl packet.Payload) (io.ReadCloser, error)
	RemoteAddr() string
	Close() error
}

type PayloadOpener func(ctx context.Context, pl packet.Payload) (io.ReadCloser, error)

// StreamChannel frames packets over any byte stream.
type StreamChannel struct {
	conn    io.ReadWriteCloser
	remote  string
	opener  PayloadOpener
	scanner *bufio.Scanner

	readMu    sync.Mutex
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

var _ Channel = (*StreamChannel)(nil)

func NewStreamChannel(conn io.ReadWriteCloser, remote string, opener PayloadOpener) *StreamChannel {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxPacketSize)
	return &StreamChannel{
		conn:    conn,
		remote:  remote,
		opener:  opener,
		scanner: scanner,
		closed:  make(chan struct{}),
	}
}

func (c *StreamChannel) ReadPacket() (*packet.Packet, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for c.scanner.Scan() {
		line := bytes.TrimSpace(c.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		return packet.Decode(line)
	}
	if c.isClosed() {
		return nil, ErrClosed
	}
	if err := c.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read failed: %w", err)
	}
	return nil, io.EOF
}

func (c *StreamChannel) WritePacket(ctx context.Context, p *packet.Packet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	data, err := packet.Encode(p)
	if err != nil {
		return fmt.Errorf("encode %s failed: %w", p, err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if conn, ok := c.conn.(net.Conn); ok {
		deadline, _ := ctx.Deadline()
		_ = conn.SetWriteDeadline(deadline)
	}
	if _, err := c.conn.Write(data); err != nil {
		if c.isClosed() {
			return ErrClosed
		}
		return fmt.Errorf("write %s failed: %w", p, err)
	}
	return nil
}

func (c *StreamChannel) OpenPayload(ctx context.Context, pl packet.Payload) (io.ReadCloser, error) {
	if c.opener == nil {
		return nil, ErrNoPayload
	}
	return c.opener(ctx, pl)
}

func (c *StreamChannel) RemoteAddr() string {
	return c.remote
}

func (c *StreamChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *StreamChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// Pipe returns the two ends of an in-memory channel.
func Pipe() (*StreamChannel, *StreamChannel) {
	a, b := net.Pipe()
	return NewStreamChannel(a, "pipe", nil), NewStreamChannel(b, "pipe", nil)
}

// payloadReader limits a payload stream to its announced size and closes the
// underlying connection.
type payloadReader struct {
	io.Reader
	closer io.Closer
}

func (r *payloadReader) Close() error {
	return r.closer.Close()
}

func limitPayload(conn net.Conn, size int64) io.ReadCloser {
	var r io.Reader = conn
	if size >= 0 {
		r = io.LimitReader(conn, size)
	}
	return &payloadReader{Reader: r, closer: conn}
}

const payloadDialTimeout = 10 * time.Second
