package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"

	"go.pairlink.org/internal/errorbehavior"
	"go.pairlink.org/internal/packet"
)

// Listener accepts LAN channels.
type Listener struct {
	ln         net.Listener
	loggerInfo *log.Logger
}

func Listen(addr string, loggerInfo *log.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s failed: %w", addr, err)
	}
	return &Listener{ln: ln, loggerInfo: loggerInfo}, nil
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve accepts connections until ctx is done or the listener fails and
// passes each one to handle on its own goroutine.
func (l *Listener) Serve(ctx context.Context, handle func(ch *StreamChannel)) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				l.loggerInfo.Printf("[transport] accept failed: %s", err)
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		go handle(newLANChannel(conn))
	}
}

// Dial opens a LAN channel to addr.
func Dial(ctx context.Context, addr string) (*StreamChannel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errorbehavior.WrapRetryable(fmt.Errorf("dial %s failed: %w", addr, err))
	}
	return newLANChannel(conn), nil
}

func newLANChannel(conn net.Conn) *StreamChannel {
	remote := conn.RemoteAddr().String()
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	return NewStreamChannel(conn, remote, LANPayloadOpener(host))
}

// LANPayloadOpener connects to the port announced in payloadTransferInfo on
// host. Connection failures are retryable; a descriptor without a port is not.
func LANPayloadOpener(host string) PayloadOpener {
	return func(ctx context.Context, pl packet.Payload) (io.ReadCloser, error) {
		if pl.TransferInfo == nil {
			return nil, errorbehavior.WrapNonRetryable(fmt.Errorf("payload has no transfer info: %w", packet.ErrFieldMissing))
		}
		port, err := pl.TransferInfo.GetInt("port")
		if err != nil {
			return nil, errorbehavior.WrapNonRetryable(fmt.Errorf("payload port: %w", err))
		}
		if port <= 0 || port > 65535 {
			return nil, errorbehavior.WrapNonRetryable(fmt.Errorf("payload port %d out of range", port))
		}
		ctx, cancel := context.WithTimeout(ctx, payloadDialTimeout)
		defer cancel()
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.FormatInt(port, 10)))
		if err != nil {
			return nil, errorbehavior.WrapRetryable(fmt.Errorf("payload dial failed: %w", err))
		}
		return limitPayload(conn, pl.Size), nil
	}
}
