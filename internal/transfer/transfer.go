// Package transfer downloads packet payloads into local files on a worker pool.
package transfer

import (
	"context"
	crand "crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"go.pairlink.org/internal/errorbehavior"
	"go.pairlink.org/internal/packet"
	"go.pairlink.org/internal/workerpool"
)

var ErrTransferFailed = errors.New("transfer failed")

// Source opens the stream of a payload, normally a transport.Channel.
type Source interface {
	OpenPayload(ctx context.Context, pl packet.Payload) (io.ReadCloser, error)
}

// Request describes one download.
type Request struct {
	Source  Source
	Payload packet.Payload
	// Dest is the wanted path. If it exists a numbered variant is used.
	Dest string
}

type Executor struct {
	pool        *workerpool.Pool
	loggerInfo  *log.Logger
	loggerDebug *log.Logger
}

func NewExecutor(pool *workerpool.Pool, loggerInfo, loggerDebug *log.Logger) *Executor {
	return &Executor{
		pool:        pool,
		loggerInfo:  loggerInfo,
		loggerDebug: loggerDebug,
	}
}

// Download starts req and returns its id. done is called exactly once, from
// a pool goroutine, with the final path or an error. Errors other than
// cancellation wrap ErrTransferFailed.
func (e *Executor) Download(ctx context.Context, req Request, done func(path string, err error)) (string, error) {
	uid, err := ulid.New(ulid.Timestamp(time.Now()), crand.Reader)
	if err != nil {
		return "", fmt.Errorf("generate transfer id failed: %w", err)
	}
	id := uid.String()
	var path string
	job := func(ctx context.Context, attempt int) error {
		if attempt > 0 {
			e.loggerDebug.Printf("[transfer %s] attempt %d", id, attempt)
		}
		var err error
		path, err = e.download(ctx, req)
		return err
	}
	err = e.pool.Submit(ctx, job, func(err error) {
		if err != nil {
			path = ""
			if !errorbehavior.IsCancelled(err) {
				err = fmt.Errorf("%w: %s: %w", ErrTransferFailed, filepath.Base(req.Dest), err)
			}
		} else {
			e.loggerDebug.Printf("[transfer %s] saved %s", id, path)
		}
		if done != nil {
			done(path, err)
		}
	})
	if err != nil {
		return "", fmt.Errorf("submit transfer failed: %w", err)
	}
	e.loggerDebug.Printf("[transfer %s] started %s", id, req.Dest)
	return id, nil
}

func (e *Executor) download(ctx context.Context, req Request) (string, error) {
	r, err := req.Source.OpenPayload(ctx, req.Payload)
	if err != nil {
		return "", fmt.Errorf("open payload failed: %w", err)
	}
	defer r.Close()
	// a blocked read only returns once the stream is closed
	stop := context.AfterFunc(ctx, func() { r.Close() })
	defer stop()

	if err := os.MkdirAll(filepath.Dir(req.Dest), 0o755); err != nil {
		return "", errorbehavior.WrapNonRetryable(fmt.Errorf("create directory failed: %w", err))
	}
	f, path, err := CreateUnique(req.Dest)
	if err != nil {
		return "", errorbehavior.WrapNonRetryable(err)
	}
	n, err := io.Copy(f, &ctxReader{ctx: ctx, r: r})
	if err != nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil && req.Payload.Size >= 0 && n != req.Payload.Size {
		err = errorbehavior.WrapRetryable(fmt.Errorf("received %d of %d bytes", n, req.Payload.Size))
	}
	if errClose := f.Close(); err == nil && errClose != nil {
		err = fmt.Errorf("close %s failed: %w", path, errClose)
	}
	if err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// CreateUnique creates dest, or "name (N).ext" for the first N that does not
// exist yet, and returns the open file and its path.
func CreateUnique(dest string) (*os.File, string, error) {
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(dest, ext)
	path := dest
	for i := 1; ; i++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", fmt.Errorf("create %s failed: %w", path, err)
		}
		path = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
