// Worker pool with limited concurrency, an unbounded queue, and retries of retryable errors.
// Workers are started on demand and exit after being idle for a while.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"go.pairlink.org/internal/errorbehavior"
)

var ErrPoolStopped = errors.New("worker pool stopped")

// Job is run with the context it was submitted with. attempt starts at 0.
type Job func(ctx context.Context, attempt int) error

type task struct {
	ctx     context.Context
	job     Job
	done    func(error)
	attempt int
}

type Pool struct {
	maxActiveWorkers int
	retries          int
	retryDelay       time.Duration
	idleTimeout      time.Duration
	loggerInfo       *log.Logger
	loggerDebug      *log.Logger

	mu      sync.Mutex
	queue   []task
	workers int
	idle    int
	running int
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	wgJobs    sync.WaitGroup
	wgWorkers sync.WaitGroup
	nextID    int
}

type poolConfig struct {
	retries     int
	retryDelay  time.Duration
	idleTimeout time.Duration
	loggerInfo  *log.Logger
	loggerDebug *log.Logger
}

func Retries(n int) func(c *poolConfig) error {
	return func(c *poolConfig) error {
		if n < 0 {
			return fmt.Errorf("negative retries: %d", n)
		}
		c.retries = n
		return nil
	}
}

func RetryDelay(d time.Duration) func(c *poolConfig) error {
	return func(c *poolConfig) error {
		c.retryDelay = d
		return nil
	}
}

func IdleTimeout(d time.Duration) func(c *poolConfig) error {
	return func(c *poolConfig) error {
		if d <= 0 {
			return fmt.Errorf("idle timeout must be positive: %s", d)
		}
		c.idleTimeout = d
		return nil
	}
}

func LoggerInfo(l *log.Logger) func(c *poolConfig) error {
	return func(c *poolConfig) error {
		c.loggerInfo = l
		return nil
	}
}

func LoggerDebug(l *log.Logger) func(c *poolConfig) error {
	return func(c *poolConfig) error {
		c.loggerDebug = l
		return nil
	}
}

func NewPool(maxActiveWorkers int, options ...func(*poolConfig) error) (*Pool, error) {
	// default configuration
	config := poolConfig{
		retryDelay:  time.Second,
		idleTimeout: 20 * time.Second,
	}
	for _, option := range options {
		err := option(&config)
		if err != nil {
			return nil, fmt.Errorf("config error: %s", err)
		}
	}
	if maxActiveWorkers <= 0 {
		return nil, fmt.Errorf("maxActiveWorkers = %d", maxActiveWorkers)
	}
	return &Pool{
		maxActiveWorkers: maxActiveWorkers,
		retries:          config.retries,
		retryDelay:       config.retryDelay,
		idleTimeout:      config.idleTimeout,
		loggerInfo:       config.loggerInfo,
		loggerDebug:      config.loggerDebug,
		wake:             make(chan struct{}, maxActiveWorkers),
		done:             make(chan struct{}),
	}, nil
}

// Submit queues j and returns immediately. done, if not nil, is called once
// with the result of the last attempt.
func (p *Pool) Submit(ctx context.Context, j Job, done func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrPoolStopped
	}
	p.wgJobs.Add(1)
	p.enqueueLocked(task{ctx: ctx, job: j, done: done})
	return nil
}

func (p *Pool) enqueueLocked(t task) {
	p.queue = append(p.queue, t)
	if p.idle > 0 {
		select {
		case p.wake <- struct{}{}:
		default:
		}
		return
	}
	if p.workers < p.maxActiveWorkers {
		p.workers++
		id := p.nextID
		p.nextID++
		p.wgWorkers.Add(1)
		go p.worker(id)
	}
}

// Stats reports the number of queued and running jobs.
func (p *Pool) Stats() (queued, running int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue), p.running
}

// StopAndWait rejects new jobs and waits for the queued ones, including their retries.
func (p *Pool) StopAndWait() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.debugf("[workerpool/StopAndWait] waiting for all jobs to finish")
	p.wgJobs.Wait()
	close(p.done)
	p.debugf("[workerpool/StopAndWait] waiting for all workers to finish")
	p.wgWorkers.Wait()
	p.debugf("[workerpool/StopAndWait] finished")
}

func (p *Pool) worker(id int) {
	defer p.wgWorkers.Done()
	p.debugf("[workerpool/worker%d] started", id)
	idleTimer := time.NewTimer(p.idleTimeout)
	defer idleTimer.Stop()
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			t := p.queue[0]
			p.queue[0] = task{}
			p.queue = p.queue[1:]
			p.running++
			p.mu.Unlock()

			p.run(id, t)

			p.mu.Lock()
			p.running--
			p.mu.Unlock()
			if !idleTimer.Stop() {
				<-idleTimer.C
			}
			idleTimer.Reset(p.idleTimeout)
			continue
		}
		p.idle++
		p.mu.Unlock()

		select {
		case <-p.wake:
			p.mu.Lock()
			p.idle--
			p.mu.Unlock()
		case <-idleTimer.C:
			p.mu.Lock()
			p.idle--
			if len(p.queue) > 0 {
				p.mu.Unlock()
				idleTimer.Reset(p.idleTimeout)
				continue
			}
			p.workers--
			p.mu.Unlock()
			p.debugf("[workerpool/worker%d] idle - exiting", id)
			return
		case <-p.done:
			p.mu.Lock()
			p.idle--
			p.workers--
			p.mu.Unlock()
			p.debugf("[workerpool/worker%d] finished", id)
			return
		}
	}
}

func (p *Pool) run(workerID int, t task) {
	err := t.job(t.ctx, t.attempt)
	if err == nil {
		p.finish(t, nil)
		return
	}
	if errorbehavior.IsRetryable(err) && t.attempt < p.retries && t.ctx.Err() == nil {
		p.debugf("[workerpool/worker%d] attempt %d failed: %s - retrying", workerID, t.attempt, err)
		t.attempt++
		time.AfterFunc(p.retryDelay, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.enqueueLocked(t)
		})
		return
	}
	if p.loggerInfo != nil && !errorbehavior.IsCancelled(err) {
		p.loggerInfo.Printf("[workerpool/worker%d] job failed after %d attempts: %s", workerID, t.attempt+1, err)
	}
	p.finish(t, err)
}

func (p *Pool) finish(t task, err error) {
	if t.done != nil {
		t.done(err)
	}
	p.wgJobs.Done()
}

func (p *Pool) debugf(format string, v ...interface{}) {
	if p.loggerDebug != nil {
		p.loggerDebug.Printf(format, v...)
	}
}
