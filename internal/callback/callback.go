// Package callback runs long jobs in the background and delivers each result
// to a caller-supplied URL with a single POST. Deliveries are never retried.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/yourusername/linkedin-messenger/internal/logger"
)

// ErrQueueFull is returned by Submit when the backlog is at capacity.
var ErrQueueFull = errors.New("callback queue is full")

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("callback dispatcher stopped")

// Job produces a result to deliver to URL.
type Job struct {
	ID  string
	URL string
	Run func(ctx context.Context) interface{}
}

// Dispatcher runs submitted jobs one at a time on a background worker.
type Dispatcher struct {
	queue  chan Job
	client *http.Client

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher with the given backlog size and POST
// timeout.
func NewDispatcher(queueSize int, timeout time.Duration) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		queue:  make(chan Job, queueSize),
		client: &http.Client{Timeout: timeout},
	}
}

// Start launches the worker. Jobs run under ctx.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for job := range d.queue {
			d.process(ctx, job)
		}
	}()
}

// Submit enqueues a job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	select {
	case d.queue <- job:
		logger.Debug("Callback job queued", "job_id", job.ID, "pending", len(d.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop refuses new jobs and waits for queued ones to finish or ctx to expire.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("Callback job panicked", "job_id", job.ID, "panic", p)
		}
	}()

	result := job.Run(ctx)

	if err := PostJSON(ctx, d.client, job.URL, result); err != nil {
		logger.Error("Callback delivery failed", "job_id", job.ID, "url", job.URL, "error", err)
		return
	}
	logger.Info("Callback delivered", "job_id", job.ID, "url", job.URL)
}

// PostJSON posts payload as JSON to url. Any non-2xx status is an error.
func PostJSON(ctx context.Context, client *http.Client, url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
