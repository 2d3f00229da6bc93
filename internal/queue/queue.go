// Package queue serializes chat and embedding operations through a
// priority-ordered, single-consumer dispatcher. At most one job executes at
// a time system-wide; higher priority dispatches first, FIFO within a tier.
// Dispatched jobs get an inactivity timeout that streaming deltas reset, and
// transient failures retry with capped exponential backoff. A streaming job
// that already delivered output never retries: partial output reached the
// consumer, so the failure settles. Cancellation always wins: a cancelled job
// never retries, not even from backoff sleep.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	derror "novel-ai-core/internal/error"
	"novel-ai-core/internal/infra/metrics"
)

// Priority tiers. Any int works; these are the ones callers use.
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 10
)

// Job is one unit of work the dispatcher executes. Run receives an emit
// function for streaming jobs; non-streaming jobs may ignore it. Run must
// respect ctx cancellation: the dispatcher aborts in-flight work by
// cancelling the context it passes in.
type Job interface {
	// Kind labels the job for logs ("chat", "chat-stream", "embed", ...).
	Kind() string
	Run(ctx context.Context, emit func(delta string)) (any, error)
	Streaming() bool
}

// Config tunes the dispatcher. Zero values pick the defaults.
type Config struct {
	MaxAttempts   int           // total execution attempts per job (default 3)
	Timeout       time.Duration // inactivity timeout (default 30s)
	StreamWarnGap time.Duration // inter-delta gap that logs a warning (default 10s)
	BackoffBase   time.Duration // first retry delay (default 1s)
	BackoffCap    time.Duration // backoff ceiling (default 10s)
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.StreamWarnGap <= 0 {
		c.StreamWarnGap = 10 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 10 * time.Second
	}
	return c
}

type result struct {
	value any
	err   error
}

type item struct {
	id       string
	job      Job
	priority int
	seq      uint64

	ctx    context.Context // caller context; cancellation settles the item
	deltas chan string     // non-nil for streaming jobs; closed on settle
	done   chan result     // buffered(1)

	// emitted records that at least one delta was delivered to the consumer.
	// Written from emit during Run, read after Run returns.
	emitted bool
}

func (it *item) settle(v any, err error) {
	if it.deltas != nil {
		close(it.deltas)
	}
	it.done <- result{value: v, err: err}
}

// Stream is the handle a streaming caller consumes: read Deltas until it
// closes, then Wait for the terminal result.
type Stream struct {
	Deltas <-chan string
	done   <-chan result
}

// Wait blocks until the job settles and returns its terminal result.
func (s *Stream) Wait() (any, error) {
	r := <-s.done
	return r.value, r.err
}

// Dispatcher is the single-consumer request queue.
type Dispatcher struct {
	cfg Config
	log *zerolog.Logger

	mu     sync.Mutex
	items  itemHeap
	seq    uint64
	wake   chan struct{}
	closed bool

	// in-flight bookkeeping for CancelAll
	inflightCancel context.CancelFunc
	cancelledAll   bool
}

func NewDispatcher(cfg Config, log *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:  cfg.withDefaults(),
		log:  log,
		wake: make(chan struct{}, 1),
	}
}

// Start launches the consumer loop; it exits when ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	go d.run(ctx)
}

// Enqueue submits a non-streaming job and blocks until it settles. The
// caller's ctx cancels the job whether it is still queued or in flight.
func (d *Dispatcher) Enqueue(ctx context.Context, job Job, priority int) (any, error) {
	it, err := d.push(ctx, job, priority, false)
	if err != nil {
		return nil, err
	}
	r := <-it.done
	return r.value, r.err
}

// EnqueueStream submits a streaming job and returns immediately with the
// delta stream. Deltas are delivered in order; the channel closes when the
// job settles.
func (d *Dispatcher) EnqueueStream(ctx context.Context, job Job, priority int) (*Stream, error) {
	it, err := d.push(ctx, job, priority, true)
	if err != nil {
		return nil, err
	}
	return &Stream{Deltas: it.deltas, done: it.done}, nil
}

func (d *Dispatcher) push(ctx context.Context, job Job, priority int, stream bool) (*item, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, derror.ErrQueueClosed
	}
	d.seq++
	it := &item{
		id:       ulid.Make().String(),
		job:      job,
		priority: priority,
		seq:      d.seq,
		ctx:      ctx,
		done:     make(chan result, 1),
	}
	if stream {
		it.deltas = make(chan string, 64)
	}
	heap.Push(&d.items, it)
	metrics.SetQueueDepth(d.items.Len())
	select {
	case d.wake <- struct{}{}:
	default:
	}
	d.log.Debug().Str("request_id", it.id).Str("kind", job.Kind()).
		Int("priority", priority).Int("depth", d.items.Len()).Msg("enqueued")
	return it, nil
}

func (d *Dispatcher) run(ctx context.Context) {
	for {
		it := d.pop()
		if it == nil {
			select {
			case <-ctx.Done():
				d.shutdown()
				return
			case <-d.wake:
				continue
			}
		}
		d.execute(ctx, it)
	}
}

func (d *Dispatcher) pop() *item {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.items.Len() == 0 {
		return nil
	}
	it := heap.Pop(&d.items).(*item)
	metrics.SetQueueDepth(d.items.Len())
	return it
}

func (d *Dispatcher) shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for d.items.Len() > 0 {
		it := heap.Pop(&d.items).(*item)
		it.settle(nil, derror.ErrQueueClosed)
	}
	metrics.SetQueueDepth(0)
}

// CancelAll aborts the in-flight call and rejects every queued item with a
// cancellation error. This is an immediate teardown, not a cooperative
// drain; the dispatcher keeps running and accepts new work afterwards.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	if d.inflightCancel != nil {
		d.cancelledAll = true
		d.inflightCancel()
	}
	var drained []*item
	for d.items.Len() > 0 {
		drained = append(drained, heap.Pop(&d.items).(*item))
	}
	metrics.SetQueueDepth(0)
	d.mu.Unlock()

	for _, it := range drained {
		it.settle(nil, derror.ErrCanceled)
		metrics.IncQueueSettled("cancelled")
	}
	d.log.Info().Int("rejected", len(drained)).Msg("queue cancelled")
}

// Depth returns the number of queued (not yet dispatched) items.
func (d *Dispatcher) Depth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.items.Len()
}

// execute runs the retry loop for one item and settles it.
func (d *Dispatcher) execute(parent context.Context, it *item) {
	log := d.log.With().Str("request_id", it.id).Str("kind", it.job.Kind()).Logger()

	if it.ctx.Err() != nil {
		it.settle(nil, derror.ErrCanceled)
		metrics.IncQueueSettled("cancelled")
		return
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < d.cfg.MaxAttempts; attempt++ {
		attempts++
		value, err := d.attempt(parent, it)
		if err == nil {
			it.settle(value, nil)
			metrics.IncQueueSettled("ok")
			return
		}
		lastErr = err

		if derror.IsAbort(err) || it.ctx.Err() != nil {
			break
		}
		if it.job.Streaming() && it.emitted {
			// partial output already reached the consumer; retrying would
			// replay the prefix into the same stream
			break
		}
		if !derror.IsRetryable(err) || attempt == d.cfg.MaxAttempts-1 {
			break
		}

		delay := d.backoff(attempt)
		log.Warn().Err(err).Int("attempt", attempts).Dur("backoff", delay).Msg("retrying after transient failure")
		metrics.IncQueueRetry()
		select {
		case <-time.After(delay):
		case <-it.ctx.Done():
			// cancellation wins over pending retries
			lastErr = derror.ErrCanceled
			attempt = d.cfg.MaxAttempts
		case <-parent.Done():
			lastErr = derror.ErrQueueClosed
			attempt = d.cfg.MaxAttempts
		}
		if attempt >= d.cfg.MaxAttempts {
			break
		}
	}

	outcome := "error"
	switch {
	case errors.Is(lastErr, derror.ErrCanceled):
		outcome = "cancelled"
	case errors.Is(lastErr, derror.ErrTimedOut):
		outcome = "timeout"
	case attempts > 1 && derror.IsRetryable(lastErr):
		lastErr = fmt.Errorf("request failed after %d attempts: %w", attempts, lastErr)
	}
	log.Error().Err(lastErr).Int("attempts", attempts).Msg("request settled with error")
	it.settle(nil, lastErr)
	metrics.IncQueueSettled(outcome)
}

// backoff returns min(base * 2^attempt, cap).
func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.cfg.BackoffBase << uint(attempt)
	if delay > d.cfg.BackoffCap || delay <= 0 {
		delay = d.cfg.BackoffCap
	}
	return delay
}

// attempt performs one dispatch with the inactivity timeout armed. The
// timeout aborts the in-flight call unless a streaming delta resets it.
func (d *Dispatcher) attempt(parent context.Context, it *item) (any, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(it.ctx, cancel)
	defer stop()

	var (
		mu        sync.Mutex
		timedOut  bool
		lastDelta time.Time
	)
	timer := time.AfterFunc(d.cfg.Timeout, func() {
		mu.Lock()
		timedOut = true
		mu.Unlock()
		cancel()
	})
	defer timer.Stop()

	d.mu.Lock()
	d.inflightCancel = cancel
	d.cancelledAll = false
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		d.inflightCancel = nil
		d.mu.Unlock()
	}()

	emit := func(delta string) {
		// a delta is a liveness signal: reset the inactivity timer
		timer.Reset(d.cfg.Timeout)
		mu.Lock()
		if !lastDelta.IsZero() {
			if gap := time.Since(lastDelta); gap > d.cfg.StreamWarnGap {
				d.log.Warn().Str("request_id", it.id).Dur("gap", gap).
					Msg("slow token stream")
			}
		}
		lastDelta = time.Now()
		mu.Unlock()
		if it.deltas == nil {
			return
		}
		select {
		case it.deltas <- delta:
			it.emitted = true
		case <-ctx.Done():
		}
	}

	start := time.Now()
	value, err := it.job.Run(ctx, emit)
	if err == nil {
		return value, nil
	}

	mu.Lock()
	wasTimeout := timedOut
	mu.Unlock()
	d.mu.Lock()
	wasCancelAll := d.cancelledAll
	d.mu.Unlock()

	switch {
	case it.ctx.Err() != nil || wasCancelAll:
		return nil, derror.ErrCanceled
	case wasTimeout:
		metrics.IncQueueTimeout()
		d.log.Warn().Str("request_id", it.id).Dur("elapsed", time.Since(start)).
			Msg("request aborted by inactivity timeout")
		return nil, derror.ErrTimedOut
	default:
		return nil, err
	}
}

// itemHeap orders by descending priority, FIFO within a tier.
type itemHeap []*item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *itemHeap) Push(x any) { *h = append(*h, x.(*item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
