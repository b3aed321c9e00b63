package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/config"
)

// Sender is what the dispatcher hands payloads to. Post is fire-and-forget;
// onResponse, when set, receives the body of a successful response.
type Sender interface {
	Post(route string, body any, onResponse func([]byte))
	Beacon(route string, body any)
}

// QueueConfig holds configuration for the delivery queue
type QueueConfig struct {
	Size        int
	SendTimeout time.Duration
	Logger      *zap.Logger
}

type job struct {
	route      string
	body       any
	onResponse func([]byte)
	beacon     bool
}

// Queue delivers payloads on a background worker so callers never block on
// the network. It is bounded: when full, new payloads are dropped.
type Queue struct {
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger
	jobs      chan job

	mu      sync.Mutex
	pending int
	waiters []chan struct{}
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

var _ Sender = (*Queue)(nil)

// NewQueue creates a queue in front of t
func NewQueue(t Transport, cfg QueueConfig) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = config.QueueSize
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Queue{
		transport: t,
		timeout:   timeoutFor(cfg.SendTimeout),
		logger:    cfg.Logger,
		jobs:      make(chan job, cfg.Size),
		done:      make(chan struct{}),
	}
}

// Start starts the delivery worker
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.ctx, q.cancel = context.WithCancel(ctx)
	go q.loop()
}

// Post queues a payload for delivery.
func (q *Queue) Post(route string, body any, onResponse func([]byte)) {
	q.enqueue(job{route: route, body: body, onResponse: onResponse})
}

// Beacon queues a payload for teardown-safe delivery. The worker tries the
// transport's Beacon first and falls back to Send, so the caller never
// waits on the network.
func (q *Queue) Beacon(route string, body any) {
	q.enqueue(job{route: route, body: body, beacon: true})
}

func (q *Queue) enqueue(j job) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		q.drop(j.route, ReasonQueueStopped, nil)
		return
	}
	q.pending++
	q.mu.Unlock()

	select {
	case q.jobs <- j:
	default:
		q.finish()
		q.drop(j.route, ReasonQueueOverflow, nil)
	}
}

// Flush waits until every queued payload has been attempted.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	if q.pending == 0 {
		q.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new payloads, gives queued ones a bounded chance to go out
// and stops the worker.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	started := q.started
	q.mu.Unlock()

	if !started {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	err := q.Flush(ctx)

	q.cancel()
	<-q.done

	if errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// Pending returns the number of payloads not yet attempted.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *Queue) loop() {
	defer close(q.done)
	for {
		select {
		case <-q.ctx.Done():
			q.drain()
			return
		case j := <-q.jobs:
			q.deliver(j)
		}
	}
}

// drain releases waiters for jobs that will never be attempted.
func (q *Queue) drain() {
	for {
		select {
		case j := <-q.jobs:
			q.drop(j.route, ReasonQueueStopped, nil)
			q.finish()
		default:
			return
		}
	}
}

func (q *Queue) deliver(j job) {
	defer q.finish()

	if j.beacon {
		if b, ok := q.transport.(Beaconer); ok && b.Beacon(j.route, j.body) {
			return
		}
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	defer cancel()

	resp, err := q.transport.Send(ctx, j.route, j.body)
	if err != nil {
		q.drop(j.route, reasonFor(err), err)
		return
	}
	if j.onResponse != nil && len(resp) > 0 {
		j.onResponse(resp)
	}
}

func (q *Queue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending > 0 {
		return
	}
	for _, ch := range q.waiters {
		close(ch)
	}
	q.waiters = nil
}

func (q *Queue) drop(route string, reason DropReason, err error) {
	fields := []zap.Field{zap.String("route", route), zap.String("reason", string(reason))}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	q.logger.Debug("payload dropped", fields...)
}

// Sync delivers on the caller's goroutine. It suits tests and hosts that
// already run the SDK off the UI thread.
type Sync struct {
	Transport Transport
	Logger    *zap.Logger
}

var _ Sender = Sync{}

func (s Sync) Post(route string, body any, onResponse func([]byte)) {
	ctx, cancel := context.WithTimeout(context.Background(), config.SendTimeout)
	defer cancel()
	resp, err := s.Transport.Send(ctx, route, body)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Debug("payload dropped", zap.String("route", route),
				zap.String("reason", string(reasonFor(err))), zap.Error(err))
		}
		return
	}
	if onResponse != nil && len(resp) > 0 {
		onResponse(resp)
	}
}

func (s Sync) Beacon(route string, body any) {
	if b, ok := s.Transport.(Beaconer); ok && b.Beacon(route, body) {
		return
	}
	s.Post(route, body, nil)
}
