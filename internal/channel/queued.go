package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/stormline/internal/future"
	"github.com/skywalker-88/stormline/pkg/metrics"
)

// ErrQueueFull rejects a request synchronously when the queue is at
// capacity.
var ErrQueueFull = errors.New("queue is full")

// deferredCall is one parked request: it lives from enqueue until dispatch,
// cancellation, or eviction.
type deferredCall struct {
	ctx      context.Context
	endpoint Endpoint
	req      *Request
	promise  *future.Future[*Response]
	enqueued time.Time
}

// QueuedChannel bounds the number of waiting requests for a whole client and
// re-drives them as the delegate regains capacity. It exposes a Channel over
// a LimitedChannel delegate.
type QueuedChannel struct {
	delegate     LimitedChannel
	channelName  string
	maxQueueSize int

	mu    sync.Mutex
	queue deque[*deferredCall]

	// sizeEstimate mirrors the queue length so the fast path can skip the
	// lock. It must exactly reflect queue contents on every exit path.
	sizeEstimate atomic.Int64

	// recordQueueMetrics stays false until something actually queues, so
	// endpoints that never wait don't emit a stream of zero timings. The
	// fast-path read is deliberately unordered with respect to the flip; a
	// race may skip or extra-record one timing.
	recordQueueMetrics atomic.Bool
}

func NewQueued(delegate LimitedChannel, channelName string, maxQueueSize int) *QueuedChannel {
	return &QueuedChannel{
		delegate:     delegate,
		channelName:  channelName,
		maxQueueSize: maxQueueSize,
	}
}

func (q *QueuedChannel) Execute(ctx context.Context, ep Endpoint, req *Request) *future.Future[*Response] {
	// Fast path: nothing is waiting, so FIFO order cannot be violated by
	// dispatching directly.
	if q.sizeEstimate.Load() <= 0 {
		if f, ok := q.delegate.MaybeExecute(ctx, ep, req); ok {
			if q.recordQueueMetrics.Load() {
				metrics.QueuedTime.WithLabelValues(q.channelName).Observe(0)
			}
			f.Listen(func(*Response, error) { q.schedule() })
			return f
		}
	}

	// The optimistic attempt may have raced with other producers; re-check
	// capacity before parking.
	if int(q.sizeEstimate.Load()) >= q.maxQueueSize {
		log.Warn().Str("channel", q.channelName).Str("endpoint", ep.EndpointName).Msg("queue is full")
		return future.Failed[*Response](fmt.Errorf("%w: %s", ErrQueueFull, q.channelName))
	}
	q.recordQueueMetrics.Store(true)

	call := &deferredCall{
		ctx:      ctx,
		endpoint: ep,
		req:      req,
		promise:  future.New[*Response](),
		enqueued: time.Now(),
	}
	q.mu.Lock()
	q.queue.pushBack(call)
	q.mu.Unlock()
	q.sizeEstimate.Add(1)
	metrics.RequestsQueued.WithLabelValues(q.channelName).Inc()

	q.schedule()
	return call.promise
}

// schedule drains the queue head-first until it empties or the delegate
// refuses. A refusal pushes the head back to the front and returns; the next
// completion event re-enters schedule. Safe to call concurrently.
func (q *QueuedChannel) schedule() {
	for {
		q.mu.Lock()
		head, ok := q.queue.popFront()
		q.mu.Unlock()
		if !ok {
			return
		}

		// Cheap drop for entries the caller gave up on while queued.
		if head.promise.IsDone() || head.ctx.Err() != nil {
			q.unpark(head)
			if !head.promise.IsDone() {
				head.promise.Fail(head.ctx.Err())
			}
			continue
		}

		f, accepted := q.delegate.MaybeExecute(head.ctx, head.endpoint, head.req)
		if !accepted {
			q.mu.Lock()
			q.queue.pushFront(head)
			q.mu.Unlock()
			return
		}
		q.unpark(head)

		f.Listen(func(resp *Response, err error) {
			q.forward(head.promise, resp, err)
			q.schedule()
		})
		head.promise.OnCancel(func() { f.Cancel() })
	}
}

// unpark settles the bookkeeping for an entry leaving the queue.
func (q *QueuedChannel) unpark(call *deferredCall) {
	q.sizeEstimate.Add(-1)
	metrics.RequestsQueued.WithLabelValues(q.channelName).Dec()
	metrics.QueuedTime.WithLabelValues(q.channelName).Observe(time.Since(call.enqueued).Seconds())
}

// forward moves a completed result into the caller's promise. If the promise
// is already settled (cancelled), the response body must be closed here or
// it leaks.
func (q *QueuedChannel) forward(promise *future.Future[*Response], resp *Response, err error) {
	var delivered bool
	if err != nil {
		delivered = promise.Fail(err)
	} else {
		delivered = promise.Complete(resp)
	}
	if !delivered && resp != nil {
		_ = resp.Close()
	}
}
