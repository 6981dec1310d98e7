package channel

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/stormline/internal/future"
	"github.com/skywalker-88/stormline/pkg/metrics"
)

// ServerQoS says what to do with 429/503 responses.
type ServerQoS int

const (
	// AutomaticRetry honors Retry-After and backs off.
	AutomaticRetry ServerQoS = iota
	// PropagateQoSToCaller surfaces 429/503 unchanged.
	PropagateQoSToCaller
)

// TimeoutRetry says whether timed-out attempts may be re-issued.
type TimeoutRetry int

const (
	NoRetryOnTimeout TimeoutRetry = iota
	DangerRetryOnTimeout
)

// Retry reasons reported to the retry meter.
const (
	reason429     = "STATUS_429"
	reason503     = "STATUS_503"
	reason308     = "STATUS_308"
	reason500     = "STATUS_500"
	reasonIO      = "IO_EXCEPTION"
	reasonTimeout = "TIMEOUT"
)

// redirectCap bounds Location-following, which does not consume the retry
// budget and would otherwise loop on a misconfigured server pair.
const redirectCap = 20

// RetryPolicy parameterizes a RetryingChannel.
type RetryPolicy struct {
	MaxRetries  int
	BackoffSlot time.Duration
	ServerQoS   ServerQoS
	OnTimeout   TimeoutRetry
}

// RetryingChannel re-issues failed attempts. The first attempt of a request
// flows through the queued delegate; retries go straight to node selection
// and only fall back to the queue when every host is limited.
type RetryingChannel struct {
	delegate    Channel
	direct      LimitedChannel
	channelName string
	policy      RetryPolicy

	// test seams
	schedule func(time.Duration, func())
	jitter   func(time.Duration) time.Duration
}

func NewRetrying(delegate Channel, direct LimitedChannel, channelName string, policy RetryPolicy) *RetryingChannel {
	return &RetryingChannel{
		delegate:    delegate,
		direct:      direct,
		channelName: channelName,
		policy:      policy,
		schedule:    func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return rand.N(max)
		},
	}
}

func (r *RetryingChannel) Execute(ctx context.Context, ep Endpoint, req *Request) *future.Future[*Response] {
	out := future.New[*Response]()
	r.attempt(ctx, ep, req, out, 0, 0)
	return out
}

func (r *RetryingChannel) attempt(ctx context.Context, ep Endpoint, req *Request, out *future.Future[*Response], failures, redirects int) {
	if out.IsDone() {
		return
	}
	if err := ctx.Err(); err != nil {
		out.Fail(err)
		return
	}

	var f *future.Future[*Response]
	if failures == 0 && redirects == 0 {
		f = r.delegate.Execute(ctx, ep, req)
	} else if lf, ok := r.direct.MaybeExecute(ctx, ep, req); ok {
		f = lf
	} else {
		f = r.delegate.Execute(ctx, ep, req)
	}

	out.OnCancel(func() { f.Cancel() })
	f.Listen(func(resp *Response, err error) {
		r.completed(ctx, ep, req, out, failures, redirects, resp, err)
	})
}

func (r *RetryingChannel) completed(ctx context.Context, ep Endpoint, req *Request, out *future.Future[*Response], failures, redirects int, resp *Response, err error) {
	if out.IsDone() {
		if resp != nil {
			_ = resp.Close()
		}
		return
	}

	if err != nil {
		r.completedWithError(ctx, ep, req, out, failures, redirects, err)
		return
	}

	switch {
	case resp.Status == 308:
		if loc, ok := redirectTarget(resp); ok && redirects < redirectCap {
			metrics.Retry.WithLabelValues(r.channelName, reason308).Inc()
			_ = resp.Close()
			r.attempt(WithPreferredHost(ctx, loc), ep, req, out, failures, redirects+1)
			return
		}
		// No usable Location: treat like any other QoS drop.
		r.retryOrDeliver(ctx, ep, req, out, failures, redirects, resp, reason308, -1)

	case resp.Status == 429 || resp.Status == 503:
		if r.policy.ServerQoS == PropagateQoSToCaller {
			out.Complete(resp)
			return
		}
		reason := reason429
		if resp.Status == 503 {
			reason = reason503
		}
		r.retryOrDeliver(ctx, ep, req, out, failures, redirects, resp, reason, retryAfter(resp))

	case resp.Status == 500 && ep.Idempotent():
		r.retryOrDeliver(ctx, ep, req, out, failures, redirects, resp, reason500, -1)

	default:
		// 2xx, other 4xx/5xx: first completed outcome wins.
		out.Complete(resp)
	}
}

func (r *RetryingChannel) completedWithError(ctx context.Context, ep Endpoint, req *Request, out *future.Future[*Response], failures, redirects int, err error) {
	if errors.Is(err, future.ErrCancelled) || errors.Is(err, context.Canceled) {
		out.Fail(err)
		return
	}
	// Queue overflow is a local admission decision, not a transient fault.
	if errors.Is(err, ErrQueueFull) {
		out.Fail(err)
		return
	}
	reason := reasonIO
	if isTimeout(err) {
		if r.policy.OnTimeout != DangerRetryOnTimeout {
			out.Fail(err)
			return
		}
		reason = reasonTimeout
	}
	if failures >= r.policy.MaxRetries {
		out.Fail(err)
		return
	}
	metrics.Retry.WithLabelValues(r.channelName, reason).Inc()
	r.backoff(ctx, ep, req, out, failures+1, redirects, -1)
}

// retryOrDeliver retries a response-shaped failure if budget remains,
// otherwise delivers the response as-is.
func (r *RetryingChannel) retryOrDeliver(ctx context.Context, ep Endpoint, req *Request, out *future.Future[*Response], failures, redirects int, resp *Response, reason string, after time.Duration) {
	if failures >= r.policy.MaxRetries {
		out.Complete(resp)
		return
	}
	metrics.Retry.WithLabelValues(r.channelName, reason).Inc()
	_ = resp.Close()
	r.backoff(ctx, ep, req, out, failures+1, redirects, after)
}

// backoff sleeps for the server-provided Retry-After when given, otherwise
// for random(0, 2^(failures-1) * slot), so the first retry waits up to one
// slot, then re-attempts.
func (r *RetryingChannel) backoff(ctx context.Context, ep Endpoint, req *Request, out *future.Future[*Response], failures, redirects int, after time.Duration) {
	delay := after
	if delay < 0 {
		delay = r.jitter(r.policy.BackoffSlot * (1 << (failures - 1)))
	}
	log.Debug().
		Str("channel", r.channelName).
		Str("endpoint", ep.EndpointName).
		Int("failures", failures).
		Dur("delay", delay).
		Msg("retry scheduled")
	r.schedule(delay, func() {
		r.attempt(ctx, ep, req, out, failures, redirects)
	})
}

func retryAfter(resp *Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return -1
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return -1
	}
	return time.Duration(secs) * time.Second
}

// redirectTarget extracts the scheme://host base from a 308 Location.
func redirectTarget(resp *Response) (string, bool) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", false
	}
	u, err := url.Parse(loc)
	if err != nil || u.Host == "" {
		return "", false
	}
	return u.Scheme + "://" + u.Host, true
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
