package channel

import (
	"context"
	"strconv"

	"github.com/skywalker-88/stormline/internal/future"
	"github.com/skywalker-88/stormline/internal/limiter"
	"github.com/skywalker-88/stormline/pkg/metrics"
)

const limitedByConcurrency = "concurrency-limiter"

// Unlimited adapts a Channel to a LimitedChannel that always accepts. Used
// when sympathetic client QoS is disabled.
func Unlimited(delegate Channel) LimitedChannel {
	guarded := Guarded(delegate)
	return LimitedChannelFunc(func(ctx context.Context, ep Endpoint, req *Request) (*future.Future[*Response], bool) {
		return guarded.Execute(ctx, ep, req), true
	})
}

// ConcurrencyLimited gates one host's channel behind an AIMD limiter. Every
// accepted request carries a permit that is released, with the outcome of
// the response, exactly once.
func ConcurrencyLimited(delegate Channel, lim *limiter.Limiter, channelName string, hostIndex int) LimitedChannel {
	return &concurrencyLimitedChannel{
		delegate:    Guarded(delegate),
		lim:         lim,
		channelName: channelName,
		hostIndex:   strconv.Itoa(hostIndex),
	}
}

type concurrencyLimitedChannel struct {
	delegate    Channel
	lim         *limiter.Limiter
	channelName string
	hostIndex   string
}

func (c *concurrencyLimitedChannel) MaybeExecute(ctx context.Context, ep Endpoint, req *Request) (*future.Future[*Response], bool) {
	permit, ok := c.lim.Acquire()
	if !ok {
		metrics.Limited.WithLabelValues(c.channelName, limitedByConcurrency).Inc()
		return nil, false
	}
	c.publishGauges()

	f := c.delegate.Execute(ctx, ep, req)
	f.Listen(func(resp *Response, err error) {
		if resp != nil {
			permit.Release(resp.Status, err)
		} else {
			permit.Release(0, err)
		}
		c.publishGauges()
	})
	return f, true
}

func (c *concurrencyLimitedChannel) publishGauges() {
	metrics.LimiterMax.WithLabelValues(c.channelName, c.hostIndex).Set(c.lim.Limit())
	metrics.LimiterInFlight.WithLabelValues(c.channelName, c.hostIndex).Set(float64(c.lim.Inflight()))
}
