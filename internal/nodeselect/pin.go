package nodeselect

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/stormline/internal/channel"
	"github.com/skywalker-88/stormline/internal/future"
	"github.com/skywalker-88/stormline/internal/limiter"
	"github.com/skywalker-88/stormline/pkg/metrics"
)

// Pin advance reasons.
const (
	nextNodeLimited   = "limited"
	nextNodeResponse  = "responseCode"
	nextNodeThrowable = "throwable"
)

const reshuffleBase = 10 * time.Minute

// pinUntilError sticks to one host until it misbehaves, then moves to the
// next in a shuffled order. The order reshuffles periodically so a fleet of
// clients doesn't converge on the same host.
type pinUntilError struct {
	channelName string
	hosts       []channel.LimitedChannel

	mu            sync.Mutex
	order         []int
	cur           int
	nextReshuffle time.Time
}

func newPinUntilError(channelName string, hosts []channel.LimitedChannel) *pinUntilError {
	p := &pinUntilError{
		channelName: channelName,
		hosts:       hosts,
		order:       rand.Perm(len(hosts)),
	}
	p.nextReshuffle = time.Now().Add(reshuffleInterval())
	return p
}

func reshuffleInterval() time.Duration {
	return reshuffleBase + rand.N(reshuffleBase/2)
}

func (p *pinUntilError) MaybeExecute(ctx context.Context, ep channel.Endpoint, req *channel.Request) (*future.Future[*channel.Response], bool) {
	p.maybeReshuffle()
	for range p.hosts {
		p.mu.Lock()
		pos := p.cur
		host := p.hosts[p.order[pos]]
		p.mu.Unlock()

		f, ok := host.MaybeExecute(ctx, ep, req)
		if !ok {
			p.advance(pos, nextNodeLimited)
			continue
		}
		f.Listen(func(resp *channel.Response, err error) {
			switch {
			case err != nil:
				p.advance(pos, nextNodeThrowable)
			case limiter.HostLevel.Classify(resp.Status, nil) == limiter.Drop:
				p.advance(pos, nextNodeResponse)
			default:
				metrics.PinSuccess.WithLabelValues(p.channelName).Inc()
			}
		})
		return f, true
	}
	return nil, false
}

// advance moves off a host, but only if the pin still points at it; late
// completions from an already-abandoned host must not skip its successor.
func (p *pinUntilError) advance(fromPos int, reason string) {
	p.mu.Lock()
	moved := p.cur == fromPos
	if moved {
		p.cur = (fromPos + 1) % len(p.order)
	}
	p.mu.Unlock()
	if moved {
		metrics.PinNextNode.WithLabelValues(p.channelName, reason).Inc()
	}
}

func (p *pinUntilError) maybeReshuffle() {
	now := time.Now()
	p.mu.Lock()
	due := now.After(p.nextReshuffle)
	if due {
		rand.Shuffle(len(p.order), func(i, j int) { p.order[i], p.order[j] = p.order[j], p.order[i] })
		p.cur = 0
		p.nextReshuffle = now.Add(reshuffleInterval())
	}
	p.mu.Unlock()
	if due {
		metrics.PinReshuffle.WithLabelValues(p.channelName).Inc()
		log.Debug().Str("channel", p.channelName).Msg("pinned host order reshuffled")
	}
}
