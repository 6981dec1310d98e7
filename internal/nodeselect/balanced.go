package nodeselect

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skywalker-88/stormline/internal/channel"
	"github.com/skywalker-88/stormline/internal/future"
	"github.com/skywalker-88/stormline/pkg/metrics"
)

const (
	scoreHalfLife = 30 * time.Second
	// qosPenalty makes a host that just said 429/503 very unattractive
	// until the penalty decays away.
	qosPenalty     = 10.0
	failurePenalty = 1.0
	tieBreakNoise  = 0.01
)

// balanced scores every host and tries them cheapest-first. Score is
// outstanding requests plus a decaying failure penalty, so idle healthy
// hosts score zero and recently-struggling hosts sink to the back.
type balanced struct {
	channelName string
	hosts       []*scoredHost
}

type scoredHost struct {
	index    string
	ch       channel.LimitedChannel
	inflight atomic.Int64
	failures decayingSum
}

func newBalanced(channelName string, hosts []channel.LimitedChannel) *balanced {
	b := &balanced{channelName: channelName}
	for i, h := range hosts {
		b.hosts = append(b.hosts, &scoredHost{
			index:    strconv.Itoa(i),
			ch:       h,
			failures: decayingSum{halfLife: scoreHalfLife},
		})
	}
	return b
}

func (b *balanced) MaybeExecute(ctx context.Context, ep channel.Endpoint, req *channel.Request) (*future.Future[*channel.Response], bool) {
	type ranked struct {
		host  *scoredHost
		score float64
	}
	order := make([]ranked, 0, len(b.hosts))
	for _, h := range b.hosts {
		score := float64(h.inflight.Load()) + h.failures.get()
		metrics.BalancedScore.WithLabelValues(b.channelName, h.index).Set(score)
		order = append(order, ranked{host: h, score: score + rand.Float64()*tieBreakNoise})
	}
	sort.Slice(order, func(i, j int) bool { return order[i].score < order[j].score })

	for _, r := range order {
		h := r.host
		f, ok := h.ch.MaybeExecute(ctx, ep, req)
		if !ok {
			continue
		}
		h.inflight.Add(1)
		f.Listen(func(resp *channel.Response, err error) {
			h.inflight.Add(-1)
			switch {
			case err != nil:
				h.failures.add(failurePenalty)
			case resp.Status == 429 || resp.Status == 503:
				h.failures.add(qosPenalty)
			case resp.Status >= 500:
				h.failures.add(failurePenalty)
			}
		})
		return f, true
	}
	return nil, false
}

// decayingSum is a coarse exponentially-decaying accumulator: the stored
// value halves every halfLife of wall-clock time.
type decayingSum struct {
	halfLife time.Duration

	mu    sync.Mutex
	value float64
	last  time.Time
}

func (d *decayingSum) add(x float64) {
	d.mu.Lock()
	d.decayLocked(time.Now())
	d.value += x
	d.mu.Unlock()
}

func (d *decayingSum) get() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decayLocked(time.Now())
	return d.value
}

func (d *decayingSum) decayLocked(now time.Time) {
	if d.last.IsZero() {
		d.last = now
		return
	}
	elapsed := now.Sub(d.last)
	if elapsed <= 0 {
		return
	}
	d.value *= math.Exp2(-float64(elapsed) / float64(d.halfLife))
	d.last = now
}
