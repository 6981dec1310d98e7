package nodeselect

import (
	"context"
	"sync/atomic"

	"github.com/skywalker-88/stormline/internal/channel"
	"github.com/skywalker-88/stormline/internal/future"
)

// roundRobin rotates the starting host on every call and scans forward on
// rejection; a full revolution of refusals is limited.
type roundRobin struct {
	hosts []channel.LimitedChannel
	next  atomic.Uint64
}

func newRoundRobin(hosts []channel.LimitedChannel) *roundRobin {
	return &roundRobin{hosts: hosts}
}

func (r *roundRobin) MaybeExecute(ctx context.Context, ep channel.Endpoint, req *channel.Request) (*future.Future[*channel.Response], bool) {
	start := r.next.Add(1)
	n := uint64(len(r.hosts))
	for i := uint64(0); i < n; i++ {
		if f, ok := r.hosts[(start+i)%n].MaybeExecute(ctx, ep, req); ok {
			return f, true
		}
	}
	return nil, false
}
