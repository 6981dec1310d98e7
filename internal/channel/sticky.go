package channel

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/stormline/internal/future"
)

// NewStickyView builds a session-pinned LimitedChannel over a set of host
// channels: the first host to accept a dispatch is recorded, and every later
// request of the session goes only to that host, even when another host
// would be preferred. Queue a sticky view with NewQueued to get the
// session-scoped queued channel.
func NewStickyView(hosts []LimitedChannel, channelName string) LimitedChannel {
	view := &stickyView{
		hosts:       hosts,
		channelName: channelName,
		sessionID:   uuid.NewString(),
	}
	view.pinned.Store(-1)
	return view
}

type stickyView struct {
	hosts       []LimitedChannel
	channelName string
	sessionID   string
	pinned      atomic.Int64
}

func (s *stickyView) MaybeExecute(ctx context.Context, ep Endpoint, req *Request) (*future.Future[*Response], bool) {
	if idx := s.pinned.Load(); idx >= 0 {
		return s.hosts[idx].MaybeExecute(ctx, ep, req)
	}
	for i, host := range s.hosts {
		f, ok := host.MaybeExecute(ctx, ep, req)
		if !ok {
			continue
		}
		if s.pinned.CompareAndSwap(-1, int64(i)) {
			log.Debug().
				Str("channel", s.channelName).
				Str("session", s.sessionID).
				Int("host", i).
				Msg("session pinned")
		}
		return f, true
	}
	return nil, false
}
