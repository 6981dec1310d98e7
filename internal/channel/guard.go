package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/stormline/internal/future"
)

// Guarded wraps a channel so that a panic or a nil future from the delegate
// becomes a failed future instead. Stages above rely on this to release
// permits exactly once.
func Guarded(delegate Channel) Channel {
	return guardedChannel{delegate: delegate}
}

type guardedChannel struct {
	delegate Channel
}

func (g guardedChannel) Execute(ctx context.Context, ep Endpoint, req *Request) (f *future.Future[*Response]) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("service", ep.ServiceName).Str("endpoint", ep.EndpointName).Interface("panic", r).Msg("channel panicked")
			f = future.Failed[*Response](fmt.Errorf("channel panicked: %v", r))
		}
	}()
	f = g.delegate.Execute(ctx, ep, req)
	if f == nil {
		log.Error().Str("service", ep.ServiceName).Str("endpoint", ep.EndpointName).Msg("channel returned nil future")
		f = future.Failed[*Response](errors.New("channel returned nil future"))
	}
	return f
}
