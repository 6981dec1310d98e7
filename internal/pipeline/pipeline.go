// Package pipeline composes the channel stages into the fixed per-client
// order: transport → concurrency limit per host → node selection → queue →
// retries.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/stormline/internal/channel"
	"github.com/skywalker-88/stormline/internal/future"
	"github.com/skywalker-88/stormline/internal/limiter"
	"github.com/skywalker-88/stormline/internal/nodeselect"
	"github.com/skywalker-88/stormline/pkg/config"
)

// Host pairs an upstream base URI with the transport channel that reaches
// it.
type Host struct {
	URI       string
	Transport channel.Channel
}

// Pipeline is the composed client channel. It also hands out session-pinned
// sticky channels over the same host set.
type Pipeline struct {
	cfg    config.Client
	policy channel.RetryPolicy
	hosts  []channel.LimitedChannel
	uris   []string
	top    channel.Channel
}

func New(cfg config.Client, hosts []Host) (*Pipeline, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("client %s has no hosts", cfg.ClientName)
	}

	p := &Pipeline{cfg: cfg, policy: retryPolicy(cfg)}
	for i, h := range hosts {
		p.uris = append(p.uris, h.URI)
		if cfg.ClientQoS == config.ClientQoSDangerousDisable {
			p.hosts = append(p.hosts, channel.Unlimited(h.Transport))
			continue
		}
		lim := limiter.New(limiter.HostLevel, cfg.ChannelName)
		p.hosts = append(p.hosts, channel.ConcurrencyLimited(h.Transport, lim, cfg.ChannelName, i))
	}
	if cfg.ClientQoS == config.ClientQoSDangerousDisable {
		log.Warn().Str("channel", cfg.ChannelName).Msg("sympathetic client QoS disabled")
	}

	selection, err := nodeselect.New(cfg.NodeSelectionStrategy, cfg.ChannelName, p.hosts, p.uris)
	if err != nil {
		return nil, err
	}
	queued := channel.NewQueued(selection, cfg.ChannelName, cfg.MaxQueueSize)
	retrying := channel.NewRetrying(queued, selection, cfg.ChannelName, p.policy)
	p.top = channel.Instrumented(retrying, cfg.ChannelName)

	log.Info().
		Str("channel", cfg.ChannelName).
		Str("client", cfg.ClientName).
		Int("hosts", len(hosts)).
		Str("strategy", cfg.NodeSelectionStrategy).
		Int("max_queue_size", cfg.MaxQueueSize).
		Msg("client pipeline built")
	return p, nil
}

func (p *Pipeline) Execute(ctx context.Context, ep channel.Endpoint, req *channel.Request) *future.Future[*channel.Response] {
	return p.top.Execute(ctx, ep, req)
}

// StickySession returns a channel whose requests all land on whichever host
// accepts the session's first dispatch. Each call starts a fresh session
// with its own queue.
func (p *Pipeline) StickySession() channel.Channel {
	view := channel.NewStickyView(p.hosts, p.cfg.ChannelName)
	queued := channel.NewQueued(view, p.cfg.ChannelName, p.cfg.MaxQueueSize)
	retrying := channel.NewRetrying(queued, view, p.cfg.ChannelName, p.policy)
	return channel.Instrumented(retrying, p.cfg.ChannelName)
}

func retryPolicy(cfg config.Client) channel.RetryPolicy {
	policy := channel.RetryPolicy{
		MaxRetries:  cfg.MaxNumRetries,
		BackoffSlot: time.Duration(cfg.BackoffSlotSizeMS) * time.Millisecond,
	}
	if cfg.ServerQoS == config.ServerQoSPropagate {
		policy.ServerQoS = channel.PropagateQoSToCaller
	}
	if cfg.RetryOnTimeout == config.RetryOnTimeoutDanger {
		policy.OnTimeout = channel.DangerRetryOnTimeout
	}
	return policy
}
