// Package nodeselect dispatches a request across the per-host limited
// channels of one client, per the configured strategy.
package nodeselect

import (
	"context"
	"fmt"
	"strings"

	"github.com/skywalker-88/stormline/internal/channel"
	"github.com/skywalker-88/stormline/internal/future"
	"github.com/skywalker-88/stormline/pkg/metrics"
)

// Strategy names accepted in configuration.
const (
	StrategyPinUntilError = "pin-until-error"
	StrategyRoundRobin    = "round-robin"
	StrategyBalanced      = "balanced"
)

// New builds the node-selection channel for a host set. uris runs parallel
// to hosts and lets a redirect hint (channel.WithPreferredHost) target a
// specific host first.
func New(strategy, channelName string, hosts []channel.LimitedChannel, uris []string) (channel.LimitedChannel, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("node selection needs at least one host")
	}
	var inner channel.LimitedChannel
	switch strategy {
	case StrategyPinUntilError:
		inner = newPinUntilError(channelName, hosts)
	case StrategyRoundRobin:
		inner = newRoundRobin(hosts)
	case StrategyBalanced, "":
		strategy = StrategyBalanced
		inner = newBalanced(channelName, hosts)
	default:
		return nil, fmt.Errorf("unknown node selection strategy %q", strategy)
	}
	metrics.SelectionStrategy.WithLabelValues(channelName, strategy).Inc()
	return &selector{inner: inner, hosts: hosts, uris: uris}, nil
}

// selector honors a preferred-host hint before falling back to the
// strategy's own ordering.
type selector struct {
	inner channel.LimitedChannel
	hosts []channel.LimitedChannel
	uris  []string
}

func (s *selector) MaybeExecute(ctx context.Context, ep channel.Endpoint, req *channel.Request) (*future.Future[*channel.Response], bool) {
	if hint, ok := channel.PreferredHost(ctx); ok {
		for i, uri := range s.uris {
			if !sameHost(uri, hint) {
				continue
			}
			if f, accepted := s.hosts[i].MaybeExecute(ctx, ep, req); accepted {
				return f, true
			}
			break
		}
	}
	return s.inner.MaybeExecute(ctx, ep, req)
}

func sameHost(uri, hint string) bool {
	return strings.TrimSuffix(uri, "/") == strings.TrimSuffix(hint, "/")
}
