package limiter

import (
	"context"
	"errors"

	"github.com/skywalker-88/stormline/internal/future"
)

// Outcome is the class fed back to the limiter when a permit is released.
type Outcome int

const (
	// Success grows the limit additively.
	Success Outcome = iota
	// Drop backs the limit off multiplicatively.
	Drop
	// Ignore leaves the limit untouched.
	Ignore
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Drop:
		return "drop"
	default:
		return "ignore"
	}
}

// Behavior decides what counts as success, drop, and ignore for a limiter.
type Behavior int

const (
	// HostLevel limits outstanding requests against a single upstream host.
	HostLevel Behavior = iota
	// EndpointLevel limits outstanding requests against a single endpoint.
	EndpointLevel
)

// Classify maps a completed attempt to a limiter outcome. QoS rejections
// (429/503) and 308 signal server load and back the limit off, as do IO
// failures. Other 5xx are the server's own problem and leave the limit
// alone, as does caller cancellation.
func (b Behavior) Classify(status int, err error) Outcome {
	if err != nil {
		if errors.Is(err, future.ErrCancelled) || errors.Is(err, context.Canceled) {
			return Ignore
		}
		return Drop
	}
	switch {
	case status == 429 || status == 503 || status == 308:
		return Drop
	case status >= 500:
		return Ignore
	default:
		return Success
	}
}
