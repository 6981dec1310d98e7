package channel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/stormline/internal/future"
	"github.com/skywalker-88/stormline/internal/limiter"
)

// pendingChannel hands out futures that complete only when the test says.
type pendingChannel struct {
	script *scriptChannel
}

func newPendingChannel() *pendingChannel { return &pendingChannel{script: &scriptChannel{}} }

func (p *pendingChannel) Execute(ctx context.Context, ep Endpoint, req *Request) *future.Future[*Response] {
	return p.script.Execute(ctx, ep, req)
}

func TestConcurrencyLimitedDeclinesAtCeiling(t *testing.T) {
	transport := newPendingChannel()
	lim := limiter.New(limiter.HostLevel, "test")
	ch := ConcurrencyLimited(transport, lim, "test", 0)

	// The initial ceiling admits exactly 20 outstanding requests.
	for i := 0; i < 20; i++ {
		_, ok := ch.MaybeExecute(context.Background(), testEndpoint, &Request{})
		require.True(t, ok, "request %d within the ceiling", i)
	}
	_, ok := ch.MaybeExecute(context.Background(), testEndpoint, &Request{})
	assert.False(t, ok, "request past the ceiling must be declined")
	assert.Equal(t, 20, lim.Inflight())
}

func TestPermitReleasedOnCompletion(t *testing.T) {
	transport := newPendingChannel()
	lim := limiter.New(limiter.HostLevel, "test")
	ch := ConcurrencyLimited(transport, lim, "test", 0)

	_, ok := ch.MaybeExecute(context.Background(), testEndpoint, &Request{})
	require.True(t, ok)
	require.Equal(t, 1, lim.Inflight())

	resp, _ := testResponse(200, nil)
	transport.script.call(0).f.Complete(resp)
	assert.Zero(t, lim.Inflight())
	assert.Greater(t, lim.Limit(), 20.0, "a success grows the limit")
	require.NoError(t, resp.Close())
}

func TestQoSResponseBacksOffLimit(t *testing.T) {
	transport := newPendingChannel()
	lim := limiter.New(limiter.HostLevel, "test")
	ch := ConcurrencyLimited(transport, lim, "test", 0)

	f, ok := ch.MaybeExecute(context.Background(), testEndpoint, &Request{})
	require.True(t, ok)
	resp, _ := testResponse(429, nil)
	transport.script.call(0).f.Complete(resp)

	assert.Zero(t, lim.Inflight())
	assert.InDelta(t, 18.0, lim.Limit(), 1e-9, "429 backs the limit off by 0.9")
	got, err := f.Result()
	require.NoError(t, err)
	require.NoError(t, got.Close())
}

func TestServerErrorIgnoredByLimiter(t *testing.T) {
	transport := newPendingChannel()
	lim := limiter.New(limiter.HostLevel, "test")
	ch := ConcurrencyLimited(transport, lim, "test", 0)

	_, ok := ch.MaybeExecute(context.Background(), testEndpoint, &Request{})
	require.True(t, ok)
	resp, _ := testResponse(500, nil)
	transport.script.call(0).f.Complete(resp)

	assert.Zero(t, lim.Inflight())
	assert.Equal(t, 20.0, lim.Limit(), "a plain 500 leaves the limit alone")
	require.NoError(t, resp.Close())
}

func TestPanickingTransportStillReleasesPermit(t *testing.T) {
	boom := ChannelFunc(func(context.Context, Endpoint, *Request) *future.Future[*Response] {
		panic("transport bug")
	})
	lim := limiter.New(limiter.HostLevel, "test")
	ch := ConcurrencyLimited(boom, lim, "test", 0)

	f, ok := ch.MaybeExecute(context.Background(), testEndpoint, &Request{})
	require.True(t, ok)
	_, err := f.Result()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	assert.Zero(t, lim.Inflight(), "failed future must release the permit")
}

func TestGuardedConvertsNilFuture(t *testing.T) {
	nilCh := ChannelFunc(func(context.Context, Endpoint, *Request) *future.Future[*Response] {
		return nil
	})
	f := Guarded(nilCh).Execute(context.Background(), testEndpoint, &Request{})
	require.NotNil(t, f)
	_, err := f.Result()
	require.Error(t, err)
}

func TestUnlimitedAlwaysAccepts(t *testing.T) {
	transport := newPendingChannel()
	ch := Unlimited(transport)
	for i := 0; i < 100; i++ {
		_, ok := ch.MaybeExecute(context.Background(), testEndpoint, &Request{})
		require.True(t, ok)
	}
}
