package limiter

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/stormline/internal/future"
)

func succeed(t *testing.T, l *Limiter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		p, ok := l.Acquire()
		require.True(t, ok, "acquire %d", i)
		p.Success()
	}
}

func TestAdditiveIncreaseMultiplicativeDecrease(t *testing.T) {
	l := New(HostLevel, "test")
	require.Equal(t, initialLimit, l.Limit())

	// The limit is a deterministic function of the outcome sequence, so
	// track the recurrence alongside the limiter.
	expected := initialLimit
	succeed(t, l, 40)
	for i := 0; i < 40; i++ {
		expected += 1.0 / expected
	}
	assert.InDelta(t, expected, l.Limit(), 1e-9)
	assert.Greater(t, l.Limit(), 21.0)
	assert.Less(t, l.Limit(), 22.0)

	p, ok := l.Acquire()
	require.True(t, ok)
	p.Dropped()
	expected *= backoffRatio
	assert.InDelta(t, expected, l.Limit(), 1e-9)

	succeed(t, l, 50)
	for i := 0; i < 50; i++ {
		expected += 1.0 / expected
	}
	assert.InDelta(t, expected, l.Limit(), 1e-9)
	assert.Zero(t, l.Inflight())
}

func TestAcquireDeniedAtCeiling(t *testing.T) {
	l := New(HostLevel, "test")

	// Drive the limit down to its floor.
	for l.Limit() > minLimit {
		p, ok := l.Acquire()
		require.True(t, ok)
		p.Dropped()
	}
	require.Equal(t, minLimit, l.Limit())

	p, ok := l.Acquire()
	require.True(t, ok, "floor(limit) is clamped to at least one permit")
	_, ok = l.Acquire()
	assert.False(t, ok, "second permit must be denied at limit 1")

	// A drop at the floor stays at the floor; a success grows by 1/MIN.
	p.Dropped()
	assert.Equal(t, minLimit, l.Limit())
	succeed(t, l, 1)
	assert.InDelta(t, minLimit+1.0/minLimit, l.Limit(), 1e-9)
}

func TestInflightNeverExceedsCeiling(t *testing.T) {
	l := New(HostLevel, "test")
	var held []*Permit
	for {
		p, ok := l.Acquire()
		if !ok {
			break
		}
		held = append(held, p)
		require.LessOrEqual(t, l.Inflight(), int(math.Ceil(l.Limit())))
	}
	assert.Len(t, held, int(initialLimit))
	for _, p := range held {
		p.Ignore()
	}
	assert.Zero(t, l.Inflight())
	assert.Equal(t, initialLimit, l.Limit(), "ignore must not move the limit")
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New(HostLevel, "test")
	p, ok := l.Acquire()
	require.True(t, ok)

	p.Success()
	after := l.Limit()
	p.Success()
	p.Dropped()
	p.Ignore()
	assert.Equal(t, after, l.Limit(), "repeat releases must be no-ops")
	assert.Zero(t, l.Inflight())
}

func TestLeakReleasesAsIgnore(t *testing.T) {
	l := New(HostLevel, "test")
	p, ok := l.Acquire()
	require.True(t, ok)
	require.Equal(t, 1, l.Inflight())

	// Drive the leak path directly; the runtime invokes it when a permit
	// becomes unreachable without a release.
	leakRelease(p.s)
	assert.Zero(t, l.Inflight())
	assert.Equal(t, initialLimit, l.Limit(), "leak releases as ignore")

	// The explicit release afterwards is a no-op.
	p.Success()
	assert.Equal(t, initialLimit, l.Limit())
	assert.Zero(t, l.Inflight())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		err    error
		want   Outcome
	}{
		{status: 200, want: Success},
		{status: 101, want: Success},
		{status: 204, want: Success},
		{status: 404, want: Success},
		{status: 429, want: Drop},
		{status: 503, want: Drop},
		{status: 308, want: Drop},
		{status: 500, want: Ignore},
		{status: 502, want: Ignore},
		{err: errors.New("connection reset"), want: Drop},
		{err: future.ErrCancelled, want: Ignore},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, HostLevel.Classify(tc.status, tc.err), "status=%d err=%v", tc.status, tc.err)
		assert.Equal(t, tc.want, EndpointLevel.Classify(tc.status, tc.err), "status=%d err=%v", tc.status, tc.err)
	}
}
