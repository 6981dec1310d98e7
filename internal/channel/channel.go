// Package channel defines the request execution contract of the client and
// the pipeline stages that implement admission: panic guarding, per-host
// concurrency limiting, queueing, session pinning, and retries.
package channel

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/skywalker-88/stormline/internal/future"
	"github.com/skywalker-88/stormline/pkg/metrics"
)

// Endpoint identifies a remote operation. Immutable value.
type Endpoint struct {
	ServiceName  string
	EndpointName string
	HTTPMethod   string
	PathTemplate string
}

// Idempotent reports whether the endpoint's method is safe to re-issue after
// an ambiguous failure.
func (e Endpoint) Idempotent() bool {
	switch e.HTTPMethod {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// Request carries everything needed to issue one call. The engine never
// mutates a request; the same value may be re-dispatched on retry.
type Request struct {
	Header     http.Header
	PathParams map[string]string
	Query      url.Values
	Body       io.Reader
}

// Channel executes a request and always yields a completed future.
type Channel interface {
	Execute(ctx context.Context, ep Endpoint, req *Request) *future.Future[*Response]
}

// LimitedChannel executes a request or declines it. ok=false means
// "limited": try another host or queue the request.
type LimitedChannel interface {
	MaybeExecute(ctx context.Context, ep Endpoint, req *Request) (*future.Future[*Response], bool)
}

// ChannelFunc adapts a function to the Channel interface.
type ChannelFunc func(ctx context.Context, ep Endpoint, req *Request) *future.Future[*Response]

func (f ChannelFunc) Execute(ctx context.Context, ep Endpoint, req *Request) *future.Future[*Response] {
	return f(ctx, ep, req)
}

// LimitedChannelFunc adapts a function to the LimitedChannel interface.
type LimitedChannelFunc func(ctx context.Context, ep Endpoint, req *Request) (*future.Future[*Response], bool)

func (f LimitedChannelFunc) MaybeExecute(ctx context.Context, ep Endpoint, req *Request) (*future.Future[*Response], bool) {
	return f(ctx, ep, req)
}

// Response is a scoped resource: whoever ends up owning it must Close it
// exactly once. A response dropped unclosed is closed by a runtime cleanup
// and counted as a leak.
type Response struct {
	Status int
	Header http.Header

	s       *respState
	cleanup runtime.Cleanup
}

type respState struct {
	body        io.ReadCloser
	closed      atomic.Bool
	channelName string
	service     string
	endpoint    string
}

// NewResponse wraps a transport result. channelName and ep label any leak
// report for this response.
func NewResponse(status int, header http.Header, body io.ReadCloser, channelName string, ep Endpoint) *Response {
	if header == nil {
		header = make(http.Header)
	}
	s := &respState{
		body:        body,
		channelName: channelName,
		service:     ep.ServiceName,
		endpoint:    ep.EndpointName,
	}
	r := &Response{Status: status, Header: header, s: s}
	r.cleanup = runtime.AddCleanup(r, leakClose, s)
	return r
}

func leakClose(s *respState) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	metrics.ResponseLeak.WithLabelValues(s.channelName, s.service, s.endpoint).Inc()
	log.Warn().
		Str("channel", s.channelName).
		Str("service", s.service).
		Str("endpoint", s.endpoint).
		Msg("response dropped without close")
	if s.body != nil {
		_ = s.body.Close()
	}
}

// Body returns the response body reader. Reading past Close is undefined.
func (r *Response) Body() io.Reader {
	if r.s.body == nil {
		return nil
	}
	return r.s.body
}

// Close releases the response body. Closing twice is a programming error;
// the second call is a logged no-op.
func (r *Response) Close() error {
	if !r.s.closed.CompareAndSwap(false, true) {
		log.Warn().Str("channel", r.s.channelName).Msg("response closed twice")
		return nil
	}
	r.cleanup.Stop()
	if r.s.body == nil {
		return nil
	}
	return r.s.body.Close()
}

type preferredHostKey struct{}

// WithPreferredHost marks ctx so node selection tries the host serving
// baseURI first. Set by the redirect-follow path.
func WithPreferredHost(ctx context.Context, baseURI string) context.Context {
	return context.WithValue(ctx, preferredHostKey{}, baseURI)
}

// PreferredHost returns the host hint set by WithPreferredHost, if any.
func PreferredHost(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(preferredHostKey{}).(string)
	return v, ok
}
