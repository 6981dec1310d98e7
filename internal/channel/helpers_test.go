package channel

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/skywalker-88/stormline/internal/future"
)

var testEndpoint = Endpoint{
	ServiceName:  "svc",
	EndpointName: "op",
	HTTPMethod:   http.MethodGet,
	PathTemplate: "/op",
}

// trackingBody reports whether anyone closed it.
type trackingBody struct {
	closed atomic.Bool
}

func (b *trackingBody) Read([]byte) (int, error) { return 0, io.EOF }

func (b *trackingBody) Close() error {
	b.closed.Store(true)
	return nil
}

func testResponse(status int, header http.Header) (*Response, *trackingBody) {
	body := &trackingBody{}
	return NewResponse(status, header, body, "test", testEndpoint), body
}

type dispatched struct {
	ctx context.Context
	ep  Endpoint
	f   *future.Future[*Response]
}

// stubLimited hands out pending futures while not limited, and records
// every accepted dispatch.
type stubLimited struct {
	mu      sync.Mutex
	limited bool
	calls   []dispatched
}

func (s *stubLimited) MaybeExecute(ctx context.Context, ep Endpoint, req *Request) (*future.Future[*Response], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limited {
		return nil, false
	}
	f := future.New[*Response]()
	s.calls = append(s.calls, dispatched{ctx: ctx, ep: ep, f: f})
	return f, true
}

func (s *stubLimited) setLimited(limited bool) {
	s.mu.Lock()
	s.limited = limited
	s.mu.Unlock()
}

func (s *stubLimited) accepted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *stubLimited) call(i int) dispatched {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}

// scriptChannel replays a fixed sequence of results, one per Execute.
type scriptChannel struct {
	mu      sync.Mutex
	results []scripted
	calls   []dispatched
}

type scripted struct {
	resp *Response
	err  error
}

func (s *scriptChannel) push(resp *Response, err error) {
	s.mu.Lock()
	s.results = append(s.results, scripted{resp: resp, err: err})
	s.mu.Unlock()
}

func (s *scriptChannel) Execute(ctx context.Context, ep Endpoint, req *Request) *future.Future[*Response] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		f := future.New[*Response]()
		s.calls = append(s.calls, dispatched{ctx: ctx, ep: ep, f: f})
		return f
	}
	next := s.results[0]
	s.results = s.results[1:]
	var f *future.Future[*Response]
	if next.err != nil {
		f = future.Failed[*Response](next.err)
	} else {
		f = future.Completed(next.resp)
	}
	s.calls = append(s.calls, dispatched{ctx: ctx, ep: ep, f: f})
	return f
}

func (s *scriptChannel) executed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptChannel) call(i int) dispatched {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[i]
}
