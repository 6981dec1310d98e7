// Package transport adapts an upstream base URL to the channel contract
// over net/http. The engine itself is transport-agnostic; this adapter
// exists for the simulator and for wiring real clients.
package transport

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/skywalker-88/stormline/internal/channel"
	"github.com/skywalker-88/stormline/internal/future"
)

// HTTP turns one upstream base URL into a Channel. Each Execute runs the
// round trip on its own goroutine; the returned future completes when the
// response headers arrive.
type HTTP struct {
	client      *http.Client
	baseURL     string
	channelName string
}

func NewHTTP(client *http.Client, baseURL, channelName string) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		client:      client,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		channelName: channelName,
	}
}

func (t *HTTP) Execute(ctx context.Context, ep channel.Endpoint, req *channel.Request) *future.Future[*channel.Response] {
	f := future.New[*channel.Response]()
	ctx, cancel := context.WithCancel(ctx)
	f.OnCancel(cancel)

	go func() {
		hreq, err := http.NewRequestWithContext(ctx, ep.HTTPMethod, t.url(ep, req), req.Body)
		if err != nil {
			cancel()
			f.Fail(err)
			return
		}
		for k, vs := range req.Header {
			hreq.Header[k] = vs
		}
		resp, err := t.client.Do(hreq)
		if err != nil {
			cancel()
			f.Fail(err)
			return
		}
		body := &cancelOnClose{rc: resp.Body, cancel: cancel}
		if !f.Complete(channel.NewResponse(resp.StatusCode, resp.Header, body, t.channelName, ep)) {
			_ = body.Close()
		}
	}()
	return f
}

func (t *HTTP) url(ep channel.Endpoint, req *channel.Request) string {
	path := ep.PathTemplate
	for k, v := range req.PathParams {
		path = strings.ReplaceAll(path, "{"+k+"}", v)
	}
	u := t.baseURL + path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}
	return u
}

// cancelOnClose releases the request context when the response body is
// closed, so the connection can be reused without the context outliving it.
type cancelOnClose struct {
	rc     io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Read(p []byte) (int, error) { return c.rc.Read(p) }

func (c *cancelOnClose) Close() error {
	err := c.rc.Close()
	c.cancel()
	return err
}
