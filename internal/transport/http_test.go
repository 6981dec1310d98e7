package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalker-88/stormline/internal/channel"
)

func TestHTTPRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/items/42", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("verbose"))
		assert.Equal(t, "yes", r.Header.Get("X-Test"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	t.Cleanup(srv.Close)

	ch := NewHTTP(srv.Client(), srv.URL, "test")
	ep := channel.Endpoint{ServiceName: "svc", EndpointName: "getItem", HTTPMethod: http.MethodGet, PathTemplate: "/items/{id}"}
	req := &channel.Request{
		Header:     http.Header{"X-Test": []string{"yes"}},
		PathParams: map[string]string{"id": "42"},
		Query:      url.Values{"verbose": []string{"1"}},
	}

	resp, err := ch.Execute(context.Background(), ep, req).Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	body, err := io.ReadAll(resp.Body())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42}`, string(body))
	require.NoError(t, resp.Close())
}

func TestHTTPReportsTransportError(t *testing.T) {
	// A closed server yields a connection error, not a response.
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	ch := NewHTTP(nil, srv.URL, "test")
	ep := channel.Endpoint{ServiceName: "svc", EndpointName: "ping", HTTPMethod: http.MethodGet, PathTemplate: "/ping"}
	_, err := ch.Execute(context.Background(), ep, &channel.Request{}).Await(context.Background())
	require.Error(t, err)
}

func TestHTTPCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	ch := NewHTTP(srv.Client(), srv.URL, "test")
	ep := channel.Endpoint{ServiceName: "svc", EndpointName: "ping", HTTPMethod: http.MethodGet, PathTemplate: "/ping"}
	f := ch.Execute(context.Background(), ep, &channel.Request{})
	<-started
	require.True(t, f.Cancel())

	<-f.Done()
	_, err := f.Result()
	require.Error(t, err)
}
