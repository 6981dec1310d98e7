package channel

import (
	"context"

	"github.com/skywalker-88/stormline/internal/future"
	"github.com/skywalker-88/stormline/pkg/metrics"
)

// Instrumented marks the client response meter for every call completed
// through the pipeline. Errors and cancellations count as failures.
func Instrumented(delegate Channel, channelName string) Channel {
	return ChannelFunc(func(ctx context.Context, ep Endpoint, req *Request) *future.Future[*Response] {
		f := delegate.Execute(ctx, ep, req)
		f.Listen(func(resp *Response, err error) {
			status := "failure"
			if err == nil && resp != nil {
				status = metrics.StatusTag(resp.Status)
			}
			metrics.ClientResponse.WithLabelValues(channelName, ep.ServiceName, ep.EndpointName, status).Inc()
		})
		return f
	})
}
