package provider

import (
	"context"
	"net/http"
	"time"
)

// Sender performs a single outbound webhook POST. A response with any status
// code is returned together with a *DeliveryError when the status is not 2xx.
// Transport failures return a nil response.
type Sender interface {
	Send(ctx context.Context, req Request) (*Response, error)
}

type Request struct {
	URL     string
	Headers http.Header
	Body    []byte
}

// Response stores the call metadata recorded on a message attempt.
type Response struct {
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}
