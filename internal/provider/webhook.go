package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
)

const (
	defaultWebhookTimeout = 30 * time.Second
	// maxResponseBodyBytes bounds what is kept of a receiver's response.
	maxResponseBodyBytes = 64 * 1024
)

// WebhookSender posts signed webhook payloads. Redirects are never followed,
// a 3xx response is returned as is and counts as a failure.
type WebhookSender struct {
	client *resty.Client
}

func NewWebhookSender(timeout time.Duration) *WebhookSender {
	return NewWebhookSenderWithClient(resty.New(), timeout)
}

func NewWebhookSenderWithClient(client *resty.Client, timeout time.Duration) *WebhookSender {
	if client == nil {
		client = resty.New()
	}
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}

	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	client.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}))

	return &WebhookSender{client: client}
}

func (s *WebhookSender) Send(ctx context.Context, req Request) (*Response, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("webhook sender is not initialized")
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, &DeliveryError{Reason: ReasonNetwork, Cause: fmt.Errorf("endpoint url is empty")}
	}

	r := s.client.R().SetContext(ctx).SetBody(req.Body)
	for name, values := range req.Headers {
		for i, value := range values {
			if i == 0 {
				r.SetHeader(name, value)
				continue
			}
			r.Header.Add(name, value)
		}
	}

	start := time.Now()
	res, err := r.Post(req.URL)
	elapsed := time.Since(start)
	if err != nil {
		return nil, &DeliveryError{Reason: transportReason(err), Cause: err}
	}

	response := &Response{
		StatusCode: res.StatusCode(),
		Body:       truncateBody(res.Body(), maxResponseBodyBytes),
		Duration:   elapsed,
	}
	if response.IsSuccess() {
		return response, nil
	}

	return response, &DeliveryError{
		StatusCode: response.StatusCode,
		Reason:     statusReason(response.StatusCode),
	}
}

// truncateBody cuts body to at most limit bytes without splitting a UTF-8 rune
// at the end.
func truncateBody(body []byte, limit int) []byte {
	if len(body) <= limit {
		return body
	}
	body = body[:limit]

	start := len(body) - 1
	for start > 0 && start > len(body)-utf8.UTFMax && !utf8.RuneStart(body[start]) {
		start--
	}
	if start >= 0 && !utf8.FullRune(body[start:]) {
		body = body[:start]
	}
	return body
}
