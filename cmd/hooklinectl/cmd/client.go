package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const headerOrgID = "X-Hookline-Org"

type apiClient struct {
	http *resty.Client
}

// apiError is a non-2xx answer from the api.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned %d", e.StatusCode)
	}
	return fmt.Sprintf("api returned %d: %s", e.StatusCode, e.Message)
}

func newAPIClient(baseURL string, org string, timeout time.Duration) *apiClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if org = strings.TrimSpace(org); org != "" {
		client.SetHeader(headerOrgID, org)
	}
	return &apiClient{http: client}
}

// do sends body as JSON when non-nil and decodes a 2xx answer into out when
// non-nil.
func (c *apiClient) do(ctx context.Context, method string, path string, body any, out any) error {
	var errBody struct {
		Error string `json:"error"`
	}

	req := c.http.R().SetContext(ctx).SetError(&errBody)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	if resp.IsError() {
		return &apiError{StatusCode: resp.StatusCode(), Message: errBody.Error}
	}
	return nil
}

type application struct {
	ID        string    `json:"id"`
	UID       *string   `json:"uid,omitempty"`
	Name      string    `json:"name"`
	RateLimit *int      `json:"rateLimit,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type endpoint struct {
	ID          string            `json:"id"`
	UID         *string           `json:"uid,omitempty"`
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	FilterTypes []string          `json:"filterTypes,omitempty"`
	Channels    []string          `json:"channels,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Disabled    bool              `json:"disabled"`
	RateLimit   *int              `json:"rateLimit,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

type message struct {
	ID        string    `json:"id"`
	EventID   *string   `json:"eventId,omitempty"`
	EventType string    `json:"eventType"`
	Payload   any       `json:"payload"`
	Channels  []string  `json:"channels,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type attempt struct {
	ID                 string    `json:"id"`
	EndpointID         string    `json:"endpointId"`
	URL                string    `json:"url"`
	ResponseStatusCode int       `json:"responseStatusCode"`
	Status             string    `json:"status"`
	TriggerType        string    `json:"triggerType"`
	Timestamp          time.Time `json:"timestamp"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func (c *apiClient) createApplication(ctx context.Context, name string, uid string) (*application, error) {
	body := map[string]any{"name": name}
	if uid != "" {
		body["uid"] = uid
	}
	var out application
	if err := c.do(ctx, http.MethodPost, "/api/v1/app", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) getApplication(ctx context.Context, appID string) (*application, error) {
	var out application
	if err := c.do(ctx, http.MethodGet, "/api/v1/app/"+appID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) createEndpoint(ctx context.Context, appID string, body map[string]any) (*endpoint, error) {
	var out endpoint
	if err := c.do(ctx, http.MethodPost, "/api/v1/app/"+appID+"/endpoint", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) listEndpoints(ctx context.Context, appID string) ([]endpoint, error) {
	var out listResponse[endpoint]
	if err := c.do(ctx, http.MethodGet, "/api/v1/app/"+appID+"/endpoint", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *apiClient) updateEndpoint(ctx context.Context, appID string, endpointID string, body map[string]any) (*endpoint, error) {
	var out endpoint
	if err := c.do(ctx, http.MethodPatch, "/api/v1/app/"+appID+"/endpoint/"+endpointID, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) deleteEndpoint(ctx context.Context, appID string, endpointID string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/app/"+appID+"/endpoint/"+endpointID, nil, nil)
}

func (c *apiClient) endpointSecret(ctx context.Context, appID string, endpointID string) (string, error) {
	var out struct {
		Key string `json:"key"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/app/"+appID+"/endpoint/"+endpointID+"/secret", nil, &out)
	return out.Key, err
}

func (c *apiClient) rotateSecret(ctx context.Context, appID string, endpointID string, key string) error {
	var body any
	if key != "" {
		body = map[string]string{"key": key}
	}
	return c.do(ctx, http.MethodPost, "/api/v1/app/"+appID+"/endpoint/"+endpointID+"/secret/rotate", body, nil)
}

func (c *apiClient) recoverEndpoint(ctx context.Context, appID string, endpointID string, since time.Time) (int, error) {
	var out struct {
		Enqueued int `json:"enqueued"`
	}
	body := map[string]string{"since": since.UTC().Format(time.RFC3339)}
	err := c.do(ctx, http.MethodPost, "/api/v1/app/"+appID+"/endpoint/"+endpointID+"/recover", body, &out)
	return out.Enqueued, err
}

func (c *apiClient) sendMessage(ctx context.Context, appID string, body map[string]any) (*message, error) {
	var out message
	if err := c.do(ctx, http.MethodPost, "/api/v1/app/"+appID+"/msg", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *apiClient) getMessage(ctx context.Context, appID string, msgID string) (*message, error) {
	var out message
	if err := c.do(ctx, http.MethodGet, "/api/v1/app/"+appID+"/msg/"+msgID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type attemptQuery struct {
	endpointID string
	status     string
	limit      int
}

func (q attemptQuery) encode() string {
	values := url.Values{}
	if q.endpointID != "" {
		values.Set("endpointId", q.endpointID)
	}
	if q.status != "" {
		values.Set("status", q.status)
	}
	if q.limit > 0 {
		values.Set("limit", strconv.Itoa(q.limit))
	}
	if len(values) == 0 {
		return ""
	}
	return "?" + values.Encode()
}

func (c *apiClient) listAttempts(ctx context.Context, appID string, msgID string, query attemptQuery) ([]attempt, error) {
	var out listResponse[attempt]
	path := "/api/v1/app/" + appID + "/msg/" + msgID + "/attempt" + query.encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *apiClient) resend(ctx context.Context, appID string, msgID string, endpointID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/app/"+appID+"/msg/"+msgID+"/endpoint/"+endpointID+"/resend", nil, nil)
}
