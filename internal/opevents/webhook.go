package opevents

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/kursadbilgin/hookline/internal/observability"
)

const (
	defaultSendTimeout = 10 * time.Second
	managementTokenTTL = 5 * time.Minute
	managementIssuer   = "hookline"
	// ManagementOrgID owns the applications that receive operational webhooks.
	ManagementOrgID = "org_00000000000000000000000000"
)

type messageIn struct {
	EventType EventType `json:"eventType"`
	Payload   Event     `json:"payload"`
}

// WebhookEmitter posts operational events as messages to another webhook
// server, authenticated with a management JWT. The recipient org id is the
// application id on the receiving side.
type WebhookEmitter struct {
	baseURL string
	secret  []byte
	timeout time.Duration
	client  *resty.Client
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewEmitter returns a NopEmitter when baseURL is empty.
func NewEmitter(baseURL string, jwtSecret string, logger *zap.Logger, metrics *observability.Metrics) Emitter {
	baseURL = sanitizeURL(baseURL)
	if baseURL == "" {
		return NopEmitter{}
	}
	return NewWebhookEmitter(resty.New(), baseURL, jwtSecret, defaultSendTimeout, logger, metrics)
}

func NewWebhookEmitter(client *resty.Client, baseURL string, jwtSecret string, timeout time.Duration, logger *zap.Logger, metrics *observability.Metrics) *WebhookEmitter {
	if client == nil {
		client = resty.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	client.SetRetryCount(0)

	return &WebhookEmitter{
		baseURL: sanitizeURL(baseURL),
		secret:  []byte(jwtSecret),
		timeout: timeout,
		client:  client,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// Emit sends in the background with its own timeout, detached from ctx
// cancellation.
func (e *WebhookEmitter) Emit(ctx context.Context, orgID string, event Event) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()

		if err := e.send(sendCtx, orgID, event); err != nil {
			e.metrics.IncOperationalEvent(string(event.Type), "error")
			e.logger.Warn("failed to send operational webhook",
				zap.String("eventType", string(event.Type)),
				zap.String("orgId", orgID),
				zap.Error(err),
			)
			return
		}
		e.metrics.IncOperationalEvent(string(event.Type), "sent")
	}()
}

// Close waits for every in-flight send to finish.
func (e *WebhookEmitter) Close() {
	e.wg.Wait()
}

func (e *WebhookEmitter) send(ctx context.Context, orgID string, event Event) error {
	token, err := e.managementToken()
	if err != nil {
		return err
	}

	res, err := e.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("Content-Type", "application/json").
		SetBody(messageIn{EventType: event.Type, Payload: event}).
		Post(fmt.Sprintf("%s/api/v1/app/%s/msg/", e.baseURL, orgID))
	if err != nil {
		return fmt.Errorf("failed to post operational webhook: %w", err)
	}
	if res.IsError() {
		return fmt.Errorf("operational webhook rejected: status=%d body=%s", res.StatusCode(), strings.TrimSpace(res.String()))
	}

	return nil
}

func (e *WebhookEmitter) managementToken() (string, error) {
	now := e.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    managementIssuer,
		Subject:   ManagementOrgID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(managementTokenTTL)),
	})

	signed, err := token.SignedString(e.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign management token: %w", err)
	}
	return signed, nil
}

func sanitizeURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}
