package opevents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/observability"
)

const testSecret = "op-webhook-secret"

type capturedRequest struct {
	path string
	auth string
	body []byte
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, func() []capturedRequest) {
	t.Helper()

	var mu sync.Mutex
	var captured []capturedRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&raw)

		mu.Lock()
		captured = append(captured, capturedRequest{
			path: r.URL.Path,
			auth: r.Header.Get("Authorization"),
			body: raw,
		})
		mu.Unlock()

		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)

	return server, func() []capturedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]capturedRequest(nil), captured...)
	}
}

func testEvent() Event {
	appUID := "my-app"
	msgUID := "evt-1"
	return NewMessageAttemptEvent(
		MessageAttemptExhausted,
		domain.Application{ID: "app_1", UID: &appUID},
		domain.Message{ID: "msg_1", UID: &msgUID},
		domain.Endpoint{ID: "ep_1"},
		domain.MessageAttempt{ID: "atmpt_1", ResponseStatusCode: 500, CreatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)},
	)
}

func TestWebhookEmitterPostsMessageWithManagementToken(t *testing.T) {
	t.Parallel()

	server, requests := newCaptureServer(t, http.StatusAccepted)
	metrics := observability.NewMetrics()

	emitter := NewWebhookEmitter(resty.New(), server.URL+"//", testSecret, time.Second, nil, metrics)
	emitter.Emit(context.Background(), "org_42", testEvent())
	emitter.Close()

	got := requests()
	if len(got) != 1 {
		t.Fatalf("requests = %d, want 1", len(got))
	}
	if got[0].path != "/api/v1/app/org_42/msg/" {
		t.Fatalf("path = %q", got[0].path)
	}

	tokenString := strings.TrimPrefix(got[0].auth, "Bearer ")
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		t.Fatalf("jwt.Parse() error = %v", err)
	}

	var body struct {
		EventType string `json:"eventType"`
		Payload   struct {
			Type string `json:"type"`
			Data struct {
				AppID       string  `json:"appId"`
				AppUID      *string `json:"appUid"`
				MsgID       string  `json:"msgId"`
				MsgEventID  *string `json:"msgEventId"`
				EndpointID  string  `json:"endpointId"`
				LastAttempt struct {
					ID                 string `json:"id"`
					ResponseStatusCode int    `json:"responseStatusCode"`
				} `json:"lastAttempt"`
			} `json:"data"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(got[0].body, &body); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}

	if body.EventType != string(MessageAttemptExhausted) || body.Payload.Type != string(MessageAttemptExhausted) {
		t.Fatalf("event type = %q / %q", body.EventType, body.Payload.Type)
	}
	data := body.Payload.Data
	if data.AppID != "app_1" || data.AppUID == nil || *data.AppUID != "my-app" {
		t.Fatalf("app fields = %+v", data)
	}
	if data.MsgID != "msg_1" || data.MsgEventID == nil || *data.MsgEventID != "evt-1" || data.EndpointID != "ep_1" {
		t.Fatalf("message fields = %+v", data)
	}
	if data.LastAttempt.ID != "atmpt_1" || data.LastAttempt.ResponseStatusCode != 500 {
		t.Fatalf("lastAttempt = %+v", data.LastAttempt)
	}
}

func TestWebhookEmitterFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	server, requests := newCaptureServer(t, http.StatusInternalServerError)
	metrics := observability.NewMetrics()

	emitter := NewWebhookEmitter(resty.New(), server.URL, testSecret, time.Second, nil, metrics)
	emitter.Emit(context.Background(), "org_1", testEvent())
	emitter.Close()

	if len(requests()) != 1 {
		t.Fatalf("requests = %d, want 1", len(requests()))
	}
}

func TestWebhookEmitterDetachedFromCallerCancellation(t *testing.T) {
	t.Parallel()

	server, requests := newCaptureServer(t, http.StatusOK)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	emitter := NewWebhookEmitter(resty.New(), server.URL, testSecret, time.Second, nil, nil)
	emitter.Emit(ctx, "org_1", testEvent())
	emitter.Close()

	if len(requests()) != 1 {
		t.Fatalf("requests = %d, want 1 even with a cancelled caller context", len(requests()))
	}
}

func TestNewEmitterWithoutURLIsNop(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "   "} {
		if _, ok := NewEmitter(raw, testSecret, nil, nil).(NopEmitter); !ok {
			t.Fatalf("NewEmitter(%q) should return NopEmitter", raw)
		}
	}
	if _, ok := NewEmitter("http://example.com/", testSecret, nil, nil).(*WebhookEmitter); !ok {
		t.Fatal("NewEmitter() with URL should return *WebhookEmitter")
	}
}

func TestSanitizeURL(t *testing.T) {
	t.Parallel()

	if got := sanitizeURL(" http://ops.local/// "); got != "http://ops.local" {
		t.Fatalf("sanitizeURL() = %q", got)
	}
}

func TestEndpointEventPayload(t *testing.T) {
	t.Parallel()

	uid := "ep-uid"
	event := NewEndpointEvent(EndpointCreated, domain.Application{ID: "app_1"}, domain.Endpoint{ID: "ep_1", UID: &uid})

	raw, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	want := `{"type":"endpoint.created","data":{"appId":"app_1","appUid":null,"endpointId":"ep_1","endpointUid":"ep-uid"}}`
	if string(raw) != want {
		t.Fatalf("payload = %s, want %s", raw, want)
	}
}
