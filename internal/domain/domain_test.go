package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestParseMessageStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    MessageStatus
		wantErr bool
	}{
		{name: "success", input: "success", want: StatusSuccess},
		{name: "mixed case with spaces", input: " Sending ", want: StatusSending},
		{name: "fail", input: "FAIL", want: StatusFail},
		{name: "invalid", input: "done", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseMessageStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseMessageStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMessageStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseMessageStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMessageStatusIsInFlight(t *testing.T) {
	t.Parallel()

	if !StatusPending.IsInFlight() || !StatusSending.IsInFlight() {
		t.Fatal("pending and sending should be in flight")
	}
	if StatusSuccess.IsInFlight() || StatusFail.IsInFlight() {
		t.Fatal("success and fail should be terminal")
	}
}

func TestNewIDIsPrefixedAndSortable(t *testing.T) {
	t.Parallel()

	first := NewMessageID()
	time.Sleep(2 * time.Millisecond)
	second := NewMessageID()

	if !strings.HasPrefix(first, "msg_") {
		t.Fatalf("NewMessageID() = %s, want msg_ prefix", first)
	}
	if len(first) != len("msg_")+32 {
		t.Fatalf("NewMessageID() length = %d, want %d", len(first), len("msg_")+32)
	}
	if !(first < second) {
		t.Fatalf("ids not time ordered: %s >= %s", first, second)
	}
}

func TestMessageValidate(t *testing.T) {
	t.Parallel()

	valid := func() Message {
		return Message{
			EventType: "invoice.paid",
			Payload:   json.RawMessage(`{"amount":10}`),
		}
	}

	msg := valid()
	if err := msg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(m *Message)
	}{
		{name: "missing event type", mutate: func(m *Message) { m.EventType = "" }},
		{name: "event type with spaces", mutate: func(m *Message) { m.EventType = "invoice paid" }},
		{name: "event type too long", mutate: func(m *Message) { m.EventType = strings.Repeat("a", 257) }},
		{name: "empty channel set", mutate: func(m *Message) { m.Channels = []string{} }},
		{name: "too many channels", mutate: func(m *Message) { m.Channels = []string{"a", "b", "c", "d", "e", "f"} }},
		{name: "invalid channel", mutate: func(m *Message) { m.Channels = []string{"bad/tag"} }},
		{name: "missing payload", mutate: func(m *Message) { m.Payload = nil }},
		{name: "invalid payload", mutate: func(m *Message) { m.Payload = json.RawMessage(`{`) }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m := valid()
			tt.mutate(&m)
			if err := m.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestEndpointValidate(t *testing.T) {
	t.Parallel()

	ep := Endpoint{
		URL:      "https://example.com/hook",
		Key:      "whsec_abc",
		Channels: []string{"tag1"},
		Headers:  map[string]string{"X-Tenant": "acme"},
	}
	if err := ep.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error = %v", err)
	}

	ep.URL = "ftp://example.com"
	if err := ep.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation for ftp url", err)
	}

	ep.URL = "https://example.com/hook"
	ep.Headers = map[string]string{"Content-Length": "10"}
	if err := ep.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation for forbidden header", err)
	}

	ep.Headers = nil
	ep.EventTypes = []string{}
	if err := ep.Validate(); !errors.Is(err, ErrValidation) {
		t.Fatalf("Validate() error = %v, want ErrValidation for empty filter", err)
	}
}

func TestEndpointRotateKey(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	ep := Endpoint{Key: "k0"}

	for i := 1; i <= 7; i++ {
		ep.RotateKey("k"+string(rune('0'+i)), now)
	}

	if ep.Key != "k7" {
		t.Fatalf("Key = %s, want k7", ep.Key)
	}
	if len(ep.OldKeys) != MaxOldSigningKeys {
		t.Fatalf("len(OldKeys) = %d, want %d", len(ep.OldKeys), MaxOldSigningKeys)
	}
	if ep.OldKeys[0].Key != "k2" || ep.OldKeys[4].Key != "k6" {
		t.Fatalf("OldKeys = %+v, want k2..k6", ep.OldKeys)
	}

	keys := ep.SigningKeys(now.Add(time.Hour))
	if len(keys) != 6 || keys[0] != "k7" {
		t.Fatalf("SigningKeys() = %v, want current key first plus 5 old keys", keys)
	}

	keys = ep.SigningKeys(now.Add(OldSigningKeyTTL + time.Second))
	if len(keys) != 1 {
		t.Fatalf("SigningKeys() after expiry = %v, want only current key", keys)
	}

	ep.RotateKey("k8", now.Add(OldSigningKeyTTL+time.Second))
	if len(ep.OldKeys) != 1 || ep.OldKeys[0].Key != "k7" {
		t.Fatalf("OldKeys after expiry rotation = %+v, want only k7", ep.OldKeys)
	}
}

func TestIsForbiddenHeader(t *testing.T) {
	t.Parallel()

	forbidden := []string{"Content-Type", "transfer-encoding", "X-Amz-Date", "svix-id", "Webhook-Signature", "hookline-id"}
	for _, name := range forbidden {
		if !IsForbiddenHeader(name) {
			t.Fatalf("IsForbiddenHeader(%q) = false, want true", name)
		}
	}

	allowed := []string{"X-Tenant", "Authorization", "x-api-key"}
	for _, name := range allowed {
		if IsForbiddenHeader(name) {
			t.Fatalf("IsForbiddenHeader(%q) = true, want false", name)
		}
	}
}

func TestHeaderNameAndValue(t *testing.T) {
	t.Parallel()

	if !ValidHeaderName("test_key") {
		t.Fatal("ValidHeaderName(test_key) = false, want true")
	}
	if ValidHeaderName("invälid_key") {
		t.Fatal("ValidHeaderName(invälid_key) = true, want false")
	}
	if ValidHeaderName("bad key") {
		t.Fatal("ValidHeaderName(bad key) = true, want false")
	}
	if !ValidHeaderValue("value\twith tab") {
		t.Fatal("ValidHeaderValue() with tab = false, want true")
	}
	if ValidHeaderValue("line\nbreak") {
		t.Fatal("ValidHeaderValue() with newline = true, want false")
	}
}

func TestTaskEncodeDecode(t *testing.T) {
	t.Parallel()

	endpoint := "ep_1"
	tasks := []QueueTask{
		MessageTask{MsgID: "msg_1", AppID: "app_1", EndpointID: "ep_1", AttemptCount: 3, TriggerType: TriggerManual},
		MessageBatchTask{MsgID: "msg_1", AppID: "app_1", ForceEndpoint: &endpoint},
		HealthCheckTask{},
	}

	for _, task := range tasks {
		raw, err := EncodeTask(task)
		if err != nil {
			t.Fatalf("EncodeTask(%s) error = %v", task.Kind(), err)
		}

		decoded, err := DecodeTask(raw)
		if err != nil {
			t.Fatalf("DecodeTask(%s) error = %v", task.Kind(), err)
		}
		if decoded.Kind() != task.Kind() {
			t.Fatalf("decoded kind = %s, want %s", decoded.Kind(), task.Kind())
		}
	}

	raw, _ := EncodeTask(tasks[0])
	if !strings.Contains(string(raw), `"type":"message"`) {
		t.Fatalf("encoded task = %s, want message type tag", raw)
	}
	decoded, _ := DecodeTask(raw)
	if got := decoded.(MessageTask); got.AttemptCount != 3 || got.TriggerType != TriggerManual {
		t.Fatalf("decoded task = %+v", got)
	}
}

func TestDecodeTaskRejectsUnknownAndInvalid(t *testing.T) {
	t.Parallel()

	inputs := []string{
		`not json`,
		`{"type":"teleport","data":{}}`,
		`{"type":"message","data":{"msgId":"msg_1"}}`,
	}
	for _, input := range inputs {
		if _, err := DecodeTask([]byte(input)); !errors.Is(err, ErrValidation) {
			t.Fatalf("DecodeTask(%s) error = %v, want ErrValidation", input, err)
		}
	}

	if _, err := EncodeTask(MessageTask{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("EncodeTask(empty) error = %v, want ErrValidation", err)
	}
}
