package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kursadbilgin/hookline/internal/domain"
	"github.com/kursadbilgin/hookline/internal/observability"
)

// envelope is the broker payload. ID keeps otherwise identical tasks distinct
// and DueAt lets backends with a bounded deferral re-defer early arrivals.
type envelope struct {
	ID    string            `json:"id"`
	DueAt int64             `json:"dueAt,omitempty"`
	Task  json.RawMessage   `json:"task"`
	Trace map[string]string `json:"trace,omitempty"`
}

func encodeEnvelope(ctx context.Context, task domain.QueueTask, due time.Time) (string, []byte, error) {
	raw, err := domain.EncodeTask(task)
	if err != nil {
		return "", nil, err
	}

	env := envelope{
		ID:    uuid.NewString(),
		DueAt: due.UnixMilli(),
		Task:  raw,
		Trace: observability.InjectTrace(ctx),
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal queue envelope: %w", err)
	}
	return env.ID, payload, nil
}

func decodeEnvelope(payload []byte) (envelope, domain.QueueTask, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, nil, fmt.Errorf("%w: invalid queue envelope: %v", domain.ErrValidation, err)
	}

	task, err := domain.DecodeTask(env.Task)
	if err != nil {
		return envelope{}, nil, err
	}
	return env, task, nil
}

func (e envelope) due() time.Time {
	return time.UnixMilli(e.DueAt)
}
