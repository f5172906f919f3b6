package domain

import (
	"encoding/json"
	"fmt"
)

// TaskKind discriminates the queue task union on the wire.
type TaskKind string

const (
	TaskKindMessage      TaskKind = "message"
	TaskKindMessageBatch TaskKind = "message_batch"
	TaskKindHealthCheck  TaskKind = "health_check"
)

// QueueTask is the closed set of tasks carried by the delivery queue:
// MessageTask, MessageBatchTask and HealthCheckTask.
type QueueTask interface {
	Kind() TaskKind
	queueTask()
}

// MessageTask delivers one message to one endpoint.
type MessageTask struct {
	MsgID        string      `json:"msgId"`
	AppID        string      `json:"appId"`
	EndpointID   string      `json:"endpointId"`
	AttemptCount int         `json:"attemptCount"`
	TriggerType  TriggerType `json:"triggerType"`
}

// MessageBatchTask fans a message out to every endpoint matching at
// consumption time. Destinations are created when the task is processed.
type MessageBatchTask struct {
	MsgID         string      `json:"msgId"`
	AppID         string      `json:"appId"`
	ForceEndpoint *string     `json:"forceEndpoint,omitempty"`
	TriggerType   TriggerType `json:"triggerType"`
}

// HealthCheckTask only proves the queue round trip works.
type HealthCheckTask struct{}

func (MessageTask) Kind() TaskKind      { return TaskKindMessage }
func (MessageBatchTask) Kind() TaskKind { return TaskKindMessageBatch }
func (HealthCheckTask) Kind() TaskKind  { return TaskKindHealthCheck }

func (MessageTask) queueTask()      {}
func (MessageBatchTask) queueTask() {}
func (HealthCheckTask) queueTask()  {}

func (t MessageTask) Validate() error {
	if t.MsgID == "" || t.AppID == "" || t.EndpointID == "" {
		return ErrValidationf("message task requires msgId, appId and endpointId")
	}
	if t.AttemptCount < 0 {
		return ErrValidationf("attemptCount must not be negative")
	}
	if !t.TriggerType.IsValid() {
		return ErrValidationf("invalid trigger type %d", t.TriggerType)
	}
	return nil
}

func (t MessageBatchTask) Validate() error {
	if t.MsgID == "" || t.AppID == "" {
		return ErrValidationf("batch task requires msgId and appId")
	}
	if !t.TriggerType.IsValid() {
		return ErrValidationf("invalid trigger type %d", t.TriggerType)
	}
	return nil
}

type taskEnvelope struct {
	Type TaskKind        `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

func EncodeTask(task QueueTask) ([]byte, error) {
	if task == nil {
		return nil, ErrValidationf("task is required")
	}

	var data []byte
	var err error
	switch t := task.(type) {
	case MessageTask:
		if err := t.Validate(); err != nil {
			return nil, err
		}
		data, err = json.Marshal(t)
	case MessageBatchTask:
		if err := t.Validate(); err != nil {
			return nil, err
		}
		data, err = json.Marshal(t)
	case HealthCheckTask:
		data = nil
	default:
		return nil, fmt.Errorf("%w: unsupported task type %T", ErrValidation, task)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s task: %w", task.Kind(), err)
	}

	return json.Marshal(taskEnvelope{Type: task.Kind(), Data: data})
}

func DecodeTask(raw []byte) (QueueTask, error) {
	var env taskEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: invalid task envelope: %v", ErrValidation, err)
	}

	switch env.Type {
	case TaskKindMessage:
		var t MessageTask
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return nil, fmt.Errorf("%w: invalid message task: %v", ErrValidation, err)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		return t, nil
	case TaskKindMessageBatch:
		var t MessageBatchTask
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return nil, fmt.Errorf("%w: invalid batch task: %v", ErrValidation, err)
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		return t, nil
	case TaskKindHealthCheck:
		return HealthCheckTask{}, nil
	}
	return nil, fmt.Errorf("%w: unknown task type %q", ErrValidation, env.Type)
}
