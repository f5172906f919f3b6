package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/hookline/internal/domain"
)

type memoryItem struct {
	id      string
	due     time.Time
	payload []byte
}

// MemoryQueue is an in-process TaskQueue for tests and single node
// development. Unacked tasks are lost on restart.
type MemoryQueue struct {
	opts Options
	now  func() time.Time

	mu       sync.Mutex
	ready    []memoryItem
	inflight map[string]memoryItem
	notify   chan struct{}
	closed   bool
}

var _ TaskQueue = (*MemoryQueue)(nil)

func NewMemoryQueue(opts Options) *MemoryQueue {
	return &MemoryQueue{
		opts:     opts.withDefaults(),
		now:      time.Now,
		inflight: make(map[string]memoryItem),
		notify:   make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Send(ctx context.Context, task domain.QueueTask, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}

	due := q.now().Add(delay)
	id, payload, err := encodeEnvelope(ctx, task, due)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("memory queue is closed")
	}
	q.push(memoryItem{id: id, due: due, payload: payload})
	return nil
}

func (q *MemoryQueue) ReceiveBatch(ctx context.Context) ([]*Delivery, error) {
	deadline := time.Now().Add(q.opts.BlockTimeout)

	for {
		batch, wait, err := q.claim()
		if err != nil || len(batch) > 0 {
			return batch, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		if wait <= 0 || wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-q.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Len reports the number of tasks waiting or in flight.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.inflight)
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

// claim moves due items in flight. When nothing is due it returns how long
// until the next item becomes due, zero if the queue is empty.
func (q *MemoryQueue) claim() ([]*Delivery, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, 0, fmt.Errorf("memory queue is closed")
	}

	now := q.now()
	var batch []*Delivery
	for len(q.ready) > 0 && len(batch) < q.opts.BatchSize {
		item := q.ready[0]
		if item.due.After(now) {
			break
		}
		q.ready = q.ready[1:]

		env, task, err := decodeEnvelope(item.payload)
		if err != nil {
			continue
		}
		q.inflight[item.id] = item
		batch = append(batch, NewDelivery(item.id, task, env.Trace, q.ackFunc(item.id), q.nackFunc(item.id)))
	}

	if len(batch) > 0 || len(q.ready) == 0 {
		return batch, 0, nil
	}
	return nil, q.ready[0].due.Sub(now), nil
}

func (q *MemoryQueue) ackFunc(id string) func(context.Context) error {
	return func(context.Context) error {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.inflight, id)
		return nil
	}
}

func (q *MemoryQueue) nackFunc(id string) func(context.Context) error {
	return func(context.Context) error {
		q.mu.Lock()
		defer q.mu.Unlock()

		item, ok := q.inflight[id]
		if !ok {
			return nil
		}
		delete(q.inflight, id)
		item.due = q.now()
		q.push(item)
		return nil
	}
}

// push keeps ready sorted by due time. Callers hold mu.
func (q *MemoryQueue) push(item memoryItem) {
	idx := sort.Search(len(q.ready), func(i int) bool {
		return q.ready[i].due.After(item.due)
	})
	q.ready = append(q.ready, memoryItem{})
	copy(q.ready[idx+1:], q.ready[idx:])
	q.ready[idx] = item

	select {
	case q.notify <- struct{}{}:
	default:
	}
}
