package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultVisibilityTimeout = 30 * time.Second
	defaultMaxReceives       = 5
)

// MemoryQueue is a Queue backed by a buffered channel, for single-process runs.
// Like SQS, a received message stays in flight until deleted and is redelivered
// once its visibility timeout lapses, up to maxReceives times.
type MemoryQueue struct {
	ch          chan memoryMessage
	visibility  time.Duration
	maxReceives int

	mu       sync.Mutex
	inflight map[string]inflightMessage
}

type memoryMessage struct {
	QueueMessage
	receives int
}

type inflightMessage struct {
	msg      memoryMessage
	deadline time.Time
}

type MemoryQueueOption func(*MemoryQueue)

func WithVisibilityTimeout(d time.Duration) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

func WithMaxReceives(n int) MemoryQueueOption {
	return func(q *MemoryQueue) {
		if n > 0 {
			q.maxReceives = n
		}
	}
}

func NewMemoryQueue(buffer int, opts ...MemoryQueueOption) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	q := &MemoryQueue{
		ch:          make(chan memoryMessage, buffer),
		visibility:  defaultVisibilityTimeout,
		maxReceives: defaultMaxReceives,
		inflight:    map[string]inflightMessage{},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Send enqueues a payload or blocks until ctx is done.
func (q *MemoryQueue) Send(ctx context.Context, body string) error {
	msg := memoryMessage{QueueMessage: QueueMessage{ID: uuid.NewString(), Body: body}}
	select {
	case q.ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until a message is available, ctx is done, or waitSeconds elapses.
func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]QueueMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	var timeout <-chan time.Time
	if waitSeconds > 0 {
		timer := time.NewTimer(time.Duration(waitSeconds) * time.Second)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		q.redeliverExpired()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timeout:
			return nil, nil
		case msg := <-q.ch:
			return q.collect(msg, maxMessages), nil
		case <-q.nextExpiry():
		}
	}
}

// Delete acknowledges a received message so it is not redelivered.
func (q *MemoryQueue) Delete(_ context.Context, receiptHandle string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inflight, receiptHandle)
	return nil
}

// InFlight reports how many received messages await Delete.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

func (q *MemoryQueue) collect(first memoryMessage, max int) []QueueMessage {
	messages := make([]QueueMessage, 0, max)
	messages = append(messages, q.lease(first))
	for len(messages) < max {
		select {
		case msg := <-q.ch:
			messages = append(messages, q.lease(msg))
		default:
			return messages
		}
	}
	return messages
}

// lease hands msg out under a fresh receipt handle and starts its visibility timeout.
func (q *MemoryQueue) lease(msg memoryMessage) QueueMessage {
	msg.receives++
	msg.ReceiptHandle = uuid.NewString()
	q.mu.Lock()
	q.inflight[msg.ReceiptHandle] = inflightMessage{msg: msg, deadline: time.Now().Add(q.visibility)}
	q.mu.Unlock()
	return msg.QueueMessage
}

func (q *MemoryQueue) redeliverExpired() {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	for handle, in := range q.inflight {
		if now.Before(in.deadline) {
			continue
		}
		if in.msg.receives >= q.maxReceives {
			delete(q.inflight, handle)
			continue
		}
		select {
		case q.ch <- in.msg:
			delete(q.inflight, handle)
		default:
			// buffer full; retried on the next receive
		}
	}
}

// nextExpiry fires when the earliest in-flight message becomes visible again.
func (q *MemoryQueue) nextExpiry() <-chan time.Time {
	q.mu.Lock()
	defer q.mu.Unlock()
	var earliest time.Time
	for _, in := range q.inflight {
		if earliest.IsZero() || in.deadline.Before(earliest) {
			earliest = in.deadline
		}
	}
	if earliest.IsZero() {
		return nil
	}
	return time.After(max(time.Until(earliest), 10*time.Millisecond))
}
