// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/poiesic/ragit/core"
)

// Errors returned by the queue.
var (
	// ErrQueueClosed indicates the queue has been closed.
	ErrQueueClosed = errors.New("queue is closed")

	// ErrUnknownReceipt indicates the receipt does not match an in-flight
	// delivery. The visibility timeout may already have expired.
	ErrUnknownReceipt = errors.New("unknown delivery receipt")
)

// Message is one unit of ingestion work.
type Message struct {
	JobID   string
	Source  core.SourceType
	Locator string
}

// Delivery is a message handed to a consumer, with the receipt needed to
// acknowledge it and the 1-based delivery attempt count.
type Delivery struct {
	Message
	Receipt uint64
	Attempt int
}

// entry tracks a message through deliveries and redeliveries.
type entry struct {
	msg      Message
	attempts int
	timer    *time.Timer
}

// Queue is an in-memory at-least-once work queue.
type Queue struct {
	mu         sync.Mutex
	pending    []*entry
	inflight   map[uint64]*entry
	deadLetter []Message

	notify      chan struct{}
	visibility  time.Duration
	maxAttempts int
	nextReceipt uint64
	closed      bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithVisibilityTimeout sets how long a delivered message stays invisible
// before it is redelivered. Default 30s.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(q *Queue) {
		q.visibility = d
	}
}

// WithMaxAttempts sets how many delivery attempts a message gets before it
// is dead-lettered. Default 5.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		q.maxAttempts = n
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		inflight:    make(map[uint64]*entry),
		notify:      make(chan struct{}, 1),
		visibility:  30 * time.Second,
		maxAttempts: 5,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue adds a message to the queue.
func (q *Queue) Enqueue(msg Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	q.pending = append(q.pending, &entry{msg: msg})
	q.wake()
	return nil
}

// Receive blocks until a message is available, the context is cancelled, or
// the queue is closed. The returned delivery must be acknowledged with Ack
// before the visibility timeout, or the message will be redelivered.
func (q *Queue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}

		for len(q.pending) > 0 {
			e := q.pending[0]
			q.pending = q.pending[1:]

			e.attempts++
			if e.attempts > q.maxAttempts {
				q.deadLetter = append(q.deadLetter, e.msg)
				continue
			}

			receipt := q.nextReceipt
			q.nextReceipt++
			q.inflight[receipt] = e
			e.timer = time.AfterFunc(q.visibility, func() {
				q.redeliver(receipt)
			})

			d := &Delivery{Message: e.msg, Receipt: receipt, Attempt: e.attempts}
			if len(q.pending) > 0 {
				q.wake()
			}
			q.mu.Unlock()
			return d, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Ack acknowledges a delivery, removing the message from the queue.
// Acknowledging after the visibility timeout has expired returns
// ErrUnknownReceipt; the message has already been requeued.
func (q *Queue) Ack(receipt uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.inflight[receipt]
	if !ok {
		return ErrUnknownReceipt
	}
	e.timer.Stop()
	delete(q.inflight, receipt)
	return nil
}

// Nack returns an in-flight delivery to the queue immediately instead of
// waiting out the visibility timeout.
func (q *Queue) Nack(receipt uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.inflight[receipt]
	if !ok {
		return ErrUnknownReceipt
	}
	e.timer.Stop()
	delete(q.inflight, receipt)
	q.pending = append(q.pending, e)
	q.wake()
	return nil
}

// DeadLetters returns a copy of the messages that exhausted their delivery
// attempts.
func (q *Queue) DeadLetters() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Message, len(q.deadLetter))
	copy(out, q.deadLetter)
	return out
}

// Len returns the number of messages awaiting delivery.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close shuts the queue down. Blocked Receive calls return ErrQueueClosed.
// Pending and in-flight messages are discarded.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	for receipt, e := range q.inflight {
		e.timer.Stop()
		delete(q.inflight, receipt)
	}
	q.pending = nil
	close(q.notify)
	return nil
}

// redeliver moves an expired in-flight delivery back to pending.
func (q *Queue) redeliver(receipt uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.inflight[receipt]
	if !ok || q.closed {
		return
	}
	delete(q.inflight, receipt)
	q.pending = append(q.pending, e)
	q.wake()
}

// wake signals one blocked Receive. Callers must hold q.mu.
func (q *Queue) wake() {
	if q.closed {
		return
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
