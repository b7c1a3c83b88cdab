// Package feed delivers scored news events from upstream sources into a
// bounded queue consumed by the executor.
package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/alanyoungcy/sentibot/internal/domain"
)

// ErrQueueFull is returned by Publish under drop_newest when the event was
// discarded.
var ErrQueueFull = errors.New("event queue full")

// Backpressure selects what Publish does when the queue is full.
type Backpressure string

const (
	BackpressureBlock      Backpressure = "block"
	BackpressureDropNewest Backpressure = "drop_newest"
	BackpressureDropOldest Backpressure = "drop_oldest"
)

// ParseBackpressure validates a policy name. Empty means block.
func ParseBackpressure(s string) (Backpressure, error) {
	switch p := Backpressure(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return BackpressureBlock, nil
	case BackpressureBlock, BackpressureDropNewest, BackpressureDropOldest:
		return p, nil
	default:
		return "", fmt.Errorf("feed: unknown backpressure policy %q", s)
	}
}

// Queue is a bounded multi-producer event queue with an explicit overflow
// policy.
type Queue struct {
	ch      chan domain.NewsEvent
	policy  Backpressure
	dropped atomic.Int64
	evictMu sync.Mutex
}

// NewQueue allocates a queue with the given capacity.
func NewQueue(capacity int, policy Backpressure) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if policy == "" {
		policy = BackpressureBlock
	}
	return &Queue{ch: make(chan domain.NewsEvent, capacity), policy: policy}
}

// Publish enqueues ev according to the queue's policy. Under block it waits
// for space or ctx; under drop_newest it discards ev; under drop_oldest it
// evicts the oldest buffered event to make room.
func (q *Queue) Publish(ctx context.Context, ev domain.NewsEvent) error {
	switch q.policy {
	case BackpressureDropNewest:
		select {
		case q.ch <- ev:
			return nil
		default:
			q.dropped.Add(1)
			return ErrQueueFull
		}

	case BackpressureDropOldest:
		q.evictMu.Lock()
		defer q.evictMu.Unlock()
		for {
			select {
			case q.ch <- ev:
				return nil
			default:
			}
			select {
			case <-q.ch:
				q.dropped.Add(1)
			default:
			}
		}

	default:
		select {
		case q.ch <- ev:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// C is the consumer side of the queue.
func (q *Queue) C() <-chan domain.NewsEvent { return q.ch }

// Len returns the number of buffered events.
func (q *Queue) Len() int { return len(q.ch) }

// Dropped returns how many events were discarded by the overflow policy.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Policy returns the overflow policy.
func (q *Queue) Policy() Backpressure { return q.policy }
