// Package memory provides an in-process Broker for tests and single-node
// deployments.
package memory

import (
	"context"
	"sync"
)

const subscriberBuffer = 64

// Broker fans published payloads out to in-process subscribers keyed by
// scan ID. Slow subscribers drop messages rather than block the publisher.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[int]chan []byte
	next int
}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]chan []byte)}
}

// Publish delivers payload to every current subscriber of scanID.
func (b *Broker) Publish(_ context.Context, scanID string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[scanID] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber for scanID. The returned cancel
// function removes the subscription and closes the channel; it is safe to
// call more than once.
func (b *Broker) Subscribe(_ context.Context, scanID string) (<-chan []byte, func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, subscriberBuffer)
	id := b.next
	b.next++
	if b.subs[scanID] == nil {
		b.subs[scanID] = make(map[int]chan []byte)
	}
	b.subs[scanID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[scanID], id)
			if len(b.subs[scanID]) == 0 {
				delete(b.subs, scanID)
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// SubscriberCount reports the live subscriptions for scanID.
func (b *Broker) SubscriberCount(scanID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[scanID])
}
