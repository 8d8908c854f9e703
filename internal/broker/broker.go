// Copyright 2025 Tom Barlow
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

// Package broker provides in-process, topic-keyed pub/sub. Signals are
// advisory: they carry no payload beyond the topic, and subscribers re-read
// authoritative state from the store. Slow subscribers never block a
// publisher; each subscription holds a bounded buffer and drops its oldest
// pending signal on overflow.
package broker

import (
	"sync"
	"time"
)

// DefaultBufferSize is the per-subscription signal buffer capacity.
const DefaultBufferSize = 16

// RunTopic returns the topic name for a run's update signals.
func RunTopic(runID string) string {
	return "runUpdated:" + runID
}

// Signal is a change notification delivered to subscribers of a topic.
type Signal struct {
	Topic string
	At    time.Time
}

// Broker fans change signals out to the current subscribers of a topic.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	bufCap int
}

// New creates a broker with the default per-subscription buffer size.
func New() *Broker {
	return NewWithBuffer(DefaultBufferSize)
}

// NewWithBuffer creates a broker with the given per-subscription buffer size.
func NewWithBuffer(bufCap int) *Broker {
	if bufCap <= 0 {
		bufCap = DefaultBufferSize
	}
	return &Broker{
		topics: make(map[string]map[*Subscription]struct{}),
		bufCap: bufCap,
	}
}

// Publish delivers a signal to every current subscriber of the topic.
// It never blocks on slow subscribers.
func (b *Broker) Publish(topic string) {
	sig := Signal{Topic: topic, At: time.Now()}

	b.mu.RLock()
	subs := make([]*Subscription, 0, len(b.topics[topic]))
	for sub := range b.topics[topic] {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(sig)
	}
}

// Subscribe registers a new subscription on the topic. The returned
// subscription stays live until cancelled; resubscribing after cancellation
// means calling Subscribe again.
func (b *Broker) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		broker: b,
		topic:  topic,
		ch:     make(chan Signal, b.bufCap),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*Subscription]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// SubscriberCount returns the number of live subscriptions on a topic.
func (b *Broker) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.topics, sub.topic)
		}
	}
}

// Subscription is one observer's registration on a topic.
type Subscription struct {
	broker *Broker
	topic  string

	mu   sync.Mutex
	ch   chan Signal
	done chan struct{}
	once sync.Once
}

// Signals returns the channel of pending signals. The channel is closed when
// the subscription is cancelled.
func (s *Subscription) Signals() <-chan Signal {
	return s.ch
}

// Topic returns the topic this subscription observes.
func (s *Subscription) Topic() string {
	return s.topic
}

// Cancel removes the subscription from the broker and closes its channel.
// Cancel is idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.broker.remove(s)
		s.mu.Lock()
		close(s.done)
		close(s.ch)
		s.mu.Unlock()
	})
}

// deliver enqueues the signal, dropping the oldest pending signal when the
// buffer is full. A dropped signal merely delays a refresh: observers always
// re-query the latest state.
func (s *Subscription) deliver(sig Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.done:
		return
	default:
	}

	for {
		select {
		case s.ch <- sig:
			return
		default:
		}
		select {
		case <-s.ch:
			// dropped oldest
		default:
		}
	}
}
