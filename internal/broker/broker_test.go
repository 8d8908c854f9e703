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

package broker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := New()
	topic := RunTopic("run-1")

	sub1 := b.Subscribe(topic)
	sub2 := b.Subscribe(topic)
	other := b.Subscribe(RunTopic("run-2"))

	b.Publish(topic)

	for _, sub := range []*Subscription{sub1, sub2} {
		select {
		case sig := <-sub.Signals():
			assert.Equal(t, topic, sig.Topic)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for signal")
		}
	}

	select {
	case <-other.Signals():
		t.Fatal("subscriber of another topic received the signal")
	default:
	}
}

func TestPublishWithoutSubscribers(t *testing.T) {
	b := New()
	// Must not panic or block.
	b.Publish(RunTopic("nobody"))
}

func TestSlowSubscriberDropsOldest(t *testing.T) {
	b := NewWithBuffer(2)
	topic := RunTopic("run-1")
	sub := b.Subscribe(topic)

	// Publish more than the buffer holds without draining.
	for i := 0; i < 10; i++ {
		b.Publish(topic)
	}

	// The subscriber still gets signals (the newest ones), and the
	// publisher never blocked.
	count := 0
	for {
		select {
		case <-sub.Signals():
			count++
		default:
			require.Equal(t, 2, count, "expected exactly the buffer capacity pending")
			return
		}
	}
}

func TestCancelRemovesSubscription(t *testing.T) {
	b := New()
	topic := RunTopic("run-1")
	sub := b.Subscribe(topic)

	require.Equal(t, 1, b.SubscriberCount(topic))

	sub.Cancel()
	assert.Equal(t, 0, b.SubscriberCount(topic))

	// Channel is closed after cancel.
	_, ok := <-sub.Signals()
	assert.False(t, ok)

	// Cancel is idempotent.
	sub.Cancel()

	// Publishing after cancel must not panic.
	b.Publish(topic)
}

func TestResubscribeAfterCancel(t *testing.T) {
	b := New()
	topic := RunTopic("run-1")

	sub := b.Subscribe(topic)
	sub.Cancel()

	sub2 := b.Subscribe(topic)
	b.Publish(topic)

	select {
	case sig := <-sub2.Signals():
		assert.Equal(t, topic, sig.Topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for signal on new subscription")
	}
}

func TestConcurrentPublishAndCancel(t *testing.T) {
	b := New()
	topic := RunTopic("run-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		sub := b.Subscribe(topic)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish(topic)
			}
		}()
		go func() {
			defer wg.Done()
			for range sub.Signals() {
			}
		}()
		go sub.Cancel()
	}
	wg.Wait()
}
