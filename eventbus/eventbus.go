// Package eventbus fans workspace events out to live subscribers.
package eventbus

import (
	"sync"

	"github.com/jxucoder/botforge/model"
)

// Bus is a per-workspace publish/subscribe channel for events.
type Bus interface {
	Subscribe(workspaceID string) chan *model.Event
	Unsubscribe(workspaceID string, ch chan *model.Event)
	Publish(workspaceID string, event *model.Event)
}

// subscriberBuffer is the per-subscriber backlog before events are dropped.
const subscriberBuffer = 128

// InMemoryBus is a Bus backed by buffered channels.
type InMemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]chan *model.Event
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subs: make(map[string][]chan *model.Event),
	}
}

// Subscribe creates a channel that receives events for a workspace.
func (b *InMemoryBus) Subscribe(workspaceID string) chan *model.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *model.Event, subscriberBuffer)
	b.subs[workspaceID] = append(b.subs[workspaceID], ch)
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (b *InMemoryBus) Unsubscribe(workspaceID string, ch chan *model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[workspaceID]
	for i, s := range subs {
		if s == ch {
			b.subs[workspaceID] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[workspaceID]) == 0 {
				delete(b.subs, workspaceID)
			}
			close(ch)
			return
		}
	}
}

// Publish delivers an event to every subscriber of a workspace. Slow
// subscribers miss events rather than block the publisher.
func (b *InMemoryBus) Publish(workspaceID string, event *model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[workspaceID] {
		select {
		case ch <- event:
		default:
		}
	}
}
