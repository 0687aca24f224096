package api

import (
	"sync"
)

type SSEEvent struct {
	Type string
	Data map[string]any
}

type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan SSEEvent]struct{} // cartId -> set of channels
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(cartID string) chan SSEEvent {
	ch := make(chan SSEEvent, 8)
	b.mu.Lock()
	if b.subs[cartID] == nil {
		b.subs[cartID] = map[chan SSEEvent]struct{}{}
	}
	b.subs[cartID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(cartID string, ch chan SSEEvent) {
	b.mu.Lock()
	if m := b.subs[cartID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, cartID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(cartID string, evt SSEEvent) {
	b.mu.Lock()
	m := b.subs[cartID]
	for ch := range m {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
