package stream

import (
	"sync"
)

// Broker fans event payloads out to in-process subscribers keyed by channel.
// Subscriber channels are buffered and lossy: a slow consumer drops events
// instead of blocking the broadcast, and reconciles from the next full
// snapshot it does receive.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan []byte]struct{}
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan []byte]struct{})}
}

// Subscribe registers a new subscriber for the given channel key.
func (b *Broker) Subscribe(key string) chan []byte {
	ch := make(chan []byte, 8)
	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[chan []byte]struct{})
	}
	b.subs[key][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber registered with Subscribe.
func (b *Broker) Unsubscribe(key string, ch chan []byte) {
	b.mu.Lock()
	if set, ok := b.subs[key]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(b.subs, key)
		}
	}
	b.mu.Unlock()
}

// Broadcast delivers data to every subscriber of the channel key.
func (b *Broker) Broadcast(key string, data []byte) {
	b.mu.Lock()
	for ch := range b.subs[key] {
		select {
		case ch <- data:
		default:
		}
	}
	b.mu.Unlock()
}
