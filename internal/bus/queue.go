package bus

import (
	"context"
	"sync"
)

type MessageBus struct {
	Inbound  chan InboundMessage
	Outbound chan OutboundMessage

	mu          sync.RWMutex
	subscribers map[string]func(OutboundMessage)
}

func NewMessageBus(bufSize int) *MessageBus {
	if bufSize < 0 {
		bufSize = 0
	}
	return &MessageBus{
		Inbound:     make(chan InboundMessage, bufSize),
		Outbound:    make(chan OutboundMessage, bufSize),
		subscribers: make(map[string]func(OutboundMessage)),
	}
}

// SubscribeOutbound routes outbound messages for channel to fn. A later
// subscription for the same channel replaces the earlier one.
func (b *MessageBus) SubscribeOutbound(channel string, fn func(OutboundMessage)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[channel] = fn
}

func (b *MessageBus) subscriber(channel string) (func(OutboundMessage), bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	fn, ok := b.subscribers[channel]
	return fn, ok
}

// DispatchOutbound delivers outbound messages to subscribers until ctx is
// done. Messages for channels without a subscriber are dropped.
func (b *MessageBus) DispatchOutbound(ctx context.Context) {
	for {
		select {
		case msg := <-b.Outbound:
			if fn, ok := b.subscriber(msg.Channel); ok {
				fn(msg)
			}
		case <-ctx.Done():
			return
		}
	}
}
