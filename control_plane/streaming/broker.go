package streaming

import (
	"context"
	"errors"
	"sync"
)

var ErrBrokerClosed = errors.New("broker is closed")

// Broker is an in-process Publisher and Subscriber. Handlers run
// synchronously on the publishing goroutine, so they must not block.
type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[int]func(Event)
	nextID int
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[int]func(Event))}
}

func (b *Broker) Publish(ctx context.Context, topic string, payload interface{}) error {
	event, err := newEvent(topic, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	handlers := make([]func(Event), 0, len(b.subs[topic])+len(b.subs[TopicAll]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	if topic != TopicAll {
		for _, h := range b.subs[TopicAll] {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (b *Broker) Subscribe(topic string, handler func(event Event)) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBrokerClosed
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(Event))
	}
	b.nextID++
	id := b.nextID
	b.subs[topic][id] = handler
	return &subscription{broker: b, topic: topic, id: id}, nil
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string]map[int]func(Event))
	return nil
}

type subscription struct {
	broker *Broker
	topic  string
	id     int
	once   sync.Once
}

func (s *subscription) Unsubscribe() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		defer s.broker.mu.Unlock()
		delete(s.broker.subs[s.topic], s.id)
	})
	return nil
}
