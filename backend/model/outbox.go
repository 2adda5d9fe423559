package model

import "sync"

const DefaultOutboxSize = 256

// Outbox is the bounded outbound queue of one connection. Producers never
// block on it; the connection's sender drains Events until Done is closed.
type Outbox struct {
	tx   chan Event
	done chan struct{}
	once *sync.Once
}

func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{
		tx:   make(chan Event, size),
		done: make(chan struct{}),
		once: &sync.Once{},
	}
}

// Offer enqueues ev without blocking. It returns false if the outbox is
// full or closed.
func (o *Outbox) Offer(ev Event) bool {
	select {
	case <-o.done:
		return false
	default:
	}
	select {
	case o.tx <- ev:
		return true
	default:
		return false
	}
}

func (o *Outbox) Events() <-chan Event {
	return o.tx
}

// Close marks the outbox dead. It is safe to call more than once.
func (o *Outbox) Close() {
	o.once.Do(func() { close(o.done) })
}

func (o *Outbox) Done() <-chan struct{} {
	return o.done
}
