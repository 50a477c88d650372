// Package presence tracks which players hold a live connection and the
// channel handle used to push events to them.
package presence

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Channel is an outbound event sink bound to a single live connection.
type Channel interface {
	// ID uniquely identifies the underlying connection.
	ID() string
	// Push enqueues an encoded event for delivery.
	Push(data []byte) error
	// Close releases the channel. Further Push calls fail.
	Close() error
}

// Entity is a buffered Channel whose queue is drained by a transport writer.
type Entity struct {
	id     string
	events chan []byte
	mu     sync.Mutex
	closed bool
}

// NewEntity creates an Entity with a fresh connection id.
//
// Postcondition: Returns an Entity with an open events queue of bufferSize (default 64).
func NewEntity(bufferSize int) *Entity {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Entity{
		id:     uuid.NewString(),
		events: make(chan []byte, bufferSize),
	}
}

// ID returns the connection identifier.
func (e *Entity) ID() string {
	return e.id
}

// Push enqueues data without blocking.
//
// Postcondition: data is queued, or an error is returned when the entity is
// closed or its buffer is full.
func (e *Entity) Push(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return fmt.Errorf("connection %s is closed", e.id)
	}
	select {
	case e.events <- data:
		return nil
	default:
		return fmt.Errorf("connection %s event buffer full", e.id)
	}
}

// Events returns the queue read by the transport writer. It is closed by Close.
func (e *Entity) Events() <-chan []byte {
	return e.events
}

// Close marks the entity closed and closes its queue. Safe to call repeatedly.
func (e *Entity) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.closed {
		e.closed = true
		close(e.events)
	}
	return nil
}

// IsClosed reports whether Close has been called.
func (e *Entity) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
