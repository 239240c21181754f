package axisflow

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrSubscriberClosed is returned when a channel subscriber is pushed to after being closed.
	ErrSubscriberClosed = errors.New("axisflow: subscriber closed")
	// ErrSubscriberFull is returned when a channel subscriber's buffer is full.
	ErrSubscriberFull = errors.New("axisflow: subscriber buffer full")
)

// RecordHandler receives pushed records. It runs on the distributing
// goroutine and must return quickly.
type RecordHandler func(Record) error

// NewCallbackSubscriber adapts a function into a Subscriber so callers can
// watch a machine without defining structs.
func NewCallbackSubscriber(fn RecordHandler) Subscriber {
	return &callbackSubscriber{id: newSubscriberID(), fn: fn}
}

// NewChannelSubscriber exposes records via a buffered channel; it returns the
// subscriber, the read-only channel, and a close function that the caller
// should invoke during shutdown. A full buffer drops the record.
func NewChannelSubscriber(buffer int) (Subscriber, <-chan Record, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Record, buffer)
	s := &channelSubscriber{id: newSubscriberID(), ch: ch}
	return s, ch, s.close
}

type callbackSubscriber struct {
	id string
	fn RecordHandler
}

func (s *callbackSubscriber) ID() string { return s.id }

func (s *callbackSubscriber) Push(rec Record) error {
	if s.fn == nil {
		return fmt.Errorf("callback subscriber %s: nil handler", s.id)
	}
	return s.fn(rec.Clone())
}

type channelSubscriber struct {
	id     string
	mu     sync.Mutex
	ch     chan Record
	closed bool
}

func (s *channelSubscriber) ID() string { return s.id }

func (s *channelSubscriber) Push(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSubscriberClosed
	}
	select {
	case s.ch <- rec.Clone():
		return nil
	default:
		return ErrSubscriberFull
	}
}

func (s *channelSubscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
