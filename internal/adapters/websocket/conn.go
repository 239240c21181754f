package websocket

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ghalamif/AxisFlow/internal/adapters/queue"
	"github.com/ghalamif/AxisFlow/internal/domain"
	"github.com/ghalamif/AxisFlow/internal/ports"
)

var errClosed = errors.New("connection closed")

// liveConn is the registry-facing side of one websocket. Push only enqueues;
// the handler's writer goroutine drains the outbox.
type liveConn struct {
	id     string
	outbox *queue.MemQueue[Frame]
	closed atomic.Bool
}

func newLiveConn(id string, outboxSize int) *liveConn {
	return &liveConn{id: id, outbox: queue.NewMemQueue[Frame](outboxSize)}
}

func (c *liveConn) ID() string { return c.id }

func (c *liveConn) Push(rec domain.MachineRecord) error {
	return c.send(Frame{Type: FrameMachineData, MachineID: rec.MachineID, Data: &rec})
}

func (c *liveConn) send(f Frame) error {
	if c.closed.Load() {
		return fmt.Errorf("%w: %v", domain.ErrDelivery, errClosed)
	}
	if !c.outbox.Enqueue(f) {
		return fmt.Errorf("%w: outbox full (%d frames)", domain.ErrDelivery, c.outbox.Len())
	}
	return nil
}

func (c *liveConn) close() { c.closed.Store(true) }

var _ ports.LiveConn = (*liveConn)(nil)
