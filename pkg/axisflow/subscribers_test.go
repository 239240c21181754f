package axisflow

import (
	"errors"
	"testing"
)

func testRecord() Record {
	return Record{
		MachineID:   "M00000001",
		MachineName: "EMXP1",
		Timestamp:   testEpoch,
		Axes:        map[Axis]AxisReading{AxisX: {ToolOffset: 7.5, Feedrate: 300, ToolInUse: 2}},
	}
}

func TestNewCallbackSubscriber(t *testing.T) {
	var received []Record
	sub := NewCallbackSubscriber(func(rec Record) error {
		received = append(received, rec)
		return nil
	})
	if sub.ID() == "" {
		t.Fatalf("expected a generated subscriber id")
	}

	input := testRecord()
	if err := sub.Push(input); err != nil {
		t.Fatalf("Push returned error: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 record, got %d", len(received))
	}

	received[0].Axes[AxisX] = AxisReading{ToolInUse: 99}
	if input.Axes[AxisX].ToolInUse != 2 {
		t.Fatalf("expected the callback to receive a copy")
	}
}

func TestNewCallbackSubscriberNilHandler(t *testing.T) {
	if err := NewCallbackSubscriber(nil).Push(testRecord()); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestCallbackSubscriberIDsAreUnique(t *testing.T) {
	a := NewCallbackSubscriber(func(Record) error { return nil })
	b := NewCallbackSubscriber(func(Record) error { return nil })
	if a.ID() == b.ID() {
		t.Fatalf("expected distinct ids, both %s", a.ID())
	}
}

func TestNewChannelSubscriber(t *testing.T) {
	sub, ch, closeFn := NewChannelSubscriber(1)

	if err := sub.Push(testRecord()); err != nil {
		t.Fatalf("Push returned error: %v", err)
	}
	if err := sub.Push(testRecord()); !errors.Is(err, ErrSubscriberFull) {
		t.Fatalf("expected ErrSubscriberFull, got %v", err)
	}

	got := <-ch
	if got.MachineID != "M00000001" || got.Axes[AxisX].Feedrate != 300 {
		t.Fatalf("unexpected record %+v", got)
	}

	closeFn()
	closeFn()
	if err := sub.Push(testRecord()); !errors.Is(err, ErrSubscriberClosed) {
		t.Fatalf("expected ErrSubscriberClosed, got %v", err)
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
}
