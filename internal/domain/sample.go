package domain

import (
	"fmt"
	"math"
	"time"
)

// TimestampPrecision is the resolution every backend stores timestamps at.
const TimestampPrecision = time.Millisecond

// Sample is one axis reading of one machine at one instant.
type Sample struct {
	MachineID  string    `json:"machineId"`
	Axis       Axis      `json:"axis"`
	ToolOffset float64   `json:"toolOffset"`
	Feedrate   int       `json:"feedrate"`
	ToolInUse  int       `json:"toolInUse"`
	Timestamp  time.Time `json:"timestamp"`
}

// AxisReading is the per-axis payload inside a MachineRecord.
type AxisReading struct {
	ToolOffset float64 `json:"toolOffset"`
	Feedrate   int     `json:"feedrate"`
	ToolInUse  int     `json:"toolInUse"`
}

// MachineRecord is a full-axis snapshot of one machine at one timestamp. It is the unit of
// distribution, the live push payload and the element of a historical view.
type MachineRecord struct {
	MachineID   string               `json:"machineId"`
	MachineName string               `json:"machineName"`
	Timestamp   time.Time            `json:"timestamp"`
	Axes        map[Axis]AxisReading `json:"axes"`
}

// NormalizeTimestamp truncates t to the stored precision in UTC.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(TimestampPrecision)
}

// Validate checks the sample fields that do not need the machine row.
func (s Sample) Validate() error {
	if s.MachineID == "" {
		return fmt.Errorf("%w: machineId is required", ErrValidation)
	}
	if !s.Axis.Valid() {
		return fmt.Errorf("%w: unknown axis %q", ErrValidation, s.Axis)
	}
	if !finite(s.ToolOffset) {
		return fmt.Errorf("%w: toolOffset must be finite, got %v", ErrValidation, s.ToolOffset)
	}
	if s.Feedrate < 0 {
		return fmt.Errorf("%w: feedrate must be >= 0, got %d", ErrValidation, s.Feedrate)
	}
	if s.ToolInUse < 1 {
		return fmt.Errorf("%w: toolInUse must be >= 1, got %d", ErrValidation, s.ToolInUse)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	return nil
}

// CheckCapacity validates ToolInUse against the machine's tool capacity.
func (s Sample) CheckCapacity(toolCapacity int) error {
	if s.ToolInUse < 1 || s.ToolInUse > toolCapacity {
		return fmt.Errorf("%w: toolInUse %d outside [1, %d] for machine %s",
			ErrValidation, s.ToolInUse, toolCapacity, s.MachineID)
	}
	return nil
}

// Validate checks that the record is addressable and every axis entry is known.
func (r MachineRecord) Validate() error {
	if r.MachineID == "" {
		return fmt.Errorf("%w: machineId is required", ErrValidation)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if len(r.Axes) == 0 {
		return fmt.Errorf("%w: record for %s has no axes", ErrValidation, r.MachineID)
	}
	for axis, reading := range r.Axes {
		if !axis.Valid() {
			return fmt.Errorf("%w: unknown axis %q", ErrValidation, axis)
		}
		if !finite(reading.ToolOffset) {
			return fmt.Errorf("%w: axis %s toolOffset must be finite, got %v", ErrValidation, axis, reading.ToolOffset)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Samples flattens the record into per-axis samples in canonical axis order.
func (r MachineRecord) Samples() []Sample {
	out := make([]Sample, 0, len(r.Axes))
	for _, axis := range Axes {
		reading, ok := r.Axes[axis]
		if !ok {
			continue
		}
		out = append(out, Sample{
			MachineID:  r.MachineID,
			Axis:       axis,
			ToolOffset: reading.ToolOffset,
			Feedrate:   reading.Feedrate,
			ToolInUse:  reading.ToolInUse,
			Timestamp:  r.Timestamp,
		})
	}
	return out
}

// Clone returns a deep copy so subscribers cannot mutate a shared payload.
func (r MachineRecord) Clone() MachineRecord {
	axes := make(map[Axis]AxisReading, len(r.Axes))
	for k, v := range r.Axes {
		axes[k] = v
	}
	r.Axes = axes
	return r
}

// GroupByTimestamp folds samples ordered by timestamp into one record per distinct timestamp,
// preserving the order of first occurrence.
func GroupByTimestamp(m Machine, samples []Sample) []MachineRecord {
	out := make([]MachineRecord, 0)
	index := make(map[int64]int)
	for _, s := range samples {
		key := s.Timestamp.UnixNano()
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, MachineRecord{
				MachineID:   s.MachineID,
				MachineName: m.MachineName,
				Timestamp:   s.Timestamp,
				Axes:        make(map[Axis]AxisReading, len(Axes)),
			})
		}
		out[i].Axes[s.Axis] = AxisReading{
			ToolOffset: s.ToolOffset,
			Feedrate:   s.Feedrate,
			ToolInUse:  s.ToolInUse,
		}
	}
	return out
}
