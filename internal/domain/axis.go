package domain

import "fmt"

// Axis identifies one machine tool control dimension.
type Axis string

const (
	AxisX Axis = "X"
	AxisY Axis = "Y"
	AxisZ Axis = "Z"
	AxisA Axis = "A"
	AxisC Axis = "C"
)

// Axes is the closed axis set in generation order.
var Axes = [...]Axis{AxisX, AxisY, AxisZ, AxisA, AxisC}

func (a Axis) Valid() bool {
	switch a {
	case AxisX, AxisY, AxisZ, AxisA, AxisC:
		return true
	default:
		return false
	}
}

func ParseAxis(s string) (Axis, error) {
	a := Axis(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown axis %q", ErrValidation, s)
	}
	return a, nil
}
