package websocket

import "github.com/ghalamif/AxisFlow/internal/domain"

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"

	FrameMachineData  = "machineData"
	FrameSubscribed   = "subscribed"
	FrameUnsubscribed = "unsubscribed"
	FrameError        = "error"
)

// Request is a client -> server message.
type Request struct {
	Action    string `json:"action"`
	MachineID string `json:"machineId"`
}

// Frame is a server -> client message.
type Frame struct {
	Type      string                `json:"type"`
	MachineID string                `json:"machineId,omitempty"`
	Data      *domain.MachineRecord `json:"data,omitempty"`
	Error     string                `json:"error,omitempty"`
}
