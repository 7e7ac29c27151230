package connection

import "github.com/inercia/chatline/internal/protocol"

// Status is the coarse channel condition reported to the Consumer.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusClear        Status = "clear"
	StatusDisconnected Status = "disconnected"
)

// Consumer receives channel notifications. Callbacks run on the Manager's
// event loop in order and must not call back into the Manager synchronously.
type Consumer interface {
	// OnStatus reports a status change with a human-readable detail.
	// StatusClear carries an empty detail and means the banner can go.
	OnStatus(status Status, detail string)
	// OnMessage delivers one decoded inbound event.
	OnMessage(ev protocol.Event)
	// OnChannelEnabledChanged reports whether sending is currently possible.
	OnChannelEnabledChanged(enabled bool)
}

// ConsumerFuncs adapts plain functions to Consumer. Nil fields are ignored.
type ConsumerFuncs struct {
	Status         func(status Status, detail string)
	Message        func(ev protocol.Event)
	ChannelEnabled func(enabled bool)
}

func (f ConsumerFuncs) OnStatus(status Status, detail string) {
	if f.Status != nil {
		f.Status(status, detail)
	}
}

func (f ConsumerFuncs) OnMessage(ev protocol.Event) {
	if f.Message != nil {
		f.Message(ev)
	}
}

func (f ConsumerFuncs) OnChannelEnabledChanged(enabled bool) {
	if f.ChannelEnabled != nil {
		f.ChannelEnabled(enabled)
	}
}
