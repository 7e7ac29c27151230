package connection

import (
	"log/slog"
	"time"
)

const (
	// DefaultMaxAttempts is how many reconnects follow an unclean closure
	// before giving up.
	DefaultMaxAttempts = 5

	// DefaultReconnectDelay is the fixed wait before each reconnect.
	DefaultReconnectDelay = 3000 * time.Millisecond

	// DefaultClearDelay is how long the "Connected" banner stays up.
	DefaultClearDelay = 2000 * time.Millisecond

	// DefaultTypingInterval is the minimum gap between typing=true frames.
	DefaultTypingInterval = 3 * time.Second
)

// AddressFunc builds the channel address for a token and room.
// Room 0 means the server default.
type AddressFunc func(token string, roomID int) (string, error)

// TokenSource supplies the current credential. *auth.Manager satisfies it.
type TokenSource interface {
	Token() string
	DisplayName() string
}

// Options configures a Manager. Zero values take the defaults.
type Options struct {
	// Address is required.
	Address AddressFunc
	RoomID  int

	MaxAttempts    int
	ReconnectDelay time.Duration
	ClearDelay     time.Duration
	TypingInterval time.Duration

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.ClearDelay <= 0 {
		o.ClearDelay = DefaultClearDelay
	}
	if o.TypingInterval <= 0 {
		o.TypingInterval = DefaultTypingInterval
	}
	return o
}
