package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Wire values of the "type" field.
const (
	TypeText       = "text"
	TypeUserJoin   = "user_join"
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"
	TypeSystem     = "system"
	TypeTyping     = "typing"
)

// Kind identifies an Event variant.
type Kind int

const (
	KindText Kind = iota
	KindUserJoined
	KindUserLeft
	KindSystem
	KindTyping
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindUserJoined:
		return "user_joined"
	case KindUserLeft:
		return "user_left"
	case KindSystem:
		return "system"
	case KindTyping:
		return "typing"
	default:
		return "unknown"
	}
}

// Event is an inbound application event. The concrete type is one of
// TextMessage, UserJoined, UserLeft, SystemMessage or Typing.
type Event interface {
	Kind() Kind
	// Time is the server-supplied send instant, zero if the server sent none.
	Time() time.Time
	// Text is the event's displayable content.
	Text() string
}

// TextMessage is a chat line posted by a user.
type TextMessage struct {
	Author  string
	Content string
	SentAt  time.Time
}

// UserJoined announces a user entering the room.
type UserJoined struct {
	Content string
	SentAt  time.Time
}

// UserLeft announces a user leaving the room.
type UserLeft struct {
	Content string
	SentAt  time.Time
}

// SystemMessage carries "system" frames and any frame type this client
// does not know, so newer server message kinds still reach the renderer.
type SystemMessage struct {
	Type    string
	Content string
	SentAt  time.Time
}

// Typing reports whether another user is composing a message.
type Typing struct {
	Author   string
	IsTyping bool
	SentAt   time.Time
}

func (m TextMessage) Kind() Kind      { return KindText }
func (m TextMessage) Time() time.Time { return m.SentAt }
func (m TextMessage) Text() string    { return m.Content }

func (m UserJoined) Kind() Kind      { return KindUserJoined }
func (m UserJoined) Time() time.Time { return m.SentAt }
func (m UserJoined) Text() string    { return m.Content }

func (m UserLeft) Kind() Kind      { return KindUserLeft }
func (m UserLeft) Time() time.Time { return m.SentAt }
func (m UserLeft) Text() string    { return m.Content }

func (m SystemMessage) Kind() Kind      { return KindSystem }
func (m SystemMessage) Time() time.Time { return m.SentAt }
func (m SystemMessage) Text() string    { return m.Content }

func (m Typing) Kind() Kind      { return KindTyping }
func (m Typing) Time() time.Time { return m.SentAt }
func (m Typing) Text() string {
	if m.IsTyping {
		return m.Author + " is typing"
	}
	return ""
}

// Intent is a user's request to post a chat line.
type Intent struct {
	Content string
	Author  string
}

// Timestamp decodes the server's "timestamp" field, which is either epoch
// milliseconds or an RFC 3339 string. A null or absent value stays zero.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}

// ErrEmptyContent is returned by Encode for blank content. Callers are
// expected to filter empty input before building an Intent.
var ErrEmptyContent = errors.New("message content is empty")

// MalformedFrameError describes one inbound segment that could not be decoded.
type MalformedFrameError struct {
	// Index is the position of the segment among the non-blank segments of
	// the chunk.
	Index int
	// Segment is the raw text, truncated for logging.
	Segment string
	Err     error
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("malformed frame %d %q: %v", e.Index, e.Segment, e.Err)
}

func (e *MalformedFrameError) Unwrap() error {
	return e.Err
}
