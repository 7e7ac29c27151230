package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// maxSegmentInError bounds how much of a bad segment is kept for logging.
const maxSegmentInError = 64

type textFrame struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Username string `json:"username"`
}

type typingFrame struct {
	Type     string `json:"type"`
	IsTyping bool   `json:"is_typing"`
}

// inboundFrame is the union of every field the server sends.
type inboundFrame struct {
	Type      string    `json:"type"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp Timestamp `json:"timestamp"`
	IsTyping  bool      `json:"is_typing"`
}

// Encode serializes a chat line into one wire frame, without a trailing
// delimiter.
func Encode(intent Intent) ([]byte, error) {
	if strings.TrimSpace(intent.Content) == "" {
		return nil, ErrEmptyContent
	}
	data, err := json.Marshal(textFrame{
		Type:     TypeText,
		Content:  intent.Content,
		Username: intent.Author,
	})
	if err != nil {
		return nil, fmt.Errorf("encode text frame: %w", err)
	}
	return data, nil
}

// EncodeTyping serializes a typing indicator frame.
func EncodeTyping(isTyping bool) ([]byte, error) {
	data, err := json.Marshal(typingFrame{Type: TypeTyping, IsTyping: isTyping})
	if err != nil {
		return nil, fmt.Errorf("encode typing frame: %w", err)
	}
	return data, nil
}

// Decode splits a newline-delimited chunk and decodes every non-blank
// segment independently. Events are returned in the order their segments
// appear. Segments that fail to decode are skipped; the returned error then
// joins one *MalformedFrameError per skipped segment, while events still
// holds everything that decoded.
func Decode(chunk []byte) ([]Event, error) {
	var (
		events []Event
		errs   []error
		index  int
	)
	for _, segment := range bytes.Split(chunk, []byte{'\n'}) {
		segment = bytes.TrimSpace(segment)
		if len(segment) == 0 {
			continue
		}
		ev, err := decodeSegment(segment)
		if err != nil {
			errs = append(errs, &MalformedFrameError{
				Index:   index,
				Segment: truncate(segment),
				Err:     err,
			})
		} else {
			events = append(events, ev)
		}
		index++
	}
	return events, errors.Join(errs...)
}

func decodeSegment(segment []byte) (Event, error) {
	if segment[0] != '{' {
		return nil, errors.New("not a JSON object")
	}
	var f inboundFrame
	if err := json.Unmarshal(segment, &f); err != nil {
		return nil, err
	}

	sentAt := f.Timestamp.Time
	switch f.Type {
	case TypeText:
		return TextMessage{Author: f.Username, Content: f.Content, SentAt: sentAt}, nil
	case TypeUserJoin, TypeUserJoined:
		return UserJoined{Content: f.Content, SentAt: sentAt}, nil
	case TypeUserLeft:
		return UserLeft{Content: f.Content, SentAt: sentAt}, nil
	case TypeTyping:
		return Typing{Author: f.Username, IsTyping: f.IsTyping, SentAt: sentAt}, nil
	default:
		return SystemMessage{Type: f.Type, Content: f.Content, SentAt: sentAt}, nil
	}
}

func truncate(segment []byte) string {
	if len(segment) <= maxSegmentInError {
		return string(segment)
	}
	return string(segment[:maxSegmentInError]) + "..."
}
