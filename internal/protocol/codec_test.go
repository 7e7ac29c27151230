package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestEncode(t *testing.T) {
	data, err := Encode(Intent{Content: "hello", Author: "alice"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Encode() produced invalid JSON: %v", err)
	}
	want := map[string]any{"type": "text", "content": "hello", "username": "alice"}
	if len(got) != len(want) {
		t.Errorf("Encode() fields = %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("Encode()[%q] = %v, want %v", k, got[k], v)
		}
	}
	if strings.HasSuffix(string(data), "\n") {
		t.Error("Encode() should not append a delimiter")
	}
}

func TestEncode_EmptyContent(t *testing.T) {
	for _, content := range []string{"", "   ", "\n\t"} {
		if _, err := Encode(Intent{Content: content, Author: "alice"}); !errors.Is(err, ErrEmptyContent) {
			t.Errorf("Encode(%q) error = %v, want ErrEmptyContent", content, err)
		}
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	contents := []string{
		"hi",
		"multi word message",
		`quotes " and \ backslashes`,
		"<script>alert(1)</script>",
		"unicode ✓ 日本語",
		"embedded\nnewline",
	}
	for _, content := range contents {
		t.Run(content, func(t *testing.T) {
			frame, err := Encode(Intent{Content: content, Author: "bob"})
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			events, err := Decode(append(frame, '\n'))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("Decode() returned %d events, want 1", len(events))
			}
			msg, ok := events[0].(TextMessage)
			if !ok {
				t.Fatalf("Decode() event = %T, want TextMessage", events[0])
			}
			if msg.Content != content || msg.Author != "bob" {
				t.Errorf("round trip = {%q %q}, want {%q %q}", msg.Author, msg.Content, "bob", content)
			}
		})
	}
}

func TestDecode_PreservesOrder(t *testing.T) {
	for _, k := range []int{0, 1, 2, 7} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			var frames []string
			for i := 0; i < k; i++ {
				frames = append(frames, fmt.Sprintf(`{"type":"text","content":"m%d","username":"u","timestamp":%d}`, i, i))
			}
			events, err := Decode([]byte(strings.Join(frames, "\n")))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(events) != k {
				t.Fatalf("Decode() returned %d events, want %d", len(events), k)
			}
			for i, ev := range events {
				if want := fmt.Sprintf("m%d", i); ev.Text() != want {
					t.Errorf("event %d = %q, want %q", i, ev.Text(), want)
				}
			}
		})
	}
}

func TestDecode_MalformedSegmentIsolated(t *testing.T) {
	chunk := strings.Join([]string{
		`{"type":"text","content":"a","username":"u"}`,
		`{"type":"text","content":`,
		`{"type":"text","content":"b","username":"u"}`,
		`42`,
		`null`,
		`{"type":"text","content":"c","username":"u"}`,
	}, "\n")

	events, err := Decode([]byte(chunk))
	if err == nil {
		t.Fatal("Decode() error = nil, want malformed frame errors")
	}
	var mf *MalformedFrameError
	if !errors.As(err, &mf) {
		t.Fatalf("Decode() error = %v, want *MalformedFrameError", err)
	}
	if mf.Index != 1 {
		t.Errorf("first malformed index = %d, want 1", mf.Index)
	}

	var got []string
	for _, ev := range events {
		got = append(got, ev.Text())
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Errorf("Decode() events = %v, want [a b c]", got)
	}
}

func TestDecode_BlankSegments(t *testing.T) {
	chunk := "\n   \n{\"type\":\"text\",\"content\":\"x\",\"username\":\"u\"}\r\n\n \t\n"
	events, err := Decode([]byte(chunk))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("Decode() returned %d events, want 1", len(events))
	}
	if events, err := Decode(nil); err != nil || len(events) != 0 {
		t.Errorf("Decode(nil) = %v, %v; want no events", events, err)
	}
}

func TestDecode_ScenarioB(t *testing.T) {
	chunk := "{\"type\":\"text\",\"content\":\"hi\",\"username\":\"bob\",\"timestamp\":1000}\n" +
		"{\"type\":\"user_left\",\"content\":\"carol left\",\"timestamp\":1001}\n"

	events, err := Decode([]byte(chunk))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Decode() returned %d events, want 2", len(events))
	}

	text, ok := events[0].(TextMessage)
	if !ok {
		t.Fatalf("event 0 = %T, want TextMessage", events[0])
	}
	if text.Author != "bob" || text.Content != "hi" || !text.SentAt.Equal(time.UnixMilli(1000)) {
		t.Errorf("event 0 = %+v", text)
	}

	left, ok := events[1].(UserLeft)
	if !ok {
		t.Fatalf("event 1 = %T, want UserLeft", events[1])
	}
	if left.Content != "carol left" || !left.SentAt.Equal(time.UnixMilli(1001)) {
		t.Errorf("event 1 = %+v", left)
	}
}

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		frame string
		kind  Kind
	}{
		{`{"type":"text","content":"x","username":"u"}`, KindText},
		{`{"type":"user_join","content":"x joined"}`, KindUserJoined},
		{`{"type":"user_joined","content":"x joined"}`, KindUserJoined},
		{`{"type":"user_left","content":"x left"}`, KindUserLeft},
		{`{"type":"system","content":"maintenance"}`, KindSystem},
		{`{"type":"room_renamed","content":"now #general"}`, KindSystem},
		{`{"content":"no type"}`, KindSystem},
		{`{"type":"typing","username":"u","is_typing":true}`, KindTyping},
	}
	for _, tt := range tests {
		t.Run(tt.frame, func(t *testing.T) {
			events, err := Decode([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(events) != 1 {
				t.Fatalf("Decode() returned %d events, want 1", len(events))
			}
			if events[0].Kind() != tt.kind {
				t.Errorf("Kind() = %v, want %v", events[0].Kind(), tt.kind)
			}
		})
	}
}

func TestDecode_UnknownTypeKeepsType(t *testing.T) {
	events, _ := Decode([]byte(`{"type":"poll","content":"vote now","timestamp":5}`))
	sys, ok := events[0].(SystemMessage)
	if !ok {
		t.Fatalf("event = %T, want SystemMessage", events[0])
	}
	if sys.Type != "poll" || sys.Content != "vote now" || !sys.SentAt.Equal(time.UnixMilli(5)) {
		t.Errorf("SystemMessage = %+v", sys)
	}
}

func TestTimestamp(t *testing.T) {
	rfc := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	tests := []struct {
		name    string
		frame   string
		want    time.Time
		wantErr bool
	}{
		{"epoch millis", `{"type":"system","timestamp":1700000000123}`, time.UnixMilli(1700000000123), false},
		{"rfc3339", `{"type":"system","timestamp":"2024-05-01T12:30:00Z"}`, rfc, false},
		{"missing", `{"type":"system"}`, time.Time{}, false},
		{"null", `{"type":"system","timestamp":null}`, time.Time{}, false},
		{"garbage string", `{"type":"system","timestamp":"yesterday"}`, time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := Decode([]byte(tt.frame))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if len(events) != 0 {
					t.Errorf("Decode() kept a malformed frame: %v", events)
				}
				return
			}
			if !events[0].Time().Equal(tt.want) {
				t.Errorf("Time() = %v, want %v", events[0].Time(), tt.want)
			}
		})
	}
}

func TestEncodeTyping(t *testing.T) {
	data, err := EncodeTyping(true)
	if err != nil {
		t.Fatalf("EncodeTyping() error = %v", err)
	}
	if string(data) != `{"type":"typing","is_typing":true}` {
		t.Errorf("EncodeTyping(true) = %s", data)
	}
	data, _ = EncodeTyping(false)
	if string(data) != `{"type":"typing","is_typing":false}` {
		t.Errorf("EncodeTyping(false) = %s", data)
	}
}

func TestMalformedFrameError_Truncates(t *testing.T) {
	long := `{"type":"text","content":"` + strings.Repeat("x", 200)
	_, err := Decode([]byte(long))
	var mf *MalformedFrameError
	if !errors.As(err, &mf) {
		t.Fatalf("Decode() error = %v, want *MalformedFrameError", err)
	}
	if len(mf.Segment) > maxSegmentInError+3 {
		t.Errorf("Segment length = %d, want <= %d", len(mf.Segment), maxSegmentInError+3)
	}
}

func TestKind_String(t *testing.T) {
	if KindText.String() != "text" || Kind(99).String() != "unknown" {
		t.Errorf("unexpected Kind strings: %s, %s", KindText, Kind(99))
	}
}
