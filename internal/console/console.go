// Package console renders chat channel notifications on a terminal.
package console

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/gookit/color"

	"github.com/inercia/chatline/internal/connection"
	"github.com/inercia/chatline/internal/protocol"
)

const timeFormat = "15:04"

// Console implements connection.Consumer by writing one line per
// notification to an io.Writer. Server content is printed as plain text with
// control characters escaped.
type Console struct {
	mu     sync.Mutex
	out    io.Writer
	self   string
	color  bool
	typing map[string]bool

	enabled atomic.Bool
}

var _ connection.Consumer = (*Console)(nil)

// New creates a Console writing to out. self is the local display name;
// messages from it are marked.
func New(out io.Writer, self string) *Console {
	return &Console{
		out:    out,
		self:   self,
		typing: make(map[string]bool),
	}
}

// SetColor turns ANSI colors on or off. Colors are off by default and are
// dropped anyway when the terminal does not support them.
func (c *Console) SetColor(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.color = on
}

// Enabled reports whether the channel currently accepts messages.
func (c *Console) Enabled() bool {
	return c.enabled.Load()
}

func (c *Console) OnStatus(status connection.Status, detail string) {
	if status == connection.StatusClear {
		return
	}
	style := color.Gray
	if status == connection.StatusDisconnected {
		style = color.Red
	}
	c.printf("%s\n", c.paint(style, "-- "+Sanitize(detail)))
}

func (c *Console) OnChannelEnabledChanged(enabled bool) {
	c.enabled.Store(enabled)
	if !enabled {
		c.mu.Lock()
		clear(c.typing)
		c.mu.Unlock()
	}
}

func (c *Console) OnMessage(ev protocol.Event) {
	switch m := ev.(type) {
	case protocol.TextMessage:
		c.mu.Lock()
		delete(c.typing, m.Author)
		self := c.self
		c.mu.Unlock()

		author := c.paint(color.Cyan, Sanitize(m.Author))
		if m.Author != "" && m.Author == self {
			author = c.paint(color.Green, Sanitize(m.Author)+" (you)")
		}
		c.printf("%s%s: %s\n", stamp(ev), author, Sanitize(m.Content))
	case protocol.UserJoined, protocol.UserLeft:
		c.printf("%s%s\n", stamp(ev), c.paint(color.Gray, "* "+Sanitize(ev.Text())))
	case protocol.Typing:
		c.mu.Lock()
		was := c.typing[m.Author]
		if m.IsTyping {
			c.typing[m.Author] = true
		} else {
			delete(c.typing, m.Author)
		}
		self := c.self
		c.mu.Unlock()

		if m.IsTyping && !was && m.Author != self {
			c.printf("%s\n", c.paint(color.Gray, "   "+Sanitize(m.Author)+" is typing..."))
		}
	default:
		c.printf("%s%s\n", stamp(ev), c.paint(color.Yellow, "! "+Sanitize(ev.Text())))
	}
}

func (c *Console) paint(style color.Color, s string) string {
	c.mu.Lock()
	on := c.color
	c.mu.Unlock()
	if !on {
		return s
	}
	return style.Sprint(s)
}

func (c *Console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// stamp formats the event time as a prefix. Events the server sent without
// a time show the local receive time instead.
func stamp(ev protocol.Event) string {
	t := ev.Time()
	if t.IsZero() {
		t = time.Now()
	}
	return "[" + t.Local().Format(timeFormat) + "] "
}

// Sanitize makes untrusted text safe to print: control characters,
// including escape sequences and newlines, are replaced by their quoted form.
func Sanitize(s string) string {
	if strings.IndexFunc(s, unicode.IsControl) < 0 {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			q := strconv.QuoteRune(r)
			b.WriteString(q[1 : len(q)-1])
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
