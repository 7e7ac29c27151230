package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/reeflective/readline"
	"golang.org/x/term"
)

// prompter asks the user for input.
type prompter interface {
	Line(label string) (string, error)
	Secret(label string) (string, error)
}

// newPrompter returns a terminal prompter when in is a TTY and a
// line-oriented one otherwise, so credentials can be piped in.
func newPrompter(in io.Reader, out io.Writer) prompter {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return &termPrompter{fd: int(f.Fd()), out: out}
	}
	return &linePrompter{in: bufio.NewReader(in), out: out}
}

type termPrompter struct {
	fd  int
	out io.Writer
}

func (p *termPrompter) Line(label string) (string, error) {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return label })
	line, err := rl.Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *termPrompter) Secret(label string) (string, error) {
	fmt.Fprint(p.out, label)
	b, err := term.ReadPassword(p.fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type linePrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *linePrompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	return p.read()
}

func (p *linePrompter) Secret(label string) (string, error) {
	fmt.Fprint(p.out, label)
	return p.read()
}

func (p *linePrompter) read() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
