package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/shlex"
	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/inercia/chatline/internal/auth"
	"github.com/inercia/chatline/internal/client"
	"github.com/inercia/chatline/internal/connection"
	"github.com/inercia/chatline/internal/console"
	"github.com/inercia/chatline/internal/logging"
	"github.com/inercia/chatline/internal/protocol"
)

var chatNoColor bool

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Join a room and chat interactively",
	Long: `Open a chat channel and start an interactive session.

The channel reconnects on its own when the connection drops, up to the
configured number of attempts. After that, use /reconnect.

Commands:
  /join ID      - Switch to another room
  /rooms        - List rooms
  /reconnect    - Reconnect now
  /status       - Show the channel state
  /logout       - Log out and exit
  /quit, /exit  - Exit
  /help         - Show available commands`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().BoolVar(&chatNoColor, "no-color", false, "Disable colored output")
}

// chatSession bundles what the interactive loop works with.
type chatSession struct {
	api     *client.Client
	auth    *auth.Manager
	conn    *connection.Manager
	console *console.Console
	out     io.Writer
}

func runChat(cmd *cobra.Command, args []string) error {
	logger := logging.CLI()
	api := newAPIClient()
	authMgr, err := openSessionManager(api)
	if err != nil {
		return err
	}
	session := authMgr.Current()
	if !session.IsAuthenticated() {
		return fmt.Errorf("not logged in; run 'chatline login' first")
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle signals for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	rl := readline.NewShell()
	out := &shellWriter{rl: rl}

	con := console.New(out, session.DisplayName)
	con.SetColor(!chatNoColor)

	connMgr := connection.New(client.NewWSDialer(), authMgr, con, connection.Options{
		Address:        api.ChannelURL,
		RoomID:         cfg.Server.Room,
		MaxAttempts:    cfg.Reconnect.MaxAttempts,
		ReconnectDelay: cfg.Reconnect.Delay,
	})
	authMgr.OnLogout(connMgr.Disconnect)

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = connMgr.Run(ctx)
	}()
	defer func() {
		connMgr.Disconnect()
		cancel()
		<-runDone
	}()

	watchForeground(ctx, connMgr.Wake)

	logger.Info("Starting chat", "user", session.DisplayName, "server", cfg.Server.URL, "room", cfg.Server.Room)
	if err := connMgr.Connect(); err != nil {
		return err
	}

	cs := &chatSession{api: api, auth: authMgr, conn: connMgr, console: con, out: out}
	return cs.loop(ctx, rl, session.DisplayName)
}

func (cs *chatSession) loop(ctx context.Context, rl *readline.Shell, name string) error {
	rl.Prompt.Primary(func() string {
		if cs.console.Enabled() {
			return name + "> "
		}
		return name + " (offline)> "
	})

	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	// Every redraw of a non-empty line counts as typing. The highlighter runs
	// while readline renders, so it only signals; the connection manager
	// throttles the frames.
	typing := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-typing:
				cs.conn.SendTyping(true)
			case <-ctx.Done():
				return
			}
		}
	}()
	rl.SyntaxHighlighter = func(line []rune) string {
		if len(line) > 0 && line[0] != '/' {
			select {
			case typing <- struct{}{}:
			default:
			}
		}
		return string(line)
	}

	fmt.Fprintln(cs.out, "Type a message and press Enter. Use /help for commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
				fmt.Fprintln(cs.out, "Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := cs.handleCommand(ctx, line); quit {
				return nil
			}
			continue
		}

		cs.send(line)
	}
}

func (cs *chatSession) send(line string) {
	err := cs.conn.Send(line)
	cs.conn.SendTyping(false)
	switch {
	case err == nil:
	case errors.Is(err, protocol.ErrEmptyContent):
	case errors.Is(err, connection.ErrSendFailed):
		fmt.Fprintln(cs.out, "Not connected to chat server; message not sent.")
	default:
		fmt.Fprintf(cs.out, "Error: %v\n", err)
	}
}

type slashCommand struct {
	name        string
	description string
}

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []slashCommand{
	{"/help", "Show available commands"},
	{"/h", "Show available commands (alias)"},
	{"/?", "Show available commands (alias)"},
	{"/join", "Switch to another room"},
	{"/rooms", "List rooms"},
	{"/reconnect", "Reconnect now"},
	{"/status", "Show the channel state"},
	{"/logout", "Log out and exit"},
	{"/quit", "Exit the chat"},
	{"/exit", "Exit the chat (alias)"},
	{"/q", "Exit the chat (alias)"},
}

// handleCommand runs a slash command and reports whether the chat should end.
func (cs *chatSession) handleCommand(ctx context.Context, line string) bool {
	parts, err := shlex.Split(strings.TrimPrefix(line, "/"))
	if err != nil {
		fmt.Fprintf(cs.out, "Cannot parse command: %v\n", err)
		return false
	}
	if len(parts) == 0 {
		return false
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit", "q":
		fmt.Fprintln(cs.out, "Goodbye!")
		return true
	case "help", "h", "?":
		printHelp(cs.out)
	case "join":
		if len(parts) != 2 {
			fmt.Fprintln(cs.out, "Usage: /join ID")
			return false
		}
		id, err := parseRoomID(parts[1])
		if err != nil {
			fmt.Fprintf(cs.out, "%v\n", err)
			return false
		}
		if err := cs.conn.SwitchRoom(id); err != nil {
			fmt.Fprintf(cs.out, "Cannot join room %d: %v\n", id, err)
			return false
		}
		fmt.Fprintf(cs.out, "Joining room %d\n", id)
	case "rooms":
		rooms, err := cs.api.ListRooms(ctx)
		if err != nil {
			fmt.Fprintf(cs.out, "Cannot list rooms: %v\n", err)
			return false
		}
		renderRooms(cs.out, rooms)
	case "reconnect":
		if cs.conn.State() == connection.StateOpen {
			fmt.Fprintln(cs.out, "Already connected.")
			return false
		}
		cs.conn.Wake()
	case "status":
		fmt.Fprintf(cs.out, "State: %s, room: %d, reconnect attempts: %d\n",
			cs.conn.State(), cs.conn.RoomID(), cs.conn.Attempts())
	case "logout":
		cs.auth.Logout()
		fmt.Fprintln(cs.out, "Logged out.")
		return true
	default:
		fmt.Fprintf(cs.out, "Unknown command: %s (use /help for available commands)\n", parts[0])
	}
	return false
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Available commands:
  /join ID          - Switch to another room
  /rooms            - List rooms
  /reconnect        - Reconnect now
  /status           - Show the channel state
  /logout           - Log out and exit
  /quit, /exit, /q  - Exit the chat
  /help, /h, /?     - Show this help message

Tips:
  - Type your message and press Enter to send it to the room
  - Use Ctrl+D to exit
  - Use up/down arrows for message history
  - Use Tab to autocomplete slash commands`)
}

// completeInput provides tab completion for the chat input.
// It completes slash commands when the input starts with "/".
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	text := line[:cursor]

	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	pairs := make([]string, 0, len(slashCommands)*2)
	for _, cmd := range matchCommands(text) {
		pairs = append(pairs, cmd.name, cmd.description)
	}
	if len(pairs) == 0 {
		return readline.Completions{}
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}

// matchCommands returns the slash commands starting with prefix.
func matchCommands(prefix string) []slashCommand {
	var matches []slashCommand
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, prefix) {
			matches = append(matches, cmd)
		}
	}
	return matches
}

// shellWriter prints above the readline prompt so incoming messages do not
// garble the line being edited.
type shellWriter struct {
	rl *readline.Shell
}

func (w *shellWriter) Write(p []byte) (int, error) {
	if _, err := w.rl.Printf("%s", p); err != nil {
		return 0, err
	}
	return len(p), nil
}
