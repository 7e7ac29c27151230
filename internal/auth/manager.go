// Package auth manages the chat session credential: logging in, registering,
// restoring the persisted session at startup and logging out.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/inercia/chatline/internal/client"
	"github.com/inercia/chatline/internal/logging"
	"github.com/inercia/chatline/internal/secrets"
)

// Session is the credential needed to open a chat channel. Token and
// DisplayName are either both set or both empty.
type Session struct {
	Token       string
	DisplayName string
}

// IsAuthenticated reports whether the session carries a token.
func (s Session) IsAuthenticated() bool {
	return s.Token != "" && s.DisplayName != ""
}

// API is the subset of the HTTP client used for credential exchange.
type API interface {
	Login(ctx context.Context, req client.LoginRequest) (*client.AuthResponse, error)
	Register(ctx context.Context, req client.RegisterRequest) (*client.AuthResponse, error)
}

// Manager owns the current Session. It is safe for concurrent use.
type Manager struct {
	api    API
	creds  *secrets.Credentials
	logger *slog.Logger

	mu       sync.Mutex
	session  Session
	onLogout []func()
}

// NewManager creates a Manager holding an anonymous session. Call Restore to
// load a persisted one.
func NewManager(api API, creds *secrets.Credentials) *Manager {
	return &Manager{
		api:    api,
		creds:  creds,
		logger: logging.Auth(),
	}
}

// OnLogout registers fn to run after every Logout, e.g. to close the open
// chat channel.
func (m *Manager) OnLogout(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onLogout = append(m.onLogout, fn)
}

// Current returns the current session.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Token returns the current auth token, empty when anonymous.
func (m *Manager) Token() string {
	return m.Current().Token
}

// DisplayName returns the current display name, empty when anonymous.
func (m *Manager) DisplayName() string {
	return m.Current().DisplayName
}

// Restore loads the persisted session. Anything short of both values being
// present yields an anonymous session; store errors are logged, not returned.
func (m *Manager) Restore() Session {
	token, name, ok, err := m.creds.Load()
	if err != nil {
		m.logger.Warn("Failed to read stored credentials", "error", err)
	}

	s := Session{}
	if ok {
		s = Session{Token: token, DisplayName: name}
		if exp, has := TokenExpiry(token); has && time.Now().After(exp) {
			m.logger.Warn("Stored session token has expired", "user", name, "expired_at", exp)
		}
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	m.logger.Debug("Session restored", "authenticated", s.IsAuthenticated())
	return s
}

// Login exchanges username and password for a session token.
// Blank fields fail with *ValidationError before any request is made.
func (m *Manager) Login(ctx context.Context, username, password string) (Session, error) {
	username = strings.TrimSpace(username)
	if err := check(loginInput{Username: username, Password: password}); err != nil {
		return Session{}, err
	}

	resp, err := m.api.Login(ctx, client.LoginRequest{Username: username, Password: password})
	if err != nil {
		return Session{}, m.classify("login", err)
	}
	return m.establish(resp, username), nil
}

// Register creates an account and logs into it.
// Blank fields or a password shorter than MinPasswordLength fail with
// *ValidationError before any request is made.
func (m *Manager) Register(ctx context.Context, username, email, password string) (Session, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)
	if err := check(registerInput{Username: username, Email: email, Password: password}); err != nil {
		return Session{}, err
	}

	resp, err := m.api.Register(ctx, client.RegisterRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return Session{}, m.classify("register", err)
	}
	return m.establish(resp, username), nil
}

// Logout forgets the session, clears the persisted credential and runs the
// logout hooks. It always succeeds.
func (m *Manager) Logout() Session {
	if err := m.creds.Clear(); err != nil {
		m.logger.Error("Failed to clear stored credentials", "error", err)
	}

	m.mu.Lock()
	m.session = Session{}
	hooks := append([]func(){}, m.onLogout...)
	m.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	m.logger.Info("Logged out")
	return Session{}
}

// establish adopts the server's answer as the current session and persists it.
func (m *Manager) establish(resp *client.AuthResponse, requested string) Session {
	name := resp.Username
	if name == "" {
		name = requested
	}
	s := Session{Token: resp.Token, DisplayName: name}

	if err := m.creds.Save(s.Token, s.DisplayName); err != nil {
		m.logger.Error("Failed to persist credentials; session will not survive restart", "error", err)
	}

	m.mu.Lock()
	m.session = s
	m.mu.Unlock()

	m.logger.Info("Authenticated", "user", name)
	return s
}

func (m *Manager) classify(op string, err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		m.logger.Info("Server rejected credentials", "op", op, "status", apiErr.Status)
		return &RejectedError{Status: apiErr.Status, Reason: apiErr.Message()}
	}
	m.logger.Warn("Authentication request failed", "op", op, "error", err)
	return fmt.Errorf("%w: %w", ErrAuthUnavailable, err)
}
