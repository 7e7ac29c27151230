package cmd

import (
	"fmt"

	"github.com/inercia/chatline/internal/appdir"
	"github.com/inercia/chatline/internal/auth"
	"github.com/inercia/chatline/internal/client"
	"github.com/inercia/chatline/internal/secrets"
)

// newAPIClient returns an HTTP API client for the configured server.
func newAPIClient() *client.Client {
	var opts []client.Option
	if cfg.Server.Timeout > 0 {
		opts = append(opts, client.WithTimeout(cfg.Server.Timeout))
	}
	return client.New(cfg.Server.URL, opts...)
}

// openSessionManager opens the credential store and restores the persisted
// session.
func openSessionManager(api auth.API) (*auth.Manager, error) {
	path, err := appdir.CredentialsPath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credentials path: %w", err)
	}
	mgr := auth.NewManager(api, secrets.NewCredentials(secrets.Open(path)))
	mgr.Restore()
	return mgr, nil
}
