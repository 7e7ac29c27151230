package secrets

import (
	"errors"
	"fmt"
)

// Credentials reads and writes the persisted session (auth token and display
// name) under the well-known accounts of ServiceName.
type Credentials struct {
	store SecretStore
}

// NewCredentials wraps store.
func NewCredentials(store SecretStore) *Credentials {
	return &Credentials{store: store}
}

// Load returns the persisted token and display name. ok is false unless both
// are present and non-empty; a missing value is not an error.
func (c *Credentials) Load() (token, displayName string, ok bool, err error) {
	token, err = c.get(AccountAuthToken)
	if err != nil {
		return "", "", false, err
	}
	displayName, err = c.get(AccountDisplayName)
	if err != nil {
		return "", "", false, err
	}
	if token == "" || displayName == "" {
		return "", "", false, nil
	}
	return token, displayName, true, nil
}

func (c *Credentials) get(account string) (string, error) {
	v, err := c.store.Get(ServiceName, account)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load %s: %w", account, err)
	}
	return v, nil
}

// Save persists both values.
func (c *Credentials) Save(token, displayName string) error {
	if err := c.store.Set(ServiceName, AccountAuthToken, token); err != nil {
		return fmt.Errorf("save %s: %w", AccountAuthToken, err)
	}
	if err := c.store.Set(ServiceName, AccountDisplayName, displayName); err != nil {
		return fmt.Errorf("save %s: %w", AccountDisplayName, err)
	}
	return nil
}

// Clear removes both values. Missing values are ignored.
func (c *Credentials) Clear() error {
	var errs []error
	for _, account := range []string{AccountAuthToken, AccountDisplayName} {
		if err := c.store.Delete(ServiceName, account); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("clear %s: %w", account, err))
		}
	}
	return errors.Join(errs...)
}
