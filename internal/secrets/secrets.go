// Package secrets persists the chatline credential (auth token and display
// name) across runs.
// On macOS the system Keychain is preferred, with a JSON file in the data
// directory as fallback. Other platforms use the JSON file only.
package secrets

import "errors"

// ServiceName groups chatline credentials in the backing store.
const ServiceName = "chatline"

// Well-known account names for the persisted session.
const (
	AccountAuthToken   = "auth-token"
	AccountDisplayName = "display-name"
)

// ErrNotFound is returned when a credential is not found in the store.
var ErrNotFound = errors.New("credential not found")

// ErrNotSupported is returned when the secret store is not supported on the current platform.
var ErrNotSupported = errors.New("secret store not supported on this platform")

// SecretStore is a string key/value store addressed by service and account.
// Implementations should be safe for concurrent use.
type SecretStore interface {
	// Get retrieves the value for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Get(service, account string) (string, error)

	// Set stores a value for the given service and account, replacing any
	// existing one.
	Set(service, account, value string) error

	// Delete removes a credential for the given service and account.
	// Returns ErrNotFound if the credential does not exist.
	Delete(service, account string) error

	// IsSupported returns true if this store is functional on the current platform.
	IsSupported() bool
}

// Open returns the store used for chatline credentials. filePath is the
// JSON file backing the store when no platform store is available, and the
// fallback when the platform store fails.
func Open(filePath string) SecretStore {
	file := NewFileStore(filePath)
	if primary := platformStore(); primary.IsSupported() {
		return &FallbackStore{Primary: primary, Secondary: file}
	}
	return file
}
