// Package appdir locates the chatline data directory, which holds the
// configuration file, the file-backed credential store and log files.
//
// The directory is CHATLINE_DIR when set, otherwise "chatline" under the
// user's configuration directory (os.UserConfigDir): ~/.config/chatline on
// Linux, ~/Library/Application Support/chatline on macOS and
// %AppData%\chatline on Windows.
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	// DirEnv overrides the chatline data directory.
	DirEnv = "CHATLINE_DIR"

	dirName = "chatline"

	ConfigFileName      = "config.yaml"
	CredentialsFileName = "credentials.json"
	LogsDirName         = "logs"
)

var (
	mu     sync.Mutex
	cached string
)

// Dir returns the data directory. The first successful lookup is cached
// until ResetCache. Dir does not create anything; see EnsureDir.
func Dir() (string, error) {
	mu.Lock()
	defer mu.Unlock()

	if cached != "" {
		return cached, nil
	}
	if dir := os.Getenv(DirEnv); dir != "" {
		cached = dir
		return cached, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate data directory (set %s to override): %w", DirEnv, err)
	}
	cached = filepath.Join(base, dirName)
	return cached, nil
}

// EnsureDir creates the data directory, owner-only since it holds
// credentials, and its logs subdirectory.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	for _, d := range []string{dir, filepath.Join(dir, LogsDirName)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return fmt.Errorf("failed to create %s: %w", d, err)
		}
	}
	return nil
}

func path(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ConfigPath returns <dir>/config.yaml.
func ConfigPath() (string, error) { return path(ConfigFileName) }

// CredentialsPath returns <dir>/credentials.json.
func CredentialsPath() (string, error) { return path(CredentialsFileName) }

// LogsDir returns <dir>/logs.
func LogsDir() (string, error) { return path(LogsDirName) }

// ResetCache forgets the cached directory. Tests use it after changing
// CHATLINE_DIR.
func ResetCache() {
	mu.Lock()
	cached = ""
	mu.Unlock()
}
