package secrets

import (
	"fmt"
	"os"
	"sync"

	"github.com/inercia/chatline/internal/fileutil"
)

// FileStore keeps credentials in an owner-only JSON file shaped as
// {"service": {"account": "value"}}. Every mutation rewrites the file
// atomically before returning.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a FileStore backed by path. The file is created on
// the first Set.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the backing file path.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) load() (map[string]map[string]string, error) {
	data := make(map[string]map[string]string)
	if err := fileutil.ReadJSON(f.path, &data); err != nil {
		if os.IsNotExist(err) {
			return make(map[string]map[string]string), nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	// A file holding JSON null decodes to a nil map.
	if data == nil {
		data = make(map[string]map[string]string)
	}
	return data, nil
}

func (f *FileStore) Get(service, account string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := data[service][account]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileStore) Set(service, account, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	if data[service] == nil {
		data[service] = make(map[string]string)
	}
	data[service][account] = value
	if err := fileutil.WriteJSONAtomic(f.path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (f *FileStore) Delete(service, account string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := data[service][account]; !ok {
		return ErrNotFound
	}
	delete(data[service], account)
	if len(data[service]) == 0 {
		delete(data, service)
	}
	if err := fileutil.WriteJSONAtomic(f.path, data, 0600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

func (f *FileStore) IsSupported() bool {
	return true
}
