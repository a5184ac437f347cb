package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStorage is a Storage backed by a single JSON file, written out on
// every mutation. Suits the handful of slots the client persists.
type FileStorage struct {
	mu    sync.Mutex
	path  string
	slots map[string]string
}

// OpenFileStorage loads (or initializes) the storage file at path.
// A missing file is a fresh device, not an error.
func OpenFileStorage(path string) (*FileStorage, error) {
	fs := &FileStorage{path: path, slots: make(map[string]string)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read local storage: %w", err)
	}
	if err := json.Unmarshal(data, &fs.slots); err != nil {
		// Corrupt file: start clean rather than refuse to boot.
		fs.slots = make(map[string]string)
	}
	return fs, nil
}

func (fs *FileStorage) Get(key string) (string, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	v, ok := fs.slots[key]
	return v, ok
}

func (fs *FileStorage) Set(key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.slots[key] = value
	return fs.flush()
}

func (fs *FileStorage) Remove(key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.slots[key]; !ok {
		return nil
	}
	delete(fs.slots, key)
	return fs.flush()
}

func (fs *FileStorage) flush() error {
	data, err := json.Marshal(fs.slots)
	if err != nil {
		return fmt.Errorf("failed to encode local storage: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("failed to create storage dir: %w", err)
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write local storage: %w", err)
	}
	return os.Rename(tmp, fs.path)
}

// MemStorage is an in-memory Storage for tests.
type MemStorage struct {
	mu    sync.Mutex
	slots map[string]string
}

func NewMemStorage() *MemStorage {
	return &MemStorage{slots: make(map[string]string)}
}

func (ms *MemStorage) Get(key string) (string, bool) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	v, ok := ms.slots[key]
	return v, ok
}

func (ms *MemStorage) Set(key, value string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.slots[key] = value
	return nil
}

func (ms *MemStorage) Remove(key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.slots, key)
	return nil
}
