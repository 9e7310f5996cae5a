package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	opsdeck "github.com/opsdeck/opsdeck-go"
)

// File persists credentials as a JSON file with owner-only permissions.
// A missing file means no credentials; a corrupt one loads as an error so
// the client can log it and start anonymous.
type File struct {
	path string
	mu   sync.Mutex
}

// compile-time check
var _ opsdeck.CredentialStore = (*File)(nil)

// NewFile creates a store backed by the file at path. Parent directories
// are created on first save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Load reads the credential file, returning (nil, nil) when it does not exist.
func (f *File) Load(ctx context.Context) (*opsdeck.Credentials, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credstore: failed to read %s: %w", f.path, err)
	}
	var creds opsdeck.Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("credstore: corrupt credential file %s: %w", f.path, err)
	}
	return &creds, nil
}

// Save writes the credential file with 0600 permissions.
func (f *File) Save(ctx context.Context, creds *opsdeck.Credentials) error {
	if creds == nil {
		return fmt.Errorf("credstore: nil credentials")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credstore: failed to encode credentials: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("credstore: failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(f.path, data, 0o600); err != nil {
		return fmt.Errorf("credstore: failed to write %s: %w", f.path, err)
	}
	return nil
}

// Clear deletes the credential file. A missing file is not an error.
func (f *File) Clear(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("credstore: failed to remove %s: %w", f.path, err)
	}
	return nil
}
