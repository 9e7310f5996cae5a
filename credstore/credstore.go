// Package credstore provides opsdeck.CredentialStore implementations:
// in-memory for tests and single-run tools, a JSON file for workstation
// persistence, and Redis for shared kiosk deployments.
package credstore

import (
	"context"
	"fmt"
	"sync"

	opsdeck "github.com/opsdeck/opsdeck-go"
)

// Memory keeps credentials in process memory. Nothing survives a restart.
type Memory struct {
	mu    sync.RWMutex
	creds *opsdeck.Credentials
}

// compile-time check
var _ opsdeck.CredentialStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Load returns the stored credentials, or (nil, nil) when none exist.
func (m *Memory) Load(ctx context.Context) (*opsdeck.Credentials, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneCredentials(m.creds), nil
}

// Save overwrites the stored credentials.
func (m *Memory) Save(ctx context.Context, creds *opsdeck.Credentials) error {
	if creds == nil {
		return fmt.Errorf("credstore: nil credentials")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = cloneCredentials(creds)
	return nil
}

// Clear removes any stored credentials.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds = nil
	return nil
}

// cloneCredentials copies credentials so the store and its callers never
// share mutable state.
func cloneCredentials(c *opsdeck.Credentials) *opsdeck.Credentials {
	if c == nil {
		return nil
	}
	return &opsdeck.Credentials{
		AccessToken: c.AccessToken,
		Identity:    c.Identity.Clone(),
	}
}
