package strategy

import (
	"context"
	"strings"
	"sync"
)

// PreferenceStore is the external text-record store holding each receiver's
// declared allocation string, keyed by receiver identity. The relay treats
// it as a plain read/write string store and assumes nothing about its
// persistence.
type PreferenceStore interface {
	Get(ctx context.Context, receiverID string) (string, error)
	Set(ctx context.Context, receiverID, allocation string) error
}

// MemoryPreferenceStore keeps preferences in memory. Used by the daemon by
// default and by tests; deployments point the relay at an ENS text-record
// or key-value backend instead.
type MemoryPreferenceStore struct {
	mu    sync.RWMutex
	prefs map[string]string
}

func NewMemoryPreferenceStore() *MemoryPreferenceStore {
	return &MemoryPreferenceStore{prefs: make(map[string]string)}
}

func (s *MemoryPreferenceStore) Get(_ context.Context, receiverID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs[strings.ToLower(receiverID)], nil
}

func (s *MemoryPreferenceStore) Set(_ context.Context, receiverID, allocation string) error {
	s.mu.Lock()
	s.prefs[strings.ToLower(receiverID)] = allocation
	s.mu.Unlock()
	return nil
}
