package memory

import (
	"context"
	"sync"
)

// FlagStore is an in-memory pricesync.FlagStore.
type FlagStore struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewFlagStore constructs a FlagStore.
func NewFlagStore() *FlagStore {
	return &FlagStore{flags: make(map[string]bool)}
}

// Bool returns the flag value; absent flags read as false.
func (s *FlagStore) Bool(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name], nil
}

// SetBool stores the flag value.
func (s *FlagStore) SetBool(_ context.Context, name string, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[name] = value
	return nil
}
