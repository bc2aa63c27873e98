// Package flagconfig implements the in-memory flag configuration store plus
// the three updater strategies that keep it fresh: a synchronous poller, an
// SSE streamer, and a fallback/retry wrapper that runs them as a state
// machine. Grounded on amplitude_experiment.flag.{flag_config_storage,
// flag_config_updater} and amplitude_experiment.local.poller.
package flagconfig

import (
	"sync"

	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

// Storage holds the current flag set, keyed by flag key.
type Storage struct {
	mu    sync.RWMutex
	flags map[string]rules.Flag
}

// NewStorage constructs an empty Storage.
func NewStorage() *Storage {
	return &Storage{flags: make(map[string]rules.Flag)}
}

// Get returns a single flag config by key.
func (s *Storage) Get(key string) (rules.Flag, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.flags[key]
	return f, ok
}

// All returns a snapshot copy of every stored flag.
func (s *Storage) All() map[string]rules.Flag {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]rules.Flag, len(s.flags))
	for k, v := range s.flags {
		out[k] = v
	}
	return out
}

// Put stores or replaces a flag config.
func (s *Storage) Put(flag rules.Flag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[flag.Key] = flag
}

// RemoveIf deletes every flag for which shouldRemove returns true.
func (s *Storage) RemoveIf(shouldRemove func(rules.Flag) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, flag := range s.flags {
		if shouldRemove(flag) {
			delete(s.flags, key)
		}
	}
}
