package store

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of the Store interface.
// It uses a map for storage and RWMutex for thread-safe concurrent access.
// This implementation is suitable for development, testing, or single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	flags   map[string]Flag // key -> Flag
	cohorts map[string]Cohort
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flags:   make(map[string]Flag),
		cohorts: make(map[string]Cohort),
	}
}

// GetAllFlags retrieves all flags for the given environment.
func (m *MemoryStore) GetAllFlags(ctx context.Context, env string) ([]Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Preallocate with reasonable capacity estimate
	result := make([]Flag, 0, len(m.flags)/2)
	for _, flag := range m.flags {
		if flag.Env == env {
			result = append(result, flag)
		}
	}
	return result, nil
}

// GetFlagByKey retrieves a single flag by its key.
func (m *MemoryStore) GetFlagByKey(ctx context.Context, key string) (*Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[key]
	if !exists {
		return nil, errors.New("flag not found")
	}

	return &flag, nil
}

// UpsertFlag creates or updates a flag in memory.
func (m *MemoryStore) UpsertFlag(ctx context.Context, params UpsertParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flag := Flag{
		Key:            params.Key,
		Description:    params.Description,
		Enabled:        params.Enabled,
		Rollout:        params.Rollout,
		Expression:     params.Expression,
		Config:         params.Config,
		TargetingRules: ensureRulesInitialized(params.TargetingRules),
		Variants:       params.Variants,
		Env:            params.Env,
		UpdatedAt:      time.Now().UTC(),
		Segments:       params.Segments,
		Dependencies:   params.Dependencies,
	}

	m.flags[params.Key] = flag
	return nil
}

// DeleteFlag removes a flag from memory.
func (m *MemoryStore) DeleteFlag(ctx context.Context, key, env string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check if flag exists and matches the environment before deleting
	if flag, exists := m.flags[key]; exists && flag.Env == env {
		delete(m.flags, key)
	}

	// Idempotent: no error if flag doesn't exist
	return nil
}

// Close is a no-op for MemoryStore as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}

// UpsertCohort creates or replaces a cohort in memory.
func (m *MemoryStore) UpsertCohort(ctx context.Context, params UpsertCohortParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cohorts[params.ID] = Cohort{
		ID:           params.ID,
		GroupType:    params.GroupType,
		Size:         len(params.MemberIDs),
		MemberIDs:    params.MemberIDs,
		LastComputed: params.LastComputed,
	}
	return nil
}

// GetCohort retrieves a cohort by id.
func (m *MemoryStore) GetCohort(ctx context.Context, id string) (*Cohort, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cohort, ok := m.cohorts[id]
	if !ok {
		return nil, errors.New("cohort not found")
	}
	return &cohort, nil
}

// ListCohorts returns every cohort.
func (m *MemoryStore) ListCohorts(ctx context.Context) ([]Cohort, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Cohort, 0, len(m.cohorts))
	for _, c := range m.cohorts {
		result = append(result, c)
	}
	return result, nil
}
