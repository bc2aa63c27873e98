package store

import (
	"context"
	"time"

	"github.com/TimurManjosov/goflagship/internal/rules"
	sdkrules "github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

// Store defines the interface for flag persistence operations.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// GetAllFlags retrieves all flags for the given environment.
	// Returns an empty slice if no flags are found.
	GetAllFlags(ctx context.Context, env string) ([]Flag, error)

	// GetFlagByKey retrieves a single flag by its key.
	// Returns an error if the flag is not found.
	GetFlagByKey(ctx context.Context, key string) (*Flag, error)

	// UpsertFlag creates or updates a flag.
	// If a flag with the same key exists, it will be updated.
	UpsertFlag(ctx context.Context, params UpsertParams) error

	// DeleteFlag removes a flag by key and environment.
	// Returns no error if the flag doesn't exist (idempotent).
	DeleteFlag(ctx context.Context, key, env string) error

	// Close releases any resources held by the store.
	// After Close is called, the store should not be used.
	Close() error
}

// Variant represents a variant in an A/B test or multi-variant experiment.
type Variant struct {
	Name   string         `json:"name"`
	Weight int            `json:"weight"`           // Percentage weight (0-100)
	Config map[string]any `json:"config,omitempty"` // Optional config for this variant
}

// Flag represents a feature flag with all its attributes.
type Flag struct {
	Key            string         `json:"key"`
	Description    string         `json:"description"`
	Enabled        bool           `json:"enabled"`
	Rollout        int32          `json:"rollout"`
	Expression     *string        `json:"expression,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
	TargetingRules []rules.Rule   `json:"targetingRules"`
	Variants       []Variant      `json:"variants,omitempty"` // For A/B testing
	Env            string         `json:"env"`
	UpdatedAt      time.Time      `json:"updatedAt"`

	// Segments and Dependencies drive the /sdk/v2/flags wire contract
	// consumed by the embedded evaluation engine (internal/sdk/engine):
	// an ordered list of targeting segments plus the keys of other flags
	// that must be evaluated first. Nil/empty for flags that only use the
	// legacy rollout+TargetingRules model.
	Segments     []sdkrules.Segment `json:"segments,omitempty"`
	Dependencies []string           `json:"dependencies,omitempty"`
}

// UpsertParams contains the parameters for upserting a flag.
type UpsertParams struct {
	Key            string         `json:"key"`
	Description    string         `json:"description"`
	Enabled        bool           `json:"enabled"`
	Rollout        int32          `json:"rollout"`
	Expression     *string        `json:"expression,omitempty"`
	Config         map[string]any `json:"config,omitempty"`
	TargetingRules []rules.Rule   `json:"targetingRules"`
	Variants       []Variant      `json:"variants,omitempty"` // For A/B testing
	Env            string         `json:"env"`

	Segments     []sdkrules.Segment `json:"segments,omitempty"`
	Dependencies []string           `json:"dependencies,omitempty"`
}

// Cohort is a named, precomputed set of member ids, backing the admin
// surface for the cohorts the SDK runtime's /sdk/v1/cohort/{id} endpoint
// serves.
type Cohort struct {
	ID            string    `json:"id"`
	GroupType     string    `json:"groupType"`
	Size          int       `json:"size"`
	MemberIDs     []string  `json:"memberIds"`
	LastComputed  time.Time `json:"lastComputed"`
}

// UpsertCohortParams are the parameters for creating or replacing a cohort.
type UpsertCohortParams struct {
	ID           string
	GroupType    string
	MemberIDs    []string
	LastComputed time.Time
}

// CohortStore is implemented by stores that back the cohort admin surface
// and the SDK-facing cohort download endpoint.
type CohortStore interface {
	UpsertCohort(ctx context.Context, params UpsertCohortParams) error
	GetCohort(ctx context.Context, id string) (*Cohort, error)
	ListCohorts(ctx context.Context) ([]Cohort, error)
}
