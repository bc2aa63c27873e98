// Package deployment implements the per-deployment refresh lifecycle that
// wraps flag config fetching, cohort loading and a self-rescheduling poll
// loop into a single Start/Stop unit, one per deployment (project +
// environment) key. Grounded on deployment.deployment_runner.DeploymentRunner.
package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TimurManjosov/goflagship/internal/sdk/cohort"
	"github.com/TimurManjosov/goflagship/internal/sdk/flagconfig"
	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

// Runner owns one deployment's flag config and cohort storage, keeping both
// fresh via an initial synchronous load followed by a background poll loop.
//
// The initial load and periodic refreshes are deliberately asymmetric: a
// cohort-load failure during Start fails the deployment outright (nothing
// has ever been served, so there is no stale config worth preferring over an
// error), while a cohort-load failure during a later periodic refresh logs
// a warning and keeps serving the last-known-good flag config rather than
// either erroring out of a background goroutine or applying flags with
// known-stale cohort membership.
type Runner struct {
	Key string

	Fetcher       flagconfig.FlagConfigFetcher
	Storage       *flagconfig.Storage
	CohortStorage *cohort.Storage
	CohortLoader  flagconfig.CohortLoader
	Logger        *slog.Logger

	PollInterval time.Duration

	poller *flagconfig.Poller
}

// NewRunner constructs a Runner for the deployment identified by key.
func NewRunner(key string, fetcher flagconfig.FlagConfigFetcher, storage *flagconfig.Storage, cohortStorage *cohort.Storage, cohortLoader flagconfig.CohortLoader, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Key:           key,
		Fetcher:       fetcher,
		Storage:       storage,
		CohortStorage: cohortStorage,
		CohortLoader:  cohortLoader,
		Logger:        logger,
		PollInterval:  pollInterval,
	}
}

// Start performs the initial synchronous refresh and, on success, begins the
// background poll loop. A cohort-load failure on this initial refresh fails
// Start outright.
func (r *Runner) Start(ctx context.Context) error {
	if err := r.refresh(ctx, true); err != nil {
		return fmt.Errorf("deployment %s: initial refresh failed: %w", r.Key, err)
	}
	r.poller = flagconfig.NewPoller(r.PollInterval, r.tick)
	r.poller.Start()
	return nil
}

// Stop halts the background poll loop.
func (r *Runner) Stop() {
	if r.poller != nil {
		r.poller.Stop()
	}
}

func (r *Runner) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.refresh(ctx, false); err != nil {
		r.Logger.Warn("deployment periodic refresh failed", "deployment", r.Key, "error", err)
	}
}

func (r *Runner) refresh(ctx context.Context, initial bool) error {
	flags, err := r.Fetcher.FetchFlagConfigs(ctx)
	if err != nil {
		return err
	}

	newCohortIDs := flagconfig.AllCohortIDsFromFlags(flags)
	existingCohortIDs := r.CohortStorage.CohortIDs()

	delta := make(map[string]struct{})
	for id := range newCohortIDs {
		if _, have := existingCohortIDs[id]; !have {
			delta[id] = struct{}{}
		}
	}

	if len(delta) > 0 {
		if err := r.CohortLoader.LoadAll(ctx, delta); err != nil {
			if initial {
				return fmt.Errorf("cohort load: %w", err)
			}
			r.Logger.Warn("periodic refresh: keeping previous flag config after cohort load failure", "deployment", r.Key, "error", err)
			return nil
		}
	}

	r.Storage.RemoveIf(func(f rules.Flag) bool {
		_, stillPresent := flags[f.Key]
		return !stillPresent
	})
	for _, flag := range flags {
		r.Storage.Put(flag)
	}

	existingCohortIDs = r.CohortStorage.CohortIDs()
	for id := range existingCohortIDs {
		if _, stillNeeded := newCohortIDs[id]; stillNeeded {
			continue
		}
		if desc, ok := r.CohortStorage.GetDescription(id); ok {
			r.CohortStorage.Delete(desc.GroupType, id)
		}
	}

	return nil
}
