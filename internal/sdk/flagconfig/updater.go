package flagconfig

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/TimurManjosov/goflagship/internal/sdk/cohort"
	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

// FlagConfigFetcher retrieves the full current flag configuration from the
// control plane. Implemented by the SDK's remote flag-config client.
type FlagConfigFetcher interface {
	FetchFlagConfigs(ctx context.Context) (map[string]rules.Flag, error)
}

// CohortLoader downloads and stores every cohort named by ids, returning an
// aggregate error naming whichever failed. Satisfied by *cohort.Loader.
type CohortLoader interface {
	LoadAll(ctx context.Context, ids map[string]struct{}) error
}

// Updater holds the reconciliation logic shared by the Poller and Streamer
// update strategies: diff the new flag set against storage, download only
// the cohort delta, apply every flag regardless of per-flag cohort outcome,
// then drop cohorts no flag references anymore. Grounded on
// flag.flag_config_updater.FlagConfigUpdaterBase.update.
type Updater struct {
	Storage       *Storage
	CohortStorage *cohort.Storage
	CohortLoader  CohortLoader
	Logger        *slog.Logger
}

// NewUpdater constructs an Updater. logger may be nil, in which case
// slog.Default() is used.
func NewUpdater(storage *Storage, cohortStorage *cohort.Storage, cohortLoader CohortLoader, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{Storage: storage, CohortStorage: cohortStorage, CohortLoader: cohortLoader, Logger: logger}
}

// Update reconciles fetched against the current storage state.
func (u *Updater) Update(ctx context.Context, fetched map[string]rules.Flag) error {
	u.Storage.RemoveIf(func(f rules.Flag) bool {
		_, stillPresent := fetched[f.Key]
		return !stillPresent
	})

	newCohortIDs := AllCohortIDsFromFlags(fetched)
	existingCohortIDs := u.CohortStorage.CohortIDs()

	delta := make(map[string]struct{})
	for id := range newCohortIDs {
		if _, have := existingCohortIDs[id]; !have {
			delta[id] = struct{}{}
		}
	}

	var downloadErr error
	if len(delta) > 0 {
		if err := u.CohortLoader.LoadAll(ctx, delta); err != nil {
			downloadErr = fmt.Errorf("one or more cohorts failed to download: %w", err)
			u.Logger.Warn("cohort download failed, applying flag configs anyway", "error", downloadErr)
		}
	}

	storedCohortIDs := u.CohortStorage.CohortIDs()
	for _, flag := range fetched {
		missing := missingCohortIDs(flag, storedCohortIDs)
		if len(missing) > 0 {
			u.Logger.Warn("applying flag with missing cohorts", "flag", flag.Key, "missing_cohorts", missing)
		}
		u.Storage.Put(flag)
	}

	for id := range existingCohortIDs {
		if _, stillNeeded := newCohortIDs[id]; stillNeeded {
			continue
		}
		if desc, ok := u.CohortStorage.GetDescription(id); ok {
			u.CohortStorage.Delete(desc.GroupType, id)
		}
	}

	return downloadErr
}

func missingCohortIDs(flag rules.Flag, stored map[string]struct{}) []string {
	var missing []string
	for id := range AllCohortIDs(flag) {
		if _, ok := stored[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
