package deployment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/TimurManjosov/goflagship/internal/sdk/cohort"
	"github.com/TimurManjosov/goflagship/internal/sdk/flagconfig"
	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

type fakeFetcher struct {
	flags map[string]rules.Flag
	err   error
}

func (f *fakeFetcher) FetchFlagConfigs(ctx context.Context) (map[string]rules.Flag, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.flags, nil
}

type fakeCohortLoader struct {
	err error
}

func (f *fakeCohortLoader) LoadAll(ctx context.Context, ids map[string]struct{}) error {
	return f.err
}

func TestRunnerStartFailsOnInitialCohortFailure(t *testing.T) {
	fetcher := &fakeFetcher{flags: map[string]rules.Flag{
		"f1": {
			Key: "f1",
			Segments: []rules.Segment{{
				Conditions: [][]rules.Condition{{
					{Op: rules.OpSetContainsAny, Selector: []string{"context", "user", "cohort_ids"}, Values: []string{"c1"}},
				}},
			}},
		},
	}}
	loader := &fakeCohortLoader{err: errors.New("cohort service down")}

	r := NewRunner("dep1", fetcher, flagconfig.NewStorage(), cohort.NewStorage(), loader, time.Hour, nil)
	if err := r.Start(context.Background()); err == nil {
		t.Fatalf("expected Start to fail when initial cohort load fails")
	}
}

func TestRunnerStartSucceedsAndAppliesFlags(t *testing.T) {
	fetcher := &fakeFetcher{flags: map[string]rules.Flag{"f1": {Key: "f1"}}}
	loader := &fakeCohortLoader{}
	storage := flagconfig.NewStorage()

	r := NewRunner("dep1", fetcher, storage, cohort.NewStorage(), loader, time.Hour, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer r.Stop()

	if _, ok := storage.Get("f1"); !ok {
		t.Errorf("expected f1 to be applied after successful start")
	}
}

func TestRunnerPeriodicRefreshKeepsPreviousConfigOnCohortFailure(t *testing.T) {
	fetcher := &fakeFetcher{flags: map[string]rules.Flag{"f1": {Key: "f1"}}}
	loader := &fakeCohortLoader{}
	storage := flagconfig.NewStorage()

	r := NewRunner("dep1", fetcher, storage, cohort.NewStorage(), loader, time.Hour, nil)
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer r.Stop()

	fetcher.flags = map[string]rules.Flag{
		"f2": {
			Key: "f2",
			Segments: []rules.Segment{{
				Conditions: [][]rules.Condition{{
					{Op: rules.OpSetContainsAny, Selector: []string{"context", "user", "cohort_ids"}, Values: []string{"new-cohort"}},
				}},
			}},
		},
	}
	loader.err = errors.New("cohort service down")

	if err := r.refresh(context.Background(), false); err != nil {
		t.Fatalf("periodic refresh should not surface cohort errors: %v", err)
	}

	if _, ok := storage.Get("f1"); !ok {
		t.Errorf("expected previous flag config f1 to still be served")
	}
	if _, ok := storage.Get("f2"); ok {
		t.Errorf("did not expect new flag config to be applied while cohorts are stale")
	}
}
