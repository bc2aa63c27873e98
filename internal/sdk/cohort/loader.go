package cohort

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const maxConcurrentDownloads = 32

// Loader dedups concurrent downloads of the same cohort id and bounds how
// many downloads run at once, grounded on CohortLoader's Future-keyed
// in-flight job map plus a 32-worker thread pool: singleflight.Group gives
// the dedup-by-key semantics directly, and errgroup.Group's SetLimit caps
// concurrency without a hand-rolled semaphore channel.
type Loader struct {
	downloader *Downloader
	storage    *Storage

	group singleflight.Group
}

// NewLoader constructs a Loader backed by downloader and storage.
func NewLoader(downloader *Downloader, storage *Storage) *Loader {
	return &Loader{
		downloader: downloader,
		storage:    storage,
	}
}

// Load downloads and stores cohortID, deduping against any identical
// in-flight request. It blocks until the (possibly shared) download
// completes or ctx is canceled.
func (l *Loader) Load(ctx context.Context, cohortID string) error {
	_, err, _ := l.group.Do(cohortID, func() (any, error) {
		return nil, l.loadOne(ctx, cohortID)
	})
	return err
}

func (l *Loader) loadOne(ctx context.Context, cohortID string) error {
	prior, _ := l.storage.GetDescription(cohortID)
	cohort, err := l.downloader.Download(ctx, cohortID, prior)
	if err != nil {
		return err
	}
	if cohort.Members != nil {
		l.storage.Put(cohort.Description, cohort.Members)
	}
	return nil
}

// LoadAll downloads every cohort in cohortIDs concurrently, bounded to
// maxConcurrentDownloads in flight at once, returning an aggregate error
// naming every cohort that failed.
func (l *Loader) LoadAll(ctx context.Context, cohortIDs map[string]struct{}) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentDownloads)

	errsCh := make(chan string, len(cohortIDs))

	for id := range cohortIDs {
		id := id
		g.Go(func() error {
			if err := l.Load(gctx, id); err != nil {
				errsCh <- fmt.Sprintf("cohort %s: %s", id, err)
			}
			return nil
		})
	}

	_ = g.Wait()
	close(errsCh)

	var errs []string
	for e := range errsCh {
		errs = append(errs, e)
	}
	if len(errs) > 0 {
		return fmt.Errorf("one or more cohorts failed to update:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}
