package flagconfig

import (
	"context"
	"log/slog"
	"time"
)

// PollerStrategy drives Updater with a synchronous GET-all poll on a fixed,
// drift-correcting interval. Grounded on flag.flag_config_updater.
// FlagConfigPoller.
type PollerStrategy struct {
	Fetcher FlagConfigFetcher
	Updater *Updater
	Logger  *slog.Logger

	poller *Poller
}

// NewPollerStrategy constructs a PollerStrategy polling at interval.
func NewPollerStrategy(fetcher FlagConfigFetcher, updater *Updater, interval time.Duration, logger *slog.Logger) *PollerStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PollerStrategy{Fetcher: fetcher, Updater: updater, Logger: logger}
	s.poller = NewPoller(interval, s.tick)
	return s
}

// Start performs one synchronous fetch-and-update (surfacing its error) then
// begins the background polling loop.
func (s *PollerStrategy) Start(ctx context.Context) error {
	if err := s.refresh(ctx); err != nil {
		return err
	}
	s.poller.Start()
	return nil
}

// Stop halts the background polling loop.
func (s *PollerStrategy) Stop() {
	s.poller.Stop()
}

func (s *PollerStrategy) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.refresh(ctx); err != nil {
		s.Logger.Warn("flag config poll failed", "error", err)
	}
}

func (s *PollerStrategy) refresh(ctx context.Context) error {
	flags, err := s.Fetcher.FetchFlagConfigs(ctx)
	if err != nil {
		return err
	}
	return s.Updater.Update(ctx, flags)
}
