// Package localclient wires the evaluation engine, flag config updater,
// cohort loader, dedup filters and analytics emitter into the single
// Start/Stop/Evaluate facade a host application embeds. Grounded on
// local.client.LocalEvaluationClient and deployment.deployment_runner's
// startup sequencing.
package localclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/TimurManjosov/goflagship/internal/sdk/analytics"
	"github.com/TimurManjosov/goflagship/internal/sdk/cohort"
	"github.com/TimurManjosov/goflagship/internal/sdk/engine"
	"github.com/TimurManjosov/goflagship/internal/sdk/flagconfig"
	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

// ServerZone selects which regional base URLs a Client talks to, ported
// from local.config.ServerZone (US/EU).
type ServerZone int

const (
	ServerZoneUS ServerZone = iota
	ServerZoneEU
)

const (
	usServerURL = "https://api.lab.amplitude.com"
	usStreamURL = "https://stream.lab.amplitude.com"
	euServerURL = "https://api.lab.eu.amplitude.com"
	euStreamURL = "https://stream.lab.eu.amplitude.com"
)

func (z ServerZone) defaultURLs() (server, stream string) {
	if z == ServerZoneEU {
		return euServerURL, euStreamURL
	}
	return usServerURL, usStreamURL
}

// Config configures a Client.
type Config struct {
	APIKey string
	Zone   ServerZone

	ServerURL string
	StreamURL string

	FlagConfigPollingInterval time.Duration
	StreamUpdates             bool

	CohortSyncAPIKey     string
	CohortSyncSecretKey  string
	CohortSyncMaxSize    int

	ExposureTTL time.Duration

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	server, stream := c.Zone.defaultURLs()
	if c.ServerURL == "" {
		c.ServerURL = server
	}
	if c.StreamURL == "" {
		c.StreamURL = stream
	}
	if c.FlagConfigPollingInterval <= 0 {
		c.FlagConfigPollingInterval = 30 * time.Second
	}
	if c.CohortSyncMaxSize <= 0 {
		c.CohortSyncMaxSize = 15000
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type runnable interface {
	Start(ctx context.Context) error
	Stop()
}

// Client is a local (in-process) evaluation client: it keeps a flag config
// and cohort cache fresh in the background and evaluates/tracks against
// them synchronously.
type Client struct {
	config Config

	storage       *flagconfig.Storage
	cohortStorage *cohort.Storage
	cohortLoader  *cohort.Loader
	emitter       *analytics.Emitter

	strategy runnable
}

// New constructs a Client. sink receives assignment/exposure events; pass
// analytics.NoopSink{} to disable tracking.
func New(config Config, sink analytics.Sink) *Client {
	config = config.withDefaults()

	storage := flagconfig.NewStorage()
	cohortStorage := cohort.NewStorage()

	downloader := cohort.NewDownloader(config.ServerURL, config.CohortSyncAPIKey, config.CohortSyncSecretKey, config.CohortSyncMaxSize)
	cohortLoader := cohort.NewLoader(downloader, cohortStorage)

	return &Client{
		config:        config,
		storage:       storage,
		cohortStorage: cohortStorage,
		cohortLoader:  cohortLoader,
		emitter:       analytics.NewEmitter(sink),
	}
}

// Start performs the initial flag config load and begins background
// refresh (polling, or streaming with a polling fallback when
// StreamUpdates is set).
func (c *Client) Start(ctx context.Context) error {
	httpClient := &http.Client{Timeout: 10 * time.Second}
	fetcher := newHTTPFetcher(c.config.ServerURL, c.config.APIKey, httpClient)
	updater := flagconfig.NewUpdater(c.storage, c.cohortStorage, c.cohortLoader, c.config.Logger)

	poller := flagconfig.NewPollerStrategy(fetcher, updater, c.config.FlagConfigPollingInterval, c.config.Logger)

	if !c.config.StreamUpdates {
		c.strategy = poller
		return c.strategy.Start(ctx)
	}

	source := &flagconfig.StreamSource{
		URL:        c.config.StreamURL + "/sdk/stream/v1/flags",
		AuthHeader: "Api-Key " + c.config.APIKey,
	}
	streamer := flagconfig.NewStreamerStrategy(source, updater, DecodeFlags, c.config.Logger)
	c.strategy = flagconfig.NewFallbackRetryWrapper(streamer, poller, c.config.Logger)
	return c.strategy.Start(ctx)
}

// Stop halts all background refresh activity.
func (c *Client) Stop() {
	if c.strategy != nil {
		c.strategy.Stop()
	}
}

// Options controls post-evaluation tracking, mirroring
// remote.fetch_options.FetchOptions's tracksAssignment/tracksExposure
// pair. The zero value tracks nothing, matching the reference client's
// "default None means don't track" behavior.
type Options struct {
	TracksAssignment bool
	TracksExposure   bool
}

// Evaluate evaluates every currently-stored flag (or, if flagKeys is
// non-empty, only those and their dependencies) against user, injecting the
// user's known cohort membership into the evaluation context, then
// fire-and-forgets assignment/exposure tracking for the result as directed
// by opts.
func (c *Client) Evaluate(ctx context.Context, user map[string]any, flagKeys []string, opts Options) (map[string]rules.Variant, error) {
	flags := c.storage.All()

	var start []string
	if len(flagKeys) > 0 {
		start = flagKeys
	} else {
		for k := range flags {
			start = append(start, k)
		}
	}

	ordered, err := engine.TopoSort(flags, start)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %w", err)
	}

	evalContext := map[string]any{"user": withCohortIDs(user, c.cohortStorage, c.storage)}
	results := engine.Evaluate(evalContext, ordered)

	userID, _ := user["user_id"].(string)
	deviceID, _ := user["device_id"].(string)
	trackCtx := detach(ctx)
	if opts.TracksAssignment {
		go c.emitter.TrackAssignment(trackCtx, userID, deviceID, results, flags, time.Now())
	}
	if opts.TracksExposure {
		go c.emitter.TrackExposures(trackCtx, userID, deviceID, results, flags, time.Now())
	}

	return results, nil
}

// withCohortIDs returns a copy of user with its cohort_ids property set
// from storage, so bucket/condition selectors like
// context.user.cohort_ids can match it.
func withCohortIDs(user map[string]any, cohortStorage *cohort.Storage, flagStorage *flagconfig.Storage) map[string]any {
	out := make(map[string]any, len(user)+1)
	for k, v := range user {
		out[k] = v
	}

	userID, _ := user["user_id"].(string)
	if userID == "" {
		return out
	}

	relevant := make(map[string]struct{})
	for _, flag := range flagStorage.All() {
		for _, ids := range flagconfig.GroupedCohortConditionIDs(flag) {
			for id := range ids {
				relevant[id] = struct{}{}
			}
		}
	}

	memberOf := cohortStorage.CohortsForUser(userID, relevant)
	ids := make([]string, 0, len(memberOf))
	for id := range memberOf {
		ids = append(ids, id)
	}
	out["cohort_ids"] = ids
	return out
}

// detach returns a context carrying none of ctx's deadline/cancellation, so
// assignment/exposure delivery can complete in the background after
// Evaluate has already returned its result to the caller.
func detach(ctx context.Context) context.Context {
	return context.Background()
}
