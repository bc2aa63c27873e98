package flagconfig

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TimurManjosov/goflagship/internal/sdk/rules"
)

// StreamSource opens a long-lived SSE connection and invokes onMessage for
// every "data:" event received, reconnecting the caller's responsibility.
// Grounded on flag.flag_config_api.EventSource, simplified from its
// keep-alive-timer/reconnect bookkeeping to the coarser max-connection-age
// cutoff below: net/http's Response.Body exposes no read deadline, so a
// precise idle-keepalive timeout would require dropping to net.Conn
// directly, which the connection-age cutoff plus the Streamer's outer
// reconnect-with-jitter loop in run() make unnecessary in practice.
type StreamSource struct {
	URL        string
	AuthHeader string
	HTTPClient *http.Client
	MaxConnAge time.Duration
}

func (s *StreamSource) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

func (s *StreamSource) maxConnAge() time.Duration {
	if s.MaxConnAge > 0 {
		return s.MaxConnAge
	}
	return 15 * time.Minute
}

// Stream blocks for the duration of a single SSE connection, returning nil
// when the connection's max age is reached (a normal, expected reconnect
// trigger) or a non-nil error on any other disconnect.
func (s *StreamSource) Stream(ctx context.Context, onMessage func([]byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	if s.AuthHeader != "" {
		req.Header.Set("Authorization", s.AuthHeader)
	}

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stream connect failed: status %d", resp.StatusCode)
	}

	deadline := time.Now().Add(s.maxConnAge())

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var dataLines []string
	for scanner.Scan() {
		if time.Now().After(deadline) {
			return nil
		}

		line := scanner.Text()
		if line == "" {
			if len(dataLines) > 0 {
				payload := strings.Join(dataLines, "\n")
				dataLines = nil
				if err := onMessage([]byte(payload)); err != nil {
					return err
				}
			}
			continue
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			dataLines = append(dataLines, strings.TrimPrefix(data, " "))
		}
	}
	return scanner.Err()
}

// FlagConfigParser decodes an SSE "data:" payload into the flag map the
// Updater expects. Kept as a field on StreamerStrategy rather than hardcoded
// so callers can plug in the control plane's actual wire envelope.
type FlagConfigParser func([]byte) (map[string]rules.Flag, error)

// StreamerStrategy drives Updater from a StreamSource, reconnecting with
// jitter whenever the underlying connection ends (whether by max-age cutoff
// or error). Grounded on flag.flag_config_updater.FlagConfigStreamer.
type StreamerStrategy struct {
	Source *StreamSource
	Updater *Updater
	Parse   FlagConfigParser
	Logger  *slog.Logger

	ReconnectInterval time.Duration
	ReconnectJitter   time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStreamerStrategy constructs a StreamerStrategy.
func NewStreamerStrategy(source *StreamSource, updater *Updater, parse FlagConfigParser, logger *slog.Logger) *StreamerStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamerStrategy{
		Source:            source,
		Updater:           updater,
		Parse:             parse,
		Logger:            logger,
		ReconnectInterval: 2 * time.Second,
		ReconnectJitter:   1 * time.Second,
	}
}

// Start begins the reconnect loop in the background.
func (s *StreamerStrategy) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(runCtx)
	return nil
}

// Stop cancels the reconnect loop and blocks until it has exited.
func (s *StreamerStrategy) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *StreamerStrategy) run(ctx context.Context) {
	defer close(s.done)

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.Source.Stream(ctx, func(data []byte) error {
			flags, err := s.Parse(data)
			if err != nil {
				return fmt.Errorf("parse stream payload: %w", err)
			}
			return s.Updater.Update(ctx, flags)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.Logger.Warn("flag config stream disconnected", "error", err)
		}

		delay := jitter(s.ReconnectInterval, s.ReconnectJitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}
