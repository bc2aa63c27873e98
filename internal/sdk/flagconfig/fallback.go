package flagconfig

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// updateStrategy is the common shape of PollerStrategy/StreamerStrategy (and
// any future update source): synchronous start, background stop.
type updateStrategy interface {
	Start(ctx context.Context) error
	Stop()
}

type runState int

const (
	stateMainRunning runState = iota
	stateFallbackRunning
	stateBothDown
)

// FallbackRetryWrapper runs a primary update strategy (e.g. the streamer)
// and falls back to a secondary one (e.g. the poller) when the primary
// fails to start, retrying the primary on a jittered interval until it
// starts. A primary that has started is not monitored afterwards, so a later
// failure of the primary does not start the fallback; when both fail to
// start, only the primary is retried. Grounded on
// flag.flag_config_updater.FlagConfigUpdaterFallbackRetryWrapper's
// MainRunning/FallbackRunning/BothDown state machine; Python's
// threading.Event stoppers become cancelable contexts here.
type FallbackRetryWrapper struct {
	Main     updateStrategy
	Fallback updateStrategy
	Logger   *slog.Logger

	RetryInterval time.Duration
	RetryJitter   time.Duration

	mu    sync.Mutex
	state runState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewFallbackRetryWrapper constructs a wrapper around main and fallback.
func NewFallbackRetryWrapper(main, fallback updateStrategy, logger *slog.Logger) *FallbackRetryWrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &FallbackRetryWrapper{
		Main:          main,
		Fallback:      fallback,
		Logger:        logger,
		RetryInterval: 5 * time.Second,
		RetryJitter:   2 * time.Second,
	}
}

// Start attempts to start Main; on failure it starts Fallback immediately
// and begins retrying Main in the background. It returns an error only if
// both Main and Fallback fail to start.
func (w *FallbackRetryWrapper) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	if err := w.Main.Start(w.ctx); err == nil {
		w.setState(stateMainRunning)
		w.wg.Add(1)
		go w.watchMain()
		return nil
	} else {
		w.Logger.Warn("main flag config strategy failed to start, falling back", "error", err)
	}

	if err := w.Fallback.Start(w.ctx); err != nil {
		w.setState(stateBothDown)
		w.Logger.Error("fallback flag config strategy also failed to start", "error", err)
		w.wg.Add(1)
		go w.retryMain()
		return err
	}

	w.setState(stateFallbackRunning)
	w.wg.Add(1)
	go w.retryMain()
	return nil
}

// Stop halts whichever strategy is currently running and any retry loop.
func (w *FallbackRetryWrapper) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.Main.Stop()
	w.Fallback.Stop()
}

func (w *FallbackRetryWrapper) setState(s runState) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
}

func (w *FallbackRetryWrapper) getState() runState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// watchMain is a placeholder hook for future health monitoring of the main
// strategy once started; today a successfully-started Main is assumed to
// keep running until Stop (the streamer's own reconnect loop absorbs
// transient drops without falling all the way back to polling).
func (w *FallbackRetryWrapper) watchMain() {
	defer w.wg.Done()
	<-w.ctx.Done()
}

// retryMain periodically attempts to (re)start Main while Fallback (or
// nothing) is serving, switching state and stopping Fallback once Main
// recovers.
func (w *FallbackRetryWrapper) retryMain() {
	defer w.wg.Done()

	for {
		delay := jitter(w.RetryInterval, w.RetryJitter)
		select {
		case <-w.ctx.Done():
			return
		case <-time.After(delay):
		}

		if w.getState() == stateMainRunning {
			return
		}

		if err := w.Main.Start(w.ctx); err != nil {
			w.Logger.Warn("main flag config strategy retry failed", "error", err)
			continue
		}

		w.Logger.Info("main flag config strategy recovered")
		if w.getState() == stateFallbackRunning {
			w.Fallback.Stop()
		}
		w.setState(stateMainRunning)

		w.wg.Add(1)
		go w.watchMain()
		return
	}
}
