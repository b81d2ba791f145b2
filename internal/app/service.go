package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"squeezeScanner/config"
	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/markethours"
	"squeezeScanner/internal/metrics"
	"squeezeScanner/internal/ports"
	"squeezeScanner/internal/position"
	"squeezeScanner/internal/strategy"
	"squeezeScanner/internal/strategy/indicators"

	"github.com/olekukonko/tablewriter"
)

// Service orchestrates the live scanner: it sweeps the watchlist on a fixed
// interval, classifies each symbol against its tracked position state, and
// dispatches cooldown-deduplicated alerts.
type Service struct {
	cfg       *config.Config
	symbols   []string
	logger    ports.Logger
	provider  ports.BarProvider
	notifier  ports.Notifier
	engine    *indicators.Engine
	detector  *strategy.Detector
	tracker   *position.Tracker
	calendar  *markethours.Calendar
	metrics   *metrics.Metrics
	statusOut io.Writer
	now       func() time.Time

	// cooldown tracks the last successful dispatch per (symbol, kind).
	mu       sync.Mutex
	cooldown map[cooldownKey]time.Time

	// Sweep statistics, mutated only between sweeps.
	sweeps           int
	alertsSent       int
	alertsSuppressed int
	providerErrors   int
	notifierErrors   int
	lastSweep        []sweepResult
}

type cooldownKey struct {
	symbol string
	kind   domain.SignalKind
}

// sweepResult carries one symbol's outcome from a sweep goroutine back to
// the collector, which does all counting and alert dispatch sequentially.
type sweepResult struct {
	symbol        string
	snap          domain.IndicatorSnapshot
	hasSnap       bool
	kind          domain.SignalKind
	status        domain.PositionStatus
	insufficient  bool
	providerErr   bool
	transitionErr bool
}

// Deps bundles everything the scanner service needs.
type Deps struct {
	Config   *config.Config
	Symbols  []string
	Logger   ports.Logger
	Provider ports.BarProvider
	Notifier ports.Notifier
	Engine   *indicators.Engine
	Detector *strategy.Detector
	Calendar *markethours.Calendar
	Metrics  *metrics.Metrics
	// StatusOut receives the heartbeat market-overview table. Defaults to
	// stdout.
	StatusOut io.Writer
}

// NewService creates a new scanner service instance.
func NewService(deps Deps) (*Service, error) {
	if deps.Config == nil || deps.Logger == nil || deps.Provider == nil || deps.Notifier == nil ||
		deps.Engine == nil || deps.Detector == nil || deps.Calendar == nil || deps.Metrics == nil {
		return nil, fmt.Errorf("missing required dependencies for scanner service")
	}
	if len(deps.Symbols) == 0 {
		return nil, fmt.Errorf("scanner service requires at least one symbol")
	}
	statusOut := deps.StatusOut
	if statusOut == nil {
		statusOut = os.Stdout
	}

	return &Service{
		cfg:       deps.Config,
		symbols:   deps.Symbols,
		logger:    deps.Logger,
		provider:  deps.Provider,
		notifier:  deps.Notifier,
		engine:    deps.Engine,
		detector:  deps.Detector,
		tracker:   position.NewTracker(),
		calendar:  deps.Calendar,
		metrics:   deps.Metrics,
		statusOut: statusOut,
		now:       time.Now,
		cooldown:  make(map[cooldownKey]time.Time),
	}, nil
}

// Start begins the scan loop and blocks until the context is cancelled or a
// termination signal arrives. The first sweep runs immediately; afterwards
// sweeps run on the configured interval. A sweep always finishes before the
// next tick is considered, so sweeps never overlap.
func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Info(ctx, "Starting live scanner", map[string]interface{}{
		"symbols":      len(s.symbols),
		"interval":     s.cfg.Interval,
		"scanInterval": s.cfg.ScanInterval.String(),
		"cooldown":     s.cfg.Cooldown.String(),
		"marketHours":  s.cfg.MarketHours,
	})
	s.metrics.WatchlistSize.Set(float64(len(s.symbols)))

	s.runSweep(ctx)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "Scanner stopped", map[string]interface{}{
				"sweeps":     s.sweeps,
				"alertsSent": s.alertsSent,
			})
			return nil
		case <-ticker.C:
			s.runSweep(ctx)
		}
	}
}

// runSweep gates one sweep on market hours and keeps the bookkeeping around
// it: duration metric, sweep counter, periodic heartbeat.
func (s *Service) runSweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !s.calendar.IsOpen(s.now()) {
		st := s.calendar.Snapshot(s.now())
		s.logger.Debug(ctx, "Market closed, sweep skipped", map[string]interface{}{
			"weekend":  st.Weekend,
			"holiday":  st.Holiday,
			"nextOpen": st.NextOpen.Format(time.RFC3339),
		})
		return
	}

	started := time.Now()
	s.sweep(ctx)
	s.metrics.SweepDuration.Observe(time.Since(started).Seconds())
	s.metrics.Sweeps.Inc()
	s.sweeps++

	if s.cfg.HeartbeatSweeps > 0 && s.sweeps%s.cfg.HeartbeatSweeps == 0 {
		s.heartbeat(ctx)
	}
}

// sweep scans every watchlist symbol concurrently, then tallies outcomes and
// dispatches alerts sequentially in watchlist order.
func (s *Service) sweep(ctx context.Context) {
	results := make([]sweepResult, len(s.symbols))
	var wg sync.WaitGroup
	for i, symbol := range s.symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			results[i] = s.scanSymbol(ctx, symbol)
		}(i, symbol)
	}
	wg.Wait()

	for _, res := range results {
		switch {
		case res.providerErr:
			s.providerErrors++
			s.metrics.ProviderErrors.Inc()
		case res.insufficient:
			s.metrics.InsufficientHistory.Inc()
		}
		if res.hasSnap && !res.transitionErr && res.kind != domain.SignalNone {
			s.dispatchAlert(ctx, res)
		}
	}

	s.metrics.OpenPositions.Set(float64(len(s.tracker.OpenPositions())))
	s.lastSweep = results
}

// scanSymbol runs one symbol's pipeline: fetch, snapshot, classify, apply.
// Failures stay contained to the symbol; the collector reads the outcome
// from the returned result.
func (s *Service) scanSymbol(ctx context.Context, symbol string) sweepResult {
	res := sweepResult{symbol: symbol, kind: domain.SignalNone}

	bars, err := s.provider.GetBars(ctx, symbol, s.cfg.Interval, s.cfg.BarLimit)
	if err != nil {
		s.logger.Warn(ctx, "Bar fetch failed, symbol skipped this sweep", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		res.providerErr = true
		return res
	}
	if len(bars) < s.engine.RequiredBars() {
		s.logger.Debug(ctx, "Not enough history for a snapshot", map[string]interface{}{
			"symbol":   symbol,
			"bars":     len(bars),
			"required": s.engine.RequiredBars(),
		})
		res.insufficient = true
		return res
	}

	snap, err := s.engine.Snapshot(ctx, bars)
	if err != nil {
		if errors.Is(err, ports.ErrInsufficientHistory) {
			res.insufficient = true
			return res
		}
		s.logger.Warn(ctx, "Snapshot failed, symbol skipped this sweep", map[string]interface{}{
			"symbol": symbol,
			"error":  err.Error(),
		})
		res.providerErr = true
		return res
	}
	res.snap = snap
	res.hasSnap = true

	// Classify and apply back to back; nothing may observe the symbol's
	// state between the two. Each symbol is scanned by exactly one
	// goroutine per sweep, and sweeps never overlap.
	kind := s.detector.Classify(ctx, snap, s.tracker.Status(symbol))
	res.kind = kind
	if kind != domain.SignalNone {
		if _, err := s.tracker.Apply(symbol, kind, snap); err != nil {
			s.logger.Error(ctx, err, "State transition rejected, symbol skipped this sweep", map[string]interface{}{
				"symbol": symbol,
				"signal": string(kind),
			})
			res.transitionErr = true
		}
	}
	res.status = s.tracker.Status(symbol)
	return res
}

// dispatchAlert applies the cooldown gate and hands the alert to the
// notifier. The cooldown stamp moves only after a confirmed send, so a
// failed dispatch is retried on the next sweep.
func (s *Service) dispatchAlert(ctx context.Context, res sweepResult) {
	key := cooldownKey{symbol: res.symbol, kind: res.kind}
	now := s.now()

	s.mu.Lock()
	last, seen := s.cooldown[key]
	s.mu.Unlock()
	if seen && now.Sub(last) < s.cfg.Cooldown {
		s.alertsSuppressed++
		s.metrics.AlertsSuppressed.Inc()
		s.logger.Debug(ctx, "Alert suppressed by cooldown", map[string]interface{}{
			"symbol":    res.symbol,
			"signal":    string(res.kind),
			"sinceLast": now.Sub(last).String(),
		})
		return
	}

	alert := domain.Alert{
		Symbol:               res.symbol,
		Kind:                 res.kind,
		Price:                res.snap.Close,
		RSI:                  res.snap.RSI,
		BandPosition:         res.snap.BandPosition,
		BandWidthPercentile:  res.snap.BandWidthPercentile,
		VolatilityCompressed: s.detector.VolatilityCompressed(res.snap),
		Timestamp:            res.snap.Timestamp,
	}
	if err := s.notifier.Send(ctx, alert); err != nil {
		s.notifierErrors++
		s.metrics.NotifierErrors.Inc()
		s.logger.Error(ctx, err, "Alert dispatch failed, will retry next sweep", map[string]interface{}{
			"symbol": res.symbol,
			"signal": string(res.kind),
		})
		return
	}

	s.mu.Lock()
	s.cooldown[key] = now
	s.mu.Unlock()
	s.alertsSent++
	s.metrics.AlertsSent.WithLabelValues(string(res.kind)).Inc()
	s.logger.Info(ctx, "Alert sent", map[string]interface{}{
		"symbol": res.symbol,
		"signal": string(res.kind),
		"price":  res.snap.Close,
	})
}

// heartbeat logs cumulative totals and renders a market overview of the
// last sweep.
func (s *Service) heartbeat(ctx context.Context) {
	open := len(s.tracker.OpenPositions())
	s.logger.Info(ctx, "Heartbeat", map[string]interface{}{
		"sweeps":           s.sweeps,
		"alertsSent":       s.alertsSent,
		"alertsSuppressed": s.alertsSuppressed,
		"providerErrors":   s.providerErrors,
		"notifierErrors":   s.notifierErrors,
		"openPositions":    open,
		"watchlist":        len(s.symbols),
	})

	rows := 0
	for _, res := range s.lastSweep {
		if res.hasSnap {
			rows++
		}
	}
	if rows == 0 {
		return
	}

	table := tablewriter.NewWriter(s.statusOut)
	table.Header("Symbol", "Close", "RSI", "Width %ile", "Band Pos", "Position", "Signal")
	for _, res := range s.lastSweep {
		if !res.hasSnap {
			continue
		}
		table.Append(
			res.symbol,
			fmt.Sprintf("%.2f", res.snap.Close),
			fmt.Sprintf("%.1f", res.snap.RSI),
			fmt.Sprintf("%.2f", res.snap.BandWidthPercentile),
			fmt.Sprintf("%.2f", res.snap.BandPosition),
			string(res.status),
			string(res.kind),
		)
	}
	table.Render()
}
