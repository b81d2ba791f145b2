package app

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeezeScanner/config"
	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/markethours"
	"squeezeScanner/internal/metrics"
	"squeezeScanner/internal/strategy"
	"squeezeScanner/internal/strategy/indicators"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// scriptedProvider replays one queued bar batch per GetBars call and keeps
// serving the final batch once the queue is drained.
type scriptedProvider struct {
	mu      sync.Mutex
	batches map[string][][]domain.Bar
	errs    map[string]error
	calls   int
}

func (p *scriptedProvider) GetBars(ctx context.Context, symbol string, interval string, limit int) ([]domain.Bar, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := p.errs[symbol]; err != nil {
		return nil, err
	}
	queue := p.batches[symbol]
	if len(queue) == 0 {
		return nil, nil
	}
	batch := queue[0]
	if len(queue) > 1 {
		p.batches[symbol] = queue[1:]
	}
	return batch, nil
}

func (p *scriptedProvider) GetBarsRange(ctx context.Context, symbol string, interval string, start, end time.Time) ([]domain.Bar, error) {
	return nil, nil
}

// recordingNotifier captures dispatched alerts and can fail a configured
// number of sends first.
type recordingNotifier struct {
	mu       sync.Mutex
	sent     []domain.Alert
	failures int
}

func (n *recordingNotifier) Send(ctx context.Context, alert domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("telegram unreachable")
	}
	n.sent = append(n.sent, alert)
	return nil
}

func (n *recordingNotifier) alerts() []domain.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.Alert(nil), n.sent...)
}

var seriesStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func barAt(symbol string, day int, close float64) domain.Bar {
	ts := seriesStart.AddDate(0, 0, day)
	return domain.Bar{
		Timestamp: ts,
		Symbol:    symbol,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    1_000_000,
	}
}

// breakoutBars builds the 32-bar series used across the strategy tests: with
// the small test lookbacks (BB 4, RSI 3, volatility 6) the entry fires when
// bar 12 is the latest bar, the mid-band partial exit when bar 30 is, and the
// full exit when bar 31 is.
func breakoutBars(symbol string) []domain.Bar {
	bars := make([]domain.Bar, 0, 32)
	for i := 0; i < 10; i++ {
		close := 1000.0
		if i%2 == 1 {
			close = 1100.0
		}
		bars = append(bars, barAt(symbol, i, close))
	}
	for i := 10; i < 28; i++ {
		bars = append(bars, barAt(symbol, i, 1200.0+float64(i-10)))
	}
	for i := 28; i < 31; i++ {
		bars = append(bars, barAt(symbol, i, 1217.0))
	}
	bars = append(bars, barAt(symbol, 31, 1197.0))
	return bars
}

func testConfig() *config.Config {
	return &config.Config{
		Interval:        "1d",
		BarLimit:        40,
		ScanInterval:    time.Minute,
		Cooldown:        time.Hour,
		HeartbeatSweeps: 100,
		MarketHours:     "always",
	}
}

func testService(t *testing.T, provider *scriptedProvider, notifier *recordingNotifier, symbols []string) (*Service, *bytes.Buffer) {
	t.Helper()
	engine, err := indicators.NewEngine(indicators.EngineConfig{
		BBPeriod:           4,
		BBStdDevMultiplier: 2.0,
		RSIPeriod:          3,
		VolatilityLookback: 6,
	})
	require.NoError(t, err)

	detector, err := strategy.New(strategy.Config{
		RSIOverbought:           70.0,
		VolatilityThreshold:     0.2,
		PartialExitBandPosition: 0.8,
		MidBandTolerance:        0.1,
		FullExitBandPosition:    0.15,
	}, &mockLogger{})
	require.NoError(t, err)

	calendar, err := markethours.New(markethours.ModeAlways)
	require.NoError(t, err)

	statusOut := &bytes.Buffer{}
	svc, err := NewService(Deps{
		Config:    testConfig(),
		Symbols:   symbols,
		Logger:    &mockLogger{},
		Provider:  provider,
		Notifier:  notifier,
		Engine:    engine,
		Detector:  detector,
		Calendar:  calendar,
		Metrics:   metrics.New(),
		StatusOut: statusOut,
	})
	require.NoError(t, err)
	return svc, statusOut
}

func entrySnapshot(symbol string) domain.IndicatorSnapshot {
	return domain.IndicatorSnapshot{
		Symbol:              symbol,
		Timestamp:           seriesStart.AddDate(0, 0, 12),
		Close:               1202.0,
		MiddleBand:          1200.5,
		UpperBand:           1203.0,
		LowerBand:           1198.0,
		BandWidth:           5.0,
		BandWidthPercentile: 0.1,
		RSI:                 92.0,
		BandPosition:        0.8,
	}
}

func TestNewServiceValidation(t *testing.T) {
	provider := &scriptedProvider{}
	notifier := &recordingNotifier{}
	svc, _ := testService(t, provider, notifier, []string{"TEST"})

	_, err := NewService(Deps{
		Config: svc.cfg, Symbols: []string{"TEST"}, Logger: &mockLogger{},
		Provider: provider, Notifier: notifier, Engine: svc.engine,
		Detector: svc.detector, Calendar: svc.calendar,
	})
	assert.Error(t, err, "nil metrics must be rejected")

	_, err = NewService(Deps{
		Config: svc.cfg, Symbols: nil, Logger: &mockLogger{},
		Provider: provider, Notifier: notifier, Engine: svc.engine,
		Detector: svc.detector, Calendar: svc.calendar, Metrics: svc.metrics,
	})
	assert.Error(t, err, "empty watchlist must be rejected")
}

func TestSweepSignalLifecycle(t *testing.T) {
	bars := breakoutBars("TEST")
	provider := &scriptedProvider{batches: map[string][][]domain.Bar{
		"TEST": {bars[:13], bars[:31], bars[:32]},
	}}
	notifier := &recordingNotifier{}
	svc, _ := testService(t, provider, notifier, []string{"TEST"})
	ctx := context.Background()

	svc.sweep(ctx)
	sent := notifier.alerts()
	require.Len(t, sent, 1)
	assert.Equal(t, domain.SignalEntry, sent[0].Kind)
	assert.Equal(t, "TEST", sent[0].Symbol)
	assert.Equal(t, 1202.0, sent[0].Price)
	assert.True(t, sent[0].Timestamp.Equal(seriesStart.AddDate(0, 0, 12)))
	assert.True(t, sent[0].VolatilityCompressed)
	assert.Equal(t, domain.StatusFullyOpen, svc.tracker.Status("TEST"))

	svc.sweep(ctx)
	sent = notifier.alerts()
	require.Len(t, sent, 2)
	assert.Equal(t, domain.SignalPartialExit, sent[1].Kind)
	assert.Equal(t, 1217.0, sent[1].Price)
	assert.Equal(t, domain.StatusPartiallyClosed, svc.tracker.Status("TEST"))

	svc.sweep(ctx)
	sent = notifier.alerts()
	require.Len(t, sent, 3)
	assert.Equal(t, domain.SignalFullExit, sent[2].Kind)
	assert.Equal(t, 1197.0, sent[2].Price)
	assert.Equal(t, domain.StatusFlat, svc.tracker.Status("TEST"), "full exit frees the symbol for re-entry")

	assert.Equal(t, 3, svc.alertsSent)
	assert.Equal(t, 0, svc.alertsSuppressed)
}

func TestSweepQuietBarsProduceNoAlerts(t *testing.T) {
	// The oscillating prefix keeps band widths wide, so nothing fires.
	bars := breakoutBars("TEST")[:10]
	provider := &scriptedProvider{batches: map[string][][]domain.Bar{
		"TEST": {bars},
	}}
	notifier := &recordingNotifier{}
	svc, _ := testService(t, provider, notifier, []string{"TEST"})

	svc.sweep(context.Background())

	assert.Empty(t, notifier.alerts())
	assert.Equal(t, domain.StatusFlat, svc.tracker.Status("TEST"))
	require.Len(t, svc.lastSweep, 1)
	assert.True(t, svc.lastSweep[0].hasSnap)
	assert.Equal(t, domain.SignalNone, svc.lastSweep[0].kind)
}

func TestDispatchAlertCooldown(t *testing.T) {
	provider := &scriptedProvider{}
	notifier := &recordingNotifier{}
	svc, _ := testService(t, provider, notifier, []string{"TEST"})

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	res := sweepResult{symbol: "TEST", snap: entrySnapshot("TEST"), hasSnap: true, kind: domain.SignalEntry}
	ctx := context.Background()

	svc.dispatchAlert(ctx, res)
	require.Len(t, notifier.alerts(), 1)

	// Ten minutes later the same signal is still inside the hour cooldown.
	now = now.Add(10 * time.Minute)
	svc.dispatchAlert(ctx, res)
	assert.Len(t, notifier.alerts(), 1)
	assert.Equal(t, 1, svc.alertsSuppressed)

	// A different kind for the same symbol is not suppressed.
	exit := res
	exit.kind = domain.SignalFullExit
	svc.dispatchAlert(ctx, exit)
	assert.Len(t, notifier.alerts(), 2)

	// Past the cooldown the original signal fires again.
	now = now.Add(51 * time.Minute)
	svc.dispatchAlert(ctx, res)
	assert.Len(t, notifier.alerts(), 3)
	assert.Equal(t, 3, svc.alertsSent)
	assert.Equal(t, 1, svc.alertsSuppressed)
}

func TestDispatchAlertRetryAfterSendFailure(t *testing.T) {
	provider := &scriptedProvider{}
	notifier := &recordingNotifier{failures: 1}
	svc, _ := testService(t, provider, notifier, []string{"TEST"})

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	res := sweepResult{symbol: "TEST", snap: entrySnapshot("TEST"), hasSnap: true, kind: domain.SignalEntry}
	ctx := context.Background()

	// The failed send must not start the cooldown window.
	svc.dispatchAlert(ctx, res)
	assert.Empty(t, notifier.alerts())
	assert.Equal(t, 1, svc.notifierErrors)

	now = now.Add(time.Minute)
	svc.dispatchAlert(ctx, res)
	require.Len(t, notifier.alerts(), 1)
	assert.Equal(t, 1, svc.alertsSent)
	assert.Equal(t, 0, svc.alertsSuppressed)
}

func TestSweepProviderErrorIsolation(t *testing.T) {
	bars := breakoutBars("GOOD")
	provider := &scriptedProvider{
		batches: map[string][][]domain.Bar{"GOOD": {bars[:13]}},
		errs:    map[string]error{"BAD": errors.New("connection refused")},
	}
	notifier := &recordingNotifier{}
	svc, _ := testService(t, provider, notifier, []string{"GOOD", "BAD"})

	svc.sweep(context.Background())

	sent := notifier.alerts()
	require.Len(t, sent, 1)
	assert.Equal(t, "GOOD", sent[0].Symbol)
	assert.Equal(t, 1, svc.providerErrors)
	require.Len(t, svc.lastSweep, 2)
	assert.True(t, svc.lastSweep[1].providerErr)
	assert.False(t, svc.lastSweep[1].hasSnap)
}

func TestSweepInsufficientHistory(t *testing.T) {
	provider := &scriptedProvider{batches: map[string][][]domain.Bar{
		"TEST": {breakoutBars("TEST")[:3]},
	}}
	notifier := &recordingNotifier{}
	svc, _ := testService(t, provider, notifier, []string{"TEST"})

	svc.sweep(context.Background())

	assert.Empty(t, notifier.alerts())
	require.Len(t, svc.lastSweep, 1)
	assert.True(t, svc.lastSweep[0].insufficient)
	assert.Equal(t, 0, svc.providerErrors)
}

func TestRunSweepMarketClosed(t *testing.T) {
	provider := &scriptedProvider{}
	notifier := &recordingNotifier{}
	svc, _ := testService(t, provider, notifier, []string{"TEST"})

	calendar, err := markethours.New(markethours.ModeUS)
	require.NoError(t, err)
	svc.calendar = calendar
	// Saturday noon UTC.
	svc.now = func() time.Time { return time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC) }

	svc.runSweep(context.Background())

	assert.Equal(t, 0, svc.sweeps)
	assert.Equal(t, 0, provider.calls)
}

func TestRunSweepHeartbeat(t *testing.T) {
	bars := breakoutBars("TEST")
	provider := &scriptedProvider{batches: map[string][][]domain.Bar{
		"TEST": {bars[:13]},
	}}
	notifier := &recordingNotifier{}
	svc, statusOut := testService(t, provider, notifier, []string{"TEST"})
	svc.cfg.HeartbeatSweeps = 1

	svc.runSweep(context.Background())

	assert.Equal(t, 1, svc.sweeps)
	out := statusOut.String()
	assert.Contains(t, out, "TEST")
	assert.Contains(t, out, "1202.00")
	assert.Contains(t, out, "fully-open")
}

func TestStartStopsOnCancelledContext(t *testing.T) {
	provider := &scriptedProvider{}
	notifier := &recordingNotifier{}
	svc, _ := testService(t, provider, notifier, []string{"TEST"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Start(ctx)
	assert.NoError(t, err)
	assert.Equal(t, 0, provider.calls)
}
