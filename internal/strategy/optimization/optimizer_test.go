package optimization

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/strategy"
	"squeezeScanner/internal/strategy/analytics"
	"squeezeScanner/internal/strategy/backtesting"
	"squeezeScanner/internal/strategy/indicators"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// sweepBars builds the squeeze-then-breakout series used by the backtesting
// tests: oscillation, a +1 ramp from 1200 that fires an entry near RSI 74,
// a flat top for the mid-band partial exit and a final drop for the full
// exit. A 70 overbought threshold trades it once; a 99 threshold never
// enters.
func sweepBars(symbol string) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bar := func(day int, close float64) domain.Bar {
		return domain.Bar{
			Timestamp: start.AddDate(0, 0, day),
			Symbol:    symbol,
			Open:      close,
			High:      close,
			Low:       close,
			Close:     close,
			Volume:    1_000_000,
		}
	}

	bars := make([]domain.Bar, 0, 32)
	for i := 0; i < 10; i++ {
		close := 1000.0
		if i%2 == 1 {
			close = 1100.0
		}
		bars = append(bars, bar(i, close))
	}
	for i := 10; i < 28; i++ {
		bars = append(bars, bar(i, 1200.0+float64(i-10)))
	}
	for i := 28; i < 31; i++ {
		bars = append(bars, bar(i, 1217.0))
	}
	return append(bars, bar(31, 1197.0))
}

func testEngine(t *testing.T) *indicators.Engine {
	t.Helper()
	engine, err := indicators.NewEngine(indicators.EngineConfig{
		BBPeriod:           4,
		BBStdDevMultiplier: 2.0,
		RSIPeriod:          3,
		VolatilityLookback: 6,
	})
	require.NoError(t, err)
	return engine
}

func baseConfig() strategy.Config {
	return strategy.Config{
		RSIOverbought:           70.0,
		VolatilityThreshold:     0.2,
		PartialExitBandPosition: 0.8,
		MidBandTolerance:        0.1,
		FullExitBandPosition:    0.15,
	}
}

func TestNewValidation(t *testing.T) {
	engine := testEngine(t)
	valid := []ParameterRange{{Name: ParamRSIOverbought, Min: 60, Max: 70, Step: 5}}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg:  Config{Engine: engine, Base: baseConfig(), Ranges: valid, Logger: &mockLogger{}},
		},
		{
			name:    "nil engine",
			cfg:     Config{Base: baseConfig(), Ranges: valid, Logger: &mockLogger{}},
			wantErr: true,
		},
		{
			name:    "nil logger",
			cfg:     Config{Engine: engine, Base: baseConfig(), Ranges: valid},
			wantErr: true,
		},
		{
			name:    "no ranges",
			cfg:     Config{Engine: engine, Base: baseConfig(), Logger: &mockLogger{}},
			wantErr: true,
		},
		{
			name: "unknown parameter",
			cfg: Config{
				Engine: engine, Base: baseConfig(), Logger: &mockLogger{},
				Ranges: []ParameterRange{{Name: "leverage", Min: 1, Max: 5, Step: 1}},
			},
			wantErr: true,
		},
		{
			name: "non-positive step",
			cfg: Config{
				Engine: engine, Base: baseConfig(), Logger: &mockLogger{},
				Ranges: []ParameterRange{{Name: ParamRSIOverbought, Min: 60, Max: 70, Step: 0}},
			},
			wantErr: true,
		},
		{
			name: "min above max",
			cfg: Config{
				Engine: engine, Base: baseConfig(), Logger: &mockLogger{},
				Ranges: []ParameterRange{{Name: ParamRSIOverbought, Min: 70, Max: 60, Step: 5}},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCombinations(t *testing.T) {
	opt, err := New(Config{
		Engine: testEngine(t),
		Base:   baseConfig(),
		Logger: &mockLogger{},
		Ranges: []ParameterRange{
			{Name: ParamRSIOverbought, Min: 60, Max: 70, Step: 5},
			{Name: ParamFullExitBandPosition, Min: 0.10, Max: 0.15, Step: 0.05},
		},
	})
	require.NoError(t, err)

	combos := opt.combinations()
	assert.Len(t, combos, 6) // 3 RSI values x 2 band positions
	for _, combo := range combos {
		assert.Contains(t, combo, ParamRSIOverbought)
		assert.Contains(t, combo, ParamFullExitBandPosition)
	}
}

func TestOptimizeRanksCombinations(t *testing.T) {
	opt, err := New(Config{
		Engine: testEngine(t),
		Base:   baseConfig(),
		Logger: &mockLogger{},
		Ranges: []ParameterRange{
			{Name: ParamRSIOverbought, Min: 70, Max: 99, Step: 29},
		},
	})
	require.NoError(t, err)

	results, err := opt.Optimize(context.Background(), backtesting.Config{}, "TEST", sweepBars("TEST"))
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The 70 threshold captures the breakout trade; 99 sits out the whole
	// series and scores only drawdown headroom.
	best := results[0]
	assert.Equal(t, 70.0, best.Params[ParamRSIOverbought])
	assert.Equal(t, 70.0, best.Config.RSIOverbought)
	assert.Equal(t, 1, best.Metrics.TotalTrades)

	rest := results[1]
	assert.Equal(t, 99.0, rest.Params[ParamRSIOverbought])
	assert.Equal(t, 0, rest.Metrics.TotalTrades)
	assert.Greater(t, best.Score, rest.Score)
}

func TestDefaultScore(t *testing.T) {
	perf := &analytics.Performance{
		WinRatePct:           100,
		ProfitFactorInfinite: true,
		MaxDrawdownPct:       0,
		TotalReturnPct:       10,
		Expectancy:           5,
	}
	// 0.3 hit rate + 2.0 capped profit factor + 0.2 drawdown headroom
	// + 0.02 return + 0.005 expectancy.
	assert.InDelta(t, 2.525, DefaultScore(perf), 1e-9)

	flat := &analytics.Performance{}
	assert.InDelta(t, 0.2, DefaultScore(flat), 1e-9)
}
