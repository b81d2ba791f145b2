package strategy

import (
	"context"
	"testing"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

func defaultConfig() Config {
	return Config{
		RSIOverbought:           70.0,
		VolatilityThreshold:     0.2,
		PartialExitBandPosition: 0.8,
		MidBandTolerance:        0.1,
		FullExitBandPosition:    0.1,
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		logger  ports.Logger
		wantErr bool
	}{
		{name: "valid config", cfg: defaultConfig(), logger: &mockLogger{}, wantErr: false},
		{name: "nil logger", cfg: defaultConfig(), logger: nil, wantErr: true},
		{
			name: "overbought threshold out of range",
			cfg: Config{
				RSIOverbought:           120,
				VolatilityThreshold:     0.2,
				PartialExitBandPosition: 0.8,
				MidBandTolerance:        0.1,
				FullExitBandPosition:    0.1,
			},
			logger:  &mockLogger{},
			wantErr: true,
		},
		{
			name: "zero volatility threshold",
			cfg: Config{
				RSIOverbought:           70,
				VolatilityThreshold:     0,
				PartialExitBandPosition: 0.8,
				MidBandTolerance:        0.1,
				FullExitBandPosition:    0.1,
			},
			logger:  &mockLogger{},
			wantErr: true,
		},
		{
			name: "negative mid band tolerance",
			cfg: Config{
				RSIOverbought:           70,
				VolatilityThreshold:     0.2,
				PartialExitBandPosition: 0.8,
				MidBandTolerance:        -0.1,
				FullExitBandPosition:    0.1,
			},
			logger:  &mockLogger{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detector, err := New(tt.cfg, tt.logger)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, detector)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, detector)
			}
		})
	}
}

func TestDetector_Classify(t *testing.T) {
	detector, err := New(defaultConfig(), &mockLogger{})
	require.NoError(t, err)

	tests := []struct {
		name     string
		snap     domain.IndicatorSnapshot
		status   domain.PositionStatus
		expected domain.SignalKind
	}{
		{
			name:     "entry on overbought momentum inside a squeeze",
			snap:     domain.IndicatorSnapshot{RSI: 75, BandWidthPercentile: 0.1},
			status:   domain.StatusFlat,
			expected: domain.SignalEntry,
		},
		{
			name:     "no entry at the exact overbought boundary",
			snap:     domain.IndicatorSnapshot{RSI: 70, BandWidthPercentile: 0.1},
			status:   domain.StatusFlat,
			expected: domain.SignalNone,
		},
		{
			name:     "no entry at the exact volatility boundary",
			snap:     domain.IndicatorSnapshot{RSI: 75, BandWidthPercentile: 0.2},
			status:   domain.StatusFlat,
			expected: domain.SignalNone,
		},
		{
			name:     "no entry without momentum",
			snap:     domain.IndicatorSnapshot{RSI: 65, BandWidthPercentile: 0.1},
			status:   domain.StatusFlat,
			expected: domain.SignalNone,
		},
		{
			name:     "no entry while fully open even if conditions hold",
			snap:     domain.IndicatorSnapshot{RSI: 75, BandWidthPercentile: 0.1},
			status:   domain.StatusFullyOpen,
			expected: domain.SignalNone,
		},
		{
			name:     "partial exit at the upper band",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.85},
			status:   domain.StatusFullyOpen,
			expected: domain.SignalPartialExit,
		},
		{
			name:     "partial exit exactly at the band position threshold",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.8},
			status:   domain.StatusFullyOpen,
			expected: domain.SignalPartialExit,
		},
		{
			name:     "partial exit near the mid band from above",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.55},
			status:   domain.StatusFullyOpen,
			expected: domain.SignalPartialExit,
		},
		{
			name:     "partial exit near the mid band from below",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.41},
			status:   domain.StatusFullyOpen,
			expected: domain.SignalPartialExit,
		},
		{
			name:     "hold between the mid band and the target",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.65},
			status:   domain.StatusFullyOpen,
			expected: domain.SignalNone,
		},
		{
			name:     "hold below the mid band tolerance",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.35},
			status:   domain.StatusFullyOpen,
			expected: domain.SignalNone,
		},
		{
			name:     "full exit at the lower band",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.05},
			status:   domain.StatusPartiallyClosed,
			expected: domain.SignalFullExit,
		},
		{
			name:     "full exit exactly at the threshold",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.1},
			status:   domain.StatusPartiallyClosed,
			expected: domain.SignalFullExit,
		},
		{
			name:     "no full exit above the threshold",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.2},
			status:   domain.StatusPartiallyClosed,
			expected: domain.SignalNone,
		},
		{
			name:     "partial exit conditions do not fire once partially closed",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.85},
			status:   domain.StatusPartiallyClosed,
			expected: domain.SignalNone,
		},
		{
			name:     "exit conditions never fire while flat",
			snap:     domain.IndicatorSnapshot{BandPosition: 0.05},
			status:   domain.StatusFlat,
			expected: domain.SignalNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := detector.Classify(context.Background(), tt.snap, tt.status)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// Identical snapshot and status must always classify identically.
func TestDetector_ClassifyDeterministic(t *testing.T) {
	detector, err := New(defaultConfig(), &mockLogger{})
	require.NoError(t, err)

	snap := domain.IndicatorSnapshot{RSI: 72.5, BandWidthPercentile: 0.15, BandPosition: 0.3}
	first := detector.Classify(context.Background(), snap, domain.StatusFlat)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, detector.Classify(context.Background(), snap, domain.StatusFlat))
	}
}

func TestDetector_VolatilityCompressed(t *testing.T) {
	detector, err := New(defaultConfig(), &mockLogger{})
	require.NoError(t, err)

	assert.True(t, detector.VolatilityCompressed(domain.IndicatorSnapshot{BandWidthPercentile: 0.19}))
	assert.False(t, detector.VolatilityCompressed(domain.IndicatorSnapshot{BandWidthPercentile: 0.2}))
	assert.False(t, detector.VolatilityCompressed(domain.IndicatorSnapshot{BandWidthPercentile: 0.9}))
}
