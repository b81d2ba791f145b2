package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "scanner-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

// sampleRun builds a run with one clean result (two trades) and one errored
// result, covering every column the schema persists.
func sampleRun(id string, createdAt time.Time) *domain.BacktestRun {
	entry := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	return &domain.BacktestRun{
		ID:                  id,
		CreatedAt:           createdAt,
		Interval:            "1d",
		Preset:              "balanced",
		Start:               time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:                 time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC),
		RSIOverbought:       65,
		VolatilityThreshold: 0.2,
		Results: []*domain.SymbolResult{
			{
				Symbol:               "BTCUSDT",
				TotalTrades:          2,
				TotalReturnPct:       3.1,
				WinRatePct:           50,
				ProfitFactor:         3.8,
				ProfitFactorInfinite: false,
				MaxDrawdownPct:       1.5,
				AvgWinPct:            4.2,
				AvgLossPct:           -1.1,
				SharpeRatio:          1.1,
				OpenAtEnd:            true,
				Trades: []*domain.TradeRecord{
					{
						Symbol:     "BTCUSDT",
						EntryTime:  entry,
						EntryPrice: 50000,
						Exits: []domain.ExitEvent{
							{Time: entry.AddDate(0, 0, 10), Price: 52000, FractionClosed: 0.5, Reason: domain.ExitReasonPartialProfit},
							{Time: entry.AddDate(0, 0, 14), Price: 52200, FractionClosed: 0.5, Reason: domain.ExitReasonExit},
						},
						TotalReturnPct: 4.2,
						IsWin:          true,
					},
					{
						Symbol:     "BTCUSDT",
						EntryTime:  entry.AddDate(0, 1, 0),
						EntryPrice: 55000,
						Exits: []domain.ExitEvent{
							{Time: entry.AddDate(0, 1, 3), Price: 54400, FractionClosed: 1.0, Reason: domain.ExitReasonEndOfData},
						},
						TotalReturnPct: -1.09,
						IsWin:          false,
					},
				},
			},
			{
				Symbol: "NEWUSDT",
				Err:    "not enough trailing bars for a valid indicator snapshot",
			},
		},
	}
}

func TestNewRepository(t *testing.T) {
	t.Run("requires a logger", func(t *testing.T) {
		_, err := NewRepository(Config{DBPath: "ignored.db"})
		require.Error(t, err)
	})

	t.Run("creates missing data directory", func(t *testing.T) {
		tmpDir, err := os.MkdirTemp("", "scanner-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(tmpDir)

		dbPath := filepath.Join(tmpDir, "nested", "test.db")
		repo, err := NewRepository(Config{DBPath: dbPath, Logger: &mockLogger{}})
		require.NoError(t, err)
		defer repo.Close()

		_, err = os.Stat(dbPath)
		assert.NoError(t, err)
	})
}

func TestSaveRunValidation(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	assert.Error(t, repo.SaveRun(ctx, nil))

	err := repo.SaveRun(ctx, &domain.BacktestRun{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrInvalidRequest)
}

func TestSaveAndFindRun(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	want := sampleRun("run-1", time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, repo.SaveRun(ctx, want))

	got, err := repo.FindRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Interval, got.Interval)
	assert.Equal(t, want.Preset, got.Preset)
	assert.Equal(t, want.RSIOverbought, got.RSIOverbought)
	assert.Equal(t, want.VolatilityThreshold, got.VolatilityThreshold)
	assert.True(t, got.CreatedAt.Equal(want.CreatedAt))
	assert.True(t, got.Start.Equal(want.Start))
	assert.True(t, got.End.Equal(want.End))

	require.Len(t, got.Results, 2)
	first, second := got.Results[0], got.Results[1]

	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, 2, first.TotalTrades)
	assert.Equal(t, 3.1, first.TotalReturnPct)
	assert.Equal(t, 50.0, first.WinRatePct)
	assert.Equal(t, 3.8, first.ProfitFactor)
	assert.False(t, first.ProfitFactorInfinite)
	assert.Equal(t, 1.5, first.MaxDrawdownPct)
	assert.Equal(t, 4.2, first.AvgWinPct)
	assert.Equal(t, -1.1, first.AvgLossPct)
	assert.Equal(t, 1.1, first.SharpeRatio)
	assert.True(t, first.OpenAtEnd)
	assert.Empty(t, first.Err)
	assert.Empty(t, first.Trades, "FindRun leaves trade ledgers to TradesForRun")

	assert.Equal(t, "NEWUSDT", second.Symbol)
	assert.Equal(t, "not enough trailing bars for a valid indicator snapshot", second.Err)
	assert.Zero(t, second.TotalTrades)
}

func TestFindRunMissing(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	got, err := repo.FindRun(context.Background(), "no-such-run")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveRunDuplicateID(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	createdAt := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveRun(ctx, sampleRun("run-1", createdAt)))

	err := repo.SaveRun(ctx, sampleRun("run-1", createdAt.Add(time.Hour)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrQueryFailed)

	// The failed save must not disturb the committed run.
	got, err := repo.FindRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CreatedAt.Equal(createdAt))
}

func TestSaveRunOpenWindow(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	run := sampleRun("run-open", time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
	run.Start = time.Time{}
	run.End = time.Time{}
	require.NoError(t, repo.SaveRun(ctx, run))

	got, err := repo.FindRun(ctx, "run-open")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Start.IsZero())
	assert.True(t, got.End.IsZero())
}

func TestListRuns(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveRun(ctx, sampleRun("run-old", base)))
	require.NoError(t, repo.SaveRun(ctx, sampleRun("run-mid", base.Add(time.Hour))))
	require.NoError(t, repo.SaveRun(ctx, sampleRun("run-new", base.Add(2*time.Hour))))

	runs, err := repo.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-mid", runs[1].ID)
	require.Len(t, runs[0].Results, 2, "listed runs carry their results")

	all, err := repo.ListRuns(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestTradesForRun(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	want := sampleRun("run-1", time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, repo.SaveRun(ctx, want))

	trades, err := repo.TradesForRun(ctx, "run-1", "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, trades, 2)

	first := trades[0]
	assert.Equal(t, "BTCUSDT", first.Symbol)
	assert.Equal(t, 50000.0, first.EntryPrice)
	assert.Equal(t, 4.2, first.TotalReturnPct)
	assert.True(t, first.IsWin)
	require.Len(t, first.Exits, 2)
	assert.Equal(t, domain.ExitReasonPartialProfit, first.Exits[0].Reason)
	assert.Equal(t, 0.5, first.Exits[0].FractionClosed)
	assert.Equal(t, 52000.0, first.Exits[0].Price)
	assert.Equal(t, domain.ExitReasonExit, first.Exits[1].Reason)
	assert.True(t, first.Exits[0].Time.Before(first.Exits[1].Time))

	second := trades[1]
	assert.False(t, second.IsWin)
	require.Len(t, second.Exits, 1)
	assert.Equal(t, domain.ExitReasonEndOfData, second.Exits[0].Reason)
	assert.Equal(t, 1.0, second.Exits[0].FractionClosed)
	assert.True(t, first.EntryTime.Before(second.EntryTime), "trades ordered by entry time")

	// Symbols and runs without persisted trades yield an empty ledger.
	none, err := repo.TradesForRun(ctx, "run-1", "NEWUSDT")
	require.NoError(t, err)
	assert.Empty(t, none)

	none, err = repo.TradesForRun(ctx, "other-run", "BTCUSDT")
	require.NoError(t, err)
	assert.Empty(t, none)
}
