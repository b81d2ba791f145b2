package utils

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"squeezeScanner/internal/domain"
)

var barsHeader = []string{"timestamp", "symbol", "open", "high", "low", "close", "volume"}

// WriteBarsToCSV writes bars to a CSV file, header included, in slice order.
func WriteBarsToCSV(bars []domain.Bar, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Write(barsHeader)
	for _, b := range bars {
		writer.Write([]string{
			b.Timestamp.Format(time.RFC3339),
			b.Symbol,
			strconv.FormatFloat(b.Open, 'f', -1, 64),
			strconv.FormatFloat(b.High, 'f', -1, 64),
			strconv.FormatFloat(b.Low, 'f', -1, 64),
			strconv.FormatFloat(b.Close, 'f', -1, 64),
			strconv.FormatFloat(b.Volume, 'f', -1, 64),
		})
	}
	writer.Flush()
	return writer.Error()
}

// ReadBarsFromCSV reads back a file produced by WriteBarsToCSV. Rows keep
// their file order; callers relying on chronological order must have written
// the file that way.
func ReadBarsFromCSV(filename string) ([]domain.Bar, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filename, err)
	}

	bars := make([]domain.Bar, 0, len(records))
	for i, rec := range records {
		if i == 0 && rec[0] == barsHeader[0] {
			continue
		}
		if len(rec) != len(barsHeader) {
			return nil, fmt.Errorf("%s row %d: expected %d columns, got %d", filename, i+1, len(barsHeader), len(rec))
		}
		bar, err := parseBarRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filename, i+1, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func parseBarRecord(rec []string) (domain.Bar, error) {
	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing timestamp %q: %w", rec[0], err)
	}
	values := make([]float64, 5)
	for i, name := range []string{"open", "high", "low", "close", "volume"} {
		v, err := strconv.ParseFloat(rec[i+2], 64)
		if err != nil {
			return domain.Bar{}, fmt.Errorf("parsing %s %q: %w", name, rec[i+2], err)
		}
		values[i] = v
	}
	return domain.Bar{
		Timestamp: ts,
		Symbol:    rec[1],
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

// WriteTradesToCSV exports a trade ledger with one row per exit event, so a
// two-exit trade occupies two rows sharing the same entry columns.
func WriteTradesToCSV(trades []*domain.TradeRecord, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.Write([]string{
		"symbol", "entry_time", "entry_price",
		"exit_time", "exit_price", "fraction_closed", "reason",
		"exit_return_pct", "trade_return_pct", "is_win",
	})
	for _, trade := range trades {
		for _, exit := range trade.Exits {
			writer.Write([]string{
				trade.Symbol,
				trade.EntryTime.Format(time.RFC3339),
				strconv.FormatFloat(trade.EntryPrice, 'f', -1, 64),
				exit.Time.Format(time.RFC3339),
				strconv.FormatFloat(exit.Price, 'f', -1, 64),
				strconv.FormatFloat(exit.FractionClosed, 'f', -1, 64),
				string(exit.Reason),
				strconv.FormatFloat(exit.ReturnPct(trade.EntryPrice), 'f', 4, 64),
				strconv.FormatFloat(trade.TotalReturnPct, 'f', 4, 64),
				strconv.FormatBool(trade.IsWin),
			})
		}
	}
	writer.Flush()
	return writer.Error()
}
