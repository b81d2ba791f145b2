package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"squeezeScanner/internal/domain"
	"squeezeScanner/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"golang.org/x/time/rate"
)

// maxKlinesPerRequest is the spot API page size cap for the klines endpoint.
const maxKlinesPerRequest = 1000

// defaultRequestsPerSecond keeps a full watchlist sweep well inside the
// exchange request-weight budget.
const defaultRequestsPerSecond = 10

// Client implements ports.BarProvider using the Binance spot REST API.
type Client struct {
	spotClient *binance.Client
	logger     ports.Logger
	limiter    *rate.Limiter
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey            string
	SecretKey         string
	Logger            ports.Logger
	RequestsPerSecond float64 // Outbound request rate cap (defaults to 10/s)
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Klines are a public endpoint, so creation is allowed without keys.
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		spotClient: binance.NewClient(cfg.APIKey, cfg.SecretKey),
		logger:     cfg.Logger,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Invalid signature / API-key format / key permissions
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1120, -1121, -1127, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			// General classification for unmapped API errors
			mappedErr = ports.ErrProviderUnavailable
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		// Default for other errors (e.g., parsing errors within the adapter)
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrProviderUnavailable, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// GetBars retrieves the most recent bars for the given symbol and interval,
// oldest first.
func (c *Client) GetBars(ctx context.Context, symbol string, interval string, limit int) ([]domain.Bar, error) {
	op := "GetBars"
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	klines, err := c.spotClient.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	bars := make([]domain.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := parseBar(symbol, k)
		if err != nil {
			return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline: %w", err), op)
		}
		bars = append(bars, bar)
	}

	return bars, nil
}

// GetBarsRange fetches all bars for a symbol/interval between start and end,
// paging through the per-request cap. Bars are returned oldest first.
func (c *Client) GetBarsRange(ctx context.Context, symbol string, interval string, start, end time.Time) ([]domain.Bar, error) {
	op := "GetBarsRange"
	var allBars []domain.Bar
	from := start

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.handleError(ctx, err, op)
		}

		klines, err := c.spotClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			bar, err := parseBar(symbol, k)
			if err != nil {
				return nil, c.handleError(ctx, fmt.Errorf("failed to translate kline range: %w", err), op)
			}
			allBars = append(allBars, bar)
		}
		last := klines[len(klines)-1]
		from = time.UnixMilli(last.CloseTime + 1)
		if from.After(end) || len(klines) < maxKlinesPerRequest {
			break
		}
	}

	return allBars, nil
}

// parseBar converts a raw spot kline into a domain bar. The API encodes
// prices and volume as strings, so each field is parsed individually to give
// a precise error when the payload is malformed.
func parseBar(symbol string, k *binance.Kline) (domain.Bar, error) {
	if k == nil {
		return domain.Bar{}, fmt.Errorf("kline data is nil")
	}

	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return domain.Bar{}, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return domain.Bar{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Symbol:    symbol,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}
