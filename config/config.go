package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"squeezeScanner/internal/adapters/logger"
)

// Preset bundles the threshold trio that shifts with the strategy's
// temperament. Lookbacks and the compression threshold are shared by all
// presets.
type Preset struct {
	RSIOverbought           float64
	PartialExitBandPosition float64
	FullExitBandPosition    float64
}

var presets = map[string]Preset{
	"conservative": {RSIOverbought: 70.0, PartialExitBandPosition: 0.8, FullExitBandPosition: 0.1},
	"balanced":     {RSIOverbought: 65.0, PartialExitBandPosition: 0.75, FullExitBandPosition: 0.15},
	"aggressive":   {RSIOverbought: 60.0, PartialExitBandPosition: 0.7, FullExitBandPosition: 0.2},
}

// PresetByName returns the named preset; the bool reports whether it exists.
func PresetByName(name string) (Preset, bool) {
	p, ok := presets[strings.ToLower(name)]
	return p, ok
}

// PresetNames returns the known preset names, sorted.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config holds all application configuration.
type Config struct {
	// Market data
	APIKey        string
	SecretKey     string
	Interval      string
	BarLimit      int
	Symbols       []string // From SYMBOLS; may be empty when a watchlist file is used
	WatchlistFile string

	// Indicator lookbacks
	BBPeriod           int
	BBStdDevMultiplier float64
	RSIPeriod          int
	VolatilityLookback int

	// Signal thresholds. The preset supplies defaults; explicit env vars
	// override individual values.
	Preset                  string
	RSIOverbought           float64
	VolatilityThreshold     float64
	PartialExitBandPosition float64
	MidBandTolerance        float64
	FullExitBandPosition    float64

	// Live scanner
	ScanInterval    time.Duration
	Cooldown        time.Duration
	HeartbeatSweeps int
	MarketHours     string // "always" or "us"

	// Backtesting
	MaxSymbolsPerBacktest int
	OpenAtEnd             string // "exclude" or "close"

	// Storage
	DBPath  string
	BarsDir string

	// Alerts
	Notifier         string // "console" or "telegram"
	TelegramBotToken string
	TelegramChatID   string

	// Observability
	LogLevel    logger.LogLevel
	LogFormat   string // "text" or "json"
	MetricsAddr string // Empty disables the metrics endpoint
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var errs []string // Collect validation errors

	// Market data. Klines are public endpoints; keys stay optional and
	// only raise request weight limits when present.
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.Interval = getEnv("BAR_INTERVAL", "1d")
	if cfg.Interval == "" {
		errs = append(errs, "BAR_INTERVAL must be set")
	}
	cfg.BarLimit = getEnvAsInt("BAR_LIMIT", 120)

	if raw := getEnv("SYMBOLS", ""); raw != "" {
		cfg.Symbols = splitSymbols(raw)
	}
	cfg.WatchlistFile = getEnv("WATCHLIST_FILE", "")

	// Indicator lookbacks
	cfg.BBPeriod = getEnvAsInt("BB_PERIOD", 20)
	cfg.BBStdDevMultiplier = getEnvAsFloat("BB_STD_MULTIPLIER", 2.0)
	cfg.RSIPeriod = getEnvAsInt("RSI_PERIOD", 14)
	cfg.VolatilityLookback = getEnvAsInt("VOLATILITY_LOOKBACK", 50)

	if cfg.BBPeriod < 2 {
		errs = append(errs, "BB_PERIOD must be at least 2")
	}
	if cfg.BBStdDevMultiplier <= 0 {
		errs = append(errs, "BB_STD_MULTIPLIER must be positive")
	}
	if cfg.RSIPeriod < 1 {
		errs = append(errs, "RSI_PERIOD must be at least 1")
	}
	if cfg.VolatilityLookback < 1 {
		errs = append(errs, "VOLATILITY_LOOKBACK must be at least 1")
	}

	// Signal thresholds: preset first, explicit env vars override.
	cfg.Preset = strings.ToLower(getEnv("PRESET", "conservative"))
	preset, ok := presets[cfg.Preset]
	if !ok {
		errs = append(errs, fmt.Sprintf("unknown PRESET %q (known: %s)", cfg.Preset, strings.Join(PresetNames(), ", ")))
		preset = presets["conservative"]
	}
	cfg.RSIOverbought = getEnvAsFloat("RSI_OVERBOUGHT", preset.RSIOverbought)
	cfg.PartialExitBandPosition = getEnvAsFloat("PARTIAL_EXIT_BAND_POSITION", preset.PartialExitBandPosition)
	cfg.FullExitBandPosition = getEnvAsFloat("FULL_EXIT_BAND_POSITION", preset.FullExitBandPosition)
	cfg.VolatilityThreshold = getEnvAsFloat("VOLATILITY_THRESHOLD", 0.2)
	cfg.MidBandTolerance = getEnvAsFloat("MID_BAND_TOLERANCE", 0.1)

	if cfg.RSIOverbought <= 0 || cfg.RSIOverbought >= 100 {
		errs = append(errs, "RSI_OVERBOUGHT must be between 0 and 100 (exclusive)")
	}
	if cfg.VolatilityThreshold <= 0 || cfg.VolatilityThreshold > 1 {
		errs = append(errs, "VOLATILITY_THRESHOLD must be in (0, 1]")
	}
	if cfg.PartialExitBandPosition <= 0 {
		errs = append(errs, "PARTIAL_EXIT_BAND_POSITION must be positive")
	}
	if cfg.MidBandTolerance < 0 {
		errs = append(errs, "MID_BAND_TOLERANCE cannot be negative")
	}
	if cfg.FullExitBandPosition < 0 {
		errs = append(errs, "FULL_EXIT_BAND_POSITION cannot be negative")
	}

	// Live scanner
	scanSeconds := getEnvAsInt("SCAN_INTERVAL_SECONDS", 300)
	if scanSeconds <= 0 {
		errs = append(errs, "SCAN_INTERVAL_SECONDS must be positive")
	}
	cfg.ScanInterval = time.Duration(scanSeconds) * time.Second

	cooldownSeconds := getEnvAsInt("COOLDOWN_SECONDS", 3600)
	if cooldownSeconds < 0 {
		errs = append(errs, "COOLDOWN_SECONDS cannot be negative")
	}
	cfg.Cooldown = time.Duration(cooldownSeconds) * time.Second

	cfg.HeartbeatSweeps = getEnvAsInt("HEARTBEAT_SWEEPS", 5)
	if cfg.HeartbeatSweeps <= 0 {
		errs = append(errs, "HEARTBEAT_SWEEPS must be positive")
	}

	cfg.MarketHours = strings.ToLower(getEnv("MARKET_HOURS", "always"))
	if cfg.MarketHours != "always" && cfg.MarketHours != "us" {
		errs = append(errs, "MARKET_HOURS must be 'always' or 'us'")
	}

	// Backtesting
	cfg.MaxSymbolsPerBacktest = getEnvAsInt("MAX_SYMBOLS_PER_BACKTEST", 50)
	if cfg.MaxSymbolsPerBacktest <= 0 {
		errs = append(errs, "MAX_SYMBOLS_PER_BACKTEST must be positive")
	}
	cfg.OpenAtEnd = strings.ToLower(getEnv("OPEN_AT_END", "exclude"))
	if cfg.OpenAtEnd != "exclude" && cfg.OpenAtEnd != "close" {
		errs = append(errs, "OPEN_AT_END must be 'exclude' or 'close'")
	}

	// Storage
	cfg.DBPath = getEnv("DB_PATH", "./data/squeeze_scanner.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	cfg.BarsDir = getEnv("BARS_DIR", "./data/bars")

	// Alerts
	cfg.Notifier = strings.ToLower(getEnv("NOTIFIER", "console"))
	switch cfg.Notifier {
	case "console":
	case "telegram":
		cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
		cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
		if cfg.TelegramBotToken == "" {
			errs = append(errs, "TELEGRAM_BOT_TOKEN must be set when NOTIFIER is 'telegram'")
		}
		if cfg.TelegramChatID == "" {
			errs = append(errs, "TELEGRAM_CHAT_ID must be set when NOTIFIER is 'telegram'")
		}
	default:
		errs = append(errs, "NOTIFIER must be 'console' or 'telegram'")
	}

	// Observability
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, "LOG_FORMAT must be 'text' or 'json'")
	}
	cfg.MetricsAddr = getEnv("METRICS_ADDR", "")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// ResolveSymbols returns the symbols to work on: the SYMBOLS variable wins,
// then the watchlist file. When the watchlist supplies the symbols, its
// interval, preset, and threshold overrides are also applied to the config.
// An empty result is an error since every command needs at least one symbol.
func (c *Config) ResolveSymbols() ([]string, error) {
	if len(c.Symbols) > 0 {
		return c.Symbols, nil
	}
	if c.WatchlistFile != "" {
		doc, err := ReadWatchlist(c.WatchlistFile)
		if err != nil {
			return nil, err
		}
		if err := doc.Apply(c); err != nil {
			return nil, err
		}
		return doc.cleanSymbols(c.WatchlistFile)
	}
	return nil, fmt.Errorf("no symbols configured: set SYMBOLS or WATCHLIST_FILE")
}

// Watchlist is a YAML scan description: the symbol list plus optional
// interval, preset, and threshold overrides.
type Watchlist struct {
	Symbols    []string            `yaml:"symbols"`
	Interval   string              `yaml:"interval"`
	Preset     string              `yaml:"preset"`
	Thresholds WatchlistThresholds `yaml:"thresholds"`
}

// WatchlistThresholds overrides individual detector thresholds. Pointers
// distinguish an absent value from an explicit zero.
type WatchlistThresholds struct {
	RSIOverbought           *float64 `yaml:"rsi_overbought"`
	VolatilityThreshold     *float64 `yaml:"volatility_threshold"`
	PartialExitBandPosition *float64 `yaml:"partial_exit_band_position"`
	MidBandTolerance        *float64 `yaml:"mid_band_tolerance"`
	FullExitBandPosition    *float64 `yaml:"full_exit_band_position"`
}

// ReadWatchlist parses a watchlist document.
func ReadWatchlist(path string) (*Watchlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading watchlist %s: %w", path, err)
	}
	var doc Watchlist
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing watchlist %s: %w", path, err)
	}
	return &doc, nil
}

// LoadWatchlist reads a YAML watchlist and returns just its symbols,
// upper-cased and de-duplicated in first appearance order.
func LoadWatchlist(path string) ([]string, error) {
	doc, err := ReadWatchlist(path)
	if err != nil {
		return nil, err
	}
	return doc.cleanSymbols(path)
}

// Apply merges the watchlist's overrides into the config. A preset re-bases
// the threshold trio first, then explicit thresholds win. Watchlist values
// take precedence over the environment: pointing a run at a watchlist file
// means the file describes the run.
func (w *Watchlist) Apply(c *Config) error {
	if w.Interval != "" {
		c.Interval = w.Interval
	}
	if w.Preset != "" {
		name := strings.ToLower(w.Preset)
		preset, ok := presets[name]
		if !ok {
			return fmt.Errorf("watchlist preset %q unknown (known: %s)", w.Preset, strings.Join(PresetNames(), ", "))
		}
		c.Preset = name
		c.RSIOverbought = preset.RSIOverbought
		c.PartialExitBandPosition = preset.PartialExitBandPosition
		c.FullExitBandPosition = preset.FullExitBandPosition
	}

	t := w.Thresholds
	if t.RSIOverbought != nil {
		c.RSIOverbought = *t.RSIOverbought
	}
	if t.VolatilityThreshold != nil {
		c.VolatilityThreshold = *t.VolatilityThreshold
	}
	if t.PartialExitBandPosition != nil {
		c.PartialExitBandPosition = *t.PartialExitBandPosition
	}
	if t.MidBandTolerance != nil {
		c.MidBandTolerance = *t.MidBandTolerance
	}
	if t.FullExitBandPosition != nil {
		c.FullExitBandPosition = *t.FullExitBandPosition
	}

	if c.RSIOverbought <= 0 || c.RSIOverbought >= 100 {
		return fmt.Errorf("watchlist rsi_overbought %v must be between 0 and 100 (exclusive)", c.RSIOverbought)
	}
	if c.VolatilityThreshold <= 0 || c.VolatilityThreshold > 1 {
		return fmt.Errorf("watchlist volatility_threshold %v must be in (0, 1]", c.VolatilityThreshold)
	}
	return nil
}

func (w *Watchlist) cleanSymbols(path string) ([]string, error) {
	seen := make(map[string]bool, len(w.Symbols))
	symbols := make([]string, 0, len(w.Symbols))
	for _, s := range w.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		symbols = append(symbols, s)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("watchlist %s contains no symbols", path)
	}
	return symbols, nil
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	seen := make(map[string]bool, len(parts))
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		symbols = append(symbols, p)
	}
	return symbols
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
