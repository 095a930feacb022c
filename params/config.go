package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/uhyunpark/matchcore/pkg/app/core/types"
)

type API struct {
	Addr           string
	AllowedOrigins []string
}

type Log struct {
	Level string
	File  string // empty logs to stdout only
}

type Venue struct {
	Account        string
	InitialCapital float64
	Limits         types.RiskLimits
	JournalDir     string // empty disables the trade journal
}

// FeedMarket seeds one simulated symbol.
type FeedMarket struct {
	Symbol     string
	StartPrice float64
}

type Feed struct {
	Enabled    bool
	Interval   time.Duration
	Volatility float64
	QuoteSize  float64
	Seed       uint64
	Markets    []FeedMarket
}

type Kafka struct {
	Brokers []string // empty disables trade publishing
	Topic   string
	Buffer  int
}

type Config struct {
	API   API
	Log   Log
	Venue Venue
	Feed  Feed
	Kafka Kafka

	// EndOfDay is the UTC wall-clock time DAY orders expire, as an offset
	// from midnight.
	EndOfDay time.Duration
}

func Default() Config {
	return Config{
		API: API{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Log: Log{Level: "info", File: "data/matchcore.log"},
		Venue: Venue{
			Account:        "paper",
			InitialCapital: 100000,
			Limits:         types.DefaultRiskLimits(),
			JournalDir:     "data/journal",
		},
		Feed: Feed{
			Enabled:    true,
			Interval:   time.Second,
			Volatility: 0.001,
			QuoteSize:  100,
			Seed:       1,
			Markets: []FeedMarket{
				{Symbol: "AAPL", StartPrice: 150},
				{Symbol: "MSFT", StartPrice: 400},
				{Symbol: "SPY", StartPrice: 500},
			},
		},
		Kafka:    Kafka{Topic: "matchcore.trades", Buffer: 1024},
		EndOfDay: 20 * time.Hour, // 16:00 New York during DST
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and the
// environment. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	var errs []string
	fail := func(key string, err error) {
		errs = append(errs, fmt.Sprintf("%s: %v", key, err))
	}

	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	if v := os.Getenv("API_ALLOWED_ORIGINS"); v != "" {
		cfg.API.AllowedOrigins = splitList(v)
	}
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	if v, ok := os.LookupEnv("LOG_FILE"); ok {
		cfg.Log.File = v
	}

	cfg.Venue.Account = getEnv("ACCOUNT", cfg.Venue.Account)
	if v, ok := os.LookupEnv("JOURNAL_DIR"); ok {
		cfg.Venue.JournalDir = v
	}
	floats := []struct {
		key string
		dst *float64
	}{
		{"INITIAL_CAPITAL", &cfg.Venue.InitialCapital},
		{"RISK_MAX_POSITION_SIZE", &cfg.Venue.Limits.MaxPositionSize},
		{"RISK_MAX_DAILY_LOSS", &cfg.Venue.Limits.MaxDailyLoss},
		{"RISK_MAX_DRAWDOWN", &cfg.Venue.Limits.MaxDrawdown},
		{"RISK_MAX_LEVERAGE", &cfg.Venue.Limits.MaxLeverage},
		{"RISK_MAX_CONCENTRATION", &cfg.Venue.Limits.MaxConcentration},
		{"FEED_VOLATILITY", &cfg.Feed.Volatility},
		{"FEED_QUOTE_SIZE", &cfg.Feed.QuoteSize},
	}
	for _, f := range floats {
		if v := os.Getenv(f.key); v != "" {
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				fail(f.key, err)
				continue
			}
			*f.dst = n
		}
	}
	bools := []struct {
		key string
		dst *bool
	}{
		{"RISK_ALLOW_SHORT_SELLING", &cfg.Venue.Limits.AllowShortSelling},
		{"RISK_ALLOW_OPTIONS", &cfg.Venue.Limits.AllowOptions},
		{"RISK_ALLOW_FUTURES", &cfg.Venue.Limits.AllowFutures},
		{"ENABLE_FEED", &cfg.Feed.Enabled},
	}
	for _, b := range bools {
		if v := os.Getenv(b.key); v != "" {
			*b.dst = v == "true"
		}
	}

	if v := os.Getenv("FEED_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err != nil {
			fail("FEED_INTERVAL_MS", err)
		} else {
			cfg.Feed.Interval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("FEED_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err != nil {
			fail("FEED_SEED", err)
		} else {
			cfg.Feed.Seed = n
		}
	}
	// Example: "AAPL:150,MSFT:400"
	if v := os.Getenv("FEED_MARKETS"); v != "" {
		markets, err := parseMarkets(v)
		if err != nil {
			fail("FEED_MARKETS", err)
		} else {
			cfg.Feed.Markets = markets
		}
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	// Example: "20:00"
	if v := os.Getenv("EOD_TIME_UTC"); v != "" {
		t, err := time.Parse("15:04", v)
		if err != nil {
			fail("EOD_TIME_UTC", err)
		} else {
			cfg.EndOfDay = time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute
		}
	}

	if len(errs) > 0 {
		return cfg, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return cfg, nil
}

// NextEndOfDay returns the first end-of-day instant strictly after now.
func (c Config) NextEndOfDay(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(c.EndOfDay)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func parseMarkets(s string) ([]FeedMarket, error) {
	var out []FeedMarket
	for _, part := range splitList(s) {
		sym, price, ok := strings.Cut(part, ":")
		if !ok || sym == "" {
			return nil, fmt.Errorf("want SYMBOL:PRICE, got %q", part)
		}
		p, err := strconv.ParseFloat(price, 64)
		if err != nil || p <= 0 {
			return nil, fmt.Errorf("bad start price in %q", part)
		}
		out = append(out, FeedMarket{Symbol: strings.ToUpper(sym), StartPrice: p})
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
