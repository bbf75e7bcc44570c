package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/infinityCounter2/vh-surveil/internal/logic"
)

const envPrefix = "SURVEIL"

type Kafka struct {
	Brokers     []string
	OrderTopic  string
	AlertTopic  string
	GroupPrefix string
	PollTimeout time.Duration
}

// GroupID is the consumer group a detector reads the order feed with.
func (k Kafka) GroupID(detector string) string {
	return fmt.Sprintf("%s-%s", k.GroupPrefix, detector)
}

type Feed struct {
	Interval time.Duration
	Symbols  []string
	Users    int
	// ExecuteWeight is the chance, out of 1, that a generated
	// order is an EXECUTE.
	ExecuteWeight float64
}

type Config struct {
	Kafka     Kafka
	Detectors []string
	Params    logic.DetectorParams
	HTTPPort  int
	// Development switches to the human readable console logger.
	Development bool
	Feed        Feed
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.order_topic", "order_feed")
	v.SetDefault("kafka.alert_topic", "alerts")
	v.SetDefault("kafka.group_prefix", "vh-surveil")
	v.SetDefault("kafka.poll_timeout", time.Second)

	v.SetDefault("detectors", logic.DetectorNames)

	v.SetDefault("price_deviation.window_size", 50)
	v.SetDefault("price_deviation.min_samples", 10)
	v.SetDefault("price_deviation.max_deviation", 0.10)

	v.SetDefault("quote_stuffing.window", 3*time.Second)
	v.SetDefault("quote_stuffing.max_orders", 15)
	v.SetDefault("quote_stuffing.cancel_ratio", 0.8)

	v.SetDefault("spoofing.window", 5*time.Second)
	v.SetDefault("spoofing.min_orders", 3)
	v.SetDefault("spoofing.cancel_ratio", 0.7)

	v.SetDefault("http.port", 9001)
	v.SetDefault("log.development", false)

	v.SetDefault("feed.interval", 500*time.Millisecond)
	v.SetDefault("feed.symbols", []string{"AAPL", "MSFT", "GOOG", "TSLA", "AMZN"})
	v.SetDefault("feed.users", 9000)
	v.SetDefault("feed.execute_weight", 0.0)
}

// Load reads configuration from defaults, an optional config file, a .env
// file in the working directory and SURVEIL_ prefixed environment variables,
// later sources winning.
func Load(path string) (*Config, error) {
	// A missing .env is the normal case outside local development.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Kafka: Kafka{
			Brokers:     splitList(v.GetStringSlice("kafka.brokers")),
			OrderTopic:  v.GetString("kafka.order_topic"),
			AlertTopic:  v.GetString("kafka.alert_topic"),
			GroupPrefix: v.GetString("kafka.group_prefix"),
			PollTimeout: getMillis(v, "kafka.poll_timeout"),
		},
		Detectors: splitList(v.GetStringSlice("detectors")),
		Params: logic.DetectorParams{
			PriceDeviation: logic.PriceDeviationParams{
				WindowSize:   v.GetInt("price_deviation.window_size"),
				MinSamples:   v.GetInt("price_deviation.min_samples"),
				MaxDeviation: v.GetFloat64("price_deviation.max_deviation"),
			},
			QuoteStuffing: logic.QuoteStuffingParams{
				Window:      getMillis(v, "quote_stuffing.window"),
				MaxOrders:   v.GetInt("quote_stuffing.max_orders"),
				CancelRatio: v.GetFloat64("quote_stuffing.cancel_ratio"),
			},
			Spoofing: logic.SpoofingParams{
				Window:      getMillis(v, "spoofing.window"),
				MinOrders:   v.GetInt("spoofing.min_orders"),
				CancelRatio: v.GetFloat64("spoofing.cancel_ratio"),
			},
		},
		HTTPPort:    v.GetInt("http.port"),
		Development: v.GetBool("log.development"),
		Feed: Feed{
			Interval:      getMillis(v, "feed.interval"),
			Symbols:       splitList(v.GetStringSlice("feed.symbols")),
			Users:         v.GetInt("feed.users"),
			ExecuteWeight: v.GetFloat64("feed.execute_weight"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers must not be empty")
	}
	if c.Kafka.OrderTopic == "" || c.Kafka.AlertTopic == "" {
		return errors.New("kafka.order_topic and kafka.alert_topic are required")
	}
	if len(c.Detectors) == 0 {
		return errors.New("at least one detector must be enabled")
	}
	for _, name := range c.Detectors {
		if !logic.IsDetectorName(name) {
			return fmt.Errorf("unknown detector %q, expected one of %v", name, logic.DetectorNames)
		}
	}
	for key, window := range map[string]time.Duration{
		"quote_stuffing.window": c.Params.QuoteStuffing.Window,
		"spoofing.window":       c.Params.Spoofing.Window,
	} {
		if window < time.Millisecond {
			return fmt.Errorf("%s must be at least 1ms, got %s", key, window)
		}
	}
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http.port %d", c.HTTPPort)
	}
	return nil
}

// getMillis reads a duration, taking a bare number as milliseconds
// the way the window sizes are documented.
func getMillis(v *viper.Viper, key string) time.Duration {
	raw := strings.TrimSpace(v.GetString(key))
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return v.GetDuration(key)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
