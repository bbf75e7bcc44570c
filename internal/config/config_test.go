package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/infinityCounter2/vh-surveil/internal/logic"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err, "Load failed")

	require.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers, "Brokers mismatch")
	require.Equal(t, "order_feed", cfg.Kafka.OrderTopic, "OrderTopic mismatch")
	require.Equal(t, "alerts", cfg.Kafka.AlertTopic, "AlertTopic mismatch")
	require.Equal(t, time.Second, cfg.Kafka.PollTimeout, "PollTimeout mismatch")
	require.Equal(t, "vh-surveil-spoofing", cfg.Kafka.GroupID("spoofing"), "GroupID mismatch")
	require.Equal(t, logic.DetectorNames, cfg.Detectors, "Detectors mismatch")

	require.Equal(t, 50, cfg.Params.PriceDeviation.WindowSize, "WindowSize mismatch")
	require.Equal(t, 10, cfg.Params.PriceDeviation.MinSamples, "MinSamples mismatch")
	require.Equal(t, 0.10, cfg.Params.PriceDeviation.MaxDeviation, "MaxDeviation mismatch")
	require.Equal(t, 3*time.Second, cfg.Params.QuoteStuffing.Window, "QuoteStuffing window mismatch")
	require.Equal(t, 15, cfg.Params.QuoteStuffing.MaxOrders, "MaxOrders mismatch")
	require.Equal(t, 5*time.Second, cfg.Params.Spoofing.Window, "Spoofing window mismatch")
	require.Equal(t, 3, cfg.Params.Spoofing.MinOrders, "MinOrders mismatch")

	require.Equal(t, 9001, cfg.HTTPPort, "HTTPPort mismatch")
	require.False(t, cfg.Development, "Development mismatch")
	require.Equal(t, 500*time.Millisecond, cfg.Feed.Interval, "Feed interval mismatch")
	require.Len(t, cfg.Feed.Symbols, 5, "Feed symbols mismatch")
}

func TestLoad_Env(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SURVEIL_KAFKA_BROKERS", "b1:9092,b2:9092")
	t.Setenv("SURVEIL_DETECTORS", "spoofing")
	t.Setenv("SURVEIL_SPOOFING_WINDOW", "2s")
	t.Setenv("SURVEIL_LOG_DEVELOPMENT", "true")

	cfg, err := Load("")
	require.NoError(t, err, "Load failed")

	require.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers, "Brokers mismatch")
	require.Equal(t, []string{"spoofing"}, cfg.Detectors, "Detectors mismatch")
	require.Equal(t, 2*time.Second, cfg.Params.Spoofing.Window, "Spoofing window mismatch")
	require.True(t, cfg.Development, "Development mismatch")
}

func TestLoad_BareWindowIsMillis(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SURVEIL_QUOTE_STUFFING_WINDOW", "3000")
	t.Setenv("SURVEIL_SPOOFING_WINDOW", "5000")
	t.Setenv("SURVEIL_FEED_INTERVAL", "250")

	cfg, err := Load("")
	require.NoError(t, err, "Load failed")

	require.Equal(t, 3*time.Second, cfg.Params.QuoteStuffing.Window, "QuoteStuffing window mismatch")
	require.Equal(t, 5*time.Second, cfg.Params.Spoofing.Window, "Spoofing window mismatch")
	require.Equal(t, 250*time.Millisecond, cfg.Feed.Interval, "Feed interval mismatch")

	policy := logic.NewQuoteStuffingDetector(cfg.Params.QuoteStuffing).Store().Policy()
	require.Equal(t, logic.TimeBound(3000), policy, "Window should reach the store in ms")
}

func TestLoad_SubMillisecondWindowRejected(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SURVEIL_SPOOFING_WINDOW", "500us")

	_, err := Load("")
	require.Error(t, err, "A window under 1ms should not load")
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SURVEIL_HTTP_PORT=9100\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("SURVEIL_HTTP_PORT") })

	cfg, err := Load("")
	require.NoError(t, err, "Load failed")
	require.Equal(t, 9100, cfg.HTTPPort, ".env value should apply")
}

func TestLoad_File(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "surveil.yaml")
	yaml := `
kafka:
  brokers: ["kafka:29092"]
  alert_topic: surveillance_alerts
detectors: [price_deviation, quote_stuffing]
price_deviation:
  window_size: 20
  max_deviation: 0.25
quote_stuffing:
  window: 1500ms
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err, "Load failed")

	require.Equal(t, []string{"kafka:29092"}, cfg.Kafka.Brokers, "Brokers mismatch")
	require.Equal(t, "surveillance_alerts", cfg.Kafka.AlertTopic, "AlertTopic mismatch")
	require.Equal(t, "order_feed", cfg.Kafka.OrderTopic, "Unset keys keep defaults")
	require.Equal(t, []string{"price_deviation", "quote_stuffing"}, cfg.Detectors, "Detectors mismatch")
	require.Equal(t, 20, cfg.Params.PriceDeviation.WindowSize, "WindowSize mismatch")
	require.Equal(t, 0.25, cfg.Params.PriceDeviation.MaxDeviation, "MaxDeviation mismatch")
	require.Equal(t, 1500*time.Millisecond, cfg.Params.QuoteStuffing.Window, "QuoteStuffing window mismatch")
}

func TestLoad_MissingFile(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err, "Expected an error for a missing config file")
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())

	base, err := Load("")
	require.NoError(t, err, "Load failed")

	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "no brokers", mutate: func(c *Config) { c.Kafka.Brokers = nil }},
		{name: "no alert topic", mutate: func(c *Config) { c.Kafka.AlertTopic = "" }},
		{name: "no detectors", mutate: func(c *Config) { c.Detectors = nil }},
		{name: "unknown detector", mutate: func(c *Config) { c.Detectors = []string{"layering"} }},
		{name: "bad port", mutate: func(c *Config) { c.HTTPPort = 70000 }},
		{name: "sub-ms quote stuffing window", mutate: func(c *Config) { c.Params.QuoteStuffing.Window = 3000 }},
		{name: "zero spoofing window", mutate: func(c *Config) { c.Params.Spoofing.Window = 0 }},
	}

	for _, tc := range testCases {
		c := *base
		tc.mutate(&c)
		require.Errorf(t, c.Validate(), "%s", tc.name)
	}
}

func TestSplitList(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", "", "c"}), "splitList mismatch")
}
