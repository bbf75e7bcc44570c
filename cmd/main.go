package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/infinityCounter2/vh-surveil/internal/config"
	"github.com/infinityCounter2/vh-surveil/internal/logging"
	"github.com/infinityCounter2/vh-surveil/internal/logic"
	"github.com/infinityCounter2/vh-surveil/internal/metrics"
	"github.com/infinityCounter2/vh-surveil/internal/pipeline"
	"github.com/infinityCounter2/vh-surveil/internal/server"
	"github.com/infinityCounter2/vh-surveil/internal/transport"
)

var (
	configPath string
	dev        bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.BoolVar(&dev, "dev", false, "Use the development console logger")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config Error: %s\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(dev || cfg.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logger Error: %s\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Surveillance service failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Surveillance service shutdown gracefully")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Any component failing takes the others down with it.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m := metrics.New(prometheus.DefaultRegisterer)

	detectors, err := logic.NewDetectors(cfg.Detectors, cfg.Params)
	if err != nil {
		return err
	}

	kafkaSink := transport.NewKafkaSink(transport.KafkaConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.AlertTopic,
	}, logger.Named("sink"), m)
	defer func() {
		if err := kafkaSink.Close(); err != nil {
			logger.Error("Failed to close alert sink", zap.Error(err))
		}
	}()

	sink := transport.MultiSink{transport.NewLogSink(logger.Named("alerts")), kafkaSink}

	// The HTTP ingest path and the Kafka runners share detectors,
	// so every detector is guarded before either gets it.
	guarded := make([]logic.Detector, len(detectors))
	for i, d := range detectors {
		guarded[i] = pipeline.Guard(d)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(guarded)+1)

	for _, d := range guarded {
		source := transport.NewKafkaSource(transport.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.OrderTopic,
			GroupID: cfg.Kafka.GroupID(d.Name()),
		}, logger.Named("source").Named(d.Name()))

		runner := pipeline.NewRunner(pipeline.RunnerParams{
			Detector:    d,
			Source:      source,
			Sink:        sink,
			Logger:      logger.Named("pipeline"),
			Metrics:     m,
			PollTimeout: cfg.Kafka.PollTimeout,
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer source.Close()

			if err := runner.Run(ctx); err != nil {
				errCh <- fmt.Errorf("%s: %w", d.Name(), err)
				cancel()
			}
		}()
	}

	if cfg.HTTPPort > 0 {
		httpServer := server.NewServer(server.Params{
			Port:      cfg.HTTPPort,
			Detectors: guarded,
			Sink:      sink,
			Logger:    logger.Named("http"),
			Metrics:   m,
		})

		logger.Info("Starting HTTP server", zap.Int("port", cfg.HTTPPort))

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := httpServer.Run(ctx); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()
	}

	logger.Info("Surveillance service started",
		zap.Strings("detectors", cfg.Detectors),
		zap.Strings("brokers", cfg.Kafka.Brokers),
		zap.String("order_topic", cfg.Kafka.OrderTopic),
		zap.String("alert_topic", cfg.Kafka.AlertTopic),
	)

	wg.Wait()
	close(errCh)

	return <-errCh
}
