package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/infinityCounter2/vh-surveil/internal/config"
	"github.com/infinityCounter2/vh-surveil/internal/feed"
	"github.com/infinityCounter2/vh-surveil/internal/logging"
	"github.com/infinityCounter2/vh-surveil/internal/models"
	"github.com/infinityCounter2/vh-surveil/internal/transport"
)

var (
	configPath string
	dev        bool
	burstUser  string
	burstSize  int
	burstType  string
)

func init() {
	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.BoolVar(&dev, "dev", false, "Use the development console logger")
	flag.StringVar(&burstUser, "burst-user", "", "Send one burst of orders for this user and exit")
	flag.IntVar(&burstSize, "burst-size", 20, "Number of orders in the burst")
	flag.StringVar(&burstType, "burst-type", string(models.OrderTypeCancel), "Order type of the burst")
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

	producer := transport.NewOrderProducer(transport.KafkaConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.OrderTopic,
	})
	defer func() {
		if err := producer.Close(); err != nil {
			logger.Error("Failed to close order producer", zap.Error(err))
		}
	}()

	sim := feed.NewSimulator(feed.SimulatorParams{
		Symbols:       cfg.Feed.Symbols,
		Users:         cfg.Feed.Users,
		ExecuteWeight: cfg.Feed.ExecuteWeight,
		Interval:      cfg.Feed.Interval,
	})

	if burstUser != "" {
		orders := sim.Burst(burstUser, burstSize, models.OrderType(burstType))
		if err := producer.Send(ctx, orders...); err != nil {
			logger.Error("Failed to send burst", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("Burst sent",
			zap.String("user_id", burstUser),
			zap.Int("orders", len(orders)),
			zap.String("order_type", burstType),
		)
		return
	}

	if err := sim.Run(ctx, producer, logger.Named("feed")); err != nil {
		logger.Error("Feed simulator failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Feed simulator shutdown gracefully")
}
