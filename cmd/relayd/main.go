// Program relayd consumes analytics tasks from the work queue and appends
// each processed payload to the local record file.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	taskrelay "github.com/taskrelay/taskrelay-go"
	"github.com/taskrelay/taskrelay-go/config"
	"github.com/taskrelay/taskrelay-go/contracts"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	client, err := taskrelay.NewClient(cfg, taskrelay.WithClientLogger(logger))
	if err != nil {
		logger.Error("failed to build client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	// Low-stock notifications from product-service. The loop makes the
	// payload durable after the handler succeeds.
	err = client.RegisterFunc("analytics.low_stock", func(ctx context.Context, env *contracts.Envelope) error {
		logger.Info("received low-stock payload",
			"messageId", env.ID,
			"sku", env.Payload["sku"],
			"amount", env.Payload["amount"],
		)
		return nil
	})
	if err != nil {
		logger.Error("failed to register handler", "error", err)
		os.Exit(1)
	}

	// Catch-all for the rest of the analytics.# binding.
	err = client.RegisterFunc("analytics.#", func(ctx context.Context, env *contracts.Envelope) error {
		logger.Info("received analytics payload",
			"messageId", env.ID,
			"routingKey", env.RoutingKey,
		)
		return nil
	})
	if err != nil {
		logger.Error("failed to register handler", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("waiting for tasks", "queue", cfg.Queue, "routingKey", cfg.RoutingKey)
	if err := client.Run(ctx); err != nil {
		logger.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("consumer stopped")
}
