// Package config loads the consumer configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const envconfigPrefix = "TASKRELAY"

// Config holds the full configuration surface. All timestamps in the system
// are UTC; there is deliberately no timezone knob.
type Config struct {
	// BrokerURL is the AMQP connection string.
	BrokerURL string `envconfig:"BROKER_URL" required:"true"`

	// ResultBackendURL is the Redis connection string for the shared dedup
	// store. Empty selects the in-process store, which is only safe for a
	// single worker process.
	ResultBackendURL string `envconfig:"RESULT_BACKEND_URL"`

	// Queue is the work queue name.
	Queue string `envconfig:"QUEUE" default:"analytics"`

	// Exchange is the topic exchange the queue is bound to.
	Exchange string `envconfig:"EXCHANGE" default:"analytics"`

	// RoutingKey is the binding pattern for the work queue.
	RoutingKey string `envconfig:"ROUTING_KEY" default:"analytics.#"`

	// Workers is the number of concurrent consumption loop workers.
	Workers int `envconfig:"WORKERS" default:"4"`

	// Prefetch is the broker prefetch count per consumer.
	Prefetch int `envconfig:"PREFETCH" default:"10"`

	// MaxDeliveries is the delivery-count ceiling before dead-lettering.
	MaxDeliveries int `envconfig:"MAX_DELIVERIES" default:"5"`

	// DedupRetention is how long processed ids are remembered. Evicted ids
	// re-open the redelivery window.
	DedupRetention time.Duration `envconfig:"DEDUP_RETENTION" default:"24h"`

	// SinkPath is the JSONL file records are appended to.
	SinkPath string `envconfig:"SINK_PATH" default:"/tmp/analytic_received.jsonl"`

	// SinkBestEffort enables the legacy fire-and-forget sink mode: write
	// failures are logged and the envelope is acked anyway.
	SinkBestEffort bool `envconfig:"SINK_BEST_EFFORT" default:"false"`
}

// Load reads configuration from TASKRELAY_* environment variables.
func Load() (*Config, error) {
	c := &Config{}
	if err := envconfig.Process(envconfigPrefix, c); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.Prefetch < 1 {
		return fmt.Errorf("prefetch must be at least 1, got %d", c.Prefetch)
	}
	if c.MaxDeliveries < 1 {
		return fmt.Errorf("max deliveries must be at least 1, got %d", c.MaxDeliveries)
	}
	return nil
}
