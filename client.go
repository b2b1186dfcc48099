// Package taskrelay wires configuration, broker transport, deduplication,
// sink and consumption loop into a ready-to-run task consumer.
package taskrelay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/taskrelay/taskrelay-go/config"
	"github.com/taskrelay/taskrelay-go/consumer"
	"github.com/taskrelay/taskrelay-go/dedup"
	"github.com/taskrelay/taskrelay-go/internal/rabbitmq"
	"github.com/taskrelay/taskrelay-go/sink"
)

// Client is an explicitly constructed consumer instance. All collaborators
// are injected or built from the supplied configuration; there is no
// process-wide singleton.
type Client struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *consumer.Registry
	store    dedup.Store
	sink     sink.Sink
	fileSink *sink.FileSink
	redis    *redis.Client
	cm       *rabbitmq.ConnectionManager
	topology *rabbitmq.Topology
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithClientLogger sets the logger used by all components.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDedupStore overrides the dedup store chosen from configuration.
func WithDedupStore(store dedup.Store) ClientOption {
	return func(c *Client) {
		c.store = store
	}
}

// WithSink overrides the file sink chosen from configuration.
func WithSink(s sink.Sink) ClientOption {
	return func(c *Client) {
		c.sink = s
	}
}

// NewClient builds a consumer client from configuration.
func NewClient(cfg *config.Config, options ...ClientOption) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		logger: slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	c.registry = consumer.NewRegistry(
		consumer.WithRegistryLogger(c.logger),
		consumer.WithDefaultQueue(cfg.Queue),
	)

	if c.store == nil {
		store, err := c.buildStore()
		if err != nil {
			return nil, err
		}
		c.store = store
	}

	if c.sink == nil {
		fs, err := sink.NewFileSink(cfg.SinkPath,
			sink.WithBestEffort(cfg.SinkBestEffort),
			sink.WithFileLogger(c.logger),
		)
		if err != nil {
			return nil, err
		}
		c.fileSink = fs
		c.sink = fs
	}

	c.cm = rabbitmq.NewConnectionManager(cfg.BrokerURL,
		rabbitmq.WithConnectionLogger(c.logger),
	)
	c.topology = rabbitmq.NewTopology(c.cm, cfg.Exchange, cfg.Queue, cfg.RoutingKey)

	return c, nil
}

// Register binds a handler to a routing-key pattern. Must be called before
// Run; a duplicate pattern is a startup-time fatal error.
func (c *Client) Register(pattern string, handler consumer.Handler, options ...consumer.RegisterOption) error {
	return c.registry.Register(pattern, handler, options...)
}

// RegisterFunc binds a handler function to a routing-key pattern.
func (c *Client) RegisterFunc(pattern string, handler consumer.HandlerFunc, options ...consumer.RegisterOption) error {
	return c.registry.Register(pattern, handler, options...)
}

// Run connects to the broker, declares the topology and consumes until the
// context is cancelled. At least one handler must be registered first:
// without any, every delivery would dead-letter.
func (c *Client) Run(ctx context.Context) error {
	if len(c.registry.Registrations()) == 0 {
		return fmt.Errorf("no handlers registered")
	}

	if err := c.cm.Connect(ctx); err != nil {
		return err
	}

	if err := c.topology.Declare(); err != nil {
		return fmt.Errorf("failed to declare topology: %w", err)
	}

	transport := rabbitmq.NewTransport(c.cm, c.topology,
		rabbitmq.WithPrefetch(c.cfg.Prefetch),
		rabbitmq.WithTransportLogger(c.logger),
	)
	defer transport.Close()

	policy := consumer.NewBackoffPolicy()
	policy.MaxDeliveries = c.cfg.MaxDeliveries

	loop := consumer.NewLoop(transport, c.registry, c.store, c.sink,
		consumer.WithWorkers(c.cfg.Workers),
		consumer.WithRetryPolicy(policy),
		consumer.WithLoopLogger(c.logger),
	)

	return loop.Run(ctx, c.cfg.Queue)
}

// Close releases the broker connection and owned resources.
func (c *Client) Close() error {
	var firstErr error

	if err := c.cm.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if c.fileSink != nil {
		if err := c.fileSink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// buildStore selects Redis when a result backend is configured, otherwise
// the in-process store.
func (c *Client) buildStore() (dedup.Store, error) {
	if c.cfg.ResultBackendURL == "" {
		return dedup.NewMemoryStore(dedup.WithRetention(c.cfg.DedupRetention)), nil
	}

	opts, err := redis.ParseURL(c.cfg.ResultBackendURL)
	if err != nil {
		return nil, fmt.Errorf("invalid result backend url: %w", err)
	}

	c.redis = redis.NewClient(opts)
	return dedup.NewRedisStore(c.redis,
		dedup.WithRedisRetention(c.cfg.DedupRetention),
	), nil
}
