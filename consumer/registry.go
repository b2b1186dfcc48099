package consumer

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/taskrelay/taskrelay-go/contracts"
)

// Registration is one pattern-to-handler binding. Created at startup and
// immutable thereafter; owned exclusively by the Registry.
type Registration struct {
	Pattern string
	Handler Handler
	Queue   string
}

// Registry maps routing-key patterns to handlers. A pattern is either an
// exact routing key ("analytics.low_stock") or a prefix wildcard ending in
// "#" ("analytics.#"), matching the topic-exchange semantics the queue is
// bound with. Registration happens at process startup; Resolve is safe for
// concurrent use.
type Registry struct {
	mu           sync.RWMutex
	exact        map[string]Registration
	prefixes     []Registration // patterns ending in "#", matched by prefix
	defaultQueue string
	logger       *slog.Logger
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithDefaultQueue sets the queue name recorded on registrations that do not
// name one.
func WithDefaultQueue(queue string) RegistryOption {
	return func(r *Registry) {
		r.defaultQueue = queue
	}
}

// NewRegistry creates an empty handler registry.
func NewRegistry(options ...RegistryOption) *Registry {
	r := &Registry{
		exact:        make(map[string]Registration),
		defaultQueue: "analytics",
		logger:       slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// RegisterOption configures a single registration.
type RegisterOption func(*Registration)

// WithQueue sets the queue name for a registration.
func WithQueue(queue string) RegisterOption {
	return func(reg *Registration) {
		reg.Queue = queue
	}
}

// Register binds a handler to a routing-key pattern. Binding the same
// pattern twice fails with *DuplicateRegistrationError; registration runs at
// startup, so callers treat that as fatal.
func (r *Registry) Register(pattern string, handler Handler, options ...RegisterOption) error {
	if pattern == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	reg := Registration{
		Pattern: pattern,
		Handler: handler,
		Queue:   r.defaultQueue,
	}
	for _, opt := range options {
		opt(&reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if strings.HasSuffix(pattern, "#") {
		for _, existing := range r.prefixes {
			if existing.Pattern == pattern {
				return &contracts.DuplicateRegistrationError{Pattern: pattern}
			}
		}
		r.prefixes = append(r.prefixes, reg)
	} else {
		if _, exists := r.exact[pattern]; exists {
			return &contracts.DuplicateRegistrationError{Pattern: pattern}
		}
		r.exact[pattern] = reg
	}

	r.logger.Info("registered handler",
		"pattern", pattern,
		"queue", reg.Queue,
	)

	return nil
}

// RegisterFunc binds a handler function to a routing-key pattern.
func (r *Registry) RegisterFunc(pattern string, handler HandlerFunc, options ...RegisterOption) error {
	return r.Register(pattern, handler, options...)
}

// Resolve returns the handler for a routing key. Exact matches win; among
// prefix patterns the longest prefix wins. A miss fails with
// *NoHandlerError, which routes the envelope to the dead-letter path rather
// than dropping it.
func (r *Registry) Resolve(routingKey string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if reg, ok := r.exact[routingKey]; ok {
		return reg.Handler, nil
	}

	var best *Registration
	bestLen := -1
	for i := range r.prefixes {
		prefix := strings.TrimSuffix(r.prefixes[i].Pattern, "#")
		if strings.HasPrefix(routingKey, prefix) && len(prefix) > bestLen {
			best = &r.prefixes[i]
			bestLen = len(prefix)
		}
	}
	if best != nil {
		return best.Handler, nil
	}

	return nil, &contracts.NoHandlerError{RoutingKey: routingKey}
}

// Registrations returns a snapshot of all bindings.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registration, 0, len(r.exact)+len(r.prefixes))
	for _, reg := range r.exact {
		out = append(out, reg)
	}
	out = append(out, r.prefixes...)
	return out
}
