package server

import (
	"fmt"
	"net/http"
	"sync"

	"example.com/anywhere/internal/config"
	"example.com/anywhere/internal/logger"
)

// HandlerFactory builds the handler for one HandlerType from the full,
// validated configuration.
type HandlerFactory func(cfg *config.Config, lg *logger.Logger) (http.Handler, error)

// HandlerRegistry maps HandlerType strings from the configuration to their
// factories. It is safe for concurrent use.
type HandlerRegistry struct {
	mu        sync.RWMutex
	factories map[string]HandlerFactory
}

// NewHandlerRegistry creates and returns a new HandlerRegistry instance.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		factories: make(map[string]HandlerFactory),
	}
}

// Register associates a HandlerType string with a factory function.
// It returns an error if a HandlerType is registered more than once.
func (r *HandlerRegistry) Register(handlerType string, factory HandlerFactory) error {
	if factory == nil {
		return fmt.Errorf("factory for handler type '%s' cannot be nil", handlerType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[handlerType]; exists {
		return fmt.Errorf("handler type '%s' already registered", handlerType)
	}
	r.factories[handlerType] = factory
	return nil
}

// GetFactory retrieves a registered HandlerFactory for the given handlerType.
func (r *HandlerRegistry) GetFactory(handlerType string) (HandlerFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[handlerType]
	return factory, ok
}

// CreateHandler creates a handler for handlerType using its registered factory.
func (r *HandlerRegistry) CreateHandler(handlerType string, cfg *config.Config, lg *logger.Logger) (http.Handler, error) {
	factory, ok := r.GetFactory(handlerType)
	if !ok {
		return nil, fmt.Errorf("no handler factory registered for type '%s'", handlerType)
	}
	if lg == nil {
		return nil, fmt.Errorf("logger cannot be nil when creating handler type '%s'", handlerType)
	}
	h, err := factory(cfg, lg)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("factory for handler type '%s' returned a nil handler", handlerType)
	}
	return h, nil
}

// ClearFactories removes all registered factories. Intended for tests.
func (r *HandlerRegistry) ClearFactories() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories = make(map[string]HandlerFactory)
}
