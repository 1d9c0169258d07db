package sandbox

import (
	"io"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Manager is the provider registry: the single source of truth for which
// backend serves a given provider name. Lookups vastly outnumber
// registrations, and no provider call is ever made while the lock is held.
type Manager struct {
	logger    *zap.Logger
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewManager creates an empty registry.
func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger:    logger.Named("registry"),
		providers: make(map[string]Provider),
	}
}

// Register stores p under name, replacing any earlier registration.
func (m *Manager) Register(name string, p Provider) {
	m.mu.Lock()
	_, replaced := m.providers[name]
	m.providers[name] = p
	m.mu.Unlock()

	m.logger.Info("provider registered", zap.String("provider", name), zap.Bool("replaced", replaced))
}

// Unregister removes name from the registry and returns the provider that
// was registered, if any.
func (m *Manager) Unregister(name string) (Provider, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.providers[name]
	delete(m.providers, name)
	return p, ok
}

// Get returns the provider registered under name.
func (m *Manager) Get(name string) (Provider, error) {
	m.mu.RLock()
	p, ok := m.providers[name]
	m.mu.RUnlock()

	if !ok {
		return nil, ProviderNotFound(name)
	}
	return p, nil
}

// Names returns the registered provider names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}

// Providers returns a snapshot of the registry.
func (m *Manager) Providers() map[string]Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Provider, len(m.providers))
	for name, p := range m.providers {
		out[name] = p
	}
	return out
}

// Close releases every provider that holds resources and empties the registry.
func (m *Manager) Close() error {
	m.mu.Lock()
	providers := m.providers
	m.providers = make(map[string]Provider)
	m.mu.Unlock()

	var err error
	for name, p := range providers {
		if c, ok := p.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				m.logger.Warn("failed to close provider", zap.String("provider", name), zap.Error(cerr))
				err = multierr.Append(err, cerr)
			}
		}
	}
	return err
}
