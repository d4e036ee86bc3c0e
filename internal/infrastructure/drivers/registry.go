// Package drivers contains the channel driver implementations and the
// registry resolving a channel's driver name to its capability pair.
package drivers

import (
	"fmt"
	"sync"

	"github.com/feedbridge/backend/internal/domain/channel"
)

// driverEntry is one registered (Projector, Transport) pair
type driverEntry struct {
	projector channel.Projector
	transport channel.Transport
}

// Registry is the lookup table from driver name to capability pair.
// Drivers are resolved once at registration and cached for the process
// lifetime; lookup never constructs anything.
type Registry struct {
	mu      sync.RWMutex
	entries map[channel.DriverName]driverEntry
}

// NewRegistry creates an empty driver registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[channel.DriverName]driverEntry)}
}

// Register adds a driver's capability pair. Registering the same name twice
// or an incomplete pair is a configuration error, surfaced at startup.
func (r *Registry) Register(name channel.DriverName, projector channel.Projector, transport channel.Transport) error {
	if projector == nil || transport == nil {
		return fmt.Errorf("%w: driver %q must provide both projector and transport", channel.ErrDriverIncomplete, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: driver %q registered twice", channel.ErrInvalidConfig, name)
	}
	r.entries[name] = driverEntry{projector: projector, transport: transport}
	return nil
}

// GetSyndicator returns the projector for the channel's driver
func (r *Registry) GetSyndicator(ch *channel.SalesChannel) (channel.Projector, error) {
	entry, err := r.lookup(ch)
	if err != nil {
		return nil, err
	}
	return entry.projector, nil
}

// GetAPIClient returns the transport for the channel's driver
func (r *Registry) GetAPIClient(ch *channel.SalesChannel) (channel.Transport, error) {
	entry, err := r.lookup(ch)
	if err != nil {
		return nil, err
	}
	return entry.transport, nil
}

func (r *Registry) lookup(ch *channel.SalesChannel) (driverEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[ch.Driver]
	if !ok {
		return driverEntry{}, fmt.Errorf("%w: %q (channel %s)", channel.ErrDriverNotRegistered, ch.Driver, ch.Name)
	}
	return entry, nil
}

// Names returns the registered driver names
func (r *Registry) Names() []channel.DriverName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]channel.DriverName, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

var _ channel.Registry = (*Registry)(nil)
