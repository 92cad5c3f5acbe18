package connector

import (
	"context"
	"sync"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
)

// Registry is the process-wide index of live connectors, keyed by id.
// Point lookups are O(1); organization and type queries are linear scans.
// Registration publishes connector.registered so late-starting components
// (pipeline, monitor) can attach without ordering constraints.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
	bus        *bus.Bus
	logger     core.Logger
}

// NewRegistry creates an empty registry publishing on b.
func NewRegistry(b *bus.Bus, logger core.Logger) *Registry {
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("registry")
	}
	return &Registry{
		connectors: make(map[string]Connector),
		bus:        b,
		logger:     logger,
	}
}

// Register adds a connector and announces it. Re-registering an id
// replaces the previous entry.
func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	r.connectors[c.ID()] = c
	total := len(r.connectors)
	r.mu.Unlock()

	r.logger.Info("Connector registered", map[string]interface{}{
		"connector_id": c.ID(),
		"type":         string(c.Type()),
		"total":        total,
	})
	r.bus.Publish(bus.TopicConnectorRegistered, map[string]interface{}{
		"connectorId":    c.ID(),
		"organizationId": c.OrganizationID(),
		"type":           string(c.Type()),
	})
}

// Unregister stops tracking a connector and announces the removal. The
// connector itself is not stopped; the caller owns its lifecycle.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	_, ok := r.connectors[id]
	delete(r.connectors, id)
	r.mu.Unlock()

	if !ok {
		return
	}
	r.bus.Publish(bus.TopicConnectorUnregistered, map[string]interface{}{
		"connectorId": id,
	})
}

// Get returns the connector with the given id.
func (r *Registry) Get(id string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[id]
	return c, ok
}

// List returns all registered connectors.
func (r *Registry) List() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		out = append(out, c)
	}
	return out
}

// GetOrgConnectors returns the connectors belonging to an organization.
func (r *Registry) GetOrgConnectors(orgID string) []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Connector
	for _, c := range r.connectors {
		if c.OrganizationID() == orgID {
			out = append(out, c)
		}
	}
	return out
}

// GetConnectorsByType returns the connectors of one adapter type.
func (r *Registry) GetConnectorsByType(typ core.ConnectorType) []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Connector
	for _, c := range r.connectors {
		if c.Type() == typ {
			out = append(out, c)
		}
	}
	return out
}

// StopAll stops every registered connector. Used during shutdown after the
// queue has drained.
func (r *Registry) StopAll(ctx context.Context) {
	for _, c := range r.List() {
		if err := c.Stop(ctx); err != nil {
			r.logger.Error("Failed to stop connector", map[string]interface{}{
				"connector_id": c.ID(),
				"error":        err.Error(),
			})
		}
	}
}

// Count returns the number of registered connectors.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connectors)
}
