// Package store provides the in-memory reference implementation of the
// core.Store DAO plus the YAML seed loader used at bootstrap. Production
// deployments swap in a database-backed Store; the runtime only sees the
// interface.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sigilsec/sentinel/core"
)

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu         sync.RWMutex
	connectors map[string]*core.ConnectorRecord
	alerts     map[string]*core.Alert
	agents     map[string]*core.AgentRecord
	intel      []*core.ThreatIntel
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connectors: make(map[string]*core.ConnectorRecord),
		alerts:     make(map[string]*core.Alert),
		agents:     make(map[string]*core.AgentRecord),
	}
}

// PutConnector inserts or replaces a connector row. Rows without an id get
// one assigned.
func (s *MemoryStore) PutConnector(ctx context.Context, rec *core.ConnectorRecord) error {
	if rec == nil {
		return fmt.Errorf("nil connector record: %w", core.ErrStore)
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *rec
	s.connectors[rec.ID] = &stored
	return nil
}

// ListConnectors returns a copy of every connector row.
func (s *MemoryStore) ListConnectors(ctx context.Context) ([]*core.ConnectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.ConnectorRecord, 0, len(s.connectors))
	for _, rec := range s.connectors {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

// GetConnector returns one connector row by id.
func (s *MemoryStore) GetConnector(ctx context.Context, id string) (*core.ConnectorRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.connectors[id]
	if !ok {
		return nil, fmt.Errorf("connector %s: %w", id, core.ErrConnectorNotFound)
	}
	cp := *rec
	return &cp, nil
}

// UpdateConnector applies a partial update. Nil fields in the update are
// left unchanged.
func (s *MemoryStore) UpdateConnector(ctx context.Context, id string, update *core.ConnectorUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.connectors[id]
	if !ok {
		return fmt.Errorf("connector %s: %w", id, core.ErrConnectorNotFound)
	}
	if update == nil {
		return nil
	}
	if update.Status != nil {
		rec.Status = *update.Status
		rec.IsActive = *update.Status == core.StatusActive
	}
	if update.LastError != nil {
		rec.LastError = *update.LastError
	}
	if update.ErrorCount != nil {
		rec.ErrorCount = *update.ErrorCount
	}
	if update.LastSuccessfulConnection != nil {
		rec.LastSuccessfulConnection = *update.LastSuccessfulConnection
	}
	if update.Metrics != nil {
		rec.Metrics = *update.Metrics
	}
	if update.Configuration != nil {
		rec.Configuration = *update.Configuration
	}
	return nil
}

// CreateAlert persists an alert and returns its assigned id.
func (s *MemoryStore) CreateAlert(ctx context.Context, alert *core.Alert) (string, error) {
	if alert == nil {
		return "", fmt.Errorf("nil alert: %w", core.ErrStore)
	}
	id := alert.ID
	if id == "" {
		id = uuid.New().String()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *alert
	stored.ID = id
	s.alerts[id] = &stored
	return id, nil
}

// AlertFilter selects alerts. Zero-value fields match everything; set
// fields combine by conjunction.
type AlertFilter struct {
	OrganizationID string
	Severity       core.Severity
	Status         string
	Source         string
}

func (f AlertFilter) matches(a *core.Alert) bool {
	if f.OrganizationID != "" && a.OrganizationID != f.OrganizationID {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Source != "" && a.Source != f.Source {
		return false
	}
	return true
}

// ListAlerts returns the alerts matching filter.
func (s *MemoryStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*core.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Alert
	for _, a := range s.alerts {
		if filter.matches(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CreateThreatIntel appends an indicator record.
func (s *MemoryStore) CreateThreatIntel(ctx context.Context, intel *core.ThreatIntel) error {
	if intel == nil {
		return fmt.Errorf("nil threat intel: %w", core.ErrStore)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *intel
	s.intel = append(s.intel, &cp)
	return nil
}

// ListThreatIntel returns all indicator records for an organization.
func (s *MemoryStore) ListThreatIntel(ctx context.Context, orgID string) ([]*core.ThreatIntel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.ThreatIntel
	for _, i := range s.intel {
		if orgID != "" && i.OrganizationID != orgID {
			continue
		}
		cp := *i
		out = append(out, &cp)
	}
	return out, nil
}

// GetAgent returns one agent row by id.
func (s *MemoryStore) GetAgent(ctx context.Context, id string) (*core.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return nil, fmt.Errorf("agent %s: %w", id, core.ErrAgentNotFound)
	}
	cp := *agent
	return &cp, nil
}

// UpsertAgent inserts or replaces an agent row.
func (s *MemoryStore) UpsertAgent(ctx context.Context, agent *core.AgentRecord) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent record requires id: %w", core.ErrStore)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

// ListAgents returns the agents registered under a connector. An empty
// connectorID matches all.
func (s *MemoryStore) ListAgents(ctx context.Context, connectorID string) ([]*core.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.AgentRecord
	for _, a := range s.agents {
		if connectorID != "" && a.ConnectorID != connectorID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// Counts returns row counts for the health endpoint.
func (s *MemoryStore) Counts() (connectors, alerts, agents int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connectors), len(s.alerts), len(s.agents)
}
