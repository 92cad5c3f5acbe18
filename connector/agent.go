package connector

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
)

// AgentRegistration is the request body for agent enrollment.
type AgentRegistration struct {
	Hostname        string                 `json:"hostname"`
	IPAddress       string                 `json:"ipAddress"`
	OperatingSystem string                 `json:"operatingSystem"`
	Version         string                 `json:"version"`
	Capabilities    []string               `json:"capabilities,omitempty"`
	SystemInfo      map[string]interface{} `json:"systemInfo,omitempty"`
	OrganizationKey string                 `json:"organizationKey"`
}

// AgentHeartbeat is the periodic agent health report.
type AgentHeartbeat struct {
	CPU       float64 `json:"cpu"`
	Memory    float64 `json:"memory"`
	Version   string  `json:"version"`
	DiskSpace float64 `json:"diskSpace,omitempty"`
	IPAddress string  `json:"ipAddress,omitempty"`
}

// AgentEvent is one item in a batched agent data upload.
type AgentEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Severity  string                 `json:"severity,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// AgentConnector is the passive push adapter behind the agent HTTP API. It
// opens no listeners of its own; the transport layer invokes
// RegisterAgent, ProcessHeartbeat, and ProcessEvents.
type AgentConnector struct {
	*Base

	mu     sync.Mutex
	agents map[string]string // agent id -> status, refreshed by operations

	activeAgents atomic.Int64
}

// NewAgentConnector validates the configuration and builds the adapter.
func NewAgentConnector(rec *core.ConnectorRecord, store core.Store, b *bus.Bus, logger core.Logger) (*AgentConnector, error) {
	cfg := rec.Configuration
	if err := cfg.Validate(core.ConnectorTypeAgent); err != nil {
		return nil, err
	}
	rec.Configuration = cfg
	return &AgentConnector{
		Base:   NewBase(rec, store, b, logger),
		agents: make(map[string]string),
	}, nil
}

// IsPull reports that this adapter is push-mode.
func (c *AgentConnector) IsPull() bool { return false }

// Start transitions to active. Nothing to bind; the HTTP surface is owned
// by the transport layer.
func (c *AgentConnector) Start(ctx context.Context) error {
	if c.Status() == core.StatusActive {
		return nil
	}
	c.MarkStarted()
	c.SetStatus(ctx, core.StatusActive, "")
	return nil
}

// Stop transitions to paused. Registered agents keep their rows; their
// uploads are rejected while paused.
func (c *AgentConnector) Stop(ctx context.Context) error {
	if c.Status() == core.StatusPaused {
		return nil
	}
	c.SetStatus(ctx, core.StatusPaused, "")
	return nil
}

// HealthCheck reports whether the adapter accepts agent traffic.
func (c *AgentConnector) HealthCheck() bool {
	return c.Status() == core.StatusActive
}

// RunOnce refreshes the cached active-agent count.
func (c *AgentConnector) RunOnce(ctx context.Context) error {
	c.mu.Lock()
	var active int64
	for _, status := range c.agents {
		if status == "active" {
			active++
		}
	}
	c.mu.Unlock()
	c.activeAgents.Store(active)
	return nil
}

// ActiveAgents returns the cached active-agent count.
func (c *AgentConnector) ActiveAgents() int64 { return c.activeAgents.Load() }

// TestConnection verifies the registration configuration.
func (c *AgentConnector) TestConnection(ctx context.Context) ProbeResult {
	cfg := c.Config().Agent
	if cfg == nil || cfg.OrganizationKey == "" {
		return ProbeResult{Success: false, Message: "organization key not configured"}
	}
	return ProbeResult{Success: true, Message: fmt.Sprintf("agent endpoint ready, %d active agents", c.ActiveAgents())}
}

// MatchesOrgKey compares an enrollment key in constant time.
func (c *AgentConnector) MatchesOrgKey(key string) bool {
	cfg := c.Config().Agent
	if cfg == nil || cfg.OrganizationKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(cfg.OrganizationKey), []byte(key)) == 1
}

// RegisterAgent enrolls a new endpoint agent. When the connector requires
// approval the record starts inactive and stays so until an operator
// flips it.
func (c *AgentConnector) RegisterAgent(ctx context.Context, reg *AgentRegistration) (*core.AgentRecord, error) {
	cfg := c.Config().Agent
	if cfg == nil || !cfg.RegistrationEnabled {
		return nil, fmt.Errorf("agent registration disabled: %w", core.ErrInvalidOrgKey)
	}
	if !c.MatchesOrgKey(reg.OrganizationKey) {
		return nil, core.ErrInvalidOrgKey
	}

	status := "active"
	if cfg.RegistrationRequiresApproval {
		status = "inactive"
	}
	record := &core.AgentRecord{
		ID:              uuid.New().String(),
		ConnectorID:     c.ID(),
		OrganizationID:  c.OrganizationID(),
		Hostname:        reg.Hostname,
		IPAddress:       reg.IPAddress,
		OperatingSystem: reg.OperatingSystem,
		Version:         reg.Version,
		Capabilities:    reg.Capabilities,
		SystemInfo:      reg.SystemInfo,
		Status:          status,
		RegisteredAt:    time.Now(),
	}
	if err := c.Store().UpsertAgent(ctx, record); err != nil {
		return nil, core.NewOpError("agent.Register", "store", record.ID, err)
	}

	c.mu.Lock()
	c.agents[record.ID] = status
	c.mu.Unlock()

	c.Logger().Info("Agent registered", map[string]interface{}{
		"connector_id": c.ID(),
		"agent_id":     record.ID,
		"hostname":     record.Hostname,
		"status":       status,
	})
	return record, nil
}

// ProcessHeartbeat updates the agent row atomically with its latest
// metrics.
func (c *AgentConnector) ProcessHeartbeat(ctx context.Context, agentID string, hb *AgentHeartbeat) error {
	agent, err := c.Store().GetAgent(ctx, agentID)
	if err != nil {
		return err
	}
	agent.LastHeartbeat = time.Now()
	agent.LastMetrics = map[string]interface{}{
		"cpu":     hb.CPU,
		"memory":  hb.Memory,
		"version": hb.Version,
	}
	if hb.DiskSpace > 0 {
		agent.LastMetrics["diskSpace"] = hb.DiskSpace
	}
	if hb.Version != "" {
		agent.Version = hb.Version
	}
	if hb.IPAddress != "" {
		agent.IPAddress = hb.IPAddress
	}
	if err := c.Store().UpsertAgent(ctx, agent); err != nil {
		return core.NewOpError("agent.Heartbeat", "store", agentID, err)
	}

	c.mu.Lock()
	c.agents[agent.ID] = agent.Status
	c.mu.Unlock()
	return nil
}

// ProcessEvents converts each uploaded item to a RawEvent and emits it.
// The agent's lastHeartbeat is refreshed as a side effect of a successful
// upload.
func (c *AgentConnector) ProcessEvents(ctx context.Context, agentID string, events []AgentEvent) (int, error) {
	agent, err := c.Store().GetAgent(ctx, agentID)
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, item := range events {
		ts := item.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		eventType := item.Type
		if eventType == "" {
			eventType = "agent-event"
		}
		payload := map[string]interface{}{
			"message":  item.Message,
			"hostname": agent.Hostname,
		}
		if item.Severity != "" {
			payload["severity"] = item.Severity
		}
		for k, v := range item.Data {
			payload[k] = v
		}
		event := &core.RawEvent{
			ID:        uuid.New().String(),
			Timestamp: ts,
			Source:    "agent",
			Type:      eventType,
			Payload:   payload,
			Tags:      []string{"agent", "endpoint"},
			Metadata: core.EventMetadata{
				ConnectorID:    c.ID(),
				OrganizationID: c.OrganizationID(),
				AgentID:        agentID,
				SourceIP:       agent.IPAddress,
			},
		}
		if err := c.Emit(event, core.PriorityMedium); err != nil {
			continue
		}
		c.RecordEvent(len(item.Message))
		accepted++
	}

	agent.LastHeartbeat = time.Now()
	if err := c.Store().UpsertAgent(ctx, agent); err != nil {
		c.Logger().Error("Failed to refresh agent heartbeat", map[string]interface{}{
			"agent_id": agentID,
			"error":    err.Error(),
		})
	}
	return accepted, nil
}

// EffectiveAgentConfig merges the connector-level agent settings with the
// per-agent custom configuration for GET /api/agents/config.
func (c *AgentConnector) EffectiveAgentConfig(ctx context.Context, agentID string) (map[string]interface{}, error) {
	cfg := c.Config().Agent
	if cfg == nil {
		return nil, core.ErrConfigInvalid
	}
	agent, err := c.Store().GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	merged := map[string]interface{}{
		"heartbeatInterval": cfg.HeartbeatIntervalSec,
		"batchSize":         cfg.BatchSize,
		"batchTimeLimit":    cfg.BatchTimeLimitSec,
		"capabilities":      cfg.Capabilities,
	}
	custom := map[string]interface{}{}
	for k, v := range cfg.CustomConfig {
		custom[k] = v
	}
	for k, v := range agent.CustomConfig {
		custom[k] = v
	}
	merged["customConfig"] = custom
	return merged, nil
}
