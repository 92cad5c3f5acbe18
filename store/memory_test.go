package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sigilsec/sentinel/core"
)

func connectorRow(id string) *core.ConnectorRecord {
	return &core.ConnectorRecord{
		ID:             id,
		OrganizationID: "org-1",
		Name:           "row " + id,
		Type:           core.ConnectorTypeAPI,
		Status:         core.StatusPaused,
		Configuration: core.ConnectorConfig{
			API: &core.APIConfig{Endpoint: "https://logs.example.com"},
		},
	}
}

func TestConnectorCRUD(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.PutConnector(ctx, connectorRow("c-1")); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConnector(ctx, "c-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "row c-1" || got.Type != core.ConnectorTypeAPI {
		t.Errorf("row = %+v", got)
	}

	// The returned row is a copy; mutating it does not touch the store.
	got.Name = "mutated"
	again, _ := s.GetConnector(ctx, "c-1")
	if again.Name != "row c-1" {
		t.Error("store row aliased to the returned copy")
	}

	rows, err := s.ListConnectors(ctx)
	if err != nil || len(rows) != 1 {
		t.Errorf("list = %v, %v", rows, err)
	}

	_, err = s.GetConnector(ctx, "missing")
	if !errors.Is(err, core.ErrConnectorNotFound) {
		t.Errorf("missing row = %v, want ErrConnectorNotFound", err)
	}
}

func TestPutConnectorAssignsID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := connectorRow("")
	if err := s.PutConnector(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if rec.ID == "" {
		t.Error("id not assigned")
	}
}

func TestUpdateConnectorPartial(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.PutConnector(ctx, connectorRow("c-1"))

	status := core.StatusActive
	errCount := 2
	lastErr := "probe timeout"
	now := time.Now()
	err := s.UpdateConnector(ctx, "c-1", &core.ConnectorUpdate{
		Status:                   &status,
		ErrorCount:               &errCount,
		LastError:                &lastErr,
		LastSuccessfulConnection: &now,
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetConnector(ctx, "c-1")
	if got.Status != core.StatusActive || !got.IsActive {
		t.Errorf("status update: %+v", got)
	}
	if got.ErrorCount != 2 || got.LastError != "probe timeout" {
		t.Errorf("error fields: %+v", got)
	}
	// Untouched fields survive.
	if got.Name != "row c-1" {
		t.Errorf("name clobbered: %q", got.Name)
	}

	// Leaving Status disabled syncs IsActive off.
	disabled := core.StatusDisabled
	s.UpdateConnector(ctx, "c-1", &core.ConnectorUpdate{Status: &disabled})
	got, _ = s.GetConnector(ctx, "c-1")
	if got.IsActive {
		t.Error("IsActive should track status")
	}

	if err := s.UpdateConnector(ctx, "missing", nil); !errors.Is(err, core.ErrConnectorNotFound) {
		t.Errorf("missing row = %v, want ErrConnectorNotFound", err)
	}
}

func TestCreateAlertAssignsID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.CreateAlert(ctx, &core.Alert{
		OrganizationID: "org-1",
		Title:          "suspicious login",
		Severity:       core.SeverityHigh,
		Status:         "new",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("no id assigned")
	}

	if _, err := s.CreateAlert(ctx, nil); !errors.Is(err, core.ErrStore) {
		t.Errorf("nil alert = %v, want ErrStore", err)
	}
}

func TestListAlertsFilter(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	seedAlerts := []*core.Alert{
		{OrganizationID: "org-1", Severity: core.SeverityHigh, Status: "new", Source: "syslog"},
		{OrganizationID: "org-1", Severity: core.SeverityLow, Status: "new", Source: "agent"},
		{OrganizationID: "org-2", Severity: core.SeverityHigh, Status: "resolved", Source: "syslog"},
	}
	for _, a := range seedAlerts {
		if _, err := s.CreateAlert(ctx, a); err != nil {
			t.Fatal(err)
		}
	}

	all, _ := s.ListAlerts(ctx, AlertFilter{})
	if len(all) != 3 {
		t.Errorf("unfiltered = %d, want 3", len(all))
	}

	org1, _ := s.ListAlerts(ctx, AlertFilter{OrganizationID: "org-1"})
	if len(org1) != 2 {
		t.Errorf("org filter = %d, want 2", len(org1))
	}

	// Filters combine by conjunction.
	both, _ := s.ListAlerts(ctx, AlertFilter{OrganizationID: "org-1", Severity: core.SeverityHigh})
	if len(both) != 1 || both[0].Source != "syslog" {
		t.Errorf("conjunction = %+v", both)
	}

	none, _ := s.ListAlerts(ctx, AlertFilter{OrganizationID: "org-2", Status: "new"})
	if len(none) != 0 {
		t.Errorf("mismatched conjunction = %d, want 0", len(none))
	}
}

func TestThreatIntel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.CreateThreatIntel(ctx, &core.ThreatIntel{OrganizationID: "org-1", Indicator: "203.0.113.5"})
	s.CreateThreatIntel(ctx, &core.ThreatIntel{OrganizationID: "org-2", Indicator: "198.51.100.9"})

	org1, err := s.ListThreatIntel(ctx, "org-1")
	if err != nil || len(org1) != 1 || org1[0].Indicator != "203.0.113.5" {
		t.Errorf("org intel = %v, %v", org1, err)
	}
	all, _ := s.ListThreatIntel(ctx, "")
	if len(all) != 2 {
		t.Errorf("all intel = %d, want 2", len(all))
	}
}

func TestAgentRows(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.UpsertAgent(ctx, &core.AgentRecord{}); !errors.Is(err, core.ErrStore) {
		t.Errorf("agent without id = %v, want ErrStore", err)
	}

	agent := &core.AgentRecord{ID: "a-1", ConnectorID: "c-1", Hostname: "laptop-7", Status: "active"}
	if err := s.UpsertAgent(ctx, agent); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetAgent(ctx, "a-1")
	if err != nil || got.Hostname != "laptop-7" {
		t.Errorf("agent = %+v, %v", got, err)
	}
	if _, err := s.GetAgent(ctx, "missing"); !errors.Is(err, core.ErrAgentNotFound) {
		t.Errorf("missing agent = %v, want ErrAgentNotFound", err)
	}

	s.UpsertAgent(ctx, &core.AgentRecord{ID: "a-2", ConnectorID: "c-2", Status: "active"})
	byConn, _ := s.ListAgents(ctx, "c-1")
	if len(byConn) != 1 || byConn[0].ID != "a-1" {
		t.Errorf("agents by connector = %+v", byConn)
	}
	all, _ := s.ListAgents(ctx, "")
	if len(all) != 2 {
		t.Errorf("all agents = %d, want 2", len(all))
	}
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.PutConnector(ctx, connectorRow("c-1"))
	s.CreateAlert(ctx, &core.Alert{OrganizationID: "org-1"})
	s.UpsertAgent(ctx, &core.AgentRecord{ID: "a-1"})

	connectors, alerts, agents := s.Counts()
	if connectors != 1 || alerts != 1 || agents != 1 {
		t.Errorf("counts = %d/%d/%d, want 1/1/1", connectors, alerts, agents)
	}
}
