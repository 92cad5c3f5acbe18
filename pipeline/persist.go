package pipeline

import (
	"context"
	"time"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
	"github.com/sigilsec/sentinel/resilience"
)

// buildAlert assembles the persisted alert from the raw event and its
// enriched form. The title is the message truncated to the storage limit;
// the full text survives in the description.
func buildAlert(event *core.RawEvent, enriched *core.EnrichedData) *core.Alert {
	metadata := map[string]interface{}{
		"connectorId": event.Metadata.ConnectorID,
		"eventId":     event.ID,
		"eventType":   event.Type,
		"rawPayload":  event.Payload,
		"enrichments": enriched.Enrichments,
	}
	if len(event.Tags) > 0 {
		metadata["tags"] = event.Tags
	}
	if event.Metadata.AgentID != "" {
		metadata["agentId"] = event.Metadata.AgentID
	}
	if enriched.RecommendedAction != "" {
		metadata["recommendedAction"] = enriched.RecommendedAction
	}
	if enriched.Insight != "" {
		metadata["insight"] = enriched.Insight
	}
	return &core.Alert{
		OrganizationID: event.Metadata.OrganizationID,
		Title:          core.TruncateTitle(enriched.Message),
		Description:    enriched.Message,
		Severity:       enriched.Severity,
		Source:         enriched.Source,
		SourceIP:       enriched.SourceIP,
		DestinationIP:  enriched.DestinationIP,
		Timestamp:      enriched.Timestamp,
		Status:         "new",
		Metadata:       metadata,
	}
}

// persist writes the alert through the store with retry and announces
// high and critical alerts on the bus. Store failures propagate to the
// queue, which owns the retry budget for the whole job.
func (p *Pipeline) persist(ctx context.Context, event *core.RawEvent, enriched *core.EnrichedData) error {
	alert := buildAlert(event, enriched)

	var alertID string
	err := resilience.Retry(ctx, p.storeRetry, func() error {
		id, err := p.store.CreateAlert(ctx, alert)
		if err != nil {
			return err
		}
		alertID = id
		return nil
	})
	if err != nil {
		return core.NewOpError("pipeline.persist", "store", event.ID, err)
	}
	alert.ID = alertID
	p.metrics.IncAlert(string(alert.Severity))

	if alert.Severity.AtLeast(core.SeverityHigh) {
		p.bus.Publish(bus.TopicAlertCreated, map[string]interface{}{
			"alertId":        alertID,
			"organizationId": alert.OrganizationID,
			"connectorId":    event.Metadata.ConnectorID,
			"severity":       string(alert.Severity),
			"source":         alert.Source,
			"title":          alert.Title,
		})
	}

	p.recordIndicators(ctx, event, enriched)
	return nil
}

// recordIndicators surfaces threat intel matches from enrichment as intel
// rows. Best effort: a store failure here never fails the job.
func (p *Pipeline) recordIndicators(ctx context.Context, event *core.RawEvent, enriched *core.EnrichedData) {
	raw, ok := enriched.Enrichments["threatIntel"].(map[string]interface{})
	if !ok {
		return
	}
	matches, ok := raw["matches"].([]map[string]interface{})
	if !ok {
		return
	}
	for _, m := range matches {
		intel := &core.ThreatIntel{
			OrganizationID: event.Metadata.OrganizationID,
			Indicator:      stringField(m, "indicator"),
			IndicatorType:  stringField(m, "indicatorType"),
			Source:         stringField(m, "source"),
			Severity:       core.ParseSeverity(stringField(m, "severity")),
			FirstSeen:      time.Now(),
			Context:        stringField(m, "context"),
		}
		if intel.Indicator == "" {
			continue
		}
		if err := p.store.CreateThreatIntel(ctx, intel); err != nil {
			p.logger.Warn("Failed to record threat indicator", map[string]interface{}{
				"indicator": intel.Indicator,
				"error":     err.Error(),
			})
		}
	}
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
