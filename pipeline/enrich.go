package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/sigilsec/sentinel/core"
)

// Enricher is one enrichment capability. Capabilities are independent: a
// failing enricher contributes nothing and never blocks the others.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, sd *core.StructuredData) (map[string]interface{}, error)
}

// FuncEnricher adapts a function to the Enricher interface.
type FuncEnricher struct {
	EnricherName string
	Fn           func(ctx context.Context, sd *core.StructuredData) (map[string]interface{}, error)
}

func (f *FuncEnricher) Name() string { return f.EnricherName }

func (f *FuncEnricher) Enrich(ctx context.Context, sd *core.StructuredData) (map[string]interface{}, error) {
	return f.Fn(ctx, sd)
}

// ThreatIntelEnricher matches event IPs against a known indicator lookup.
type ThreatIntelEnricher struct {
	// Lookup returns the intel record for an indicator, or nil when the
	// indicator is unknown.
	Lookup func(ctx context.Context, indicator string) (*core.ThreatIntel, error)
}

func (e *ThreatIntelEnricher) Name() string { return "threatIntel" }

func (e *ThreatIntelEnricher) Enrich(ctx context.Context, sd *core.StructuredData) (map[string]interface{}, error) {
	if e.Lookup == nil {
		return nil, nil
	}
	var matches []map[string]interface{}
	for _, ip := range []string{sd.SourceIP, sd.DestinationIP} {
		if ip == "" {
			continue
		}
		intel, err := e.Lookup(ctx, ip)
		if err != nil {
			return nil, err
		}
		if intel == nil {
			continue
		}
		matches = append(matches, map[string]interface{}{
			"indicator":     intel.Indicator,
			"indicatorType": intel.IndicatorType,
			"source":        intel.Source,
			"severity":      string(intel.Severity),
			"context":       intel.Context,
		})
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return map[string]interface{}{"matches": matches}, nil
}

// GeoIPEnricher resolves the source IP to a location.
type GeoIPEnricher struct {
	Resolve func(ctx context.Context, ip string) (map[string]interface{}, error)
}

func (e *GeoIPEnricher) Name() string { return "geoip" }

func (e *GeoIPEnricher) Enrich(ctx context.Context, sd *core.StructuredData) (map[string]interface{}, error) {
	if e.Resolve == nil || sd.SourceIP == "" {
		return nil, nil
	}
	return e.Resolve(ctx, sd.SourceIP)
}

// recommendedAction is the fixed response guidance by severity, with
// type-level overrides for families that warrant containment regardless of
// graded severity.
func recommendedAction(severity core.Severity, eventType string) string {
	lower := strings.ToLower(eventType)
	if strings.Contains(lower, "malware") || strings.Contains(lower, "ransomware") {
		return "Isolate the affected host immediately and begin incident response"
	}
	switch severity {
	case core.SeverityCritical:
		return "Isolate the affected system immediately and begin incident response"
	case core.SeverityHigh:
		return "Investigate within 1 hour"
	case core.SeverityMedium:
		return "Review within 24 hours"
	case core.SeverityLow:
		return "Review during routine triage"
	default:
		return ""
	}
}

// insightPrompt frames one event for the AI insight capability.
func insightPrompt(sd *core.StructuredData) string {
	return fmt.Sprintf(
		"Summarize this security event in two sentences and name the most likely cause.\nSeverity: %s\nSource: %s\nMessage: %s",
		sd.Severity, sd.Source, sd.Message)
}

// enrich runs every configured capability over the structured event.
// Individual capability failures are logged and skipped; the returned
// enriched data always carries a non-nil Enrichments map.
func (p *Pipeline) enrich(ctx context.Context, eventType string, sd *core.StructuredData) *core.EnrichedData {
	out := &core.EnrichedData{
		StructuredData:    *sd,
		Enrichments:       map[string]interface{}{},
		RecommendedAction: recommendedAction(sd.Severity, eventType),
	}

	for _, e := range p.enrichers {
		result, err := e.Enrich(ctx, sd)
		if err != nil {
			p.metrics.IncEnrichFailure(e.Name())
			p.logger.Warn("Enrichment capability failed", map[string]interface{}{
				"enricher": e.Name(),
				"source":   sd.Source,
				"error":    err.Error(),
			})
			continue
		}
		if result != nil {
			out.Enrichments[e.Name()] = result
		}
	}

	// AI insight is reserved for events that will page someone.
	if p.ai != nil && sd.Severity.AtLeast(core.SeverityHigh) {
		resp, err := p.ai.GenerateResponse(ctx, insightPrompt(sd), &core.AIOptions{
			Temperature: 0.2,
			MaxTokens:   200,
		})
		if err != nil {
			p.metrics.IncEnrichFailure("insight")
			p.logger.Warn("Insight generation failed", map[string]interface{}{
				"source": sd.Source,
				"error":  err.Error(),
			})
		} else {
			out.Insight = resp.Content
		}
	}
	return out
}
