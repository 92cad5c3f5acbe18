package pipeline

import (
	"context"
	"errors"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
	"github.com/sigilsec/sentinel/resilience"
)

// Pipeline processes queue jobs carrying raw events. It is stateless
// between jobs and safe for concurrent use by the worker pool.
type Pipeline struct {
	store     core.Store
	bus       *bus.Bus
	logger    core.Logger
	telemetry core.Telemetry
	ai        core.AIClient
	enrichers []Enricher
	metrics   *Metrics

	storeRetry *resilience.RetryConfig
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAIClient enables the insight enrichment for high and critical
// events.
func WithAIClient(client core.AIClient) Option {
	return func(p *Pipeline) { p.ai = client }
}

// WithEnricher appends an enrichment capability.
func WithEnricher(e Enricher) Option {
	return func(p *Pipeline) { p.enrichers = append(p.enrichers, e) }
}

// WithTelemetry enables span creation around each phase.
func WithTelemetry(t core.Telemetry) Option {
	return func(p *Pipeline) { p.telemetry = t }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithStoreRetry overrides the persistence retry policy.
func WithStoreRetry(cfg *resilience.RetryConfig) Option {
	return func(p *Pipeline) { p.storeRetry = cfg }
}

// New creates a pipeline over the given store and bus.
func New(store core.Store, b *bus.Bus, logger core.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = &core.NoOpLogger{}
	} else if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("pipeline")
	}
	p := &Pipeline{
		store:      store,
		bus:        b,
		logger:     logger,
		telemetry:  &core.NoOpTelemetry{},
		storeRetry: resilience.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process runs one job through all four phases. The return value is the
// queue's retry signal: validation discards return nil, parse and enrich
// degrade in place, and only persistence failures propagate.
func (p *Pipeline) Process(ctx context.Context, job *core.QueueJob) error {
	event := job.Data
	ctx, span := p.telemetry.StartSpan(ctx, "pipeline.Process")
	defer span.End()
	span.SetAttribute("job.id", job.ID)
	span.SetAttribute("connector.id", job.ConnectorID)

	if err := Validate(event); err != nil {
		p.metrics.IncOutcome("discarded")
		p.logger.Warn("Event discarded", map[string]interface{}{
			"job_id":       job.ID,
			"connector_id": job.ConnectorID,
			"error":        err.Error(),
		})
		// A malformed event stays malformed; retrying would discard it
		// again, so the job completes here.
		return nil
	}

	sd, err := Parse(event)
	if err != nil {
		if !errors.Is(err, core.ErrParse) {
			span.RecordError(err)
			return err
		}
		p.metrics.IncOutcome("parse_fallback")
		p.logger.Debug("Parser fell back to generic", map[string]interface{}{
			"event_id": event.ID,
			"source":   event.Source,
			"error":    err.Error(),
		})
		sd = ParseGeneric(event)
	}

	enriched := p.enrich(ctx, event.Type, sd)

	if err := p.persist(ctx, event, enriched); err != nil {
		span.RecordError(err)
		return err
	}
	p.metrics.IncOutcome("persisted")
	return nil
}
