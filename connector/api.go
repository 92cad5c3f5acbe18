package connector

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
	"github.com/sigilsec/sentinel/resilience"
)

// APIConnector is the pull-mode adapter. Each RunOnce fetches one batch per
// configured sub-source through the SourceClient capability, emits the
// returned events, and advances the cursor atomically with the last
// successful connection.
type APIConnector struct {
	*Base
	client  core.SourceClient
	breaker *resilience.CircuitBreaker
}

// NewAPIConnector validates the configuration and builds the adapter. The
// client is the per-vendor SDK abstraction; the adapter owns cursor
// handling and failure isolation across sub-sources.
func NewAPIConnector(rec *core.ConnectorRecord, client core.SourceClient, store core.Store, b *bus.Bus, logger core.Logger) (*APIConnector, error) {
	cfg := rec.Configuration
	if err := cfg.Validate(core.ConnectorTypeAPI); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, fmt.Errorf("api connector %s requires a source client: %w", rec.ID, core.ErrConfigInvalid)
	}
	rec.Configuration = cfg
	c := &APIConnector{
		Base:   NewBase(rec, store, b, logger),
		client: client,
	}
	cbCfg := resilience.DefaultCircuitBreakerConfig("source:" + rec.ID)
	cbCfg.Logger = logger
	c.breaker = resilience.NewCircuitBreaker(cbCfg)
	return c, nil
}

// IsPull reports that this adapter is scheduler-driven.
func (c *APIConnector) IsPull() bool { return true }

// Start probes the source and transitions to active. Idempotent.
func (c *APIConnector) Start(ctx context.Context) error {
	if c.Status() == core.StatusActive {
		return nil
	}
	if err := c.client.Probe(ctx); err != nil {
		c.SetStatus(ctx, core.StatusError, err.Error())
		return fmt.Errorf("probe %s: %w", c.ID(), errors.Join(core.ErrAdapterUnavailable, err))
	}
	c.MarkStarted()
	c.SetStatus(ctx, core.StatusActive, "")
	return nil
}

// Stop transitions to paused. The client is stateless; nothing to release.
func (c *APIConnector) Stop(ctx context.Context) error {
	if c.Status() == core.StatusPaused {
		return nil
	}
	c.SetStatus(ctx, core.StatusPaused, "")
	return nil
}

// HealthCheck reports source reachability based on the breaker state.
func (c *APIConnector) HealthCheck() bool {
	return c.Status() == core.StatusActive && c.breaker.State() != resilience.StateOpen
}

// TestConnection probes the source without touching cursor state.
func (c *APIConnector) TestConnection(ctx context.Context) ProbeResult {
	if err := c.client.Probe(ctx); err != nil {
		return ProbeResult{Success: false, Message: err.Error()}
	}
	return ProbeResult{Success: true, Message: "connection ok"}
}

// RunOnce polls every configured sub-source with the stored cursor. A
// failed sub-source does not abort the others, but the run is reported as
// success only when every sub-source succeeded. The cursor advances over
// whatever was actually emitted, so a partial run never rewinds progress;
// a run where every sub-source failed leaves the cursor and the last
// successful connection untouched.
func (c *APIConnector) RunOnce(ctx context.Context) error {
	start := time.Now()
	cursor := c.Cursor()

	endpoints := c.endpointNames()
	next := cursor
	maxTS := cursor.LastEventTimestamp
	var errs []error
	emitted := 0
	fetched := 0

	for _, name := range endpoints {
		events, endpointCursor, err := c.fetchEndpoint(ctx, name, cursor)
		if err != nil {
			errs = append(errs, fmt.Errorf("endpoint %s: %w", name, err))
			continue
		}
		fetched++
		for _, ev := range events {
			ev.Metadata.ConnectorID = c.ID()
			ev.Metadata.OrganizationID = c.OrganizationID()
			if err := c.Emit(ev, core.PriorityMedium); err != nil {
				errs = append(errs, fmt.Errorf("endpoint %s: %w", name, err))
				continue
			}
			emitted++
			if ev.Timestamp.After(maxTS) {
				maxTS = ev.Timestamp
			}
		}
		// The provider token may be stable even on empty pages; the
		// event timestamp is the ground-truth cursor.
		next.NextToken = endpointCursor.NextToken
	}
	next.LastEventTimestamp = maxTS

	c.RecordResponseTime(time.Since(start))
	if fetched > 0 {
		c.AdvanceCursor(ctx, next)
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		if after, ok := core.RetryAfter(err); ok {
			c.SetStatus(ctx, core.StatusError, fmt.Sprintf("rate limited until %s", after.Format(time.RFC3339)))
		} else {
			c.SetStatus(ctx, core.StatusError, err.Error())
		}
		return err
	}

	c.MarkConnected(ctx)
	if c.Status() != core.StatusActive && c.Status() != core.StatusDisabled {
		c.SetStatus(ctx, core.StatusActive, "")
	}
	c.Logger().Debug("Poll complete", map[string]interface{}{
		"connector_id": c.ID(),
		"events":       emitted,
		"cursor":       next.String(),
	})
	return nil
}

func (c *APIConnector) fetchEndpoint(ctx context.Context, name string, cursor core.CursorState) ([]*core.RawEvent, core.CursorState, error) {
	var events []*core.RawEvent
	var next core.CursorState
	err := c.breaker.Execute(ctx, func() error {
		var err error
		events, next, err = c.client.FetchBatch(ctx, name, cursor)
		return err
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) || !core.IsRateLimited(err) {
			err = errors.Join(core.ErrAdapterUnavailable, err)
		}
		return nil, core.CursorState{}, err
	}
	return events, next, nil
}

// endpointNames returns the configured sub-sources in a stable order, or
// the single default endpoint when none are named.
func (c *APIConnector) endpointNames() []string {
	cfg := c.Config()
	if cfg.API == nil || len(cfg.API.Endpoints) == 0 {
		return []string{""}
	}
	names := make([]string, 0, len(cfg.API.Endpoints))
	for name := range cfg.API.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
