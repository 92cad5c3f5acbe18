package core

import (
	"context"
	"time"
)

// Logger interface - minimal structured logging interface.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// ComponentAwareLogger can scope log output to a named component.
type ComponentAwareLogger interface {
	Logger
	WithComponent(component string) Logger
}

// Telemetry interface - optional telemetry support.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents a telemetry span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// Store is the persistent DAO for connectors, alerts, agents, and threat
// intel. It is an external collaborator: the runtime only reaches it
// through this interface and assumes it provides its own concurrency
// safety. Filters compose by conjunction.
type Store interface {
	ListConnectors(ctx context.Context) ([]*ConnectorRecord, error)
	GetConnector(ctx context.Context, id string) (*ConnectorRecord, error)
	UpdateConnector(ctx context.Context, id string, update *ConnectorUpdate) error
	CreateAlert(ctx context.Context, alert *Alert) (string, error)
	CreateThreatIntel(ctx context.Context, intel *ThreatIntel) error

	GetAgent(ctx context.Context, id string) (*AgentRecord, error)
	UpsertAgent(ctx context.Context, agent *AgentRecord) error
}

// ConnectorUpdate is a partial connector row update. Nil fields are left
// unchanged.
type ConnectorUpdate struct {
	Status                   *ConnectorStatus
	LastError                *string
	ErrorCount               *int
	LastSuccessfulConnection *time.Time
	Metrics                  *ConnectorMetrics
	Configuration            *ConnectorConfig
}

// SourceClient is the capability held by a pull connector. FetchBatch
// returns the events visible after cursor plus the next cursor; an empty
// NextToken means the provider has no pagination state to carry.
type SourceClient interface {
	FetchBatch(ctx context.Context, endpoint string, cursor CursorState) ([]*RawEvent, CursorState, error)
	Probe(ctx context.Context) error
}

// AIClient is the optional capability behind the insight enrichment.
type AIClient interface {
	GenerateResponse(ctx context.Context, prompt string, options *AIOptions) (*AIResponse, error)
}

// AIOptions for insight generation.
type AIOptions struct {
	Model        string
	Temperature  float32
	MaxTokens    int
	SystemPrompt string
}

// AIResponse from the AI client.
type AIResponse struct {
	Content string
	Model   string
}

// Memory interface for state storage (sessions, dedup keys).
type Memory interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation.
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpTelemetry provides a no-op telemetry implementation.
type NoOpTelemetry struct{}

func (n *NoOpTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	return ctx, &NoOpSpan{}
}

func (n *NoOpTelemetry) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpSpan provides a no-op span implementation.
type NoOpSpan struct{}

func (n *NoOpSpan) End()                                       {}
func (n *NoOpSpan) SetAttribute(key string, value interface{}) {}
func (n *NoOpSpan) RecordError(err error)                      {}
