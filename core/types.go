package core

import (
	"fmt"
	"time"
)

// ConnectorType selects the source adapter for a connector.
type ConnectorType string

const (
	ConnectorTypeAPI     ConnectorType = "api"
	ConnectorTypeSyslog  ConnectorType = "syslog"
	ConnectorTypeAgent   ConnectorType = "agent"
	ConnectorTypeWebhook ConnectorType = "webhook"
)

// Valid reports whether t is one of the known connector types.
func (t ConnectorType) Valid() bool {
	switch t {
	case ConnectorTypeAPI, ConnectorTypeSyslog, ConnectorTypeAgent, ConnectorTypeWebhook:
		return true
	}
	return false
}

// ConnectorStatus is the lifecycle state of a connector.
type ConnectorStatus string

const (
	StatusActive   ConnectorStatus = "active"
	StatusPaused   ConnectorStatus = "paused"
	StatusError    ConnectorStatus = "error"
	StatusDisabled ConnectorStatus = "disabled"
)

// Severity is the alert severity scale. The wire representation is the
// literal string; Rank gives the total order (critical highest).
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Rank returns the position of s in the severity order. Higher is more
// severe; unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// AtLeast reports whether s is at least as severe as other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// Priority is the job queue priority band.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// bandIndex orders priority bands for dequeue; 0 is served first.
func (p Priority) bandIndex() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// BandIndex exposes the dequeue order of a priority band.
func (p Priority) BandIndex() int { return p.bandIndex() }

// MaxAttempts is the retry budget for a job of this priority.
func (p Priority) MaxAttempts() int {
	if p == PriorityCritical {
		return 5
	}
	return 3
}

// RawEvent is the immutable message emitted by a source adapter. Events are
// validated and parsed by the pipeline; adapters never mutate one after
// emission.
type RawEvent struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Source    string                 `json:"source"`
	Type      string                 `json:"type"`
	Payload   map[string]interface{} `json:"payload"`
	Tags      []string               `json:"tags"`
	Metadata  EventMetadata          `json:"metadata"`
}

// EventMetadata carries the dispatch context of a raw event.
type EventMetadata struct {
	ConnectorID    string `json:"connectorId"`
	OrganizationID string `json:"organizationId"`
	SourceIP       string `json:"sourceIp,omitempty"`
	AgentID        string `json:"agentId,omitempty"`
}

// StructuredData is the post-parse form of an event.
type StructuredData struct {
	Timestamp     time.Time              `json:"timestamp"`
	Severity      Severity               `json:"severity"`
	Source        string                 `json:"source"`
	SourceIP      string                 `json:"sourceIp,omitempty"`
	DestinationIP string                 `json:"destinationIp,omitempty"`
	Message       string                 `json:"message"`
	Data          map[string]interface{} `json:"data,omitempty"`
}

// EnrichedData is structured data plus enrichment results. A missing
// enrichment means the capability failed or was not configured; absence is
// never an error.
type EnrichedData struct {
	StructuredData
	Enrichments       map[string]interface{} `json:"enrichments"`
	Context           map[string]interface{} `json:"context,omitempty"`
	RecommendedAction string                 `json:"recommendedAction,omitempty"`
	Insight           string                 `json:"insight,omitempty"`
}

// Alert is the persisted output of the pipeline.
type Alert struct {
	ID             string                 `json:"id,omitempty"`
	OrganizationID string                 `json:"organizationId"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description"`
	Severity       Severity               `json:"severity"`
	Source         string                 `json:"source"`
	SourceIP       string                 `json:"sourceIp,omitempty"`
	DestinationIP  string                 `json:"destinationIp,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Status         string                 `json:"status"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// ThreatIntel is an indicator record surfaced by enrichment.
type ThreatIntel struct {
	OrganizationID string    `json:"organizationId"`
	Indicator      string    `json:"indicator"`
	IndicatorType  string    `json:"indicatorType"`
	Source         string    `json:"source"`
	Severity       Severity  `json:"severity"`
	FirstSeen      time.Time `json:"firstSeen"`
	Context        string    `json:"context,omitempty"`
}

// CursorState is the opaque resumption token persisted per pull connector.
// LastEventTimestamp is the ground-truth cursor; NextToken is provider
// pagination state and may be stable even on empty pages.
type CursorState struct {
	NextToken          string    `json:"nextToken,omitempty"`
	LastEventTimestamp time.Time `json:"lastEventTimestamp,omitempty"`
}

// ConnectorMetrics are the per-connector counters surfaced by GetMetrics.
type ConnectorMetrics struct {
	EventsProcessed   int64     `json:"eventsProcessed"`
	BytesProcessed    int64     `json:"bytesProcessed"`
	ErrorCount        int64     `json:"errorCount"`
	UptimeSec         int64     `json:"uptimeSec"`
	AvgResponseTimeMs float64   `json:"avgResponseTimeMs"`
	LastEventAt       time.Time `json:"lastEventAt"`
}

// MetricsSnapshot is a point-in-time view of one connector collected by the
// realtime monitor. Throughput is events/minute derived from adjacent
// history points.
type MetricsSnapshot struct {
	ConnectorID string           `json:"connectorId"`
	Status      ConnectorStatus  `json:"status"`
	Healthy     bool             `json:"healthy"`
	Metrics     ConnectorMetrics `json:"metrics"`
	Throughput  float64          `json:"throughput"`
	CollectedAt time.Time        `json:"collectedAt"`
}

// JobState tracks a queue job through its lifetime.
type JobState string

const (
	JobPending    JobState = "pending"
	JobProcessing JobState = "processing"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// QueueJob is one unit of work in the priority queue, usually a raw event
// plus its dispatch context.
type QueueJob struct {
	ID                  string     `json:"id"`
	ConnectorID         string     `json:"connectorId"`
	Data                *RawEvent  `json:"data,omitempty"`
	DataSource          string     `json:"dataSource"`
	Priority            Priority   `json:"priority"`
	State               JobState   `json:"state"`
	Attempts            int        `json:"attempts"`
	MaxAttempts         int        `json:"maxAttempts"`
	CreatedAt           time.Time  `json:"createdAt"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
	CompletedAt         *time.Time `json:"completedAt,omitempty"`
	Error               string     `json:"error,omitempty"`

	// Run is set for scheduler jobs instead of Data; it performs one
	// runOnce for a pull connector.
	Run func() error `json:"-"`
}

// ConnectorRecord is one connector row as persisted in the Store.
type ConnectorRecord struct {
	ID                       string           `json:"id" yaml:"id"`
	OrganizationID           string           `json:"organizationId" yaml:"organizationId"`
	Name                     string           `json:"name" yaml:"name"`
	Vendor                   string           `json:"vendor,omitempty" yaml:"vendor,omitempty"`
	Type                     ConnectorType    `json:"type" yaml:"type"`
	IsActive                 bool             `json:"isActive" yaml:"isActive,omitempty"`
	Status                   ConnectorStatus  `json:"status" yaml:"status,omitempty"`
	LastSuccessfulConnection time.Time        `json:"lastSuccessfulConnection,omitempty" yaml:"-"`
	LastError                string           `json:"lastError,omitempty" yaml:"-"`
	ErrorCount               int              `json:"errorCount" yaml:"-"`
	Metrics                  ConnectorMetrics `json:"metrics" yaml:"-"`
	Configuration            ConnectorConfig  `json:"configuration" yaml:"configuration"`
}

// AgentRecord is one registered endpoint agent row.
type AgentRecord struct {
	ID              string                 `json:"id"`
	ConnectorID     string                 `json:"connectorId"`
	OrganizationID  string                 `json:"organizationId"`
	Hostname        string                 `json:"hostname"`
	IPAddress       string                 `json:"ipAddress"`
	OperatingSystem string                 `json:"operatingSystem"`
	Version         string                 `json:"version"`
	Capabilities    []string               `json:"capabilities,omitempty"`
	SystemInfo      map[string]interface{} `json:"systemInfo,omitempty"`
	Status          string                 `json:"status"`
	RegisteredAt    time.Time              `json:"registeredAt"`
	LastHeartbeat   time.Time              `json:"lastHeartbeat,omitempty"`
	LastMetrics     map[string]interface{} `json:"lastMetrics,omitempty"`
	CustomConfig    map[string]interface{} `json:"customConfig,omitempty"`
}

// TruncateTitle shortens an alert title to the persisted limit of 100
// characters.
func TruncateTitle(s string) string {
	const max = 100
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// ParseSeverity returns the Severity for a wire string, defaulting to info.
func ParseSeverity(s string) Severity {
	switch Severity(s) {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return Severity(s)
	}
	return SeverityInfo
}

// String implements fmt.Stringer for log fields.
func (c CursorState) String() string {
	if c.LastEventTimestamp.IsZero() && c.NextToken == "" {
		return "empty"
	}
	return fmt.Sprintf("token=%q last=%s", c.NextToken, c.LastEventTimestamp.Format(time.RFC3339))
}
