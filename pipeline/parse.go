package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/sigilsec/sentinel/core"
)

// syslogSeverity maps RFC 5424 numeric severity onto the alert scale.
var syslogSeverity = map[int]core.Severity{
	0: core.SeverityCritical,
	1: core.SeverityCritical,
	2: core.SeverityCritical,
	3: core.SeverityHigh,
	4: core.SeverityMedium,
	5: core.SeverityLow,
	6: core.SeverityInfo,
	7: core.SeverityInfo,
}

// Parse converts a validated raw event into structured data. Dispatch is
// on the event type: known formats get a dedicated parser, everything
// else falls back to the generic keyword heuristic. Payloads that declare
// structured=true bypass parsing entirely.
func Parse(event *core.RawEvent) (*core.StructuredData, error) {
	if b, ok := event.Payload["structured"].(bool); ok && b {
		return parseStructured(event)
	}

	switch {
	case event.Type == "syslog":
		return parseSyslog(event), nil
	case event.Type == "cloudwatch" || strings.HasPrefix(event.Type, "cloudwatch:"):
		return parseCloudWatch(event), nil
	case strings.HasPrefix(event.Type, "google-workspace"):
		return parseGoogleWorkspace(event), nil
	default:
		return ParseGeneric(event), nil
	}
}

// parseStructured passes a pre-structured payload through unchanged.
func parseStructured(event *core.RawEvent) (*core.StructuredData, error) {
	msg := payloadString(event.Payload, "message")
	if msg == "" {
		return nil, fmt.Errorf("structured payload without message: %w", core.ErrParse)
	}
	sd := &core.StructuredData{
		Timestamp:     event.Timestamp,
		Severity:      core.ParseSeverity(payloadString(event.Payload, "severity")),
		Source:        event.Source,
		SourceIP:      firstNonEmpty(payloadString(event.Payload, "sourceIp"), event.Metadata.SourceIP),
		DestinationIP: payloadString(event.Payload, "destinationIp"),
		Message:       msg,
		Data:          event.Payload,
	}
	return sd, nil
}

// ParseGeneric is the fallback parser: severity comes from an explicit
// severity field when present, else from the keyword heuristic over the
// message text.
func ParseGeneric(event *core.RawEvent) *core.StructuredData {
	msg := payloadString(event.Payload, "message")
	if msg == "" {
		msg = fmt.Sprintf("%s event from %s", event.Type, event.Source)
	}
	severity := core.SeverityInfo
	if s := payloadString(event.Payload, "severity"); s != "" {
		severity = core.ParseSeverity(s)
	} else {
		severity = SeverityFromKeywords(msg)
	}
	return &core.StructuredData{
		Timestamp:     event.Timestamp,
		Severity:      severity,
		Source:        event.Source,
		SourceIP:      firstNonEmpty(payloadString(event.Payload, "sourceIp"), event.Metadata.SourceIP),
		DestinationIP: payloadString(event.Payload, "destinationIp"),
		Message:       msg,
		Data:          event.Payload,
	}
}

// SeverityFromKeywords classifies free text by the first matching keyword
// group. "alert" lands in the critical group even when the text is about
// an informational alert; providers that need finer grading should send an
// explicit severity field.
func SeverityFromKeywords(text string) core.Severity {
	lower := strings.ToLower(text)
	switch {
	case containsAny(lower, "critical", "emergency", "alert"):
		return core.SeverityCritical
	case containsAny(lower, "error", "failure", "failed"):
		return core.SeverityHigh
	case containsAny(lower, "warning", "warn"):
		return core.SeverityMedium
	case containsAny(lower, "notice", "info"):
		return core.SeverityLow
	default:
		return core.SeverityInfo
	}
}

// parseSyslog maps the numeric syslog severity with the fixed table and
// carries the host fields into the structured form. A severity sent as a
// string (relays that pre-grade their messages) is taken verbatim.
func parseSyslog(event *core.RawEvent) *core.StructuredData {
	msg := payloadString(event.Payload, "message")
	if msg == "" {
		msg = payloadString(event.Payload, "rawMessage")
	}
	severity := core.SeverityInfo
	if n, ok := payloadInt(event.Payload, "severity"); ok {
		if mapped, known := syslogSeverity[n]; known {
			severity = mapped
		}
	} else if s := payloadString(event.Payload, "severity"); s != "" {
		severity = core.ParseSeverity(s)
	}
	return &core.StructuredData{
		Timestamp: event.Timestamp,
		Severity:  severity,
		Source:    firstNonEmpty(payloadString(event.Payload, "hostname"), event.Source),
		SourceIP:  firstNonEmpty(payloadString(event.Payload, "sourceIp"), event.Metadata.SourceIP),
		Message:   msg,
		Data:      event.Payload,
	}
}

// parseCloudWatch handles CloudWatch Logs subscription records: the message
// text drives the keyword heuristic and the log group becomes the source.
func parseCloudWatch(event *core.RawEvent) *core.StructuredData {
	msg := payloadString(event.Payload, "message")
	source := event.Source
	if lg := payloadString(event.Payload, "logGroup"); lg != "" {
		source = "cloudwatch:" + lg
	}
	ts := event.Timestamp
	if ms, ok := payloadInt(event.Payload, "timestamp"); ok && ms > 0 {
		ts = time.UnixMilli(int64(ms))
	}
	return &core.StructuredData{
		Timestamp: ts,
		Severity:  SeverityFromKeywords(msg),
		Source:    source,
		SourceIP:  payloadString(event.Payload, "sourceIp"),
		Message:   msg,
		Data:      event.Payload,
	}
}

// googleWorkspaceSeverity grades admin audit activity names.
var googleWorkspaceSeverity = map[string]core.Severity{
	"suspicious_login":             core.SeverityCritical,
	"account_disabled_hijacked":    core.SeverityCritical,
	"login_failure":                core.SeverityHigh,
	"suspicious_login_less_secure": core.SeverityHigh,
	"account_disabled_generic":     core.SeverityHigh,
	"password_edit":                core.SeverityMedium,
	"2sv_disable":                  core.SeverityMedium,
	"login_success":                core.SeverityInfo,
	"logout":                       core.SeverityInfo,
}

// parseGoogleWorkspace handles admin SDK activity reports.
func parseGoogleWorkspace(event *core.RawEvent) *core.StructuredData {
	name := payloadString(event.Payload, "eventName")
	actor := payloadString(event.Payload, "actorEmail")
	msg := payloadString(event.Payload, "message")
	if msg == "" {
		if actor != "" {
			msg = fmt.Sprintf("%s by %s", name, actor)
		} else {
			msg = name
		}
	}
	severity, ok := googleWorkspaceSeverity[name]
	if !ok {
		severity = SeverityFromKeywords(name)
	}
	return &core.StructuredData{
		Timestamp: event.Timestamp,
		Severity:  severity,
		Source:    event.Source,
		SourceIP:  firstNonEmpty(payloadString(event.Payload, "ipAddress"), event.Metadata.SourceIP),
		Message:   msg,
		Data:      event.Payload,
	}
}

func payloadString(payload map[string]interface{}, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// payloadInt reads a numeric payload field. JSON decoding yields float64;
// adapters that construct payloads directly use int.
func payloadInt(payload map[string]interface{}, key string) (int, bool) {
	switch v := payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
