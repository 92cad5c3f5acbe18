package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
)

// WebhookConnector accepts pushed payloads on a configured HTTP path. The
// adapter never reaches for a global HTTP app: the transport layer asks
// each webhook connector for its path and routes requests into
// HandlePayload.
type WebhookConnector struct {
	*Base
}

// NewWebhookConnector validates the configuration and builds the adapter.
func NewWebhookConnector(rec *core.ConnectorRecord, store core.Store, b *bus.Bus, logger core.Logger) (*WebhookConnector, error) {
	cfg := rec.Configuration
	if err := cfg.Validate(core.ConnectorTypeWebhook); err != nil {
		return nil, err
	}
	rec.Configuration = cfg
	return &WebhookConnector{Base: NewBase(rec, store, b, logger)}, nil
}

// IsPull reports that this adapter is push-mode.
func (c *WebhookConnector) IsPull() bool { return false }

// Path returns the HTTP path this webhook is mounted on.
func (c *WebhookConnector) Path() string {
	cfg := c.Config().Webhook
	if cfg == nil {
		return ""
	}
	return cfg.Path
}

// Start transitions to active; the route itself is owned by the transport.
func (c *WebhookConnector) Start(ctx context.Context) error {
	if c.Status() == core.StatusActive {
		return nil
	}
	c.MarkStarted()
	c.SetStatus(ctx, core.StatusActive, "")
	return nil
}

// Stop transitions to paused; payloads arriving while paused are rejected
// by HandlePayload.
func (c *WebhookConnector) Stop(ctx context.Context) error {
	if c.Status() == core.StatusPaused {
		return nil
	}
	c.SetStatus(ctx, core.StatusPaused, "")
	return nil
}

// HealthCheck reports whether the webhook accepts payloads.
func (c *WebhookConnector) HealthCheck() bool {
	return c.Status() == core.StatusActive
}

// RunOnce is a no-op stats refresh for this push adapter.
func (c *WebhookConnector) RunOnce(ctx context.Context) error { return nil }

// TestConnection verifies the path configuration.
func (c *WebhookConnector) TestConnection(ctx context.Context) ProbeResult {
	if c.Path() == "" {
		return ProbeResult{Success: false, Message: "webhook path not configured"}
	}
	return ProbeResult{Success: true, Message: "webhook mounted on " + c.Path()}
}

// VerifySignature checks the HMAC-SHA256 signature header against the
// configured secret. Returns true when verification is disabled.
func (c *WebhookConnector) VerifySignature(body []byte, header string) bool {
	cfg := c.Config().Webhook
	if cfg == nil || !cfg.VerifySignature {
		return true
	}
	mac := hmac.New(sha256.New, []byte(cfg.SignatureSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	// Tolerate the common "sha256=" prefix.
	header = strings.TrimPrefix(strings.TrimSpace(header), "sha256=")
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(header)))
}

// SignatureHeader returns the header carrying the payload signature.
func (c *WebhookConnector) SignatureHeader() string {
	cfg := c.Config().Webhook
	if cfg == nil || cfg.SignatureHeader == "" {
		return "X-Webhook-Signature"
	}
	return cfg.SignatureHeader
}

// HandlePayload validates and emits one pushed payload. An invalid
// signature emits an error event and never emits the payload itself.
func (c *WebhookConnector) HandlePayload(ctx context.Context, body []byte, signatureHeader, sourceIP string) error {
	if c.Status() != core.StatusActive {
		return core.ErrConnectorDisabled
	}

	if !c.VerifySignature(body, signatureHeader) {
		c.Logger().Warn("Webhook signature mismatch", map[string]interface{}{
			"connector_id": c.ID(),
			"path":         c.Path(),
			"source_ip":    sourceIP,
		})
		errEvent := &core.RawEvent{
			ID:        uuid.New().String(),
			Timestamp: time.Now(),
			Source:    "webhook:" + c.Path(),
			Type:      "webhook-error",
			Payload: map[string]interface{}{
				"message":  "webhook signature verification failed",
				"severity": "high",
				"sourceIp": sourceIP,
			},
			Tags: []string{"webhook", "security"},
			Metadata: core.EventMetadata{
				ConnectorID:    c.ID(),
				OrganizationID: c.OrganizationID(),
				SourceIP:       sourceIP,
			},
		}
		c.Emit(errEvent, core.PriorityHigh)
		return core.ErrValidation
	}

	payload := map[string]interface{}{}
	if err := json.Unmarshal(body, &payload); err != nil {
		// Non-JSON payloads are carried verbatim.
		payload = map[string]interface{}{"raw": string(body)}
	}

	event := &core.RawEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Source:    "webhook:" + c.Path(),
		Type:      "webhook",
		Payload:   payload,
		Tags:      []string{"webhook"},
		Metadata: core.EventMetadata{
			ConnectorID:    c.ID(),
			OrganizationID: c.OrganizationID(),
			SourceIP:       sourceIP,
		},
	}
	if err := c.Emit(event, core.PriorityMedium); err != nil {
		return err
	}
	c.RecordEvent(len(body))
	return nil
}
