package connector

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
)

type captured struct {
	mu       sync.Mutex
	events   []*core.RawEvent
	priority []core.Priority
}

func (c *captured) emit(event *core.RawEvent, priority core.Priority) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	c.priority = append(c.priority, priority)
	return nil
}

func newTestWebhookConnector(t *testing.T, cfg *core.WebhookConfig) (*WebhookConnector, *captured) {
	t.Helper()
	rec := testRecord(core.ConnectorTypeWebhook)
	rec.Configuration.Webhook = cfg
	c, err := NewWebhookConnector(rec, newFakeStore(), bus.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	cap := &captured{}
	c.SetEmitter(cap.emit)
	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return c, cap
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	c, _ := newTestWebhookConnector(t, &core.WebhookConfig{
		Path:            "/hook",
		VerifySignature: true,
		SignatureSecret: "s3cret",
	})

	body := []byte(`{"event":"login"}`)
	good := sign("s3cret", body)

	if !c.VerifySignature(body, good) {
		t.Error("valid signature rejected")
	}
	if !c.VerifySignature(body, "sha256="+good) {
		t.Error("sha256= prefix should be tolerated")
	}
	if c.VerifySignature(body, sign("wrong", body)) {
		t.Error("signature from the wrong secret accepted")
	}
	if c.VerifySignature(body, "") {
		t.Error("empty signature accepted")
	}
}

func TestVerifySignatureDisabled(t *testing.T) {
	c, _ := newTestWebhookConnector(t, &core.WebhookConfig{Path: "/hook"})
	if !c.VerifySignature([]byte("anything"), "") {
		t.Error("disabled verification must accept every payload")
	}
}

func TestHandlePayloadEmits(t *testing.T) {
	c, cap := newTestWebhookConnector(t, &core.WebhookConfig{Path: "/hook"})

	err := c.HandlePayload(context.Background(), []byte(`{"action":"blocked"}`), "", "203.0.113.9")
	if err != nil {
		t.Fatalf("HandlePayload failed: %v", err)
	}
	if len(cap.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(cap.events))
	}
	event := cap.events[0]
	if event.Source != "webhook:/hook" || event.Type != "webhook" {
		t.Errorf("event source/type = %q/%q", event.Source, event.Type)
	}
	if event.Payload["action"] != "blocked" {
		t.Errorf("payload = %v", event.Payload)
	}
	if cap.priority[0] != core.PriorityMedium {
		t.Errorf("priority = %s, want medium", cap.priority[0])
	}
	if event.Metadata.SourceIP != "203.0.113.9" {
		t.Errorf("source ip = %q", event.Metadata.SourceIP)
	}
}

func TestHandlePayloadNonJSON(t *testing.T) {
	c, cap := newTestWebhookConnector(t, &core.WebhookConfig{Path: "/hook"})

	if err := c.HandlePayload(context.Background(), []byte("plain text"), "", ""); err != nil {
		t.Fatalf("HandlePayload failed: %v", err)
	}
	if cap.events[0].Payload["raw"] != "plain text" {
		t.Errorf("non-JSON body should be carried under raw, got %v", cap.events[0].Payload)
	}
}

func TestHandlePayloadBadSignature(t *testing.T) {
	c, cap := newTestWebhookConnector(t, &core.WebhookConfig{
		Path:            "/hook",
		VerifySignature: true,
		SignatureSecret: "s3cret",
	})

	err := c.HandlePayload(context.Background(), []byte(`{"x":1}`), "deadbeef", "198.51.100.4")
	if !errors.Is(err, core.ErrValidation) {
		t.Fatalf("bad signature = %v, want ErrValidation", err)
	}

	// The payload itself is never emitted; a single high-priority error
	// event takes its place.
	if len(cap.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(cap.events))
	}
	if cap.events[0].Type != "webhook-error" {
		t.Errorf("event type = %q, want webhook-error", cap.events[0].Type)
	}
	if cap.priority[0] != core.PriorityHigh {
		t.Errorf("priority = %s, want high", cap.priority[0])
	}
}

func TestHandlePayloadPaused(t *testing.T) {
	c, cap := newTestWebhookConnector(t, &core.WebhookConfig{Path: "/hook"})
	if err := c.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := c.HandlePayload(context.Background(), []byte(`{}`), "", "")
	if !errors.Is(err, core.ErrConnectorDisabled) {
		t.Fatalf("paused webhook = %v, want ErrConnectorDisabled", err)
	}
	if len(cap.events) != 0 {
		t.Errorf("paused webhook emitted %d events", len(cap.events))
	}
}
