package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sigilsec/sentinel/core"
)

func validEvent() *core.RawEvent {
	return &core.RawEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Source:    "syslog",
		Type:      "syslog",
		Payload:   map[string]interface{}{"message": "ok"},
		Metadata: core.EventMetadata{
			ConnectorID:    "conn-1",
			OrganizationID: "org-1",
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	if err := Validate(validEvent()); err != nil {
		t.Errorf("valid event rejected: %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*core.RawEvent)
	}{
		{"bad id", func(e *core.RawEvent) { e.ID = "not-a-uuid" }},
		{"empty id", func(e *core.RawEvent) { e.ID = "" }},
		{"zero timestamp", func(e *core.RawEvent) { e.Timestamp = time.Time{} }},
		{"future timestamp", func(e *core.RawEvent) { e.Timestamp = time.Now().Add(25 * time.Hour) }},
		{"no source", func(e *core.RawEvent) { e.Source = "" }},
		{"no type", func(e *core.RawEvent) { e.Type = "" }},
		{"nil payload", func(e *core.RawEvent) { e.Payload = nil }},
		{"no connector", func(e *core.RawEvent) { e.Metadata.ConnectorID = "" }},
		{"no organization", func(e *core.RawEvent) { e.Metadata.OrganizationID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event := validEvent()
			tc.mutate(event)
			err := Validate(event)
			if !errors.Is(err, core.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestValidateNilEvent(t *testing.T) {
	if err := Validate(nil); !errors.Is(err, core.ErrValidation) {
		t.Errorf("nil event = %v, want ErrValidation", err)
	}
}

func TestValidateToleratesSmallSkew(t *testing.T) {
	event := validEvent()
	event.Timestamp = time.Now().Add(time.Hour)
	if err := Validate(event); err != nil {
		t.Errorf("one hour of skew should be tolerated: %v", err)
	}
}
