// Package pipeline turns raw adapter events into persisted alerts. An
// event moves through four phases: validate, parse, enrich, persist.
// Validation failures discard the event; parse and enrich failures
// degrade; only persistence failures surface to the queue for retry.
package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sigilsec/sentinel/core"
)

// maxClockSkew bounds how far in the future an event timestamp may sit
// before it is rejected as malformed.
const maxClockSkew = 24 * time.Hour

// Validate checks the structural contract of a raw event. A failure is
// terminal: the event is discarded and never retried.
func Validate(event *core.RawEvent) error {
	if event == nil {
		return fmt.Errorf("nil event: %w", core.ErrValidation)
	}
	if _, err := uuid.Parse(event.ID); err != nil {
		return fmt.Errorf("event id %q is not a UUID: %w", event.ID, core.ErrValidation)
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("event %s has no timestamp: %w", event.ID, core.ErrValidation)
	}
	if event.Timestamp.After(time.Now().Add(maxClockSkew)) {
		return fmt.Errorf("event %s timestamp is in the future: %w", event.ID, core.ErrValidation)
	}
	if event.Source == "" {
		return fmt.Errorf("event %s has no source: %w", event.ID, core.ErrValidation)
	}
	if event.Type == "" {
		return fmt.Errorf("event %s has no type: %w", event.ID, core.ErrValidation)
	}
	if event.Payload == nil {
		return fmt.Errorf("event %s has no payload: %w", event.ID, core.ErrValidation)
	}
	if event.Metadata.ConnectorID == "" {
		return fmt.Errorf("event %s has no connector id: %w", event.ID, core.ErrValidation)
	}
	if event.Metadata.OrganizationID == "" {
		return fmt.Errorf("event %s has no organization id: %w", event.ID, core.ErrValidation)
	}
	return nil
}
