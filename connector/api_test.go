package connector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sigilsec/sentinel/bus"
	"github.com/sigilsec/sentinel/core"
)

// stubSourceClient scripts FetchBatch responses per call.
type stubSourceClient struct {
	mu       sync.Mutex
	batches  [][]*core.RawEvent
	cursors  []core.CursorState
	errs     []error
	call     int
	probeErr error
}

func (s *stubSourceClient) Probe(ctx context.Context) error { return s.probeErr }

func (s *stubSourceClient) FetchBatch(ctx context.Context, endpoint string, cursor core.CursorState) ([]*core.RawEvent, core.CursorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.call
	s.call++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, core.CursorState{}, s.errs[i]
	}
	var events []*core.RawEvent
	if i < len(s.batches) {
		events = s.batches[i]
	}
	var next core.CursorState
	if i < len(s.cursors) {
		next = s.cursors[i]
	}
	return events, next, nil
}

func apiEvent(ts time.Time) *core.RawEvent {
	return &core.RawEvent{
		ID:        uuid.New().String(),
		Timestamp: ts,
		Source:    "api",
		Type:      "api-event",
		Payload:   map[string]interface{}{"message": "ok"},
	}
}

func newTestAPIConnector(t *testing.T, client core.SourceClient) (*APIConnector, *fakeStore) {
	t.Helper()
	st := newFakeStore()
	c, err := NewAPIConnector(testRecord(core.ConnectorTypeAPI), client, st, bus.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	c.SetEmitter(func(event *core.RawEvent, priority core.Priority) error { return nil })
	return c, st
}

func TestAPIConnectorRequiresClient(t *testing.T) {
	_, err := NewAPIConnector(testRecord(core.ConnectorTypeAPI), nil, newFakeStore(), bus.New(), nil)
	if !errors.Is(err, core.ErrConfigInvalid) {
		t.Errorf("nil client should be ErrConfigInvalid, got %v", err)
	}
}

func TestAPIConnectorCursorAdvance(t *testing.T) {
	ctx := context.Background()
	t1 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	client := &stubSourceClient{
		batches: [][]*core.RawEvent{
			{apiEvent(t1), apiEvent(t2)},
			{}, // second poll returns nothing
		},
		cursors: []core.CursorState{
			{NextToken: "tok-1"},
			{}, // provider sends no token on the empty page
		},
	}
	c, _ := newTestAPIConnector(t, client)

	if err := c.RunOnce(ctx); err != nil {
		t.Fatalf("first RunOnce failed: %v", err)
	}
	cur := c.Cursor()
	if cur.NextToken != "tok-1" {
		t.Errorf("token after first run = %q, want tok-1", cur.NextToken)
	}
	if !cur.LastEventTimestamp.Equal(t2) {
		t.Errorf("timestamp after first run = %s, want %s", cur.LastEventTimestamp, t2)
	}

	if err := c.RunOnce(ctx); err != nil {
		t.Fatalf("second RunOnce failed: %v", err)
	}
	cur = c.Cursor()
	// The token tracks the provider verbatim; the timestamp never moves
	// backwards on an empty page.
	if cur.NextToken != "" {
		t.Errorf("token after empty run = %q, want empty", cur.NextToken)
	}
	if !cur.LastEventTimestamp.Equal(t2) {
		t.Errorf("timestamp after empty run = %s, want %s", cur.LastEventTimestamp, t2)
	}
}

func TestAPIConnectorFetchFailureSetsError(t *testing.T) {
	ctx := context.Background()
	client := &stubSourceClient{errs: []error{errors.New("upstream 500")}}
	c, _ := newTestAPIConnector(t, client)

	if err := c.RunOnce(ctx); err == nil {
		t.Fatal("RunOnce should surface the fetch error")
	}
	if c.Status() != core.StatusError {
		t.Errorf("status = %s, want error", c.Status())
	}
	if c.ErrorCount() != 1 {
		t.Errorf("error streak = %d, want 1", c.ErrorCount())
	}
}

func TestAPIConnectorFailedRunKeepsCursor(t *testing.T) {
	ctx := context.Background()
	client := &stubSourceClient{errs: []error{errors.New("upstream 500")}}
	c, st := newTestAPIConnector(t, client)

	if err := c.RunOnce(ctx); err == nil {
		t.Fatal("RunOnce should surface the fetch error")
	}
	if cur := c.Cursor(); cur.NextToken != "" || !cur.LastEventTimestamp.IsZero() {
		t.Errorf("cursor moved on a fully failed run: %+v", cur)
	}
	// A run where nothing was fetched never claims a successful connection.
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, u := range st.updates {
		if u.LastSuccessfulConnection != nil {
			t.Error("failed run recorded lastSuccessfulConnection")
		}
	}
}

func TestAPIConnectorRateLimited(t *testing.T) {
	ctx := context.Background()
	deadline := time.Now().Add(time.Minute)
	client := &stubSourceClient{errs: []error{&core.RateLimitedError{RetryAfter: deadline}}}
	c, _ := newTestAPIConnector(t, client)

	err := c.RunOnce(ctx)
	if err == nil {
		t.Fatal("RunOnce should surface rate limiting")
	}
	got, ok := core.RetryAfter(err)
	if !ok || !got.Equal(deadline) {
		t.Errorf("RetryAfter = %v, %v; want %v, true", got, ok, deadline)
	}
}

func TestAPIConnectorStartProbe(t *testing.T) {
	ctx := context.Background()

	healthy, _ := newTestAPIConnector(t, &stubSourceClient{})
	if err := healthy.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if healthy.Status() != core.StatusActive {
		t.Errorf("status = %s, want active", healthy.Status())
	}

	down, _ := newTestAPIConnector(t, &stubSourceClient{probeErr: errors.New("refused")})
	err := down.Start(ctx)
	if !errors.Is(err, core.ErrAdapterUnavailable) {
		t.Errorf("failed probe = %v, want ErrAdapterUnavailable", err)
	}
	if down.Status() != core.StatusError {
		t.Errorf("status = %s, want error", down.Status())
	}
}

func TestAPIConnectorTestConnectionLeavesCursor(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestAPIConnector(t, &stubSourceClient{})

	before := c.Cursor()
	result := c.TestConnection(ctx)
	if !result.Success {
		t.Fatalf("probe failed: %s", result.Message)
	}
	if c.Cursor() != before {
		t.Error("TestConnection must not touch the cursor")
	}
}
