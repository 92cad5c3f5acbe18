package core

import (
	"strings"
	"testing"
)

func TestSeverityRankOrder(t *testing.T) {
	ordered := []Severity{SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Rank() <= ordered[i-1].Rank() {
			t.Errorf("expected %s to rank above %s", ordered[i], ordered[i-1])
		}
	}
	if Severity("bogus").Rank() != 0 {
		t.Errorf("unknown severity should rank 0, got %d", Severity("bogus").Rank())
	}
}

func TestSeverityAtLeast(t *testing.T) {
	if !SeverityCritical.AtLeast(SeverityHigh) {
		t.Error("critical should be at least high")
	}
	if !SeverityHigh.AtLeast(SeverityHigh) {
		t.Error("high should be at least high")
	}
	if SeverityMedium.AtLeast(SeverityHigh) {
		t.Error("medium should not be at least high")
	}
}

func TestPriorityBandIndex(t *testing.T) {
	cases := []struct {
		priority Priority
		band     int
	}{
		{PriorityCritical, 0},
		{PriorityHigh, 1},
		{PriorityMedium, 2},
		{PriorityLow, 3},
		{Priority("unknown"), 3},
	}
	for _, tc := range cases {
		if got := tc.priority.BandIndex(); got != tc.band {
			t.Errorf("BandIndex(%s) = %d, want %d", tc.priority, got, tc.band)
		}
	}
}

func TestPriorityMaxAttempts(t *testing.T) {
	if got := PriorityCritical.MaxAttempts(); got != 5 {
		t.Errorf("critical max attempts = %d, want 5", got)
	}
	for _, p := range []Priority{PriorityHigh, PriorityMedium, PriorityLow} {
		if got := p.MaxAttempts(); got != 3 {
			t.Errorf("%s max attempts = %d, want 3", p, got)
		}
	}
}

func TestTruncateTitle(t *testing.T) {
	short := "disk almost full"
	if got := TruncateTitle(short); got != short {
		t.Errorf("short title modified: %q", got)
	}

	exact := strings.Repeat("a", 100)
	if got := TruncateTitle(exact); got != exact {
		t.Errorf("title of exactly 100 runes modified: %d chars", len(got))
	}

	long := strings.Repeat("b", 101)
	if got := TruncateTitle(long); len([]rune(got)) != 100 {
		t.Errorf("truncated length = %d, want 100", len([]rune(got)))
	}

	// Multibyte text truncates on rune boundaries.
	wide := strings.Repeat("é", 150)
	got := TruncateTitle(wide)
	if len([]rune(got)) != 100 {
		t.Errorf("multibyte truncated length = %d runes, want 100", len([]rune(got)))
	}
}

func TestParseSeverity(t *testing.T) {
	if got := ParseSeverity("critical"); got != SeverityCritical {
		t.Errorf("ParseSeverity(critical) = %s", got)
	}
	if got := ParseSeverity("nonsense"); got != SeverityInfo {
		t.Errorf("unknown severity should default to info, got %s", got)
	}
	if got := ParseSeverity(""); got != SeverityInfo {
		t.Errorf("empty severity should default to info, got %s", got)
	}
}

func TestConnectorTypeValid(t *testing.T) {
	for _, typ := range []ConnectorType{ConnectorTypeAPI, ConnectorTypeSyslog, ConnectorTypeAgent, ConnectorTypeWebhook} {
		if !typ.Valid() {
			t.Errorf("%s should be valid", typ)
		}
	}
	if ConnectorType("ftp").Valid() {
		t.Error("ftp should not be a valid connector type")
	}
}
