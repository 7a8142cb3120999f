package conversation

import (
	"testing"

	"github.com/sebashdez96/biotecza-bot/internal/store"
)

func TestStateRoundTrip(t *testing.T) {
	seen := make(map[string]State)
	for _, s := range AllStates() {
		tok := s.String()
		if prev, dup := seen[tok]; dup {
			t.Errorf("states %d and %d share token %q", prev, s, tok)
		}
		seen[tok] = s
		if got := ParseState(tok); got != s {
			t.Errorf("ParseState(%q) = %v, want %v", tok, got, s)
		}
	}
	if len(seen) != 15 {
		t.Errorf("expected 15 states, got %d", len(seen))
	}
}

func TestParseStateUnknownIsStart(t *testing.T) {
	for _, tok := range []string{"", "inicio", "ESPERANDO_PAGO", "MENU_FARMACIA "} {
		if got := ParseState(tok); got != Start {
			t.Errorf("ParseState(%q) = %v, want Start", tok, got)
		}
	}
}

func TestOutOfRangeStateRendersStart(t *testing.T) {
	if got := State(99).String(); got != "INICIO" {
		t.Errorf("State(99).String() = %q", got)
	}
}

func TestDefaultStateTokenIsStart(t *testing.T) {
	if store.DefaultStateToken != Start.String() {
		t.Errorf("store default %q differs from Start token %q", store.DefaultStateToken, Start.String())
	}
}

func TestValidEmail(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"a@b.co", true},
		{"  Ana.Lopez@Example.MX  ", true},
		{"a@b", false},
		{"a b@c.com", false},
		{"@b.co", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidEmail(tt.in); got != tt.want {
			t.Errorf("ValidEmail(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidCURP(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"LOPA900101MDFRRN09", true},
		{"123456789012345678", true},
		{"ÑOPA900101MDFRRN09", true},
		{"LOPA900101MDFRRN0", false},
		{"LOPA900101MDFRRN091", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidCURP(tt.in); got != tt.want {
			t.Errorf("ValidCURP(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
