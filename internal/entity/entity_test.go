package entity

import (
	"strings"
	"testing"
)

func TestNewIDsAreValidAndOrdered(t *testing.T) {
	a := NewTurnID()
	b := NewTurnID()
	if _, err := ParseTurnID(string(a)); err != nil {
		t.Fatalf("generated id failed to parse: %v", err)
	}
	if string(a) >= string(b) {
		t.Errorf("ids not monotonic: %s then %s", a, b)
	}
}

func TestParseIDRejectsMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-ulid",
		"01HZXW3E8PJQK3YV5M2T7R9BC",   // too short
		"01HZXW3E8PJQK3YV5M2T7R9BCDX", // too long
		strings.ToLower("01HZXW3E8PJQK3YV5M2T7R9BCD"),
	}
	for _, in := range cases {
		if _, err := ParseScopeID(in); err == nil {
			t.Errorf("ParseScopeID(%q) accepted malformed id", in)
		}
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Billing", "billing"},
		{"  Billing  Schema ", "billing schema"},
		{"a\tb\nc", "a b c"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"one", 2},
		{"one two three four", 6},
		{"ten words spread out across this short test sentence here", 13},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.in); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestHashContent(t *testing.T) {
	// SHA-256 of the empty string.
	if got := HashContent(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("HashContent(\"\") = %s", got)
	}
	if HashContent("a") == HashContent("b") {
		t.Error("distinct content hashed to the same digest")
	}
	if len(HashContent("content")) != 64 {
		t.Error("digest is not 64 hex chars")
	}
}

func TestMemoryLimitValid(t *testing.T) {
	cases := []struct {
		limit MemoryLimit
		want  bool
	}{
		{MemoryLimit{}, false},
		{MemoryLimit{MaxTokens: -1}, false},
		{MemoryLimit{MaxTokens: 100}, true},
		{MemoryLimit{MaxTurns: 5}, true},
		{MemoryLimit{MaxTokens: 100, MaxTurns: 5}, true},
	}
	for _, tc := range cases {
		if got := tc.limit.Valid(); got != tc.want {
			t.Errorf("Valid(%+v) = %v, want %v", tc.limit, got, tc.want)
		}
	}
}

func TestDelegationStatusTerminal(t *testing.T) {
	terminal := []DelegationStatus{DelegationCompleted, DelegationRejected, DelegationFailed}
	open := []DelegationStatus{DelegationPending, DelegationAccepted, DelegationInProgress}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range open {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
