package identity

import (
	"errors"
	"testing"
)

const authority = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

func TestParse_Valid(t *testing.T) {
	id, err := Parse(authority + "/3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.Authority != authority {
		t.Errorf("expected authority=%s, got %s", authority, id.Authority)
	}
	if id.SubAccountID != 3 {
		t.Errorf("expected subaccount=3, got %d", id.SubAccountID)
	}
}

func TestParse_DefaultSubAccount(t *testing.T) {
	id, err := Parse(authority)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.SubAccountID != 0 {
		t.Errorf("expected subaccount=0, got %d", id.SubAccountID)
	}
}

func TestParse_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"/0",
		authority + "/",
		authority + "/-1",
		authority + "/1/2",
		authority + "/65536",         // beyond uint16
		"0OIl" + authority[4:],       // characters outside base58
		"short",                      // too short for a public key
		authority + authority + "/0", // too long
	}
	for _, s := range tests {
		if _, err := Parse(s); err == nil {
			t.Errorf("expected error for %q", s)
		}
	}
}

func TestParseParts_Errors(t *testing.T) {
	_, err := ParseParts("not-base58!", "0")
	if !errors.Is(err, ErrInvalidAuthority) {
		t.Errorf("expected ErrInvalidAuthority, got %v", err)
	}

	_, err = ParseParts(authority, "abc")
	if !errors.Is(err, ErrInvalidSubAccount) {
		t.Errorf("expected ErrInvalidSubAccount, got %v", err)
	}
}

func TestParse_RoundTrip(t *testing.T) {
	id, err := ParseParts(authority, "65535")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := Parse(id.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again != id {
		t.Errorf("round trip changed id: %v -> %v", id, again)
	}
}
