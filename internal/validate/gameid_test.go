package validate

import (
	"errors"
	"strings"
	"testing"
)

func TestGameID(t *testing.T) {
	valid := []string{
		"my-crew",
		"friday-raid",
		"a",
		"a1",
		"family",
		"test123",
	}
	for _, id := range valid {
		if err := GameID(id); err != nil {
			t.Errorf("GameID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []struct {
		id   string
		desc string
	}{
		{"", "empty"},
		{"My-Crew", "uppercase"},
		{"GAME", "all uppercase"},
		{"my game", "space"},
		{"-dash-start", "starts with hyphen"},
		{"dash-end-", "ends with hyphen"},
		{"-", "single hyphen"},
		{"has.dots", "dot"},
		{"has/slash", "slash"},
		{"foo/../../etc", "path traversal"},
		{strings.Repeat("a", 64), "too long (64 chars)"},
		{"hello!", "exclamation"},
	}
	for _, tc := range invalid {
		if err := GameID(tc.id); err == nil {
			t.Errorf("GameID(%q) [%s] = nil, want error", tc.id, tc.desc)
		}
	}
}

func TestGameID_MaxLength(t *testing.T) {
	if err := GameID(strings.Repeat("a", 63)); err != nil {
		t.Errorf("GameID(63 chars) = %v, want nil", err)
	}
	if err := GameID(strings.Repeat("a", 64)); err == nil {
		t.Error("GameID(64 chars) = nil, want error")
	}
}

func TestGameID_SentinelError(t *testing.T) {
	err := GameID("INVALID")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrInvalidGameID) {
		t.Errorf("error should wrap ErrInvalidGameID, got: %v", err)
	}
}
