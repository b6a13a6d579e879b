package sip

import "testing"

func TestExtractCallerID(t *testing.T) {
	tests := []struct {
		name        string
		displayName string
		user        string
		want        string
	}{
		{"quoted number in display name", `"015901969502"`, "anonymous", "015901969502"},
		{"plain number in display name", "015901969502", "trunk", "015901969502"},
		{"international display name", "+4915901969502", "trunk", "+4915901969502"},
		{"number only in uri user", "Alice", "015901969502", "015901969502"},
		{"number in both, display name wins", "0159", "0049159", "0159"},
		{"no number anywhere", "Alice", "alice", "alice"},
		{"empty from", "", "", "unknown"},
		{"whitespace display name", "  ", "12345", "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractCallerID(tt.displayName, tt.user); got != tt.want {
				t.Errorf("ExtractCallerID(%q, %q) = %q, want %q",
					tt.displayName, tt.user, got, tt.want)
			}
		})
	}
}

func TestIsPhoneNumber(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"015901969502", true},
		{"+4915901969502", true},
		{"", false},
		{"+", false},
		{"abc", false},
		{"0159a", false},
	}
	for _, tt := range tests {
		if got := isPhoneNumber(tt.in); got != tt.want {
			t.Errorf("isPhoneNumber(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
