package textutil

import (
	"strings"
	"testing"
)

func TestValidRoomName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"lobby", true},
		{"dev_chat-1", true},
		{"a", true},
		{strings.Repeat("a", 24), true},
		{strings.Repeat("a", 25), false},
		{"", false},
		{"TOO_BIG_AND_UPPER", false},
		{"bad*chars", false},
		{"white space", false},
		{"  lobby  ", true},
	}
	for _, tt := range tests {
		if got := ValidRoomName(tt.name); got != tt.want {
			t.Errorf("ValidRoomName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestValidHandle(t *testing.T) {
	tests := []struct {
		handle string
		want   bool
	}{
		{"alice", true},
		{"ab", true},
		{"a", false},
		{strings.Repeat("b", 16), true},
		{strings.Repeat("b", 17), false},
		{"Alice", false},
		{"usr-0a1b2c3d", true},
		{"é-accent", false},
	}
	for _, tt := range tests {
		if got := ValidHandle(tt.handle); got != tt.want {
			t.Errorf("ValidHandle(%q) = %v, want %v", tt.handle, got, tt.want)
		}
	}
}

func TestNormalizeBody(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"keeps newline and tab", "a\nb\tc", "a\nb\tc"},
		{"strips bell and escape", "a\x07b\x1b[31mc", "ab[31mc"},
		{"strips carriage return", "a\r\nb", "a\nb"},
		{"nfkc fullwidth", "ｈｅｌｌｏ", "hello"},
		{"nfkc ligature", "ﬁ", "fi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeBody(tt.in); got != tt.want {
				t.Errorf("NormalizeBody(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRuneLen(t *testing.T) {
	if got := RuneLen("héllo"); got != 5 {
		t.Errorf("RuneLen() = %v, want 5", got)
	}
}
