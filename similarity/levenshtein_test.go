package similarity

import (
	"math"
	"testing"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"phones", "phone", 1},
		{"café", "cafe", 1},
		{"flaw", "lawn", 2},
	}

	for _, tt := range tests {
		if got := Distance(tt.a, tt.b); got != tt.expected {
			t.Errorf("Distance(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.expected)
		}
		if got := Distance(tt.b, tt.a); got != tt.expected {
			t.Errorf("Distance(%q, %q) = %d, want %d", tt.b, tt.a, got, tt.expected)
		}
	}
}

func TestBoundedDistance(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		limit    int
		expected int
	}{
		{"within limit", "kitten", "sitting", 3, 3},
		{"over limit", "kitten", "sitting", 1, 2},
		{"length difference over limit", "abc", "abcdef", 2, 3},
		{"zero limit identical", "same", "same", 0, 0},
		{"zero limit different", "same", "sane", 0, 1},
		{"unbounded", "kitten", "sitting", -1, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BoundedDistance(tt.a, tt.b, tt.limit); got != tt.expected {
				t.Errorf("BoundedDistance(%q, %q, %d) = %d, want %d", tt.a, tt.b, tt.limit, got, tt.expected)
			}
		})
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		a, b     string
		expected float64
	}{
		{"", "", 1.0},
		{"abc", "abc", 1.0},
		{"abcd", "abce", 0.75},
		{"", "abcd", 0},
		{"phones", "phone", 1.0 - 1.0/6.0},
	}

	for _, tt := range tests {
		if got := Ratio(tt.a, tt.b); math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("Ratio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.expected)
		}
	}
}
