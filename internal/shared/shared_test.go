package shared

import (
	"testing"

	"github.com/charmbracelet/log"
)

func TestContentHash(t *testing.T) {
	tc := []struct {
		name  string
		a     any
		b     any
		equal bool
	}{
		{
			name:  "identical slices",
			a:     []string{"1", "2"},
			b:     []string{"1", "2"},
			equal: true,
		},
		{
			name:  "map key order does not matter",
			a:     map[string]int{"a": 1, "b": 2},
			b:     map[string]int{"b": 2, "a": 1},
			equal: true,
		},
		{
			name:  "different order in slice",
			a:     []string{"1", "2"},
			b:     []string{"2", "1"},
			equal: false,
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			ha, err := ContentHash(tt.a)
			if err != nil {
				t.Fatalf("ContentHash() error = %v", err)
			}
			hb, err := ContentHash(tt.b)
			if err != nil {
				t.Fatalf("ContentHash() error = %v", err)
			}
			if (ha == hb) != tt.equal {
				t.Errorf("ContentHash equality = %v, want %v", ha == hb, tt.equal)
			}
			if len(ha) != 64 {
				t.Errorf("expected 64 hex chars, got %d", len(ha))
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	tc := []struct {
		in   string
		want log.Level
	}{
		{in: "debug", want: log.DebugLevel},
		{in: " WARN ", want: log.WarnLevel},
		{in: "", want: log.InfoLevel},
		{in: "chatty", want: log.InfoLevel},
	}

	for _, tt := range tc {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLogLevel(tt.in); got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	a, b := GenerateID(), GenerateID()
	if a == b {
		t.Error("expected unique ids")
	}
	if len(a) != 36 {
		t.Errorf("expected uuid string, got %q", a)
	}
}
