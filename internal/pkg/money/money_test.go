package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr error
	}{
		{"37.50", 3750, nil},
		{"100", 10000, nil},
		{"0.01", 1, nil},
		{"500.00", 50000, nil},
		{"1.005", 0, ErrPrecision},
		{"abc", 0, ErrInvalidAmount},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Parse(%q): expected %v, got %v", tt.in, tt.wantErr, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("Parse(%q): unexpected error %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFormat(t *testing.T) {
	if got := Format(6250); got != "62.50" {
		t.Fatalf("expected 62.50, got %s", got)
	}
	if got := Format(0); got != "0.00" {
		t.Fatalf("expected 0.00, got %s", got)
	}
}

func TestCeilUnit(t *testing.T) {
	if got := CeilUnit(decimal.RequireFromString("37.01")); got != 3800 {
		t.Fatalf("expected 3800, got %d", got)
	}
	if got := CeilUnit(decimal.RequireFromString("37")); got != 3700 {
		t.Fatalf("expected 3700, got %d", got)
	}
}

func TestDriftExceeds(t *testing.T) {
	ref := decimal.RequireFromString("10.00")
	tests := []struct {
		current string
		want    bool
	}{
		{"10.00", false},
		{"11.00", false}, // exactly 10% is tolerated
		{"9.00", false},
		{"11.01", true},
		{"8.99", true},
	}
	for _, tt := range tests {
		if got := DriftExceeds(ref, decimal.RequireFromString(tt.current), 10); got != tt.want {
			t.Fatalf("DriftExceeds(10.00, %s) = %v, want %v", tt.current, got, tt.want)
		}
	}
}
