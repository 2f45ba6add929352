package money

import (
	"errors"
	"testing"
)

func TestFeeRoundsHalfUp(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		amount Amount
		bps    int64
		want   Amount
	}{
		{"exact", 50000, 500, 2500},
		{"half rounds up", 1250, 500, 63},
		{"below half rounds down", 1249, 500, 62},
		{"one minor unit", 1, 500, 0},
		{"ten minor units at 5%", 10, 500, 1},
		{"zero rate", 50000, 0, 0},
		{"zero amount", 0, 500, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Fee(tt.amount, tt.bps); got != tt.want {
				t.Fatalf("Fee(%d, %d) = %d, want %d", tt.amount, tt.bps, got, tt.want)
			}
		})
	}
}

func TestSplitKeepsTotal(t *testing.T) {
	t.Parallel()

	fee, payout := Split(48013, 750)
	if fee+payout != 48013 {
		t.Fatalf("fee %d + payout %d != 48013", fee, payout)
	}
	if fee != 3601 {
		t.Fatalf("fee = %d, want 3601", fee)
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	good := map[string]Amount{
		"500":                  50000,
		"500.5":                50050,
		"500.50":               50050,
		"0.07":                 7,
		"-1.25":                -125,
		"92233720368547758.07": 9223372036854775807,
	}
	for in, want := range good {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Parse(%q) = %d, want %d", in, got, want)
		}
	}

	for _, in := range []string{
		"", "abc", "1.234", ".5", "1.x", "1.", "-",
		"1.-5", "1.+5", "+3", "--3", "1_000", " 1 .5",
		"184467440737095517", "92233720368547758.08",
	} {
		if _, err := Parse(in); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalidAmount", in, err)
		}
	}
}

func TestString(t *testing.T) {
	t.Parallel()

	if got := Amount(50000).String(); got != "500.00" {
		t.Fatalf("got %q", got)
	}
	if got := Amount(-7).String(); got != "-0.07" {
		t.Fatalf("got %q", got)
	}
}
