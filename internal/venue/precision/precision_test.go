package precision

import "testing"

func TestFormatStrictScale(t *testing.T) {
	// spec §8 boundary behavior: stepSize=0.001, input 1.23456 -> "1.234"
	got, err := Format(1.23456, Step{Increment: 0.001})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1.234" {
		t.Errorf("Format() = %q, want 1.234", got)
	}
	if DecimalScale(got) != 3 {
		t.Errorf("DecimalScale(%q) = %d, want 3", got, DecimalScale(got))
	}
}

func TestFormatPadsToStepScale(t *testing.T) {
	got, err := Format(1.2, Step{Increment: 0.001})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "1.200" {
		// fixed scale per step is expected (3dp), not compacted further -
		// the invariant is "at most scale(step)" fractional digits, exact
		// padding to that scale is acceptable and matches venue wire format.
		t.Errorf("Format() = %q, want 1.200", got)
	}
}

func TestFormatBelowMinimum(t *testing.T) {
	_, err := Format(0.0001, Step{Increment: 0.001, Min: 0.001})
	if err == nil {
		t.Fatal("expected error for quantity below minimum, got nil")
	}
}

func TestFloorNeverInflates(t *testing.T) {
	got := FloorToStep(1.2399, Step{Increment: 0.001})
	if got > 1.2399 {
		t.Errorf("FloorToStep inflated: got %v from input 1.2399", got)
	}
	if got != 1.239 {
		t.Errorf("FloorToStep(1.2399, 0.001) = %v, want 1.239", got)
	}
}

func TestScaleOf(t *testing.T) {
	cases := []struct {
		step float64
		want int
	}{
		{0.001, 3},
		{0.00100, 3},
		{1, 0},
		{0.1, 1},
		{0.00000001, 8},
	}
	for _, c := range cases {
		if got := scaleOf(c.step); got != c.want {
			t.Errorf("scaleOf(%v) = %d, want %d", c.step, got, c.want)
		}
	}
}
