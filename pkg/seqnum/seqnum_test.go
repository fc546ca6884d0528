package seqnum

import "testing"

func TestIncDecRoundTrip(t *testing.T) {
	cases := []Seq{0, 1, 100, Max - 1, Max - 2}
	for _, s := range cases {
		if got := Inc(Dec(s)); got != s {
			t.Errorf("Inc(Dec(%d)) = %d, want %d", s, got, s)
		}
		if got := Dec(Inc(s)); got != s {
			t.Errorf("Dec(Inc(%d)) = %d, want %d", s, got, s)
		}
	}
}

func TestCmpOrdering(t *testing.T) {
	if Cmp(5, 10) >= 0 {
		t.Errorf("Cmp(5, 10) should be negative")
	}
	if Cmp(10, 5) <= 0 {
		t.Errorf("Cmp(10, 5) should be positive")
	}
	if Cmp(5, 5) != 0 {
		t.Errorf("Cmp(5, 5) should be zero")
	}
}

func TestCmpWraparound(t *testing.T) {
	near := Seq(Max - 2)
	wrapped := Inc(Inc(near))
	if Cmp(wrapped, near) <= 0 {
		t.Errorf("Cmp(%d, %d) should be positive (wrapped is ahead)", wrapped, near)
	}
}

func TestLen(t *testing.T) {
	if got := Len(10, 15); got != 5 {
		t.Errorf("Len(10, 15) = %d, want 5", got)
	}
	if got := Len(Max-2, 2); got != 4 {
		t.Errorf("Len(Max-2, 2) = %d, want 4", got)
	}
}

func TestInWindow(t *testing.T) {
	if !InWindow(12, 10, 16) {
		t.Errorf("expected 12 to be in window [10, 26)")
	}
	if InWindow(30, 10, 16) {
		t.Errorf("expected 30 to be outside window [10, 26)")
	}
}
