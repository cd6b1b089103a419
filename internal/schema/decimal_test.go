package schema

import "testing"

func TestFormatScaled(t *testing.T) {
	cases := []struct {
		v     int64
		scale Scale
		want  string
	}{
		{101, 0, "101"},
		{101, 2, "1.01"},
		{101, 4, "0.0101"},
		{-101, 2, "-1.01"},
		{0, 2, "0.00"},
	}
	for _, tc := range cases {
		if got := FormatScaled(tc.v, tc.scale); got != tc.want {
			t.Errorf("FormatScaled(%d, %d) = %q, want %q", tc.v, tc.scale, got, tc.want)
		}
	}
}

func TestParseScaled(t *testing.T) {
	cases := []struct {
		in    string
		scale Scale
		want  int64
	}{
		{"101", 0, 101},
		{"1.01", 2, 101},
		{"1.0100", 2, 101},
		{"1.5", 2, 150},
		{"-0.5", 1, -5},
		{"", 2, 0},
	}
	for _, tc := range cases {
		got, err := ParseScaled(tc.in, tc.scale)
		if err != nil {
			t.Fatalf("ParseScaled(%q, %d): %v", tc.in, tc.scale, err)
		}
		if got != tc.want {
			t.Errorf("ParseScaled(%q, %d) = %d, want %d", tc.in, tc.scale, got, tc.want)
		}
	}

	if _, err := ParseScaled("1.005", 2); err == nil {
		t.Fatal("expected error for excess fractional digits")
	}
}

func TestParseScaledRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 12345, -9999999} {
		s := FormatScaled(v, 4)
		got, err := ParseScaled(s, 4)
		if err != nil {
			t.Fatalf("round trip %d: %v", v, err)
		}
		if got != v {
			t.Fatalf("round trip %d via %q = %d", v, s, got)
		}
	}
}
