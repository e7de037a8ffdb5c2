package dispatch

import "testing"

func TestFormatPhoneNumber(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"5551234567", "+15551234567"},
		{"(555) 123-4567", "+15551234567"},
		{"15551234567", "+15551234567"},
		{"1 555 123 4567", "+15551234567"},
		{"+44 20 7946 0958", "+442079460958"},
		{"36201234567", "+36201234567"},
	}

	for _, tc := range cases {
		if got := FormatPhoneNumber(tc.in); got != tc.want {
			t.Fatalf("FormatPhoneNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
