package phone

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+1 (201) 555-0123", "+12015550123"},
		{"201-555-0123", "+12015550123"},
		{"+44 20 7183 8750", "+442071838750"},
	}

	for _, tc := range cases {
		got, err := Normalize(tc.in, "")
		if err != nil {
			t.Fatalf("normalize %q: unexpected error: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("normalize %q: expected %s, got %s", tc.in, tc.want, got)
		}
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "   ", "not a number", "123"} {
		if _, err := Normalize(in, ""); err == nil {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestCanonicalFallsBackToDigits(t *testing.T) {
	if got := Canonical("+1 (201) 555-0123", ""); got != "+12015550123" {
		t.Fatalf("expected E.164 form, got %s", got)
	}
	if got := Canonical("+12-34", ""); got != "+1234" {
		t.Fatalf("expected stripped digits, got %s", got)
	}
}
