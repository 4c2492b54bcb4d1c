package phone

import "testing"

func TestNormalize_ValidForms(t *testing.T) {
	cases := map[string]string{
		"0611111111":       "+33611111111",
		"06 11 11 11 11":   "+33611111111",
		"06.11.11.11.11":   "+33611111111",
		"+33611111111":     "+33611111111",
		"+33 6 11 11 1111": "+33611111111",
		"0033611111111":    "+33611111111",
		"33611111111":      "+33611111111",
		"0712345678":       "+33712345678",
	}

	for raw, want := range cases {
		got, err := Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%q) returned error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{"0611111111", "+33712345678", "06 22 33 44 55"}
	for _, raw := range inputs {
		once, err := Normalize(raw)
		if err != nil {
			t.Fatalf("Normalize(%q) failed: %v", raw, err)
		}
		twice, err := Normalize(once)
		if err != nil {
			t.Fatalf("Normalize(Normalize(%q)) failed: %v", raw, err)
		}
		if once != twice {
			t.Fatalf("not idempotent: %q -> %q -> %q", raw, once, twice)
		}
	}
}

func TestNormalize_Rejects(t *testing.T) {
	invalid := []string{
		"",
		"abc",
		"0611",
		"0111111111",  // landline
		"0811111111",  // premium
		"06111111111", // too long
		"+34611111111",
		"061111111a",
		"06+11111111", // plus sign not leading
	}

	for _, raw := range invalid {
		if _, err := Normalize(raw); err == nil {
			t.Fatalf("Normalize(%q) should have failed", raw)
		}
		if IsValid(raw) {
			t.Fatalf("IsValid(%q) should be false", raw)
		}
	}
}
