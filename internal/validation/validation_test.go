package validation

import "testing"

func TestIsValidID(t *testing.T) {
	valid := []string{"cust_demo1", "txn_a1B2-c3", "sess_0", "card_x"}
	for _, id := range valid {
		if !IsValidID(id) {
			t.Errorf("IsValidID(%q) = false, want true", id)
		}
	}

	invalid := []string{"", "cust_", "_abc", "cust demo", "cust_demo!", "CUST_demo", "cust_" + string(make([]byte, 70))}
	for _, id := range invalid {
		if IsValidID(id) {
			t.Errorf("IsValidID(%q) = true, want false", id)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hello\x00world  ", 100); got != "helloworld" {
		t.Errorf("unexpected sanitized value %q", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Errorf("length cap not applied: %q", got)
	}
}
