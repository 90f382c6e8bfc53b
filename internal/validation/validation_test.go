package validation

import (
	"testing"
)

func TestIsValidID(t *testing.T) {
	valid := []string{"pol_abc123", "att-1", "a", "ptx_0f3c9d2e4b5a6c7d8e9f0a1b"}
	for _, id := range valid {
		if !IsValidID(id) {
			t.Errorf("expected %q to be valid", id)
		}
	}

	invalid := []string{"", "has space", "semi;colon", "x/y", string(make([]byte, 65))}
	for _, id := range invalid {
		if IsValidID(id) {
			t.Errorf("expected %q to be invalid", id)
		}
	}
}

func TestIsValidOperator(t *testing.T) {
	for _, op := range []string{"gt", "gte", "lt", "lte", "eq"} {
		if !IsValidOperator(op) {
			t.Errorf("expected %q to be valid", op)
		}
	}
	for _, op := range []string{"", "ne", "GT", ">="} {
		if IsValidOperator(op) {
			t.Errorf("expected %q to be invalid", op)
		}
	}
}

func TestValidateCollectsErrors(t *testing.T) {
	errs := Validate(
		Required("policy_id", ""),
		ValidOperator("operator", "between"),
		PositiveAmount("max_payout", 0),
	)
	if len(errs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() == "" {
		t.Fatal("expected non-empty error string")
	}
}

func TestValidatePasses(t *testing.T) {
	errs := Validate(
		Required("policy_id", "pol_1"),
		ValidID("policy_id", "pol_1"),
		ValidOperator("operator", "gte"),
		PositiveAmount("max_payout", 100000),
		NonNegativeAmount("deductible", 0),
	)
	if len(errs) != 0 {
		t.Fatalf("expected no errors, got %v", errs)
	}
}

func TestSanitizeString(t *testing.T) {
	if got := SanitizeString("  hi\x00there  ", 100); got != "hithere" {
		t.Fatalf("expected %q, got %q", "hithere", got)
	}
	if got := SanitizeString("abcdef", 3); got != "abc" {
		t.Fatalf("expected truncation to %q, got %q", "abc", got)
	}
}
