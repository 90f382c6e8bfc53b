package trigger

import (
	"testing"

	"github.com/llLeco/parametric-ecosphere-sub000/internal/policy"
)

func TestConditionMetOperators(t *testing.T) {
	cases := []struct {
		operator  string
		value     float64
		threshold float64
		want      bool
	}{
		{"gt", 35.1, 35.0, true},
		{"gt", 35.0, 35.0, false},
		{"gte", 35.0, 35.0, true},
		{"gte", 34.999, 35.0, false},
		{"lt", 34.9, 35.0, true},
		{"lt", 35.0, 35.0, false},
		{"lte", 35.0, 35.0, true},
		{"lte", 35.001, 35.0, false},
		{"eq", 35.0, 35.0, true},
		{"eq", 35.001, 35.0, false},
		{"between", 35.0, 35.0, false}, // unknown operator never matches
	}
	for _, tc := range cases {
		if got := ConditionMet(tc.operator, tc.value, tc.threshold); got != tc.want {
			t.Errorf("ConditionMet(%q, %v, %v) = %v, want %v",
				tc.operator, tc.value, tc.threshold, got, tc.want)
		}
	}
}

func TestEvaluateFirstMetConditionWins(t *testing.T) {
	conditions := []policy.TriggerCondition{
		{Parameter: "temperature", Operator: "gte", Threshold: 40.0},
		{Parameter: "temperature", Operator: "gte", Threshold: 35.0},
		{Parameter: "temperature", Operator: "gte", Threshold: 30.0}, // never reached
	}

	met := Evaluate(conditions, "temperature", 36.0)
	if met == nil {
		t.Fatal("expected a condition to be met")
	}
	if met.Threshold != 35.0 {
		t.Fatalf("expected first met condition (threshold 35.0), got %v", met.Threshold)
	}
}

func TestEvaluateSkipsOtherParameters(t *testing.T) {
	conditions := []policy.TriggerCondition{
		{Parameter: "rainfall", Operator: "gte", Threshold: 1.0},
		{Parameter: "temperature", Operator: "gte", Threshold: 35.0},
	}

	met := Evaluate(conditions, "temperature", 36.0)
	if met == nil || met.Parameter != "temperature" {
		t.Fatalf("expected the temperature condition, got %+v", met)
	}
}

func TestEvaluateNoMatch(t *testing.T) {
	conditions := []policy.TriggerCondition{
		{Parameter: "temperature", Operator: "gte", Threshold: 35.0},
	}

	if met := Evaluate(conditions, "temperature", 34.999); met != nil {
		t.Fatalf("expected no condition met, got %+v", met)
	}
	if met := Evaluate(conditions, "rainfall", 100.0); met != nil {
		t.Fatalf("expected no condition for unrelated parameter, got %+v", met)
	}
	if met := Evaluate(nil, "temperature", 100.0); met != nil {
		t.Fatalf("expected no condition for empty list, got %+v", met)
	}
}
