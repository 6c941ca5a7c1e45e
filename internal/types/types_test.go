package types

import (
	"errors"
	"testing"
)

func TestRoutingRequest_FingerprintDeterministic(t *testing.T) {
	a := &RoutingRequest{
		Prompt:      "hello",
		Constraints: map[string]string{"minimize_cost": "true", "budget_limit": "0.01"},
		TenantID:    "t1",
		WorkspaceID: "w1",
	}
	b := &RoutingRequest{
		Prompt:      "hello",
		Constraints: map[string]string{"budget_limit": "0.01", "minimize_cost": "true"},
		TenantID:    "t1",
		WorkspaceID: "w1",
	}

	if a.Fingerprint() != b.Fingerprint() {
		t.Error("Constraint iteration order must not change the fingerprint")
	}
}

func TestRoutingRequest_FingerprintSensitivity(t *testing.T) {
	base := RoutingRequest{
		Prompt:      "hello",
		Constraints: map[string]string{"minimize_cost": "true"},
		TenantID:    "t1",
		WorkspaceID: "w1",
	}

	variants := map[string]RoutingRequest{
		"prompt":     {Prompt: "hello!", Constraints: base.Constraints, TenantID: "t1", WorkspaceID: "w1"},
		"constraint": {Prompt: "hello", Constraints: map[string]string{"minimize_cost": "false"}, TenantID: "t1", WorkspaceID: "w1"},
		"tenant":     {Prompt: "hello", Constraints: base.Constraints, TenantID: "t2", WorkspaceID: "w1"},
		"workspace":  {Prompt: "hello", Constraints: base.Constraints, TenantID: "t1", WorkspaceID: "w2"},
	}

	for name, v := range variants {
		if v.Fingerprint() == base.Fingerprint() {
			t.Errorf("Changing %s should change the fingerprint", name)
		}
	}
}

func TestRoutingRequest_HasConstraint(t *testing.T) {
	req := &RoutingRequest{Constraints: map[string]string{
		"minimize_cost":    "true",
		"minimize_latency": "false",
		"budget_limit":     "0",
		"empty":            "",
	}}

	if !req.HasConstraint("minimize_cost") {
		t.Error("'true' should count as set")
	}
	for _, name := range []string{"minimize_latency", "budget_limit", "empty", "missing"} {
		if req.HasConstraint(name) {
			t.Errorf("%q should count as unset", name)
		}
	}
}

func TestRoutingError_KindAndUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := NewStrategyFailure("strategy blew up", inner)

	if !IsKind(err, ErrStrategyFailure) {
		t.Error("Expected strategy failure kind")
	}
	if IsKind(err, ErrInvalidInput) {
		t.Error("Wrong kind should not match")
	}
	if !errors.Is(err, inner) {
		t.Error("Wrapped error should unwrap")
	}

	invalid := NewInvalidInput("bad candidate list %d", 0)
	if !IsKind(invalid, ErrInvalidInput) {
		t.Error("Expected invalid input kind")
	}
	if IsKind(errors.New("plain"), ErrInvalidInput) {
		t.Error("Plain errors have no kind")
	}
}
