package types

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// RoutingRequest describes a single inbound generation request. It is
// immutable once constructed; derived values (fingerprint, request id) are
// computed, never stored back.
type RoutingRequest struct {
	// Caller-supplied id for idempotent replay; derived from the request
	// content when empty.
	ID string `json:"id,omitempty"`

	Prompt   string `json:"prompt"`
	TaskType string `json:"task_type"`

	// Free-form routing context (token estimates, feature hints).
	Context map[string]string `json:"context,omitempty"`

	// Constraints influence strategy selection, e.g. "minimize_cost",
	// "minimize_latency", "budget_limit".
	Constraints map[string]string `json:"constraints,omitempty"`

	TenantID    string `json:"tenant_id,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`

	// Candidate model ids. Empty means "all catalog models".
	Candidates []string `json:"candidates,omitempty"`

	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Fingerprint returns a stable cache key derived from the prompt, the sorted
// constraint set and the tenant/workspace pair. Identical inputs always yield
// the identical key; changing any one field changes the key.
func (r *RoutingRequest) Fingerprint() string {
	h := sha256.New()
	h.Write([]byte(r.Prompt))
	h.Write([]byte{0})

	keys := make([]string, 0, len(r.Constraints))
	for k := range r.Constraints {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(r.Constraints[k]))
		h.Write([]byte{0})
	}

	h.Write([]byte(r.TenantID))
	h.Write([]byte{0})
	h.Write([]byte(r.WorkspaceID))

	return hex.EncodeToString(h.Sum(nil))
}

// HasConstraint reports whether the named constraint is set to a truthy value
// ("", "false" and "0" count as unset).
func (r *RoutingRequest) HasConstraint(name string) bool {
	v, ok := r.Constraints[name]
	if !ok {
		return false
	}
	return v != "" && v != "false" && v != "0"
}

// RoutingDecision is the output of a routing call. Immutable once returned;
// it may be memoized and replayed for an identical request fingerprint.
type RoutingDecision struct {
	SelectedModel    string    `json:"selected_model"`
	Provider         string    `json:"provider"`
	EstimatedCost    float64   `json:"estimated_cost"`
	EstimatedLatency float64   `json:"estimated_latency_ms"`
	Confidence       float64   `json:"confidence"`
	Reasoning        string    `json:"reasoning"`
	Strategy         string    `json:"strategy_used"`
	Alternatives     []string  `json:"alternatives,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Outcome reports the observed result of executing a routed request. Quality
// is optional; nil means "not scored".
type Outcome struct {
	ModelID   string   `json:"model_id"`
	LatencyMs float64  `json:"latency_ms"`
	Cost      float64  `json:"cost"`
	Success   bool     `json:"success"`
	Quality   *float64 `json:"quality,omitempty"`
}
