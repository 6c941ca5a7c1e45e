package experiment

// PolicyFamily identifies a contextual-bandit policy implementation.
type PolicyFamily string

const (
	FamilyDoublyRobust PolicyFamily = "doubly_robust"
	FamilyOffsetTree   PolicyFamily = "offset_tree"
)

// Policy is a contextual-bandit challenger. SelectArm picks among candidate
// models for a context; Update folds in an observed reward.
type Policy interface {
	Name() string
	Family() PolicyFamily
	SelectArm(context map[string]string, arms []string) string
	Update(arm string, context map[string]string, reward float64)
	Stats() Stats
}

// Stats holds the raw accumulators for one (experiment, policy) pair. Only
// sums and counts are stored; ratios are derived on read so an empty policy
// never divides by zero.
type Stats struct {
	Pulls               int64   `json:"pulls"`
	CumulativeReward    float64 `json:"cumulative_reward"`
	SquaredErrorSum     float64 `json:"squared_error_sum"`
	TreeDepthSum        float64 `json:"tree_depth_sum"`
	ImportanceWeightSum float64 `json:"importance_weight_sum"`
	CIWidthSum          float64 `json:"ci_width_sum"`
}

// MeanReward derives the average reward, 0 for an unpulled policy.
func (s Stats) MeanReward() float64 {
	if s.Pulls == 0 {
		return 0
	}
	return s.CumulativeReward / float64(s.Pulls)
}

// MeanSquaredError derives the reward-model MSE.
func (s Stats) MeanSquaredError() float64 {
	if s.Pulls == 0 {
		return 0
	}
	return s.SquaredErrorSum / float64(s.Pulls)
}

// MeanTreeDepth derives the average routed-node depth (offset-tree only).
func (s Stats) MeanTreeDepth() float64 {
	if s.Pulls == 0 {
		return 0
	}
	return s.TreeDepthSum / float64(s.Pulls)
}

// MeanCIWidth derives the average confidence-interval width estimate.
func (s Stats) MeanCIWidth() float64 {
	if s.Pulls == 0 {
		return 0
	}
	return s.CIWidthSum / float64(s.Pulls)
}
