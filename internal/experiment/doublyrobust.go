package experiment

import (
	"math"
	"sync"
)

// doublyRobustPolicy combines a direct per-arm reward model with
// importance-weighted correction. The reward model is a simple exponentially
// smoothed estimate per arm; importance weights assume uniform logging
// propensity over the arms seen at update time.
type doublyRobustPolicy struct {
	name string

	mu       sync.Mutex
	stats    Stats
	armModel map[string]*armEstimate

	// Importance-weight variance accumulators for the CI-width estimate.
	weightSum   float64
	weightSqSum float64
}

type armEstimate struct {
	predicted float64
	drValue   float64
	samples   int64
}

const drLearningRate = 0.1

// NewDoublyRobust creates a doubly-robust reward estimator policy.
func NewDoublyRobust(name string) Policy {
	return &doublyRobustPolicy{
		name:     name,
		armModel: make(map[string]*armEstimate),
	}
}

func (p *doublyRobustPolicy) Name() string         { return p.name }
func (p *doublyRobustPolicy) Family() PolicyFamily { return FamilyDoublyRobust }

// SelectArm picks the arm with the highest doubly-robust value estimate.
// Arms never seen before win immediately so every candidate gets explored.
func (p *doublyRobustPolicy) SelectArm(_ map[string]string, arms []string) string {
	if len(arms) == 0 {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	best := arms[0]
	bestValue := math.Inf(-1)
	for _, arm := range arms {
		est, ok := p.armModel[arm]
		if !ok {
			return arm
		}
		if est.drValue > bestValue {
			bestValue = est.drValue
			best = arm
		}
	}
	return best
}

func (p *doublyRobustPolicy) Update(arm string, _ map[string]string, reward float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	est, ok := p.armModel[arm]
	if !ok {
		est = &armEstimate{}
		p.armModel[arm] = est
	}

	predicted := est.predicted
	residual := reward - predicted

	// Uniform logging propensity over the known arms at this point.
	propensity := 1.0 / float64(maxInt(len(p.armModel), 1))
	weight := 1.0 / propensity

	// DR estimate: direct model value plus weighted correction.
	est.drValue = predicted + weight*residual
	est.predicted = predicted + drLearningRate*residual
	est.samples++

	p.stats.Pulls++
	p.stats.CumulativeReward += reward
	p.stats.SquaredErrorSum += residual * residual
	p.stats.ImportanceWeightSum += weight

	p.weightSum += weight
	p.weightSqSum += weight * weight
	n := float64(p.stats.Pulls)
	meanW := p.weightSum / n
	varW := p.weightSqSum/n - meanW*meanW
	if varW < 0 {
		varW = 0
	}
	p.stats.CIWidthSum += 1.96 * math.Sqrt(varW/n)
}

func (p *doublyRobustPolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
