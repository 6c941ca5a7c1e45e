package experiment

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Phase is the lifecycle state of an experiment. Transitions are one-way:
// shadow -> active, never back.
type Phase string

const (
	PhaseShadow Phase = "shadow"
	PhaseActive Phase = "active"
)

// Recommendation thresholds for the comparative summary.
const (
	minPullsForRecommendation = 30
	activateImprovementPct    = 5.0
)

// ChallengerSpec declares one challenger policy for registration.
type ChallengerSpec struct {
	Name         string       `json:"name"`
	Family       PolicyFamily `json:"family"`
	TrafficShare float64      `json:"traffic_share"`
}

// Experiment is one shadow-mode bandit experiment for a request domain.
type Experiment struct {
	mu sync.RWMutex

	ID                string
	Domain            string
	phase             Phase
	ControlPolicy     string
	controlStats      Stats
	challengers       map[string]Policy
	challengerOrder   []string
	AutoActivateAfter int64
	CreatedAt         time.Time
	activatedAt       time.Time
}

// Phase returns the current lifecycle phase.
func (e *Experiment) Phase() Phase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase
}

// Manager owns all experiment state, addressed by domain. Experiments are
// never shared by direct reference outside this package.
type Manager struct {
	mu          sync.RWMutex
	experiments map[string]*Experiment
	logger      *logrus.Logger
}

// NewManager creates an experiment manager.
func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		experiments: make(map[string]*Experiment),
		logger:      logger,
	}
}

// Register creates a shadow-phase experiment for a domain. Registering a
// domain twice is an error; experiments are append-only by design.
func (m *Manager) Register(domain, controlPolicy string, challengers []ChallengerSpec, autoActivateAfter int64) (string, error) {
	if domain == "" {
		return "", fmt.Errorf("experiment domain cannot be empty")
	}
	if controlPolicy == "" {
		return "", fmt.Errorf("control policy cannot be empty")
	}
	if len(challengers) == 0 {
		return "", fmt.Errorf("at least one challenger policy is required")
	}
	if autoActivateAfter <= 0 {
		return "", fmt.Errorf("auto_activate_after must be positive")
	}

	exp := &Experiment{
		ID:                uuid.NewString(),
		Domain:            domain,
		phase:             PhaseShadow,
		ControlPolicy:     controlPolicy,
		challengers:       make(map[string]Policy, len(challengers)),
		AutoActivateAfter: autoActivateAfter,
		CreatedAt:         time.Now(),
	}

	for _, spec := range challengers {
		if spec.Name == "" || spec.Name == controlPolicy {
			return "", fmt.Errorf("invalid challenger name %q", spec.Name)
		}
		var policy Policy
		switch spec.Family {
		case FamilyDoublyRobust:
			policy = NewDoublyRobust(spec.Name)
		case FamilyOffsetTree:
			policy = NewOffsetTree(spec.Name)
		default:
			return "", fmt.Errorf("unknown policy family %q", spec.Family)
		}
		if _, dup := exp.challengers[spec.Name]; dup {
			return "", fmt.Errorf("duplicate challenger %q", spec.Name)
		}
		exp.challengers[spec.Name] = policy
		exp.challengerOrder = append(exp.challengerOrder, spec.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.experiments[domain]; exists {
		return "", fmt.Errorf("experiment already registered for domain %q", domain)
	}
	m.experiments[domain] = exp

	if m.logger != nil {
		m.logger.WithFields(logrus.Fields{
			"domain":              domain,
			"experiment_id":       exp.ID,
			"control":             controlPolicy,
			"challengers":         len(challengers),
			"auto_activate_after": autoActivateAfter,
		}).Info("Experiment registered")
	}

	return exp.ID, nil
}

func (m *Manager) get(domain string) (*Experiment, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exp, ok := m.experiments[domain]
	return exp, ok
}

// RecordReward records one reward sample for a policy. Control rewards drive
// the shadow -> active transition once the activation threshold is reached.
func (m *Manager) RecordReward(domain, policy string, reward float64, context map[string]string) error {
	exp, ok := m.get(domain)
	if !ok {
		return fmt.Errorf("no experiment registered for domain %q", domain)
	}

	if policy == exp.ControlPolicy {
		exp.mu.Lock()
		exp.controlStats.Pulls++
		exp.controlStats.CumulativeReward += reward
		activated := false
		if exp.phase == PhaseShadow && exp.controlStats.Pulls >= exp.AutoActivateAfter {
			exp.phase = PhaseActive
			exp.activatedAt = time.Now()
			activated = true
		}
		exp.mu.Unlock()

		if activated && m.logger != nil {
			m.logger.WithFields(logrus.Fields{
				"domain":        domain,
				"experiment_id": exp.ID,
				"control_pulls": exp.AutoActivateAfter,
			}).Info("Experiment activated")
		}
		return nil
	}

	exp.mu.RLock()
	challenger, ok := exp.challengers[policy]
	exp.mu.RUnlock()
	if !ok {
		return fmt.Errorf("policy %q not part of experiment for domain %q", policy, domain)
	}

	challenger.Update("", context, reward)
	return nil
}

// RecordArmReward records a reward for the specific arm a challenger chose.
// Used when the caller knows which model served the request.
func (m *Manager) RecordArmReward(domain, policy, arm string, reward float64, context map[string]string) error {
	exp, ok := m.get(domain)
	if !ok {
		return fmt.Errorf("no experiment registered for domain %q", domain)
	}
	if policy == exp.ControlPolicy {
		return m.RecordReward(domain, policy, reward, context)
	}

	exp.mu.RLock()
	challenger, ok := exp.challengers[policy]
	exp.mu.RUnlock()
	if !ok {
		return fmt.Errorf("policy %q not part of experiment for domain %q", policy, domain)
	}
	challenger.Update(arm, context, reward)
	return nil
}

// SelectModel asks the best-performing challenger of an ACTIVE experiment to
// pick among the candidates. Returns ok=false when no experiment covers the
// domain, the experiment is still shadowed, or no challenger has data.
func (m *Manager) SelectModel(domain string, context map[string]string, candidates []string) (model, policy string, ok bool) {
	exp, found := m.get(domain)
	if !found || len(candidates) == 0 {
		return "", "", false
	}

	exp.mu.RLock()
	defer exp.mu.RUnlock()

	if exp.phase != PhaseActive {
		return "", "", false
	}

	var best Policy
	bestMean := -1.0
	for _, name := range exp.challengerOrder {
		c := exp.challengers[name]
		stats := c.Stats()
		if stats.Pulls == 0 {
			continue
		}
		if mean := stats.MeanReward(); mean > bestMean {
			bestMean = mean
			best = c
		}
	}
	if best == nil {
		return "", "", false
	}

	return best.SelectArm(context, candidates), best.Name(), true
}

// PolicySummary is the derived per-challenger report. All ratios are computed
// from stored sums and counts at read time.
type PolicySummary struct {
	Policy           string       `json:"policy"`
	Family           PolicyFamily `json:"family"`
	Pulls            int64        `json:"pulls"`
	MeanReward       float64      `json:"mean_reward"`
	ImprovementPct   float64      `json:"improvement_pct"`
	MeanSquaredError float64      `json:"mean_squared_error"`
	MeanTreeDepth    float64      `json:"mean_tree_depth,omitempty"`
	MeanCIWidth      float64      `json:"mean_ci_width,omitempty"`
	Recommendation   string       `json:"recommendation"`
}

// Summary is the comparative experiment report.
type Summary struct {
	ExperimentID      string          `json:"experiment_id"`
	Domain            string          `json:"domain"`
	Phase             Phase           `json:"phase"`
	ControlPolicy     string          `json:"control_policy"`
	ControlPulls      int64           `json:"control_pulls"`
	ControlMeanReward float64         `json:"control_mean_reward"`
	AutoActivateAfter int64           `json:"auto_activate_after"`
	Challengers       []PolicySummary `json:"challengers"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

// Summary derives the comparative report for a domain's experiment.
func (m *Manager) Summary(domain string) (*Summary, error) {
	exp, ok := m.get(domain)
	if !ok {
		return nil, fmt.Errorf("no experiment registered for domain %q", domain)
	}

	exp.mu.RLock()
	defer exp.mu.RUnlock()

	controlMean := exp.controlStats.MeanReward()
	out := &Summary{
		ExperimentID:      exp.ID,
		Domain:            exp.Domain,
		Phase:             exp.phase,
		ControlPolicy:     exp.ControlPolicy,
		ControlPulls:      exp.controlStats.Pulls,
		ControlMeanReward: controlMean,
		AutoActivateAfter: exp.AutoActivateAfter,
		GeneratedAt:       time.Now(),
	}

	for _, name := range exp.challengerOrder {
		c := exp.challengers[name]
		stats := c.Stats()
		ps := PolicySummary{
			Policy:           name,
			Family:           c.Family(),
			Pulls:            stats.Pulls,
			MeanReward:       stats.MeanReward(),
			MeanSquaredError: stats.MeanSquaredError(),
			MeanTreeDepth:    stats.MeanTreeDepth(),
			MeanCIWidth:      stats.MeanCIWidth(),
		}
		if controlMean > 0 {
			ps.ImprovementPct = (ps.MeanReward - controlMean) / controlMean * 100
		}
		switch {
		case stats.Pulls < minPullsForRecommendation:
			ps.Recommendation = "insufficient data"
		case ps.ImprovementPct > activateImprovementPct:
			ps.Recommendation = "activate"
		default:
			ps.Recommendation = "keep control"
		}
		out.Challengers = append(out.Challengers, ps)
	}

	return out, nil
}

// Domains lists registered experiment domains.
func (m *Manager) Domains() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	domains := make([]string, 0, len(m.experiments))
	for d := range m.experiments {
		domains = append(domains, d)
	}
	return domains
}

// Reset drops all experiment state. Test isolation hook.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.experiments = make(map[string]*Experiment)
}
