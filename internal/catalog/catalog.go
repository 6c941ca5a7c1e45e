package catalog

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// ModelInfo holds the static cost/latency/quality attributes of one backend
// model. The routing core treats models as opaque identifiers; these values
// are priors, refined online by the metrics store.
type ModelInfo struct {
	Name              string  `yaml:"name" json:"name"`
	Provider          string  `yaml:"provider" json:"provider"`
	InputCostPer1K    float64 `yaml:"input_cost_per_1k" json:"input_cost_per_1k"`
	OutputCostPer1K   float64 `yaml:"output_cost_per_1k" json:"output_cost_per_1k"`
	ExpectedLatencyMs float64 `yaml:"expected_latency_ms" json:"expected_latency_ms"`
	QualityPrior      float64 `yaml:"quality_prior" json:"quality_prior"`
	MinQuality        float64 `yaml:"min_quality" json:"min_quality,omitempty"`
}

// Catalog is the process-wide model catalog. Read-mostly after construction.
type Catalog struct {
	mu     sync.RWMutex
	models map[string]ModelInfo
	names  []string
}

// New builds a catalog from the configured model list.
func New(models []ModelInfo) *Catalog {
	c := &Catalog{models: make(map[string]ModelInfo, len(models))}
	for _, m := range models {
		if _, exists := c.models[m.Name]; !exists {
			c.names = append(c.names, m.Name)
		}
		c.models[m.Name] = m
	}
	return c
}

// Get returns the catalog entry for a model id.
func (c *Catalog) Get(name string) (ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[name]
	return m, ok
}

// Names returns all model ids in registration order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, len(c.names))
	copy(names, c.names)
	return names
}

// All returns every catalog entry sorted by model name.
func (c *Catalog) All() []ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	models := make([]ModelInfo, 0, len(c.models))
	for _, m := range c.models {
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models
}

// EstimateCost estimates the dollar cost of routing prompt to model, using
// tokenizer counts for the input side and a fixed completion-size assumption
// for the output side.
func (c *Catalog) EstimateCost(model, prompt string) (float64, error) {
	info, ok := c.Get(model)
	if !ok {
		return 0, fmt.Errorf("model %s not in catalog", model)
	}

	tokens := CountTokens(model, prompt)

	// Assume completions run about a quarter of the prompt length, with a
	// floor so short prompts don't estimate to zero.
	outTokens := tokens / 4
	if outTokens < 64 {
		outTokens = 64
	}

	cost := float64(tokens)/1000.0*info.InputCostPer1K +
		float64(outTokens)/1000.0*info.OutputCostPer1K
	return cost, nil
}

// CountTokens counts prompt tokens for a model, falling back to the
// cl100k_base encoding for models the tokenizer doesn't know.
func CountTokens(model, text string) int {
	tkm, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tkm, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Rough heuristic when no encoding is available at all.
			return len(text) / 4
		}
	}
	return len(tkm.Encode(text, nil, nil))
}
