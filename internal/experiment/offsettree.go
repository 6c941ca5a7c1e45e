package experiment

import (
	"hash/fnv"
	"sort"
	"sync"
)

// offsetTreePolicy routes contexts through a shallow binary splitting
// structure and keeps per-arm reward tallies at the routed node. Each level
// splits on the hash of one context key's value, so similar contexts land on
// the same node without any training pass.
type offsetTreePolicy struct {
	name     string
	maxDepth int

	mu    sync.Mutex
	stats Stats
	root  *treeNode
}

type treeNode struct {
	depth      int
	children   [2]*treeNode
	armRewards map[string]float64
	armPulls   map[string]int64
}

const defaultTreeDepth = 3

// NewOffsetTree creates an offset-tree contextual splitter policy.
func NewOffsetTree(name string) Policy {
	return &offsetTreePolicy{
		name:     name,
		maxDepth: defaultTreeDepth,
		root:     newTreeNode(0),
	}
}

func newTreeNode(depth int) *treeNode {
	return &treeNode{
		depth:      depth,
		armRewards: make(map[string]float64),
		armPulls:   make(map[string]int64),
	}
}

func (p *offsetTreePolicy) Name() string         { return p.name }
func (p *offsetTreePolicy) Family() PolicyFamily { return FamilyOffsetTree }

// route walks the context down the tree, creating nodes as needed, and
// returns the deepest node the context maps to.
func (p *offsetTreePolicy) route(context map[string]string) *treeNode {
	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	node := p.root
	for level := 0; level < p.maxDepth && level < len(keys); level++ {
		bit := hashBit(keys[level], context[keys[level]])
		if node.children[bit] == nil {
			node.children[bit] = newTreeNode(node.depth + 1)
		}
		node = node.children[bit]
	}
	return node
}

// SelectArm picks the highest mean-reward arm at the routed node; unexplored
// arms at that node are tried first.
func (p *offsetTreePolicy) SelectArm(context map[string]string, arms []string) string {
	if len(arms) == 0 {
		return ""
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	node := p.route(context)
	best := arms[0]
	bestMean := -1.0
	for _, arm := range arms {
		pulls := node.armPulls[arm]
		if pulls == 0 {
			return arm
		}
		mean := node.armRewards[arm] / float64(pulls)
		if mean > bestMean {
			bestMean = mean
			best = arm
		}
	}
	return best
}

func (p *offsetTreePolicy) Update(arm string, context map[string]string, reward float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	node := p.route(context)
	node.armRewards[arm] += reward
	node.armPulls[arm]++

	p.stats.Pulls++
	p.stats.CumulativeReward += reward
	p.stats.TreeDepthSum += float64(node.depth)
}

func (p *offsetTreePolicy) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func hashBit(key, value string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	h.Write([]byte{'='})
	h.Write([]byte(value))
	return int(h.Sum32() & 1)
}
