// Package blastradius computes the set of merged-graph nodes reachable
// from one or more seed nodes within a bounded depth: the "what else
// breaks if I change this" query over a rollup's merged graph.
package blastradius

import (
	"sort"

	"github.com/rollupcore/rollup-core/internal/models"
)

// Impact classifies how a node was reached from a seed.
type Impact string

const (
	ImpactDirect   Impact = "direct"   // one hop from a seed
	ImpactIndirect Impact = "indirect" // more than one hop from a seed
)

// AffectedNode is one node found within the blast radius.
type AffectedNode struct {
	CanonicalID string
	Depth       int
	Impact      Impact
	RiskWeight  float64
	Path        []string // canonical IDs from the nearest seed to this node, inclusive
}

// Result is the outcome of one blast-radius query.
type Result struct {
	Seeds      []string
	Affected   []AffectedNode
	RiskLevel  models.RiskLevel
	RiskScore  float64
	Truncated  bool // true if maxDepth or maxNodes cut off further traversal
}

// Options bounds and weights a query.
type Options struct {
	MaxDepth  int
	MaxNodes  int
	EdgeWeight func(edgeType string) float64 // nil means every edge weighs 1.0
	Thresholds RiskThresholds
}

// RiskThresholds maps a weighted risk score to a RiskLevel, configured
// per deployment rather than hardcoded (see config.RiskConfig).
type RiskThresholds struct {
	Medium   float64
	High     float64
	Critical float64
}

// Compute runs a bounded breadth-first search from seeds over graph,
// returning nodes in deterministic order (by depth, then canonical ID)
// regardless of map iteration order.
func Compute(graph *models.MergedGraph, seeds []string, opts Options) Result {
	adjacency := buildAdjacency(graph)

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 10
	}
	maxNodes := opts.MaxNodes
	if maxNodes <= 0 {
		maxNodes = len(graph.Nodes)
	}

	seedSet := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		seedSet[s] = struct{}{}
	}

	type queued struct {
		id    string
		depth int
		path  []string
	}

	visited := make(map[string]int) // id -> depth first seen at
	var order []queued

	sortedSeeds := append([]string(nil), seeds...)
	sort.Strings(sortedSeeds)

	queue := make([]queued, 0, len(sortedSeeds))
	for _, s := range sortedSeeds {
		if _, ok := visited[s]; ok {
			continue
		}
		visited[s] = 0
		queue = append(queue, queued{id: s, depth: 0, path: []string{s}})
	}

	truncated := false
	head := 0
	for head < len(queue) {
		cur := queue[head]
		head++

		if cur.depth > 0 {
			order = append(order, cur)
		}

		if cur.depth >= maxDepth {
			for _, n := range adjacency[cur.id] {
				if _, ok := visited[n]; !ok {
					truncated = true
					break
				}
			}
			continue
		}

		next := adjacency[cur.id]
		sort.Strings(next)
		for _, n := range next {
			if _, ok := visited[n]; ok {
				continue
			}
			if len(visited) >= maxNodes {
				truncated = true
				break
			}
			visited[n] = cur.depth + 1
			path := append(append([]string(nil), cur.path...), n)
			queue = append(queue, queued{id: n, depth: cur.depth + 1, path: path})
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].depth != order[j].depth {
			return order[i].depth < order[j].depth
		}
		return order[i].id < order[j].id
	})

	weightFn := opts.EdgeWeight
	if weightFn == nil {
		weightFn = func(string) float64 { return 1.0 }
	}
	edgeWeightByTarget := buildEdgeWeights(graph, weightFn)

	var affected []AffectedNode
	var totalWeight float64
	for _, q := range order {
		impact := ImpactIndirect
		if q.depth == 1 {
			impact = ImpactDirect
		}
		weight := edgeWeightByTarget[q.id]
		if weight == 0 {
			weight = 1.0
		}
		decayed := weight / float64(q.depth)
		totalWeight += decayed

		affected = append(affected, AffectedNode{
			CanonicalID: q.id,
			Depth:       q.depth,
			Impact:      impact,
			RiskWeight:  decayed,
			Path:        q.path,
		})
	}

	score := normalizeScore(totalWeight, len(graph.Nodes))

	return Result{
		Seeds:     sortedSeeds,
		Affected:  affected,
		RiskLevel: classify(score, opts.Thresholds),
		RiskScore: score,
		Truncated: truncated,
	}
}

func buildAdjacency(graph *models.MergedGraph) map[string][]string {
	adjacency := make(map[string][]string)
	for _, e := range graph.Edges {
		adjacency[e.SourceID] = append(adjacency[e.SourceID], e.TargetID)
	}
	return adjacency
}

func buildEdgeWeights(graph *models.MergedGraph, weightFn func(string) float64) map[string]float64 {
	weights := make(map[string]float64)
	for _, e := range graph.Edges {
		w := weightFn(e.Type)
		if existing, ok := weights[e.TargetID]; !ok || w > existing {
			weights[e.TargetID] = w
		}
	}
	return weights
}

func normalizeScore(totalWeight float64, nodeCount int) float64 {
	if nodeCount == 0 {
		return 0
	}
	score := totalWeight / float64(nodeCount)
	if score > 1 {
		score = 1
	}
	return score
}

func classify(score float64, thresholds RiskThresholds) models.RiskLevel {
	switch {
	case score >= thresholds.Critical && thresholds.Critical > 0:
		return models.RiskLevelCritical
	case score >= thresholds.High && thresholds.High > 0:
		return models.RiskLevelHigh
	case score >= thresholds.Medium && thresholds.Medium > 0:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}
