// Package matchengine groups nodes from different scans into
// equivalence classes: sets of (scanId, nodeId) pairs believed to
// denote the same real-world object, seeded from external object
// index hits and confirmed by the configured matcher strategies.
package matchengine

import (
	"sort"

	"github.com/rollupcore/rollup-core/internal/logging"
	"github.com/rollupcore/rollup-core/internal/matchers"
	"github.com/rollupcore/rollup-core/internal/models"
)

// AmbiguityPolicy controls what happens when a node's references tie
// it to more than one candidate equivalence class at incompatible
// confidence levels.
type AmbiguityPolicy string

const (
	// AmbiguityWarnOnly merges anyway. A pair confirmed at differing
	// confidences keeps the lower one, and its class is marked
	// EquivalenceClass.Ambiguous and counted in Result.AmbiguousMatches.
	// The executor always uses this policy.
	AmbiguityWarnOnly AmbiguityPolicy = "warn_only"
	// AmbiguityDegradeConfidence merges the classes but floors the
	// resulting confidence at AmbiguityConfidenceFloor, surfacing the
	// uncertainty to downstream consumers instead of silently picking one.
	AmbiguityDegradeConfidence AmbiguityPolicy = "degrade_confidence"
)

// AmbiguityConfidenceFloor is the confidence assigned to a class
// formed under AmbiguityDegradeConfidence.
const AmbiguityConfidenceFloor = 0.3

// EquivalenceClass is one group of nodes the engine believes denote
// the same object.
type EquivalenceClass struct {
	ID         string
	Members    []models.NodeRef
	Confidence float64
	Reasons    []string
	Ambiguous  bool
}

// Result is the match engine's output for one execution.
type Result struct {
	Classes          []EquivalenceClass
	AmbiguousMatches int
}

// Engine seeds equivalence classes from index hits, confirms them with
// the configured matcher strategies, and merges via union-find.
type Engine struct {
	matcherRegistry *matchers.Registry
	policy          AmbiguityPolicy
	logger          *logging.Logger
}

// New builds an Engine using reg for matcher resolution. A nil logger
// falls back to a no-op logger so the engine is usable in tests
// without touching global logging state.
func New(reg *matchers.Registry, policy AmbiguityPolicy, logger *logging.Logger) *Engine {
	if policy == "" {
		policy = AmbiguityWarnOnly
	}
	return &Engine{matcherRegistry: reg, policy: policy, logger: logger}
}

// IndexedNode is one node along with the external references the
// index extracted for it.
type IndexedNode struct {
	Ref        models.NodeRef
	References []models.ExternalReference
}

// Run groups nodes by shared reference hashes, confirms candidate
// pairs with the configured matchers, and returns the resulting
// equivalence classes sorted deterministically by class ID.
func (e *Engine) Run(nodes []IndexedNode, matcherConfigs []models.MatcherConfig) Result {
	uf := newUnionFind()
	for _, n := range nodes {
		uf.add(n.Ref)
	}

	// Seed candidate pairs: any two nodes sharing a reference hash are
	// considered for matching. This bounds the engine to O(refs) seed
	// pairs per hash bucket rather than an O(n^2) scan of all nodes.
	byHash := make(map[string][]IndexedNode)
	for _, n := range nodes {
		for _, ref := range n.References {
			byHash[ref.Hash] = append(byHash[ref.Hash], n)
		}
	}

	candidates := e.matcherRegistry.Resolve(matcherConfigs)

	pairConfidence := make(map[[2]models.NodeRef]float64)
	pairReasons := make(map[[2]models.NodeRef]map[string]struct{})
	ambiguousNodes := make(map[models.NodeRef]bool)

	for _, bucket := range byHash {
		for i := 0; i < len(bucket); i++ {
			for j := i + 1; j < len(bucket); j++ {
				a, b := bucket[i], bucket[j]
				if a.Ref == b.Ref {
					continue
				}
				outcome, matched := e.confirm(a, b, candidates)
				if !matched {
					continue
				}

				key := pairKey(a.Ref, b.Ref)
				if existing, ok := pairConfidence[key]; ok && existing != outcome.Confidence {
					ambiguousNodes[a.Ref] = true
					ambiguousNodes[b.Ref] = true
					if outcome.Confidence < existing {
						pairConfidence[key] = outcome.Confidence
					}
				} else {
					pairConfidence[key] = outcome.Confidence
				}
				if pairReasons[key] == nil {
					pairReasons[key] = make(map[string]struct{})
				}
				pairReasons[key][outcome.Reason] = struct{}{}

				uf.union(a.Ref, b.Ref)
			}
		}
	}

	groups := uf.groups()
	var classes []EquivalenceClass
	for _, members := range groups {
		if len(members) == 1 {
			continue
		}
		sort.Slice(members, func(i, j int) bool {
			return nodeRefLess(members[i], members[j])
		})

		minConfidence := 1.0
		reasonSet := make(map[string]struct{})
		ambiguous := false
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				key := pairKey(members[i], members[j])
				if c, ok := pairConfidence[key]; ok {
					if c < minConfidence {
						minConfidence = c
					}
					for r := range pairReasons[key] {
						reasonSet[r] = struct{}{}
					}
				}
			}
			if ambiguousNodes[members[i]] {
				ambiguous = true
			}
		}

		if ambiguous && e.policy == AmbiguityDegradeConfidence && minConfidence > AmbiguityConfidenceFloor {
			minConfidence = AmbiguityConfidenceFloor
		}

		var reasons []string
		for r := range reasonSet {
			reasons = append(reasons, r)
		}
		sort.Strings(reasons)

		classes = append(classes, EquivalenceClass{
			ID:         classID(members),
			Members:    members,
			Confidence: minConfidence,
			Reasons:    reasons,
			Ambiguous:  ambiguous,
		})
	}

	sort.Slice(classes, func(i, j int) bool { return classes[i].ID < classes[j].ID })

	ambiguousCount := 0
	for _, c := range classes {
		if c.Ambiguous {
			ambiguousCount++
		}
	}

	if e.logger != nil && ambiguousCount > 0 {
		e.logger.Warn("ambiguous equivalence classes detected", "count", ambiguousCount, "policy", string(e.policy))
	}

	return Result{Classes: classes, AmbiguousMatches: ambiguousCount}
}

// confirm walks candidates in priority order (as sorted by
// matchers.Registry.Resolve) and returns the first one that produces a
// positive outcome for some pair of a/b's references, without
// considering any lower-priority candidate. Among a single candidate's
// own reference pairs it keeps the highest-confidence positive match,
// since those all come from the same matcher and priority.
func (e *Engine) confirm(a, b IndexedNode, candidates []matchers.Candidate) (matchers.Outcome, bool) {
	for _, cand := range candidates {
		best := matchers.Outcome{}
		found := false
		for _, ra := range a.References {
			for _, rb := range b.References {
				outcome := cand.Matcher.Match(ra, rb)
				if !outcome.Matched || outcome.Confidence < cand.Config.MinConfidence {
					continue
				}
				if !found || outcome.Confidence > best.Confidence {
					best = outcome
					found = true
				}
			}
		}
		if found {
			return best, true
		}
	}
	return matchers.Outcome{}, false
}

func pairKey(a, b models.NodeRef) [2]models.NodeRef {
	if nodeRefLess(a, b) {
		return [2]models.NodeRef{a, b}
	}
	return [2]models.NodeRef{b, a}
}

func nodeRefLess(a, b models.NodeRef) bool {
	if a.ScanID != b.ScanID {
		return a.ScanID < b.ScanID
	}
	return a.NodeID < b.NodeID
}

func classID(members []models.NodeRef) string {
	if len(members) == 0 {
		return ""
	}
	first := members[0]
	return first.ScanID + ":" + first.NodeID
}
