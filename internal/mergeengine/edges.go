package mergeengine

import (
	rolluperrors "github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/models"
)

// CrossRepoIdentityEdgeType is the edge type synthesized between two
// representatives of the same merged node that originated from
// different repositories, recording the identity match the engine
// made rather than a structural dependency.
const CrossRepoIdentityEdgeType = "cross_repo_identity"

// edgeKey identifies an edge by (source, target, type), the same
// triple buildMergedEdges dedups structural edges on.
type edgeKey = [3]string

func keyOf(e models.Edge) edgeKey {
	return edgeKey{e.SourceID, e.TargetID, e.Type}
}

// buildMergedEdges remaps every source edge onto canonical node ids,
// drops edges whose endpoints didn't survive into the merged graph,
// and filters by EdgeTypePreservation. Cross-repo identity edges are
// synthesized separately by synthesizeCrossRepoEdges, since they
// aren't derived from any structural source edge.
func buildMergedEdges(edgesByScan map[string][]models.Edge, canonicalOf map[models.NodeRef]string, opts models.MergeOptions) ([]models.Edge, error) {
	seen := make(map[edgeKey]models.Edge) // (sourceCanonical, targetCanonical, type) -> representative edge

	for scanID, edges := range edgesByScan {
		for _, e := range edges {
			if !edgeTypeAllowed(e.Type, opts) {
				continue
			}

			srcCanonical, srcOK := canonicalOf[models.NodeRef{ScanID: scanID, NodeID: e.SourceID}]
			tgtCanonical, tgtOK := canonicalOf[models.NodeRef{ScanID: scanID, NodeID: e.TargetID}]
			if !srcOK || !tgtOK {
				return nil, rolluperrors.MergeErrorf("INVALID_EDGE", "edge %s->%s in scan %s references a node missing from the merged graph", e.SourceID, e.TargetID, scanID)
			}
			if srcCanonical == tgtCanonical {
				continue // self-loop created by merge; not a real relation
			}

			key := edgeKey{srcCanonical, tgtCanonical, e.Type}
			merged := e
			merged.SourceID = srcCanonical
			merged.TargetID = tgtCanonical
			if existing, ok := seen[key]; !ok || e.Confidence > existing.Confidence {
				seen[key] = merged
			}
		}
	}

	out := make([]models.Edge, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	return out, nil
}

// synthesizeCrossRepoEdges implements spec §4.5 step 4: for each
// merged node whose representatives span two or more repositories,
// emit a cross_repo_identity edge between every pair of
// representatives, using each representative's own pre-merge
// canonical id (the id it would have received as an unmatched
// singleton) as the edge's endpoints rather than the shared merged
// canonical id — using the latter would make every such edge a
// self-loop, since all of a node's representatives collapse onto the
// same canonical id once merged.
func synthesizeCrossRepoEdges(nodes []models.MergedNode, scanRepository map[string]string) []models.Edge {
	var out []models.Edge
	for _, n := range nodes {
		if len(n.Representatives) < 2 {
			continue
		}

		repos := make(map[string]struct{})
		for _, r := range n.Representatives {
			repos[scanRepository[r.ScanID]] = struct{}{}
		}
		if len(repos) < 2 {
			continue
		}

		reps := n.Representatives // already sorted deterministically by buildMergedNodes
		for i := 0; i < len(reps); i++ {
			for j := i + 1; j < len(reps); j++ {
				srcID := originalCanonicalID(reps[i])
				tgtID := originalCanonicalID(reps[j])
				if srcID == tgtID {
					continue
				}
				out = append(out, models.Edge{
					SourceID:   srcID,
					TargetID:   tgtID,
					Type:       CrossRepoIdentityEdgeType,
					Confidence: 100,
				})
			}
		}
	}
	return out
}

func originalCanonicalID(rep models.Representative) string {
	return canonicalIDForClass([]models.NodeRef{{ScanID: rep.ScanID, NodeID: rep.NodeID}})
}

func edgeTypeAllowed(edgeType string, opts models.MergeOptions) bool {
	if opts.EdgeTypePreservation != models.EdgeTypePreserveNamedSet {
		return true
	}
	for _, t := range opts.NamedEdgeTypes {
		if t == edgeType {
			return true
		}
	}
	return false
}

// detectCycles walks the merged graph's adjacency looking for a cycle,
// bounded by maxNodes iterations so a pathological input can't make
// this loop forever. maxNodes <= 0 means unbounded (checked
// iterations against len(nodes) instead). A detected cycle only fails
// the merge when at least one of its edges is a synthesized cross-repo
// edge (crossRepoEdges); pre-existing intra-repo cycles are preserved
// as-is, per spec §4.5 step 5.
func detectCycles(nodes []models.MergedNode, edges []models.Edge, crossRepoEdges map[edgeKey]bool, maxNodes int) error {
	adjacency := make(map[string][]models.Edge)
	for _, e := range edges {
		adjacency[e.SourceID] = append(adjacency[e.SourceID], e)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(nodes))
	for _, n := range nodes {
		color[n.CanonicalID] = white
	}

	limit := maxNodes
	if limit <= 0 {
		limit = len(nodes)
	}

	// parentEdge records the edge used to first reach a node during the
	// DFS, so a detected back edge can walk the recursion stack back to
	// the cycle's start and inspect every edge the cycle is made of.
	parentEdge := make(map[string]models.Edge)

	var visit func(id string, depth int) error
	visit = func(id string, depth int) error {
		if depth > limit {
			return rolluperrors.MergeErrorf("CYCLIC_DEPENDENCY", "cycle detection exceeded bound of %d nodes", limit)
		}
		color[id] = gray
		for _, e := range adjacency[id] {
			next := e.TargetID
			switch color[next] {
			case gray:
				if cycleIncludesCrossRepoEdge(id, next, e, parentEdge, crossRepoEdges) {
					return rolluperrors.MergeErrorf("CYCLIC_DEPENDENCY", "cycle detected involving node %s", next)
				}
			case white:
				parentEdge[next] = e
				if err := visit(next, depth+1); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, n := range nodes {
		if color[n.CanonicalID] == white {
			if err := visit(n.CanonicalID, 0); err != nil {
				return err
			}
		}
	}
	return nil
}

// cycleIncludesCrossRepoEdge walks back from id through parentEdge
// until reaching ancestor (the gray node closingEdge points at),
// collecting the cycle's edges (including closingEdge itself), and
// reports whether any of them is a synthesized cross-repo edge.
func cycleIncludesCrossRepoEdge(id, ancestor string, closingEdge models.Edge, parentEdge map[string]models.Edge, crossRepoEdges map[edgeKey]bool) bool {
	if crossRepoEdges[keyOf(closingEdge)] {
		return true
	}
	cur := id
	for cur != ancestor {
		e, ok := parentEdge[cur]
		if !ok {
			break
		}
		if crossRepoEdges[keyOf(e)] {
			return true
		}
		cur = e.SourceID
	}
	return false
}
