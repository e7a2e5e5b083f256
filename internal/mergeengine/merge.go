// Package mergeengine collapses per-repository scan graphs into one
// merged graph: one canonical node per equivalence class, attribute
// conflicts resolved per the rollup's MergeOptions, and synthetic
// cross-repository edges linking nodes that only indirectly reference
// each other through a shared canonical node.
package mergeengine

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	rolluperrors "github.com/rollupcore/rollup-core/internal/errors"
	"github.com/rollupcore/rollup-core/internal/matchengine"
	"github.com/rollupcore/rollup-core/internal/models"
)

// Input is everything the merge engine needs for one execution: the
// source graphs, the equivalence classes the match engine produced,
// and the rollup's merge configuration.
type Input struct {
	Graphs  []models.RepoGraph
	Classes []matchengine.EquivalenceClass
	Options models.MergeOptions
}

// Merge builds a MergedGraph from in, or returns a *rolluperrors.Error
// with code ROLLUP_MERGE_CYCLIC_DEPENDENCY, ROLLUP_MERGE_INVALID_EDGE,
// ROLLUP_MERGE_NODE_LIMIT_EXCEEDED or ROLLUP_MERGE_ATTRIBUTE_CONFLICT
// if the result would violate an invariant.
func Merge(in Input) (*models.MergedGraph, error) {
	nodeIndex, edgeIndex := indexGraphs(in.Graphs)

	canonicalOf, representatives := assignCanonicalIDs(in.Classes, nodeIndex)

	mergedNodes, err := buildMergedNodes(canonicalOf, representatives, nodeIndex, in.Options)
	if err != nil {
		return nil, err
	}

	if in.Options.MaxNodes > 0 && len(mergedNodes) > in.Options.MaxNodes {
		return nil, rolluperrors.MergeErrorf("NODE_LIMIT_EXCEEDED", "merged graph would contain %d nodes, exceeding max_nodes %d", len(mergedNodes), in.Options.MaxNodes)
	}

	mergedEdges, err := buildMergedEdges(edgeIndex, canonicalOf, in.Options)
	if err != nil {
		return nil, err
	}

	crossRepoEdges := make(map[edgeKey]bool)
	if in.Options.CreateCrossRepoEdges {
		scanRepository := scanRepositoryMap(in.Graphs)
		for _, e := range synthesizeCrossRepoEdges(mergedNodes, scanRepository) {
			crossRepoEdges[keyOf(e)] = true
			mergedEdges = append(mergedEdges, e)
		}
	}

	if err := detectCycles(mergedNodes, mergedEdges, crossRepoEdges, in.Options.MaxNodes); err != nil {
		return nil, err
	}

	sort.Slice(mergedNodes, func(i, j int) bool { return mergedNodes[i].CanonicalID < mergedNodes[j].CanonicalID })
	sort.Slice(mergedEdges, func(i, j int) bool {
		if mergedEdges[i].SourceID != mergedEdges[j].SourceID {
			return mergedEdges[i].SourceID < mergedEdges[j].SourceID
		}
		if mergedEdges[i].TargetID != mergedEdges[j].TargetID {
			return mergedEdges[i].TargetID < mergedEdges[j].TargetID
		}
		return mergedEdges[i].Type < mergedEdges[j].Type
	})

	return &models.MergedGraph{Nodes: mergedNodes, Edges: mergedEdges}, nil
}

// scanRepositoryMap maps each scan id to the repository it came from,
// so synthesizeCrossRepoEdges can tell whether a merged node's
// representatives actually span distinct repositories.
func scanRepositoryMap(graphs []models.RepoGraph) map[string]string {
	m := make(map[string]string, len(graphs))
	for _, g := range graphs {
		m[g.ScanID] = g.RepositoryID
	}
	return m
}

func indexGraphs(graphs []models.RepoGraph) (map[models.NodeRef]models.Node, map[string][]models.Edge) {
	nodeIndex := make(map[models.NodeRef]models.Node)
	edgeIndex := make(map[string][]models.Edge)
	for _, g := range graphs {
		for _, n := range g.Nodes {
			nodeIndex[models.NodeRef{ScanID: g.ScanID, NodeID: n.ID}] = n
		}
		edgeIndex[g.ScanID] = g.Edges
	}
	return nodeIndex, edgeIndex
}

// assignCanonicalIDs derives a deterministic canonical ID for each
// equivalence class (the SHA-256 of its sorted member keys) so that
// identical inputs always produce identical canonical IDs, and maps
// every unmatched node onto its own singleton canonical ID.
func assignCanonicalIDs(classes []matchengine.EquivalenceClass, nodeIndex map[models.NodeRef]models.Node) (map[models.NodeRef]string, map[string][]matchengine.EquivalenceClass) {
	canonicalOf := make(map[models.NodeRef]string)
	byCanonical := make(map[string][]matchengine.EquivalenceClass)

	for _, class := range classes {
		id := canonicalIDForClass(class.Members)
		byCanonical[id] = append(byCanonical[id], class)
		for _, m := range class.Members {
			canonicalOf[m] = id
		}
	}

	for ref := range nodeIndex {
		if _, ok := canonicalOf[ref]; !ok {
			id := canonicalIDForClass([]models.NodeRef{ref})
			canonicalOf[ref] = id
			byCanonical[id] = append(byCanonical[id], matchengine.EquivalenceClass{
				ID:         id,
				Members:    []models.NodeRef{ref},
				Confidence: 1.0,
			})
		}
	}

	return canonicalOf, byCanonical
}

func canonicalIDForClass(members []models.NodeRef) string {
	sorted := make([]models.NodeRef, len(members))
	copy(sorted, members)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ScanID != sorted[j].ScanID {
			return sorted[i].ScanID < sorted[j].ScanID
		}
		return sorted[i].NodeID < sorted[j].NodeID
	})

	h := sha256.New()
	for _, ref := range sorted {
		h.Write([]byte(ref.ScanID))
		h.Write([]byte{0})
		h.Write([]byte(ref.NodeID))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func buildMergedNodes(canonicalOf map[models.NodeRef]string, byCanonical map[string][]matchengine.EquivalenceClass, nodeIndex map[models.NodeRef]models.Node, opts models.MergeOptions) ([]models.MergedNode, error) {
	var out []models.MergedNode

	for canonicalID, classes := range byCanonical {
		// A canonicalID maps to exactly one class by construction.
		class := classes[0]

		var reps []models.Representative
		var sourceNodes []models.Node
		for _, m := range class.Members {
			node, ok := nodeIndex[m]
			if !ok {
				continue
			}
			sourceNodes = append(sourceNodes, node)
			reps = append(reps, models.Representative{ScanID: m.ScanID, NodeID: m.NodeID, Confidence: class.Confidence})
		}
		if len(sourceNodes) == 0 {
			continue
		}

		sort.Slice(reps, func(i, j int) bool {
			if reps[i].ScanID != reps[j].ScanID {
				return reps[i].ScanID < reps[j].ScanID
			}
			return reps[i].NodeID < reps[j].NodeID
		})

		mergedMetadata, err := resolveConflicts(sourceNodes, reps, opts.ConflictResolution)
		if err != nil {
			return nil, err
		}

		out = append(out, models.MergedNode{
			CanonicalID:     canonicalID,
			Representatives: reps,
			Type:            sourceNodes[0].Type,
			Name:            sourceNodes[0].Name,
			MergedMetadata:  mergedMetadata,
			SourceCount:     len(sourceNodes),
		})
	}

	return out, nil
}

// resolveConflicts merges per-source metadata maps into one, applying
// the configured conflict resolution whenever two sources disagree on
// a key's value. nodes must already be ordered deterministically
// (callers pass them in representative-sorted order) so
// prefer_first_repo and prefer_highest_confidence are reproducible.
func resolveConflicts(nodes []models.Node, reps []models.Representative, resolution models.ConflictResolution) (map[string]models.Value, error) {
	merged := make(map[string]models.Value)
	setBy := make(map[string]int) // key -> index in nodes that currently owns merged[key]

	for i, node := range nodes {
		for key, val := range node.Metadata {
			existing, exists := merged[key]
			if !exists {
				merged[key] = val
				setBy[key] = i
				continue
			}
			if valuesEqual(existing, val) {
				continue
			}

			switch resolution {
			case models.ConflictPreferFirstRepo:
				// first writer wins; nothing to do.
			case models.ConflictUnion:
				merged[key] = models.ListValue(append(flattenToList(existing), flattenToList(val)...))
				setBy[key] = i
			case models.ConflictError:
				return nil, rolluperrors.MergeErrorf("ATTRIBUTE_CONFLICT", "conflicting values for metadata key %q", key)
			case models.ConflictPreferHighestConfidence:
				fallthrough
			default:
				if i < setBy[key] {
					merged[key] = val
					setBy[key] = i
				}
			}
		}
	}

	return merged, nil
}

func flattenToList(v models.Value) []models.Value {
	if v.Kind == models.KindList {
		return v.List
	}
	return []models.Value{v}
}

func valuesEqual(a, b models.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case models.KindString:
		return a.Str == b.Str
	case models.KindNumber:
		return a.Num == b.Num
	case models.KindBool:
		return a.Bool == b.Bool
	default:
		return false
	}
}
