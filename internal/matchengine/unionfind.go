package matchengine

import "github.com/rollupcore/rollup-core/internal/models"

// unionFind is a disjoint-set over models.NodeRef with union-by-rank
// and path compression, the structure the match engine builds
// equivalence classes on top of.
type unionFind struct {
	parent map[models.NodeRef]models.NodeRef
	rank   map[models.NodeRef]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[models.NodeRef]models.NodeRef),
		rank:   make(map[models.NodeRef]int),
	}
}

func (u *unionFind) add(ref models.NodeRef) {
	if _, ok := u.parent[ref]; !ok {
		u.parent[ref] = ref
		u.rank[ref] = 0
	}
}

func (u *unionFind) find(ref models.NodeRef) models.NodeRef {
	u.add(ref)
	root := ref
	for u.parent[root] != root {
		root = u.parent[root]
	}
	for u.parent[ref] != root {
		u.parent[ref], ref = root, u.parent[ref]
	}
	return root
}

func (u *unionFind) union(a, b models.NodeRef) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if u.rank[ra] < u.rank[rb] {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
	if u.rank[ra] == u.rank[rb] {
		u.rank[ra]++
	}
}

// groups returns every node grouped by its root, in no particular
// order; callers sort for determinism.
func (u *unionFind) groups() map[models.NodeRef][]models.NodeRef {
	out := make(map[models.NodeRef][]models.NodeRef)
	for ref := range u.parent {
		root := u.find(ref)
		out[root] = append(out[root], ref)
	}
	return out
}
