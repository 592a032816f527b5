package tangram

import (
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// GroupObservations clusters observations into construction groups by
// spatial proximity. Two pieces within maxDist of each other land in the
// same group, with single-linkage transitivity: if A is near B and B is
// near C, all three group together even when A and C are far apart.
//
// Group ids derive from the lexicographically smallest member piece id, so
// a group keeps its id while that member stays. Membership changes are
// detected downstream by signature, not by id churn.
//
// Returns nil for an empty observation set. Every observation lands in
// exactly one group; isolated pieces form singleton groups.
func GroupObservations(obs []PieceObservation, maxDist float64) map[string][]string {
	if len(obs) == 0 {
		return nil
	}

	centroids := make([]orb.Point, len(obs))
	for i, o := range obs {
		centroids[i] = orb.Point{o.Position.X, o.Position.Y}
	}

	uf := newUnionFind(len(obs))

	// Compare all pairs for proximity
	for i := 0; i < len(obs); i++ {
		for j := i + 1; j < len(obs); j++ {
			if planar.Distance(centroids[i], centroids[j]) <= maxDist {
				uf.union(i, j)
			}
		}
	}

	// Collect members per cluster root
	clusters := make(map[int][]string)
	for i := range obs {
		root := uf.find(i)
		clusters[root] = append(clusters[root], obs[i].ID)
	}

	groups := make(map[string][]string, len(clusters))
	for _, members := range clusters {
		sort.Strings(members)
		groups["g-"+members[0]] = members
	}

	return groups
}

// MembershipSignature derives the stable signature for a member set: sorted
// piece ids joined. The mapping cache keys optimized results by it, and the
// engine compares it across frames to detect membership change.
func MembershipSignature(members []string) string {
	sorted := make([]string, len(members))
	copy(sorted, members)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}

// unionFind implements a disjoint-set data structure with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}
