package mesh

import (
	"fmt"
	"math"
	"testing"
	"time"

	"pgregory.net/rapid"
)

// unionFind is the reachability oracle for generated graphs.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

func (u *unionFind) components(n int) int {
	seen := make(map[int]struct{})
	for i := 0; i < n; i++ {
		seen[u.find(i)] = struct{}{}
	}
	return len(seen)
}

// buildRandomTopology registers n nodes with randomly drawn directed
// connection declarations and mirrors every edge into the oracle.
func buildRandomTopology(t *rapid.T) (*Topology, []string, *unionFind) {
	n := rapid.IntRange(1, 12).Draw(t, "nodes")

	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("node-%02d", i)
	}

	edges := rapid.SliceOfN(
		rapid.Custom(func(t *rapid.T) [2]int {
			return [2]int{
				rapid.IntRange(0, n-1).Draw(t, "src"),
				rapid.IntRange(0, n-1).Draw(t, "dst"),
			}
		}),
		0, 30,
	).Draw(t, "edges")

	oracle := newUnionFind(n)
	conns := make(map[int][]Connection)
	for _, e := range edges {
		if e[0] == e[1] {
			continue
		}
		latency := time.Duration(rapid.IntRange(0, 100).Draw(t, "latency")) * time.Millisecond
		conns[e[0]] = append(conns[e[0]], link(ids[e[1]], latency))
		oracle.union(e[0], e[1])
	}

	topo := NewTopology(nil)
	for i, id := range ids {
		topo.AddNode(activeNode(id, 0.8, nil, conns[i]...))
	}
	return topo, ids, oracle
}

// A path exists between two nodes exactly when they are in the same
// connected component, and every returned path is well formed: it starts
// at the source, ends at the destination, and walks only declared edges.
func TestRoutingPathMatchesReachability(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		topo, ids, oracle := buildRandomTopology(t)
		table := topo.routes.Load()

		for i := range ids {
			for j := range ids {
				path := topo.FindPath(ids[i], ids[j])
				reachable := oracle.find(i) == oracle.find(j)

				if reachable && path == nil {
					t.Fatalf("expected path %s -> %s, got none", ids[i], ids[j])
				}
				if !reachable && path != nil {
					t.Fatalf("unexpected path %s -> %s: %v", ids[i], ids[j], path)
				}
				if path == nil {
					continue
				}

				if path[0] != ids[i] || path[len(path)-1] != ids[j] {
					t.Fatalf("path endpoints wrong: %v", path)
				}
				seen := make(map[string]struct{}, len(path))
				for _, hop := range path {
					if _, dup := seen[hop]; dup {
						t.Fatalf("path revisits node: %v", path)
					}
					seen[hop] = struct{}{}
				}

				// Hop-by-hop cost must add up to the table's distance.
				var sum float64
				for k := 0; k+1 < len(path); k++ {
					step := table.cost(path[k], path[k+1])
					if math.IsInf(step, 1) {
						t.Fatalf("path uses missing edge %s -> %s", path[k], path[k+1])
					}
					sum += step
				}
				if total := table.cost(ids[i], ids[j]); math.Abs(sum-total) > 1e-6 {
					t.Fatalf("path cost %v != table cost %v for %v", sum, total, path)
				}
			}
		}
	})
}

func TestRoutingPartitionCountMatchesOracle(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		topo, ids, oracle := buildRandomTopology(t)

		got := topo.Health().PartitionCount
		want := oracle.components(len(ids))
		if got != want {
			t.Fatalf("partition count %d, oracle says %d", got, want)
		}
	})
}

func TestRoutingUnmeasuredLatencyIsDeprioritized(t *testing.T) {
	topo := NewTopology(nil)

	// a-c has no measured latency so it carries the default weight; the
	// measured two-hop route must win.
	topo.AddNode(activeNode("a", 0.8, nil,
		link("b", 5*time.Millisecond),
		link("c", 0),
	))
	topo.AddNode(activeNode("b", 0.8, nil, link("c", 5*time.Millisecond)))
	topo.AddNode(activeNode("c", 0.8, nil))

	path := topo.FindPath("a", "c")
	if len(path) != 3 {
		t.Fatalf("expected a-b-c, got %v", path)
	}
}
