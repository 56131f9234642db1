package mesh

import (
	"math"
	"sort"
)

// defaultEdgeWeight is the weight (in milliseconds) assigned to a connection
// that exists but reports no latency. Large enough to deprioritize the link
// without disconnecting it.
const defaultEdgeWeight = 1000.0

// routingTable is an immutable all-pairs shortest-path table. It is rebuilt
// from scratch on every topology mutation and swapped in atomically; mesh
// sizes are small and routes are read far more often than the topology
// changes, so eager O(n^3) recomputation amortizes well.
type routingTable struct {
	ids   []string
	index map[string]int

	// dist[i][j] is the summed latency of the best path, +Inf when
	// disconnected.
	dist [][]float64

	// next[i][j] is the next hop from i toward j, -1 when disconnected.
	next [][]int

	// adjacency per node index, for component traversal.
	adj [][]int

	edgeCount  int
	latencySum float64
}

// buildRoutingTable computes a routing table via Floyd-Warshall over the
// undirected graph formed by the union of all declared connections. A
// connection is bidirectional for routing even when only one side reports it.
func buildRoutingTable(nodes map[string]*State) *routingTable {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	n := len(ids)
	t := &routingTable{
		ids:   ids,
		index: make(map[string]int, n),
		dist:  make([][]float64, n),
		next:  make([][]int, n),
		adj:   make([][]int, n),
	}
	for i, id := range ids {
		t.index[id] = i
	}
	for i := 0; i < n; i++ {
		t.dist[i] = make([]float64, n)
		t.next[i] = make([]int, n)
		for j := 0; j < n; j++ {
			if i == j {
				t.dist[i][j] = 0
			} else {
				t.dist[i][j] = math.Inf(1)
			}
			t.next[i][j] = -1
		}
	}

	// Union of declared connections; keep the lowest weight when both sides
	// (or duplicates) report the same edge.
	for id, state := range nodes {
		i := t.index[id]
		for _, conn := range state.Connections {
			j, ok := t.index[conn.TargetID]
			if !ok || i == j {
				continue
			}
			w := float64(conn.Latency.Milliseconds())
			if w <= 0 {
				w = defaultEdgeWeight
			}
			if w < t.dist[i][j] {
				if math.IsInf(t.dist[i][j], 1) {
					t.adj[i] = append(t.adj[i], j)
					t.adj[j] = append(t.adj[j], i)
					t.edgeCount++
					t.latencySum += w
				} else {
					t.latencySum += w - t.dist[i][j]
				}
				t.dist[i][j] = w
				t.dist[j][i] = w
				t.next[i][j] = j
				t.next[j][i] = i
			}
		}
	}

	// Floyd-Warshall with next-hop reconstruction.
	for k := 0; k < n; k++ {
		for i := 0; i < n; i++ {
			if math.IsInf(t.dist[i][k], 1) {
				continue
			}
			for j := 0; j < n; j++ {
				if t.dist[i][k]+t.dist[k][j] < t.dist[i][j] {
					t.dist[i][j] = t.dist[i][k] + t.dist[k][j]
					t.next[i][j] = t.next[i][k]
				}
			}
		}
	}
	return t
}

// path reconstructs the ordered node list from src to dst, or nil when either
// node is unknown or no route exists.
func (t *routingTable) path(src, dst string) []string {
	i, ok := t.index[src]
	if !ok {
		return nil
	}
	j, ok := t.index[dst]
	if !ok {
		return nil
	}
	if i == j {
		return []string{src}
	}
	if t.next[i][j] < 0 {
		return nil
	}

	path := []string{src}
	for i != j {
		i = t.next[i][j]
		path = append(path, t.ids[i])
	}
	return path
}

// cost returns the summed latency of the best path, or +Inf when unreachable.
func (t *routingTable) cost(src, dst string) float64 {
	i, ok := t.index[src]
	if !ok {
		return math.Inf(1)
	}
	j, ok := t.index[dst]
	if !ok {
		return math.Inf(1)
	}
	return t.dist[i][j]
}

// partitionCount returns the number of connected components, computed with an
// iterative depth-first traversal (explicit stack, no recursion).
func (t *routingTable) partitionCount() int {
	n := len(t.ids)
	visited := make([]bool, n)
	count := 0

	for start := 0; start < n; start++ {
		if visited[start] {
			continue
		}
		count++
		stack := []int{start}
		for len(stack) > 0 {
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if visited[node] {
				continue
			}
			visited[node] = true
			for _, peer := range t.adj[node] {
				if !visited[peer] {
					stack = append(stack, peer)
				}
			}
		}
	}
	return count
}
