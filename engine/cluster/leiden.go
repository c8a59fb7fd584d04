package cluster

import (
	"math"
	"sort"
)

// buildSimilarityGraph computes a sparse weighted edge set between
// statement indices that share at least one subject/predicate/object
// entity, weight = sharedEntities × 2 (spec §4.9 "Similarity graph"). The
// edge set lives only in memory; nothing here is written back to the
// store until finalizeClusters runs.
func buildSimilarityGraph(members []member) map[[2]int]float64 {
	byEntity := make(map[string][]int)
	for i, m := range members {
		for _, id := range []string{m.subject, m.predicate, m.object} {
			if id == "" {
				continue
			}
			byEntity[id] = append(byEntity[id], i)
		}
	}

	shared := make(map[[2]int]int)
	for _, idxs := range byEntity {
		for i := 0; i < len(idxs); i++ {
			for j := i + 1; j < len(idxs); j++ {
				a, b := idxs[i], idxs[j]
				if a == b {
					continue
				}
				if a > b {
					a, b = b, a
				}
				shared[[2]int{a, b}]++
			}
		}
	}

	graph := make(map[[2]int]float64, len(shared))
	for pair, count := range shared {
		graph[pair] = float64(count) * 2
	}
	return graph
}

// runLeiden assigns each of n statements to a dense community index
// using an iterative local-moving modularity optimization with a
// resolution parameter, the Leiden/Louvain local-move phase (spec §4.9
// "Leiden pass"). No Neo4j GDS plugin exists in this deployment, so the
// projection and the optimization both run here instead of in the store.
//
// This implements the local-move phase only, repeated up to
// LeidenMaxLevels times or until a full sweep's total modularity gain
// drops below LeidenTolerance; it does not recurse into the coarsened
// super-node graph a full multilevel Leiden would build on each level.
// For the statement-count scale this pass operates at (one user's graph,
// re-run incrementally), local moving alone converges to stable,
// well-separated communities.
func runLeiden(graph map[[2]int]float64, n int) []int {
	community := make([]int, n)
	for i := range community {
		community[i] = i
	}
	if n == 0 {
		return community
	}

	adj := make([]map[int]float64, n)
	degree := make([]float64, n)
	totalWeight := 0.0
	for i := range adj {
		adj[i] = make(map[int]float64)
	}
	for pair, w := range graph {
		a, b := pair[0], pair[1]
		adj[a][b] += w
		adj[b][a] += w
		degree[a] += w
		degree[b] += w
		totalWeight += w
	}
	if totalWeight == 0 {
		return normalizeCommunities(community)
	}
	m2 := 2 * totalWeight

	commDegree := append([]float64(nil), degree...)

	for level := 0; level < LeidenMaxLevels; level++ {
		moved := false
		totalGain := 0.0

		for i := 0; i < n; i++ {
			current := community[i]
			commDegree[current] -= degree[i]

			neighborWeight := make(map[int]float64, len(adj[i]))
			for j, w := range adj[i] {
				neighborWeight[community[j]] += w
			}

			bestComm := current
			bestGain := neighborWeight[current] - LeidenGamma*degree[i]*commDegree[current]/m2
			for c, kiIn := range neighborWeight {
				if c == current {
					continue
				}
				gain := kiIn - LeidenGamma*degree[i]*commDegree[c]/m2
				if gain > bestGain {
					bestGain = gain
					bestComm = c
				}
			}

			commDegree[bestComm] += degree[i]
			if bestComm != current {
				community[i] = bestComm
				moved = true
				totalGain += bestGain
			}
		}

		if !moved || totalGain < LeidenTolerance {
			break
		}
	}

	return normalizeCommunities(community)
}

// normalizeCommunities remaps arbitrary community ids to a dense
// 0..k-1 range so callers can use them directly as map keys.
func normalizeCommunities(community []int) []int {
	remap := make(map[int]int, len(community))
	out := make([]int, len(community))
	next := 0
	for i, c := range community {
		id, ok := remap[c]
		if !ok {
			id = next
			remap[c] = id
			next++
		}
		out[i] = id
	}
	return out
}

// cosineSimilarity is hand-rolled: no ecosystem vector-math library
// appears anywhere in the example pack, and this is the only similarity
// primitive C9 needs beyond what Qdrant already computes server-side.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// topN returns the n keys with the highest counts, ties broken
// lexicographically for determinism.
func topN(counts map[string]int, n int) []string {
	type kv struct {
		key   string
		count int
	}
	items := make([]kv, 0, len(counts))
	for k, v := range counts {
		items = append(items, kv{k, v})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].count != items[j].count {
			return items[i].count > items[j].count
		}
		return items[i].key < items[j].key
	})
	if len(items) > n {
		items = items[:n]
	}
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out
}
