package graphbuild

import (
	"fmt"
	"sort"

	"github.com/sotatable/sota/kg"
)

// detectCommunities is Phase 3 (§4.4): build an undirected graph over
// entity names from merged relationships, then apply Louvain community
// detection recursively — level 0 at resolution 1.0 (fixed seed), each
// community of size >= minSize*3 recursed on its induced subgraph at
// resolution 1.0+0.2*level, stopping at maxLevel or when a partition
// would fall under minSize. Adapted from the teacher's BFS-plus-
// modularity-split hybrid in graph.DetectCommunities/modularitySplit,
// generalized to genuine recursive multi-level Louvain with a
// resolution schedule and operating on entity names rather than int64
// row ids.
func detectCommunities(g *kg.Graph, minSize, maxLevel int) []kg.Community {
	entities := g.Entities()
	if len(entities) == 0 {
		return nil
	}
	entityByName := make(map[string]kg.Entity, len(entities))
	names := make([]string, 0, len(entities))
	for _, e := range entities {
		entityByName[e.Name] = e
		names = append(names, e.Name)
	}
	sort.Strings(names)

	adj := make(map[string]map[string]float64, len(names))
	for _, n := range names {
		adj[n] = make(map[string]float64)
	}
	for _, r := range g.Relationships() {
		if _, ok := adj[r.Source]; !ok {
			continue
		}
		if _, ok := adj[r.Target]; !ok {
			continue
		}
		if r.Source == r.Target {
			continue
		}
		adj[r.Source][r.Target] += 1.0
		adj[r.Target][r.Source] += 1.0
	}

	var communities []kg.Community
	counters := make(map[int]int)

	var process func(nodes []string, level int, parentID string)
	process = func(nodes []string, level int, parentID string) {
		if len(nodes) == 0 {
			return
		}
		resolution := 1.0 + 0.2*float64(level)
		groups := louvainPass(nodes, adj, resolution)
		for _, grp := range groups {
			if len(grp) < minSize {
				continue
			}
			sort.Strings(grp)
			id := fmt.Sprintf("L%d_C%d", level, counters[level])
			counters[level]++

			members := make([]kg.EntityKey, len(grp))
			for i, n := range grp {
				members[i] = kg.EntityKey{Name: n, Type: entityByName[n].Type}
			}
			communities = append(communities, kg.Community{
				ID:      id,
				Level:   level,
				Members: members,
				Parent:  parentID,
			})

			if level < maxLevel && len(grp) >= minSize*3 {
				process(grp, level+1, id)
			}
		}
	}
	process(names, 0, "")
	return communities
}

// louvainPass runs one level of greedy modularity optimization
// (the Louvain "local moving" phase) over the induced subgraph on
// nodes, at the given resolution, starting from singleton communities.
// Deterministic: nodes are visited in the order given (callers pass
// sorted slices) and groups are returned sorted by their lexicographic
// minimum member, satisfying the "fixed seed" reproducibility
// requirement without an explicit RNG.
func louvainPass(nodes []string, adj map[string]map[string]float64, resolution float64) [][]string {
	n := len(nodes)
	if n == 0 {
		return nil
	}
	idx := make(map[string]int, n)
	for i, nm := range nodes {
		idx[nm] = i
	}

	neighbors := make([]map[int]float64, n)
	strength := make([]float64, n)
	for i, nm := range nodes {
		neighbors[i] = make(map[int]float64)
		for to, w := range adj[nm] {
			j, ok := idx[to]
			if !ok || j == i {
				continue
			}
			neighbors[i][j] += w
			strength[i] += w
		}
	}

	totalWeight := 0.0
	for i := range nodes {
		totalWeight += strength[i]
	}
	totalWeight /= 2
	m2 := 2 * totalWeight

	community := make([]int, n)
	for i := range community {
		community[i] = i
	}

	if m2 > 0 {
		commStrength := make([]float64, n)
		for i := range nodes {
			commStrength[community[i]] += strength[i]
		}

		const maxPasses = 20
		for pass := 0; pass < maxPasses; pass++ {
			moved := false
			for i := range nodes {
				commWeights := make(map[int]float64)
				for j, w := range neighbors[i] {
					commWeights[community[j]] += w
				}

				current := community[i]
				ki := strength[i]
				kiIn := commWeights[current]
				sigmaCurrent := commStrength[current]
				removeDelta := kiIn/m2 - resolution*(sigmaCurrent*ki)/(m2*m2)

				best := current
				bestGain := 0.0

				otherComms := make([]int, 0, len(commWeights))
				for c := range commWeights {
					if c != current {
						otherComms = append(otherComms, c)
					}
				}
				sort.Ints(otherComms)
				for _, c := range otherComms {
					wic := commWeights[c]
					sigmaC := commStrength[c]
					gain := (wic/m2 - resolution*(sigmaC*ki)/(m2*m2)) - removeDelta
					if gain > bestGain {
						bestGain = gain
						best = c
					}
				}

				if best != current {
					commStrength[current] -= ki
					commStrength[best] += ki
					community[i] = best
					moved = true
				}
			}
			if !moved {
				break
			}
		}
	}

	groups := make(map[int][]string)
	for i, nm := range nodes {
		groups[community[i]] = append(groups[community[i]], nm)
	}

	result := make([][]string, 0, len(groups))
	for _, g := range groups {
		result = append(result, g)
	}
	sort.Slice(result, func(a, b int) bool {
		return groupKey(result[a]) < groupKey(result[b])
	})
	return result
}

func groupKey(grp []string) string {
	min := grp[0]
	for _, n := range grp[1:] {
		if n < min {
			min = n
		}
	}
	return min
}
