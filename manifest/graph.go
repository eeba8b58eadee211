package manifest

import (
	"fmt"
	"sort"

	"github.com/Theauxm/manifold"
)

// ValidateGroupDAG checks that cross-group dependency edges form a DAG.
// An edge A → B exists when any manifest in group B depends on a manifest
// in group A. Within-group edges are not checked; the runtime dependent
// evaluation handles those naturally.
//
// Validation uses Kahn's algorithm: nodes left standing after all
// zero-in-degree removals participate in a cycle, and their group names
// are reported in the error. Run once before the pollers start — a
// process must not come up with an unsatisfiable schedule graph.
func ValidateGroupDAG(manifests []*Manifest, groups []*Group) error {
	groupName := make(map[string]string, len(groups))
	for _, g := range groups {
		groupName[g.ID.String()] = g.Name
	}
	manifestGroup := make(map[string]string, len(manifests))
	for _, m := range manifests {
		manifestGroup[m.ID.String()] = m.GroupID.String()
	}

	// adjacency: parent group -> dependent groups; inDeg per group.
	edges := make(map[string]map[string]struct{})
	inDeg := make(map[string]int, len(groups))
	for _, g := range groups {
		inDeg[g.ID.String()] = 0
	}

	for _, m := range manifests {
		if m.DependsOn.IsNil() {
			continue
		}
		from, ok := manifestGroup[m.DependsOn.String()]
		if !ok {
			continue // dangling parent; cleared elsewhere
		}
		to := m.GroupID.String()
		if from == to {
			continue
		}
		if edges[from] == nil {
			edges[from] = make(map[string]struct{})
		}
		if _, dup := edges[from][to]; dup {
			continue
		}
		edges[from][to] = struct{}{}
		inDeg[to]++
	}

	// Seed queue with zero in-degree groups.
	var queue []string
	for gid, deg := range inDeg {
		if deg == 0 {
			queue = append(queue, gid)
		}
	}

	processed := 0
	for len(queue) > 0 {
		gid := queue[0]
		queue = queue[1:]
		processed++

		for to := range edges[gid] {
			inDeg[to]--
			if inDeg[to] == 0 {
				queue = append(queue, to)
			}
		}
	}

	if processed == len(inDeg) {
		return nil
	}

	// Everything still holding in-degree is part of (or downstream of a
	// node in) a cycle; report the implicated group names sorted.
	var cyclic []string
	for gid, deg := range inDeg {
		if deg > 0 {
			name := groupName[gid]
			if name == "" {
				name = gid
			}
			cyclic = append(cyclic, name)
		}
	}
	sort.Strings(cyclic)

	return fmt.Errorf("%w: groups %v", manifold.ErrDependencyCycle, cyclic)
}
