package prompt

import (
	"sort"

	"defgen/internal/logging"
)

// plan is the execution order computed once per registry.
type plan struct {
	modules []Module
	specs   []Spec
	// levels holds core and conditional module indices; modules within a
	// level have no edges between them.
	levels [][]int
	// optional holds optional module indices in run order.
	optional []int
	// rank is each module's position in the global topological order.
	rank  []int
	types map[string]ValueType
}

// buildPlan validates the registry and orders it. Edges run from the writer
// of a key to every reader of it.
func buildPlan(modules []Module) (*plan, error) {
	timer := logging.StartTimer(logging.CategoryAssembly, "buildPlan")
	defer timer.Stop()

	p := &plan{
		modules: modules,
		specs:   make([]Spec, len(modules)),
		types:   make(map[string]ValueType),
	}
	index := make(map[string]int, len(modules))
	for i, m := range modules {
		spec := m.Spec()
		if spec.ID == "" {
			return nil, &ConfigurationError{Type: ConfigErrorInvalid, Detail: "module without id"}
		}
		if _, dup := index[spec.ID]; dup {
			return nil, &ConfigurationError{Type: ConfigErrorDuplicate, Modules: []string{spec.ID}}
		}
		if spec.Mandatory && spec.Tier == TierOptional {
			return nil, &ConfigurationError{Type: ConfigErrorInvalid, Modules: []string{spec.ID},
				Detail: "optional module cannot be mandatory"}
		}
		if spec.Static && (len(spec.Reads) > 0 || len(spec.Writes) > 0) {
			return nil, &ConfigurationError{Type: ConfigErrorStatic, Modules: []string{spec.ID}}
		}
		index[spec.ID] = i
		p.specs[i] = spec
	}

	writers := make(map[string][]int)
	for i, spec := range p.specs {
		for _, w := range spec.Writes {
			if w.Name == "" {
				return nil, &ConfigurationError{Type: ConfigErrorInvalid, Modules: []string{spec.ID},
					Detail: "state key without name"}
			}
			if prev, ok := p.types[w.Name]; ok && prev != w.Type {
				return nil, &ConfigurationError{Type: ConfigErrorTypeConflict,
					Modules: append(moduleIDs(p.specs, writers[w.Name]), spec.ID), Key: w.Name,
					Detail: string(prev) + " vs " + string(w.Type)}
			}
			p.types[w.Name] = w.Type
			writers[w.Name] = append(writers[w.Name], i)
		}
	}

	deps := make([][]int, len(modules))
	for i, spec := range p.specs {
		for _, r := range spec.Reads {
			ws := writers[r]
			if len(ws) == 0 {
				return nil, &ConfigurationError{Type: ConfigErrorUndeclaredRead, Modules: []string{spec.ID}, Key: r}
			}
			if spec.Tier != TierOptional && allOptional(p.specs, ws) {
				return nil, &ConfigurationError{Type: ConfigErrorOptionalOnly,
					Modules: append([]string{spec.ID}, moduleIDs(p.specs, ws)...), Key: r}
			}
			for _, w := range ws {
				if w != i {
					deps[i] = append(deps[i], w)
				}
			}
		}
	}

	if cycle := detectCycle(p.specs, deps); cycle != nil {
		return nil, &ConfigurationError{Type: ConfigErrorCycle, Modules: cycle}
	}

	p.rank = topoRank(deps, func(a, b int) bool { return a < b })
	p.levels = levelize(p.specs, deps)
	p.optional = optionalOrder(p.specs, deps)

	logging.Get(logging.CategoryAssembly).Debug("Planned %d modules in %d levels (%d optional)",
		len(modules), len(p.levels), len(p.optional))
	return p, nil
}

// topoRank runs Kahn's algorithm, picking the best ready node by less.
func topoRank(deps [][]int, less func(a, b int) bool) []int {
	n := len(deps)
	inDegree := make([]int, n)
	dependents := make([][]int, n)
	for i, ds := range deps {
		for _, d := range ds {
			inDegree[i]++
			dependents[d] = append(dependents[d], i)
		}
	}
	var ready []int
	for i := 0; i < n; i++ {
		if inDegree[i] == 0 {
			ready = append(ready, i)
		}
	}
	rank := make([]int, n)
	for pos := 0; len(ready) > 0; pos++ {
		sort.Slice(ready, func(a, b int) bool { return less(ready[a], ready[b]) })
		cur := ready[0]
		ready = ready[1:]
		rank[cur] = pos
		for _, d := range dependents[cur] {
			inDegree[d]--
			if inDegree[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	return rank
}

// levelize groups core and conditional modules by longest dependency depth.
// Edges from optional writers are ignored here; those keys are never read
// outside the optional phase.
func levelize(specs []Spec, deps [][]int) [][]int {
	depth := make([]int, len(specs))
	done := make([]bool, len(specs))
	var visit func(i int) int
	visit = func(i int) int {
		if done[i] {
			return depth[i]
		}
		d := 0
		for _, w := range deps[i] {
			if specs[w].Tier == TierOptional {
				continue
			}
			if wd := visit(w) + 1; wd > d {
				d = wd
			}
		}
		depth[i], done[i] = d, true
		return d
	}

	var levels [][]int
	for i, spec := range specs {
		if spec.Tier == TierOptional {
			continue
		}
		d := visit(i)
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], i)
	}
	return levels
}

// optionalOrder sorts optional modules topologically among themselves,
// breaking ties by priority and then registry order.
func optionalOrder(specs []Spec, deps [][]int) []int {
	var idx []int
	local := make(map[int]int)
	for i, spec := range specs {
		if spec.Tier == TierOptional {
			local[i] = len(idx)
			idx = append(idx, i)
		}
	}
	sub := make([][]int, len(idx))
	for li, gi := range idx {
		for _, w := range deps[gi] {
			if lw, ok := local[w]; ok {
				sub[li] = append(sub[li], lw)
			}
		}
	}
	rank := topoRank(sub, func(a, b int) bool {
		pa, pb := specs[idx[a]].Priority, specs[idx[b]].Priority
		if pa != pb {
			return pa > pb
		}
		return a < b
	})
	out := make([]int, len(idx))
	for li, r := range rank {
		out[r] = idx[li]
	}
	return out
}

// detectCycle finds a dependency cycle using DFS with color marking.
// It returns the cycle as a path of module ids, or nil.
func detectCycle(specs []Spec, deps [][]int) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(specs))
	parent := make([]int, len(specs))
	var cycle []string

	var dfs func(node int) bool
	dfs = func(node int) bool {
		color[node] = gray
		for _, next := range deps[node] {
			if color[next] == gray {
				cycle = []string{specs[next].ID}
				for cur := node; cur != next; cur = parent[cur] {
					cycle = append([]string{specs[cur].ID}, cycle...)
				}
				cycle = append([]string{specs[next].ID}, cycle...)
				return true
			}
			if color[next] == white {
				parent[next] = node
				if dfs(next) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for i := range specs {
		if color[i] == white && dfs(i) {
			return cycle
		}
	}
	return nil
}

func allOptional(specs []Spec, idx []int) bool {
	for _, i := range idx {
		if specs[i].Tier != TierOptional {
			return false
		}
	}
	return true
}

func moduleIDs(specs []Spec, idx []int) []string {
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = specs[j].ID
	}
	return out
}
