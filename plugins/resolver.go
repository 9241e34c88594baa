package plugins

import (
	"fmt"
	"strings"
)

// DefaultDepthWarningThreshold is the dependency depth above which the
// resolver emits an operational warning about overly deep chains.
const DefaultDepthWarningThreshold = 5

// Node is a single plugin inside a dependency graph.
type Node struct {
	// Plugin is the plugin instance the node wraps.
	Plugin Plugin
	// Deps are the plugin's active dependency declarations whose targets
	// are present in the graph, in declaration order.
	Deps []Dependency
	// Dependents lists the names of plugins that depend on this node.
	Dependents []string
	// Depth is 1 + the maximum depth over the node's dependency edges,
	// 0 for nodes without dependencies. Populated during resolution.
	Depth int
}

// Graph is the directed dependency graph built for a single Resolve call.
// It is rebuilt from scratch on every resolution and never mutated
// incrementally, so it cannot hold stale edges.
type Graph struct {
	nodes map[string]*Node
	// order preserves the input order of node names; all deterministic
	// iteration in the resolver goes through it.
	order []string
	// edges maps a plugin name to the names it depends on, deduplicated,
	// in declaration order.
	edges map[string][]string
	// roots are nodes no other plugin depends on; leaves are nodes with no
	// outgoing dependency edges.
	roots  []string
	leaves []string
}

// Node returns the named node, or nil.
func (g *Graph) Node(name string) *Node { return g.nodes[name] }

// Names returns the node names in input order.
func (g *Graph) Names() []string { return append([]string(nil), g.order...) }

// Edges returns the dependency targets of the named node, in declaration order.
func (g *Graph) Edges(name string) []string { return append([]string(nil), g.edges[name]...) }

// Roots returns the names of nodes without dependents.
func (g *Graph) Roots() []string { return append([]string(nil), g.roots...) }

// Leaves returns the names of nodes without dependencies.
func (g *Graph) Leaves() []string { return append([]string(nil), g.leaves...) }

// Incompatibility records a version requirement that the present dependency
// does not satisfy.
type Incompatibility struct {
	// Plugin is the dependent declaring the requirement.
	Plugin string
	// Dependency is the target plugin whose version was checked.
	Dependency string
	// Reason is a human-readable mismatch description.
	Reason string
}

// ResolveResult is the structured outcome of a Resolve call. The resolver
// never returns an error: failure modes are reported as data so the caller
// decides policy.
type ResolveResult struct {
	// Success reports whether a full install order could be computed. When
	// true, Order is a permutation of the input placing every required and
	// peer dependency before its dependents.
	Success bool
	// Order is the computed installation order.
	Order []Plugin
	// Cycles lists every detected dependency cycle as a name path.
	Cycles [][]string
	// Missing lists plain required dependencies absent from the input set.
	// Absent peer and optional dependencies surface as Warnings instead.
	Missing []string
	// Incompatible lists version mismatches on required and peer edges.
	Incompatible []Incompatibility
	// Warnings carries advisory findings: absent peer or optional
	// dependencies, optional version mismatches and overly deep chains.
	Warnings []string
	// Graph is the graph built for this resolution, kept for diagnostics
	// and export.
	Graph *Graph
}

// Resolver computes installation order for a set of plugins from their
// declared dependencies.
type Resolver struct {
	depthWarningThreshold int
}

// NewResolver creates a resolver with the default depth warning threshold.
func NewResolver() *Resolver {
	return &Resolver{depthWarningThreshold: DefaultDepthWarningThreshold}
}

// Resolve builds the dependency graph for the given plugins, detects cycles,
// verifies required dependencies and version compatibility, and computes a
// topological installation order. The result is deterministic for identical
// input order: ties are broken by input position.
func (r *Resolver) Resolve(list []Plugin) ResolveResult {
	result := ResolveResult{}

	graph, missingRequired, warnings := buildGraph(list)
	result.Graph = graph
	result.Warnings = warnings

	// Cycle detection takes precedence over every other check.
	if cycles := detectCycles(graph); len(cycles) > 0 {
		result.Cycles = cycles
		return result
	}

	if len(missingRequired) > 0 {
		result.Missing = missingRequired
		return result
	}

	incompatible, versionWarnings := checkVersions(graph)
	result.Warnings = append(result.Warnings, versionWarnings...)
	if len(incompatible) > 0 {
		result.Incompatible = incompatible
		return result
	}

	order, ok := topoSort(graph)
	if !ok {
		// Unreachable once cycle detection passed; kept as a guard against
		// an inconsistent edge set.
		result.Warnings = append(result.Warnings, "topological sort did not cover all plugins")
		return result
	}

	for _, name := range graph.order {
		node := graph.nodes[name]
		if node.Depth > r.depthWarningThreshold {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("plugin %s has dependency depth %d, exceeding %d", name, node.Depth, r.depthWarningThreshold))
		}
	}

	result.Success = true
	result.Order = order
	return result
}

// buildGraph constructs the graph from the input plugins. It returns the
// graph, the names of absent plain required dependencies (deduplicated, in
// discovery order) and warnings for absent peer and optional dependencies.
func buildGraph(list []Plugin) (*Graph, []string, []string) {
	g := &Graph{
		nodes: make(map[string]*Node, len(list)),
		edges: make(map[string][]string, len(list)),
	}
	var warnings []string

	for _, p := range list {
		if p == nil || p.Name() == "" {
			continue
		}
		name := p.Name()
		if _, dup := g.nodes[name]; dup {
			warnings = append(warnings, fmt.Sprintf("duplicate plugin name %s, keeping the first occurrence", name))
			continue
		}
		g.nodes[name] = &Node{Plugin: p}
		g.order = append(g.order, name)
	}

	var missingRequired []string
	missingSeen := make(map[string]bool)

	for _, name := range g.order {
		node := g.nodes[name]
		aware, ok := node.Plugin.(DependencyAware)
		if !ok {
			continue
		}
		edgeSeen := make(map[string]bool)
		for _, dep := range aware.Dependencies() {
			if dep.Name == "" || dep.Name == name || !dep.active() {
				continue
			}
			target, present := g.nodes[dep.Name]
			if !present {
				// Only plain required dependencies block resolution; absent
				// peer and optional targets are advisory. Peer edges stay
				// required-like for ordering and version checks when present.
				switch dep.Type {
				case DependencyRequired:
					if !missingSeen[dep.Name] {
						missingSeen[dep.Name] = true
						missingRequired = append(missingRequired, dep.Name)
					}
				case DependencyPeer:
					warnings = append(warnings,
						fmt.Sprintf("peer dependency %s of plugin %s is not present", dep.Name, name))
				default:
					warnings = append(warnings,
						fmt.Sprintf("optional dependency %s of plugin %s is not present", dep.Name, name))
				}
				continue
			}
			node.Deps = append(node.Deps, dep)
			if !edgeSeen[dep.Name] {
				edgeSeen[dep.Name] = true
				g.edges[name] = append(g.edges[name], dep.Name)
				target.Dependents = append(target.Dependents, name)
			}
		}
	}

	for _, name := range g.order {
		if len(g.nodes[name].Dependents) == 0 {
			g.roots = append(g.roots, name)
		}
		if len(g.edges[name]) == 0 {
			g.leaves = append(g.leaves, name)
		}
	}

	return g, missingRequired, warnings
}

// detectCycles runs a depth-first traversal with an explicit recursion stack.
// A back edge to a node on the stack records the stack slice from that node
// to the current one as a cycle. All independent cycles are collected.
func detectCycles(g *Graph) [][]string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	stack := make([]string, 0, len(g.order))

	var cycles [][]string
	seen := make(map[string]bool)

	var dfs func(name string)
	dfs = func(name string) {
		visited[name] = true
		onStack[name] = true
		stack = append(stack, name)

		for _, dep := range g.edges[name] {
			if onStack[dep] {
				// Slice the current stack from the first occurrence of dep.
				start := 0
				for i, n := range stack {
					if n == dep {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				if key := cycleKey(cycle); !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
				continue
			}
			if !visited[dep] {
				dfs(dep)
			}
		}

		stack = stack[:len(stack)-1]
		onStack[name] = false
	}

	for _, name := range g.order {
		if !visited[name] {
			dfs(name)
		}
	}
	return cycles
}

// cycleKey produces a rotation-invariant identity for a cycle so the same
// cycle reached from different entry points is reported once.
func cycleKey(cycle []string) string {
	if len(cycle) == 0 {
		return ""
	}
	min := 0
	for i, n := range cycle {
		if n < cycle[min] {
			min = i
		}
	}
	rotated := make([]string, 0, len(cycle))
	rotated = append(rotated, cycle[min:]...)
	rotated = append(rotated, cycle[:min]...)
	return strings.Join(rotated, "->")
}

// checkVersions validates every edge carrying a version requirement.
// Mismatches on required and peer edges are fatal; optional mismatches are
// downgraded to warnings.
func checkVersions(g *Graph) ([]Incompatibility, []string) {
	var incompatible []Incompatibility
	var warnings []string

	for _, name := range g.order {
		for _, dep := range g.nodes[name].Deps {
			if dep.Requirement == nil {
				continue
			}
			target := g.nodes[dep.Name]
			ok, reason := dep.Requirement.Satisfies(target.Plugin.Version())
			if ok {
				continue
			}
			if dep.Required() {
				incompatible = append(incompatible, Incompatibility{
					Plugin:     name,
					Dependency: dep.Name,
					Reason:     reason,
				})
			} else {
				warnings = append(warnings,
					fmt.Sprintf("optional dependency %s of plugin %s: %s", dep.Name, name, reason))
			}
		}
	}
	return incompatible, warnings
}

// topoSort runs Kahn's algorithm over the graph. In-degree counts a node's
// outgoing dependency edges, so dependencies are emitted before dependents.
// The FIFO queue is seeded in input order, which makes ties deterministic.
// Node depths are assigned as nodes are emitted.
func topoSort(g *Graph) ([]Plugin, bool) {
	inDegree := make(map[string]int, len(g.order))
	for _, name := range g.order {
		inDegree[name] = len(g.edges[name])
	}

	queue := make([]string, 0, len(g.order))
	for _, name := range g.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]Plugin, 0, len(g.order))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		node := g.nodes[name]

		depth := 0
		for _, dep := range g.edges[name] {
			if d := g.nodes[dep].Depth + 1; d > depth {
				depth = d
			}
		}
		node.Depth = depth
		order = append(order, node.Plugin)

		for _, dependent := range node.Dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	return order, len(order) == len(g.order)
}
