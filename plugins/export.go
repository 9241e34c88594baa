package plugins

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExportFormat selects a textual rendering of a dependency graph.
type ExportFormat string

const (
	// ExportJSON renders the graph as indented JSON.
	ExportJSON ExportFormat = "json"
	// ExportMermaid renders a mermaid flowchart.
	ExportMermaid ExportFormat = "mermaid"
	// ExportDOT renders a Graphviz digraph.
	ExportDOT ExportFormat = "dot"
)

type exportNode struct {
	Name       string   `json:"name"`
	Version    string   `json:"version,omitempty"`
	Depth      int      `json:"depth"`
	DependsOn  []string `json:"depends_on,omitempty"`
	Dependents []string `json:"dependents,omitempty"`
}

type exportGraph struct {
	Nodes  []exportNode `json:"nodes"`
	Roots  []string     `json:"roots,omitempty"`
	Leaves []string     `json:"leaves,omitempty"`
}

// Export renders the graph in the requested format. The output is a
// diagnostic-only representation with no import counterpart.
func (g *Graph) Export(format ExportFormat) (string, error) {
	switch format {
	case ExportJSON:
		return g.exportJSON()
	case ExportMermaid:
		return g.exportMermaid(), nil
	case ExportDOT:
		return g.exportDOT(), nil
	}
	return "", fmt.Errorf("unsupported export format %q", format)
}

func (g *Graph) exportJSON() (string, error) {
	out := exportGraph{Roots: g.roots, Leaves: g.leaves}
	for _, name := range g.order {
		node := g.nodes[name]
		out.Nodes = append(out.Nodes, exportNode{
			Name:       name,
			Version:    node.Plugin.Version(),
			Depth:      node.Depth,
			DependsOn:  g.edges[name],
			Dependents: node.Dependents,
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal dependency graph: %w", err)
	}
	return string(data), nil
}

func (g *Graph) exportMermaid() string {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, name := range g.order {
		if deps := g.edges[name]; len(deps) > 0 {
			for _, dep := range deps {
				fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(name), mermaidID(dep))
			}
		} else {
			fmt.Fprintf(&b, "    %s\n", mermaidID(name))
		}
	}
	return b.String()
}

func (g *Graph) exportDOT() string {
	var b strings.Builder
	b.WriteString("digraph dependencies {\n")
	for _, name := range g.order {
		fmt.Fprintf(&b, "    %q;\n", name)
	}
	for _, name := range g.order {
		for _, dep := range g.edges[name] {
			fmt.Fprintf(&b, "    %q -> %q;\n", name, dep)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

// mermaidID strips characters mermaid treats as syntax from node names.
func mermaidID(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '/', '(', ')', '[', ']', '{', '}':
			return '_'
		}
		return r
	}, name)
}
