// Package graph builds the dependency graph of declared targets and orders
// it into execution layers.
package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lucasnoah/nbuild/internal/config"
	"github.com/lucasnoah/nbuild/internal/failure"
)

// Stage is the pipeline stage a target belongs to.
type Stage string

const (
	StageBuild   Stage = "build"
	StagePublish Stage = "publish"
	StageDeploy  Stage = "deploy"
)

// Node is one target. Inputs keep their declaration order.
type Node struct {
	Name   string
	Stage  Stage
	Inputs []string
	Layer  int
}

// Graph is a validated, acyclic target graph. It is read-only once built.
type Graph struct {
	nodes      map[string]*Node
	names      []string
	layers     [][]string
	dependents map[string][]string
}

// UnknownTargetError is returned when an input names no declared target.
type UnknownTargetError struct {
	Missing  string
	Referrer string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("target %q has unknown input %q", e.Referrer, e.Missing)
}

// FailureKind implements failure.Classified.
func (e *UnknownTargetError) FailureKind() failure.Kind { return failure.Graph }

// CycleError is returned when inputs form a cycle. Path starts and ends
// with the same target.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

// FailureKind implements failure.Classified.
func (e *CycleError) FailureKind() failure.Kind { return failure.Graph }

// FromConfig collects every build, publish and deploy target of cfg.
func FromConfig(cfg *config.PipelineConfig) []Node {
	var nodes []Node
	for name, t := range cfg.Build {
		nodes = append(nodes, Node{Name: name, Stage: StageBuild, Inputs: t.Inputs})
	}
	for name, t := range cfg.Publish {
		nodes = append(nodes, Node{Name: name, Stage: StagePublish, Inputs: t.Inputs})
	}
	for name, t := range cfg.Deploy {
		nodes = append(nodes, Node{Name: name, Stage: StageDeploy, Inputs: t.Inputs})
	}
	return nodes
}

// Build validates nodes and computes their layers.
func Build(nodes []Node) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]*Node, len(nodes)),
		dependents: make(map[string][]string),
	}
	for i := range nodes {
		n := nodes[i]
		if _, dup := g.nodes[n.Name]; dup {
			return nil, failure.Newf(failure.Graph, "target %q is declared more than once", n.Name)
		}
		n.Inputs = dedupe(n.Inputs)
		g.nodes[n.Name] = &n
		g.names = append(g.names, n.Name)
	}
	sort.Strings(g.names)

	for _, name := range g.names {
		for _, in := range g.nodes[name].Inputs {
			if _, ok := g.nodes[in]; !ok {
				return nil, &UnknownTargetError{Missing: in, Referrer: name}
			}
			g.dependents[in] = append(g.dependents[in], name)
		}
	}

	if err := g.detectCycles(); err != nil {
		return nil, err
	}
	g.computeLayers()
	return g, nil
}

// detectCycles checks for circular dependencies using DFS with a
// recursion stack, reporting the first cycle found as a path.
func (g *Graph) detectCycles() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var stack []string

	var visit func(name string) error
	visit = func(name string) error {
		visiting[name] = true
		stack = append(stack, name)
		for _, dep := range g.nodes[name].Inputs {
			if visiting[dep] {
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				path := append(append([]string(nil), stack[start:]...), dep)
				return &CycleError{Path: path}
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		delete(visiting, name)
		visited[name] = true
		return nil
	}

	for _, name := range g.names {
		if !visited[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// computeLayers repeatedly removes the nodes with no remaining inputs.
func (g *Graph) computeLayers() {
	remaining := make(map[string]int, len(g.names))
	for _, name := range g.names {
		remaining[name] = len(g.nodes[name].Inputs)
	}

	var current []string
	for _, name := range g.names {
		if remaining[name] == 0 {
			current = append(current, name)
		}
	}

	for depth := 0; len(current) > 0; depth++ {
		g.layers = append(g.layers, current)
		var next []string
		for _, name := range current {
			g.nodes[name].Layer = depth
			for _, dep := range g.dependents[name] {
				remaining[dep]--
				if remaining[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		current = next
	}
}

// Node returns the named node.
func (g *Graph) Node(name string) (Node, bool) {
	n, ok := g.nodes[name]
	if !ok {
		return Node{}, false
	}
	out := *n
	out.Inputs = append([]string(nil), n.Inputs...)
	return out, true
}

// Names returns every target name, sorted.
func (g *Graph) Names() []string {
	return append([]string(nil), g.names...)
}

// Layers returns the topological layers. Members of one layer have no
// path between them.
func (g *Graph) Layers() [][]string {
	out := make([][]string, len(g.layers))
	for i, l := range g.layers {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// Order flattens the layers into one execution order.
func (g *Graph) Order() []string {
	var out []string
	for _, l := range g.layers {
		out = append(out, l...)
	}
	return out
}

// Dependents returns the targets that list name as a direct input.
func (g *Graph) Dependents(name string) []string {
	return append([]string(nil), g.dependents[name]...)
}

// Downstream returns every target that transitively depends on name, sorted.
func (g *Graph) Downstream(name string) []string {
	seen := make(map[string]bool)
	queue := append([]string(nil), g.dependents[name]...)
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		queue = append(queue, g.dependents[n]...)
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
