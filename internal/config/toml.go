package config

import (
	"fmt"
	"sort"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pelletier/go-toml/v2/unstable"
	"gopkg.in/yaml.v3"
)

// parseTOMLTree converts a TOML document into the same tree shape the YAML
// loader produces, so both formats share merging and strict decoding.
// Decoding into a map loses key order, so the branch table is re-sorted
// into document order from a second, syntax-level pass.
func parseTOMLTree(data []byte) (*yaml.Node, error) {
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}

	var root yaml.Node
	if err := root.Encode(m); err != nil {
		return nil, fmt.Errorf("converting TOML config: %w", err)
	}
	if root.Kind != yaml.MappingNode {
		root = yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	}

	order, err := tomlBranchOrder(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}
	if i := mappingIndex(&root, "branch"); i >= 0 {
		reorderMapping(root.Content[i+1], order)
	}
	return &root, nil
}

// tomlBranchOrder lists branch patterns in the order they first appear,
// whether declared as [branch."pattern"] tables, dotted keys, or inline
// tables under [branch].
func tomlBranchOrder(data []byte) ([]string, error) {
	var p unstable.Parser
	p.Reset(data)

	var order []string
	seen := make(map[string]bool)
	add := func(parts []string) {
		if len(parts) >= 2 && parts[0] == "branch" && !seen[parts[1]] {
			seen[parts[1]] = true
			order = append(order, parts[1])
		}
	}

	var table []string
	for p.NextExpression() {
		e := p.Expression()
		switch e.Kind {
		case unstable.Table, unstable.ArrayTable:
			table = keyParts(e)
			add(table)
		case unstable.KeyValue:
			full := append(append([]string(nil), table...), keyParts(e)...)
			add(full)
		}
	}
	return order, p.Error()
}

func keyParts(n *unstable.Node) []string {
	var parts []string
	it := n.Key()
	for it.Next() {
		parts = append(parts, string(it.Node().Data))
	}
	return parts
}

// reorderMapping sorts a mapping node's pairs by their position in order.
// Keys missing from order keep their relative order after the known ones.
func reorderMapping(m *yaml.Node, order []string) {
	if m == nil || m.Kind != yaml.MappingNode {
		return
	}
	rank := make(map[string]int, len(order))
	for i, k := range order {
		rank[k] = i
	}
	type pair struct{ k, v *yaml.Node }
	pairs := make([]pair, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		pairs = append(pairs, pair{m.Content[i], m.Content[i+1]})
	}
	sort.SliceStable(pairs, func(a, b int) bool {
		ra, okA := rank[pairs[a].k.Value]
		rb, okB := rank[pairs[b].k.Value]
		switch {
		case okA && okB:
			return ra < rb
		case okA:
			return true
		default:
			return false
		}
	})
	m.Content = m.Content[:0]
	for _, p := range pairs {
		m.Content = append(m.Content, p.k, p.v)
	}
}
