package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// targetSections are the top-level target tables. When a later layer
// declares any of them, all three are taken from that layer alone.
var targetSections = map[string]bool{
	"build":   true,
	"publish": true,
	"deploy":  true,
}

// parseYAMLTree parses a YAML document into its root mapping node.
// An empty document yields an empty mapping.
func parseYAMLTree(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config root must be a mapping, got %s", kindName(root.Kind))
	}
	return root, nil
}

// mergeTrees overlays over onto base. Mappings merge recursively, anything
// else in over replaces base. Keys already present in base keep their
// position and new keys are appended, so base branch rules come first.
func mergeTrees(base, over *yaml.Node) *yaml.Node {
	return mergeNode(base, over, 0)
}

func mergeNode(base, over *yaml.Node, depth int) *yaml.Node {
	if over == nil {
		return base
	}
	if base == nil || base.Kind != yaml.MappingNode || over.Kind != yaml.MappingNode {
		return over
	}

	out := &yaml.Node{Kind: yaml.MappingNode, Tag: base.Tag, Style: base.Style}
	dropTargets := depth == 0 && declaresTargets(over)
	for i := 0; i+1 < len(base.Content); i += 2 {
		if dropTargets && targetSections[base.Content[i].Value] {
			continue
		}
		out.Content = append(out.Content, base.Content[i], base.Content[i+1])
	}

	for i := 0; i+1 < len(over.Content); i += 2 {
		k, v := over.Content[i], over.Content[i+1]
		if j := mappingIndex(out, k.Value); j >= 0 {
			out.Content[j+1] = mergeNode(out.Content[j+1], v, depth+1)
		} else {
			out.Content = append(out.Content, k, v)
		}
	}
	return out
}

func declaresTargets(m *yaml.Node) bool {
	for section := range targetSections {
		if mappingIndex(m, section) >= 0 {
			return true
		}
	}
	return false
}

// mappingIndex returns the index of key within a mapping node's Content, or -1.
func mappingIndex(m *yaml.Node, key string) int {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

// decodeStrict decodes node into v, rejecting keys that v does not declare.
func decodeStrict(node *yaml.Node, v any) error {
	data, err := yaml.Marshal(node)
	if err != nil {
		return fmt.Errorf("re-encoding config tree: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	}
	return "mapping"
}

// UnmarshalYAML decodes the branch table, keeping patterns in document order.
func (r *BranchRules) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: branch must be a table of pattern to rule, got %s", value.Line, kindName(value.Kind))
	}
	rules := make(BranchRules, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, body := value.Content[i], value.Content[i+1]
		var rule BranchRule
		if err := decodeStrict(body, &rule); err != nil {
			return fmt.Errorf("branch %q: %w", key.Value, err)
		}
		rule.Pattern = key.Value
		rules = append(rules, rule)
	}
	*r = rules
	return nil
}

// MarshalYAML encodes the rules back into an ordered pattern table.
func (r BranchRules) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, rule := range r {
		var body yaml.Node
		if err := body.Encode(rule); err != nil {
			return nil, fmt.Errorf("encode branch %q: %w", rule.Pattern, err)
		}
		key := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: rule.Pattern, Style: yaml.DoubleQuotedStyle}
		node.Content = append(node.Content, key, &body)
	}
	return node, nil
}
