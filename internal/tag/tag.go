// Package tag renders version tags, image names and other small templates
// from run facts and branch-rule captures.
package tag

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/lucasnoah/nbuild/internal/failure"
)

// Fixed placeholder names.
const (
	Date    = "date"
	Time    = "time"
	SHA     = "sha"
	Team    = "team"
	App     = "app"
	Counter = "counter"
)

var (
	varRe      = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)
	ifOpenRe   = regexp.MustCompile(`\{\{#if\s+([a-zA-Z0-9_]+)\s*\}\}`)
	ifCloseStr = "{{/if}}"
)

// Vars is a map of placeholder names to values.
type Vars map[string]string

// With returns a copy of v with extra layered on top.
func (v Vars) With(extra map[string]string) Vars {
	out := make(Vars, len(v)+len(extra))
	for k, val := range v {
		out[k] = val
	}
	for k, val := range extra {
		out[k] = val
	}
	return out
}

// TemplateError reports a template that cannot be rendered.
type TemplateError struct {
	Template string
	Missing  []string
	Reason   string
}

func (e *TemplateError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("template %q: undefined placeholders: %s", e.Template, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("template %q: %s", e.Template, e.Reason)
}

// FailureKind implements failure.Classified.
func (e *TemplateError) FailureKind() failure.Kind { return failure.Template }

// Render expands {{name}} placeholders in one left-to-right pass. Values are
// inserted verbatim and never re-expanded. Any placeholder without a value
// is an error. {{#if name}}...{{/if}} blocks are kept only when name is set
// and non-empty.
func Render(tmpl string, vars Vars) (string, error) {
	result, err := processConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	expanded := varRe.ReplaceAllStringFunc(result, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return "", &TemplateError{Template: tmpl, Missing: missing}
	}
	return expanded, nil
}

// Placeholders lists the placeholder names used by tmpl, in order of first use.
func Placeholders(tmpl string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range varRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// processConditionals handles {{#if var}}...{{/if}} blocks, innermost first.
func processConditionals(tmpl string, vars Vars) (string, error) {
	result := tmpl
	for {
		closeIdx := strings.Index(result, ifCloseStr)
		if closeIdx == -1 {
			break
		}

		prefix := result[:closeIdx]
		openLocs := ifOpenRe.FindAllStringSubmatchIndex(prefix, -1)
		if openLocs == nil {
			return "", &TemplateError{Template: tmpl, Reason: "{{/if}} without matching {{#if}}"}
		}

		last := openLocs[len(openLocs)-1]
		openStart, openEnd := last[0], last[1]
		name := prefix[last[2]:last[3]]

		var body string
		if val, ok := vars[name]; ok && val != "" {
			body = result[openEnd:closeIdx]
		}
		result = result[:openStart] + body + result[closeIdx+len(ifCloseStr):]
	}

	if loc := ifOpenRe.FindString(result); loc != "" {
		return "", &TemplateError{Template: tmpl, Reason: "unclosed conditional block " + loc}
	}
	return result, nil
}
