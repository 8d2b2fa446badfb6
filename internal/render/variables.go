package render

import (
	"regexp"
	"strings"
)

// Matches {{name}}, {{{name}}} and {{[Name With Spaces]}}. Block helpers,
// partials and comments ({{#if}}, {{/if}}, {{> p}}, {{! c}}) are skipped.
var variablePattern = regexp.MustCompile(`\{\{\{?\s*(?:\[([^\]]+)\]|([^\s{}\[\]#/^!>&~]+))\s*\}?\}\}`)

// Variables returns the variable names referenced by a template in order of
// first appearance, without duplicates
func Variables(source string) []string {
	var names []string
	seen := make(map[string]struct{})

	for _, m := range variablePattern.FindAllStringSubmatch(source, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	return names
}

// KeyColumns picks the columns that drive expansion: those the title template
// references, or every column when there is no title template.
func KeyColumns(titleTemplate *string, columns []string) []string {
	if titleTemplate == nil || strings.TrimSpace(*titleTemplate) == "" {
		keys := make([]string, len(columns))
		copy(keys, columns)
		return keys
	}

	known := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		known[c] = struct{}{}
	}

	keys := []string{}
	for _, name := range Variables(*titleTemplate) {
		if _, ok := known[name]; ok {
			keys = append(keys, name)
		}
	}
	return keys
}
