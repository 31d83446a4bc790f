// Package template renders the {{name}} placeholders used in message text and prompts.
package template

import (
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

// Render replaces every {{name}} in text with vars[name]. Unknown names render
// as the empty string.
func Render(text string, vars map[string]string) string {
	if !strings.Contains(text, "{{") {
		return text
	}

	return placeholder.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]

		return vars[name]
	})
}

// Names returns the distinct placeholder names used in text, in order of
// first appearance.
func Names(text string) []string {
	matches := placeholder.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	names := make([]string, 0, len(matches))

	for _, match := range matches {
		if seen[match[1]] {
			continue
		}

		seen[match[1]] = true
		names = append(names, match[1])
	}

	return names
}
