// Package prompt holds typed prompt templates and the store that loads them.
package prompt

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// PlaceholderMessage is substituted with the user text in filtering prompts.
const PlaceholderMessage = "message"

var placeholderExpr = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Template is prompt text with named {placeholders} checked at parse time.
type Template struct {
	name         string
	text         string
	placeholders []string
}

// Parse validates text against the allowed placeholder set. Every name in
// required must occur; any other placeholder is rejected so a renamed
// placeholder cannot silently pass through unsubstituted.
func Parse(name, text string, required ...string) (Template, error) {
	if strings.TrimSpace(text) == "" {
		return Template{}, fmt.Errorf("prompt %s is empty", name)
	}

	allowed := make(map[string]bool, len(required))
	for _, r := range required {
		allowed[r] = true
	}

	found := map[string]bool{}
	for _, m := range placeholderExpr.FindAllStringSubmatch(text, -1) {
		key := m[1]
		if !allowed[key] {
			return Template{}, fmt.Errorf("prompt %s: unknown placeholder {%s}", name, key)
		}
		found[key] = true
	}

	for _, r := range required {
		if !found[r] {
			return Template{}, fmt.Errorf("prompt %s: missing placeholder {%s}", name, r)
		}
	}

	names := make([]string, 0, len(found))
	for k := range found {
		names = append(names, k)
	}
	sort.Strings(names)

	return Template{name: name, text: text, placeholders: names}, nil
}

// MustParse is Parse for built-in defaults.
func MustParse(name, text string, required ...string) Template {
	t, err := Parse(name, text, required...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name identifies the template in logs.
func (t Template) Name() string { return t.name }

// Text returns the raw template.
func (t Template) Text() string { return t.text }

// Placeholders lists the placeholder names used by the template.
func (t Template) Placeholders() []string {
	return append([]string(nil), t.placeholders...)
}

// Render substitutes every placeholder. Values are inserted verbatim, so
// braces inside a value are never re-expanded.
func (t Template) Render(values map[string]string) (string, error) {
	for _, p := range t.placeholders {
		if _, ok := values[p]; !ok {
			return "", fmt.Errorf("prompt %s: no value for {%s}", t.name, p)
		}
	}
	return placeholderExpr.ReplaceAllStringFunc(t.text, func(m string) string {
		return values[m[1:len(m)-1]]
	}), nil
}
