package util

import (
	"bytes"
	"strings"
	"text/template"
)

// promptFuncs are the helpers available to system message templates.
var promptFuncs = template.FuncMap{
	// default returns fallback when val is unset or empty: {{default "metric" .units}}.
	"default": func(fallback, val any) any {
		if val == nil || val == "" {
			return fallback
		}
		return val
	},
}

// RenderTemplate executes text as a text/template against vars. Text without
// template markers is returned unchanged.
func RenderTemplate(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("prompt").Funcs(promptFuncs).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", err
	}
	return buf.String(), nil
}
