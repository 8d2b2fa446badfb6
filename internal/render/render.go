// Package render compiles the Handlebars templates a project is configured
// with and works out which dataset columns they reference.
package render

import (
	"fmt"

	"github.com/aymerick/raymond"
)

// Template is a compiled template. Missing keys render as empty strings.
type Template interface {
	Render(data map[string]string) (string, error)
}

// Renderer compiles template sources
type Renderer interface {
	Compile(source string) (Template, error)
}

type HandlebarsRenderer struct{}

func NewHandlebarsRenderer() *HandlebarsRenderer {
	return &HandlebarsRenderer{}
}

func (r *HandlebarsRenderer) Compile(source string) (Template, error) {
	tpl, err := raymond.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &handlebarsTemplate{tpl: tpl}, nil
}

type handlebarsTemplate struct {
	tpl *raymond.Template
}

func (t *handlebarsTemplate) Render(data map[string]string) (string, error) {
	ctx := make(map[string]interface{}, len(data))
	for k, v := range data {
		ctx[k] = v
	}

	out, err := t.tpl.Exec(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return out, nil
}

// Optional compiles source when it is set, returning nil otherwise
func Optional(r Renderer, source *string) (Template, error) {
	if source == nil || *source == "" {
		return nil, nil
	}
	return r.Compile(*source)
}
