package web

import (
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/labstack/echo/v4"
)

// Renderer executes page templates. Each page is parsed on its own clone of
// the layout so every page can define "content".
type Renderer struct {
	pages map[string]*template.Template
}

// NewRenderer parses the embedded templates.
func NewRenderer() (*Renderer, error) {
	base, err := template.New("").Funcs(templateFuncs()).ParseFS(templateFS, "templates/layout.html", "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	names := []string{"login.html", "dashboard.html", "driver.html", "admin.html", "diagnostics.html", "error.html"}
	pages := make(map[string]*template.Template, len(names))
	for _, name := range names {
		clone, err := base.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+name); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		pages[name] = clone
	}
	return &Renderer{pages: pages}, nil
}

// Render implements echo.Renderer. "page.html" renders the full page;
// "page.html#block" renders only the named block, used for fragments.
func (r *Renderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	page, block, fragment := strings.Cut(name, "#")
	tmpl, ok := r.pages[page]
	if !ok {
		return fmt.Errorf("template %q not found", page)
	}
	if !fragment {
		block = "layout"
	}
	return tmpl.ExecuteTemplate(w, block, data)
}
