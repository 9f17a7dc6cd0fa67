package web

import (
	"embed"
	"html/template"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/*.html
var templateFS embed.FS

// indexData feeds index.html. Fields are plain strings so sprig's string
// functions accept them.
type indexData struct {
	App      string
	UserID   string
	State    string
	Online   int
	MaxChars int
}

func parseTemplates() *template.Template {
	return template.Must(template.New("").
		Funcs(sprig.FuncMap()).
		ParseFS(templateFS, "templates/*.html"))
}
