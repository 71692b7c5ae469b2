package ui

import (
	"embed"
	"fmt"
	"html/template"
)

//go:embed html
var Files embed.FS

var pageNames = []string{
	"login",
	"signup",
	"signup_success",
	"verify",
	"verify_result",
	"home",
	"error",
}

// ParsePages parses every page together with the shared base layout, keyed by page name.
func ParsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		t, err := template.New(name).ParseFS(Files, "html/base.html", "html/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse page %s: %w", name, err)
		}
		pages[name] = t
	}
	return pages, nil
}
