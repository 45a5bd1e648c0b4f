package main

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

//go:embed templates/admin/*.tmpl admin_static/*
var adminAssetsFS embed.FS

const adminLayoutTemplate = "templates/admin/layout.tmpl"

var adminTemplateFuncs = template.FuncMap{
	"initial": emailInitial,
}

// adminTemplateRenderer parses the layout together with one content template.
// In development templates and assets are read from disk on every request;
// otherwise the embedded copies are parsed once per content template.
type adminTemplateRenderer struct {
	live   bool
	source fs.FS

	mu     sync.Mutex
	parsed map[string]*template.Template
}

func newAdminTemplateRenderer(env string) *adminTemplateRenderer {
	r := &adminTemplateRenderer{
		source: fs.FS(adminAssetsFS),
		parsed: make(map[string]*template.Template),
	}
	if env == "development" {
		r.live = true
		r.source = os.DirFS(".")
	}
	return r
}

func (r *adminTemplateRenderer) lookup(contentTemplatePath string) (*template.Template, error) {
	if r.live {
		return r.parse(contentTemplatePath)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if tmpl, ok := r.parsed[contentTemplatePath]; ok {
		return tmpl, nil
	}
	tmpl, err := r.parse(contentTemplatePath)
	if err != nil {
		return nil, err
	}
	r.parsed[contentTemplatePath] = tmpl
	return tmpl, nil
}

func (r *adminTemplateRenderer) parse(contentTemplatePath string) (*template.Template, error) {
	tmpl, err := template.New("layout.tmpl").Funcs(adminTemplateFuncs).ParseFS(r.source, adminLayoutTemplate, contentTemplatePath)
	if err != nil {
		return nil, fmt.Errorf("parse admin template %s: %w", contentTemplatePath, err)
	}
	return tmpl, nil
}

func (r *adminTemplateRenderer) staticFiles() (http.FileSystem, error) {
	sub, err := fs.Sub(r.source, "admin_static")
	if err != nil {
		return nil, fmt.Errorf("admin static fs: %w", err)
	}
	return http.FS(sub), nil
}

// emailInitial returns the upper-cased first letter of the address for the
// session avatar.
func emailInitial(email string) string {
	first, _ := utf8.DecodeRuneInString(strings.TrimSpace(email))
	if first == utf8.RuneError {
		return "?"
	}
	return string(unicode.ToUpper(first))
}
