// Package render turns a generation view into markdown through embedded
// text templates, then into HTML with goldmark.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"

	"github.com/joe-bera/pi-demand-letter-cc-sub001/internal/core/domain"
)

//go:embed templates/*.md.tmpl
var templateFS embed.FS

var templateNames = map[domain.DocumentType]string{
	domain.DocumentDemandLetter:      "demand_letter.md.tmpl",
	domain.DocumentExecutiveSummary:  "executive_summary.md.tmpl",
	domain.DocumentGapAnalysis:       "gap_analysis.md.tmpl",
	domain.DocumentTreatmentTimeline: "treatment_timeline.md.tmpl",
	domain.DocumentDamagesWorksheet:  "damages_worksheet.md.tmpl",
}

type Renderer struct {
	templates *template.Template
	markdown  goldmark.Markdown
}

func New() (*Renderer, error) {
	tmpl, err := template.New("documents").
		Funcs(funcMap()).
		Option("missingkey=zero").
		ParseFS(templateFS, "templates/*.md.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse document templates: %w", err)
	}
	for docType, name := range templateNames {
		if tmpl.Lookup(name) == nil {
			return nil, fmt.Errorf("missing template %s for %s", name, docType)
		}
	}
	md := goldmark.New(
		goldmark.WithExtensions(extension.Table, extension.Strikethrough),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
	)
	return &Renderer{templates: tmpl, markdown: md}, nil
}

func (r *Renderer) Render(docType domain.DocumentType, view domain.GenerationView) (domain.RenderedDocument, error) {
	name, ok := templateNames[docType]
	if !ok {
		return domain.RenderedDocument{}, domain.WrapError(domain.ErrGeneration, "render", fmt.Errorf("no template for %s", docType))
	}

	var content bytes.Buffer
	if err := r.templates.ExecuteTemplate(&content, name, view); err != nil {
		return domain.RenderedDocument{}, domain.WrapError(domain.ErrGeneration, "render "+string(docType), err)
	}
	markdown := strings.TrimSpace(content.String()) + "\n"

	var html bytes.Buffer
	if err := r.markdown.Convert([]byte(markdown), &html); err != nil {
		return domain.RenderedDocument{}, domain.WrapError(domain.ErrGeneration, "render html", err)
	}
	return domain.RenderedDocument{Content: markdown, ContentHTML: html.String()}, nil
}
