package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[{{.EventLabel}}] {{.Title}}
Unit: {{.Unit}}{{ if .Area }} ({{.Area}}){{ end }}
Site: {{.Site}}
Severity: {{.Severity}}
{{.Message}}
{{ if .AckDeadline }}Acknowledge by: {{.AckDeadline}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Unit        string
	Site        string
	Area        string
	Type        string
	Severity    string
	Title       string
	Message     string
	Event       string
	EventLabel  string
	AckDeadline string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
