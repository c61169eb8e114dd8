package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Facade Alert {{.TypeLabel}}]
Facade: {{.FacadeID}}
Sensor: {{.Sensor}}
Value: {{.Value}}
{{- if .Threshold }}
Threshold: {{.Threshold}}
{{- end }}
Severity: {{.Severity}}
Detected At: {{.CreatedAt}}
Detail: {{.Description}}
Suggestion: {{.Suggestion}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	FacadeID    string
	Sensor      string
	Type        string
	TypeLabel   string
	Value       string
	Threshold   string
	Severity    string
	CreatedAt   string
	Description string
	Suggestion  string
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
