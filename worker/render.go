package worker

import (
	"bytes"
	"text/template"

	"naviai/models"
)

// renderTemplate substitutes contact variables ({{.FirstName}}, {{.Email}},
// {{.Company}}, ...) into message copy. A template that fails to parse is
// returned verbatim so a bad authoring-time template degrades to a literal
// send instead of blocking the enrollment.
func renderTemplate(text string, contact *models.Contact) string {
	tmpl, err := template.New("msg").Parse(text)
	if err != nil {
		return text
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, contact); err != nil {
		return text
	}
	return buf.String()
}
