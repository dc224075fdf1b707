package mailer

import "strings"

// RenderTemplate substitutes {{name}} tokens in tmpl with values. Tokens
// without a value are left as they are.
func RenderTemplate(tmpl string, values map[string]string) string {
	result := tmpl
	for name, value := range values {
		result = strings.ReplaceAll(result, "{{"+name+"}}", value)
	}
	return result
}

// HasToken reports whether tmpl references {{name}}.
func HasToken(tmpl, name string) bool {
	return strings.Contains(tmpl, "{{"+name+"}}")
}
