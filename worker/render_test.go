package worker

import (
	"testing"

	"naviai/models"

	"github.com/stretchr/testify/assert"
)

func TestRenderTemplateSubstitutesContactFields(t *testing.T) {
	contact := &models.Contact{FirstName: "Ada", Email: "ada@example.com", Company: "Navi"}

	assert.Equal(t, "Hi Ada from Navi", renderTemplate("Hi {{.FirstName}} from {{.Company}}", contact))
	assert.Equal(t, "plain text", renderTemplate("plain text", contact))
	// A malformed template degrades to a literal send.
	assert.Equal(t, "Hi {{.FirstName", renderTemplate("Hi {{.FirstName", contact))
}
