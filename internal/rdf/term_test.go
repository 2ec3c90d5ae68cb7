package rdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsIRI(t *testing.T) {
	assert.True(t, IsIRI("<http://example.com/a>"))
	assert.False(t, IsIRI("_:b0"))
	assert.False(t, IsIRI(`"text"`))
	assert.False(t, IsIRI("<unterminated"))
}

func TestLiteralParts(t *testing.T) {
	tests := []struct {
		name                      string
		literal                   string
		value, language, datatype string
	}{
		{"plain", `"Alpha"`, "Alpha", "", ""},
		{"lang tagged", `"Alpha"@en`, "Alpha", "en", ""},
		{"typed", `"42"^^<http://www.w3.org/2001/XMLSchema#integer>`, "42", "", "<http://www.w3.org/2001/XMLSchema#integer>"},
		{"inner quotes", `"say \"hi\""@en`, `say \"hi\"`, "en", ""},
		{"not a literal", "<http://example.com/a>", "", "", ""},
		{"bare quote", `"`, "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, language, datatype := LiteralParts(tt.literal)
			assert.Equal(t, tt.value, value)
			assert.Equal(t, tt.language, language)
			assert.Equal(t, tt.datatype, datatype)
		})
	}
}
