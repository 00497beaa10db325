package docschema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/workspace/internal/domain"
)

func TestValidateJSONAcceptsPartialIntent(t *testing.T) {
	doc, err := ValidateJSON(domain.DocumentIntent, []byte(`{"mission":{"objective":"ship"}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"objective": "ship"}, doc["mission"])
}

func TestValidateJSONRejectsWrongTypes(t *testing.T) {
	cases := map[string]string{
		"title not string":    `{"title": 42}`,
		"bad complexity":      `{"team_guidance": {"complexity_level": "Galactic"}}`,
		"mission not object":  `{"mission": "x"}`,
		"document not object": `[1,2,3]`,
		"not json":            `{"title":`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ValidateJSON(domain.DocumentIntent, []byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestValidateLaterStageDocuments(t *testing.T) {
	_, err := ValidateJSON(domain.DocumentDataScope, []byte(`{"data_sources":[{"name":"crm","kind":"table"}]}`))
	assert.NoError(t, err)

	_, err = ValidateJSON(domain.DocumentDataScope, []byte(`{"data_sources":[{"kind":"table"}]}`))
	assert.Error(t, err)

	_, err = ValidateJSON(domain.DocumentTeam, []byte(`{"members":[{"name":"Ana","role":"lead"}]}`))
	assert.NoError(t, err)

	_, err = ValidateJSON(domain.DocumentExecution, []byte(`{"findings":"one"}`))
	assert.Error(t, err)
}

func TestValidateUnknownKind(t *testing.T) {
	err := Validate(domain.DocumentKind("nope"), map[string]any{})
	assert.Error(t, err)
}
