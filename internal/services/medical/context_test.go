package medical

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func TestBuild_Medication(t *testing.T) {
	got := Build(snapshot(t, `{"autoanosis_medications":[{"name":"Aspirin"}]}`))
	assert.Contains(t, got, "Aspirin")
	assert.True(t, strings.HasPrefix(got, Label+"\n"))
}

func TestBuild_AllCategories(t *testing.T) {
	got := Build(snapshot(t, `{
		"autoanosis_medications": [{"name":"Metformin","dosage":"500mg"},{"name":"Aspirin"}],
		"autoanosis_conditions": [{"name":"Type 2 diabetes"}],
		"autoanosis_allergies": [{"name":"Penicillin"}],
		"autoanosis_memory": [{"note":"n1"},{"note":"n2"},{"note":"n3"},{"note":"n4"}]
	}`))

	lines := strings.Split(got, "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, Label, lines[0])
	assert.Equal(t, "Medications: Metformin (500mg), Aspirin", lines[1])
	assert.Equal(t, "Conditions: Type 2 diabetes", lines[2])
	assert.Equal(t, "Allergies: Penicillin", lines[3])
	assert.Equal(t, "Recent notes: n2; n3; n4", lines[4])
}

func TestBuild_EmptyOrMalformed(t *testing.T) {
	cases := map[string]string{
		"empty object":      `{}`,
		"not a list":        `{"autoanosis_medications": "not a list"}`,
		"empty list":        `{"autoanosis_conditions": []}`,
		"entries not maps":  `{"autoanosis_allergies": [1, "x", null, [1]]}`,
		"missing name":      `{"autoanosis_medications": [{"dose":"1"}]}`,
		"name wrong type":   `{"autoanosis_medications": [{"name": 5}]}`,
		"blank name":        `{"autoanosis_conditions": [{"name": "   "}]}`,
		"notes wrong field": `{"autoanosis_memory": [{"name":"x"}]}`,
		"unknown keys only": `{"something_else": [{"name":"x"}]}`,
		"memory is object":  `{"autoanosis_memory": {"note":"x"}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, "", Build(snapshot(t, raw)))
		})
	}
	assert.Equal(t, "", Build(nil))
}

func TestBuild_SkipsBadEntriesKeepsGood(t *testing.T) {
	got := Build(snapshot(t, `{"autoanosis_allergies": [7, {"name":"Latex"}, {"name":null}]}`))
	assert.Equal(t, Label+"\nAllergies: Latex", got)
}

func TestBuild_Bounded(t *testing.T) {
	items := make([]any, 0, 25)
	for i := 0; i < 25; i++ {
		items = append(items, map[string]any{"name": strings.Repeat("x", 500)})
	}
	got := Build(map[string]any{KeyConditions: items})

	line := strings.Split(got, "\n")[1]
	assert.Equal(t, maxItems, strings.Count(line, "…"))
}
