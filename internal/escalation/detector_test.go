package escalation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectMatchesHandoffPhrases(t *testing.T) {
	cases := map[string]bool{
		"necesito hablar con un agente":         true,
		"Quiero HABLAR CON UN HUMANO por favor": true,
		"can I speak to a human?":               true,
		"Atención al cliente":                   true,
		"OPERADOR":                              true,
		"¿Cuándo es el examen de cálculo?":      false,
		"what time does the library open":       false,
		"":                                      false,
	}
	for text, want := range cases {
		assert.Equal(t, want, Detect(text), "text=%q", text)
	}
}

func TestDetectOverTriggersOnSubstrings(t *testing.T) {
	// "agentes" contains "agente"; this bias is intended.
	assert.True(t, Detect("los agentes de cambio en la historia"))
}

func TestInsertingAnyPhraseFlipsResult(t *testing.T) {
	base := "tengo una duda sobre la matrícula"
	require.False(t, Detect(base))
	for _, p := range Phrases() {
		assert.True(t, Detect(base+" "+p), "phrase=%q", p)
		assert.True(t, Detect(p+base), "phrase=%q", p)
	}
}

func TestCustomDetector(t *testing.T) {
	d := New("  Help Desk ", "")
	assert.Equal(t, []string{"help desk"}, d.Phrases())
	assert.True(t, d.Detect("open a HELP DESK ticket"))
	assert.False(t, d.Detect("hablar con un humano"))
}
