// Package escalation decides whether a chat message asks for a human agent.
//
// Matching is a case-insensitive substring test over a fixed phrase list.
// Short triggers such as "agente" also match inside longer words
// ("agentes", "reagente"); over-triggering is accepted so that a real
// handoff request is never missed.
package escalation

import "strings"

var defaultPhrases = []string{
	// Spanish
	"hablar con un humano",
	"hablar con una persona",
	"quiero hablar con alguien",
	"conectarme con un agente",
	"necesito ayuda humana",
	"transferirme a soporte",
	"hablar con un operador",
	"atención al cliente",
	"representante humano",
	// English
	"speak to a human",
	"talk to a person",
	"connect me with an agent",
	"human help",
	"transfer to support",
	"speak to an operator",
	"customer service",
	"human representative",
	// Single words and short phrases
	"agente",
	"operador",
	"persona real",
	"real person",
}

// Detector matches text against a fixed phrase list.
type Detector struct {
	phrases []string
}

// New returns a Detector for phrases. An empty list falls back to the
// default handoff phrases.
func New(phrases ...string) *Detector {
	if len(phrases) == 0 {
		phrases = defaultPhrases
	}
	d := &Detector{phrases: make([]string, 0, len(phrases))}
	for _, p := range phrases {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		d.phrases = append(d.phrases, p)
	}
	return d
}

func (d *Detector) Detect(text string) bool {
	if text == "" {
		return false
	}
	lower := strings.ToLower(text)
	for _, p := range d.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (d *Detector) Phrases() []string {
	out := make([]string, len(d.phrases))
	copy(out, d.phrases)
	return out
}

var defaultDetector = New()

// Detect reports whether text contains any default handoff phrase.
func Detect(text string) bool {
	return defaultDetector.Detect(text)
}

// Phrases returns a copy of the default phrase list.
func Phrases() []string {
	return defaultDetector.Phrases()
}
