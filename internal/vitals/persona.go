package vitals

import "strings"

// PersonaID identifies one of the demo personas. The set is closed.
type PersonaID string

const (
	Athletic PersonaID = "athletic"
	Wellness PersonaID = "wellness"
	AtRisk   PersonaID = "at-risk"
)

// Fallback is the tier used for any persona the table does not know.
const Fallback = Wellness

// Persona describes a selectable example user.
type Persona struct {
	ID      PersonaID `json:"id" yaml:"id"`
	Name    string    `json:"name" yaml:"name"`
	Label   string    `json:"label" yaml:"label"`
	Aliases []string  `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// personas is in selector order.
var personas = []Persona{
	{ID: Athletic, Name: "Francesco", Label: "Francesco (Amateur Athlete)"},
	{ID: Wellness, Name: "Aurora", Label: "Aurora (Wellness Focus)"},
	{ID: AtRisk, Name: "Serena", Label: "Serena (Chronic Patient)", Aliases: []string{"Mario"}},
}

// Personas returns the selectable personas, first entry being the default
// selection.
func Personas() []Persona {
	out := make([]Persona, len(personas))
	for i, p := range personas {
		out[i] = p
		out[i].Aliases = append([]string(nil), p.Aliases...)
	}
	return out
}

// DefaultPersona is the persona preselected before the user chooses.
func DefaultPersona() PersonaID {
	return personas[0].ID
}

func (id PersonaID) String() string {
	return string(id)
}

// Info returns the persona record for id, or the fallback persona.
func (id PersonaID) Info() Persona {
	if p, ok := lookupPersona(id); ok {
		return p
	}
	p, _ := lookupPersona(Fallback)
	return p
}

func lookupPersona(id PersonaID) (Persona, bool) {
	for _, p := range personas {
		if p.ID == id {
			return p, true
		}
	}
	return Persona{}, false
}

// ParsePersona matches s against persona IDs, names and aliases, ignoring
// case and surrounding space. Partial matches are rejected. An unmatched
// value returns the fallback tier with ok=false.
func ParsePersona(s string) (PersonaID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Fallback, false
	}
	for _, p := range personas {
		if strings.EqualFold(s, string(p.ID)) || strings.EqualFold(s, p.Name) || strings.EqualFold(s, p.Label) {
			return p.ID, true
		}
		for _, alias := range p.Aliases {
			if strings.EqualFold(s, alias) {
				return p.ID, true
			}
		}
	}
	return Fallback, false
}
