package domain

import (
	"fmt"
	"strings"
)

// Location is the geographic anchor of a persona. Country is optional.
type Location struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country,omitempty"`
}

func (l Location) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{l.City, l.Region, l.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}

// Persona is a synthetic user profile injected into a chat session to bias
// its answers. Immutable once generated.
type Persona struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	AgeRange   string   `json:"age_range"`
	Occupation string   `json:"occupation"`
	Location   Location `json:"location"`
	Goals      []string `json:"goals"`
	PainPoints []string `json:"pain_points"`
	Behavior   string   `json:"behavior"`
	Quote      string   `json:"quote"`
}

// MemoryText renders the persona as the single natural-language memory
// statement sent to the chat session. The wording is deterministic: the
// injection protocol and the turn-index arithmetic both depend on this being
// exactly one message.
func (p *Persona) MemoryText() string {
	return fmt.Sprintf(
		"My name is %s. I am %s and work as a %s in %s. My main goals are: %s. My pain points include: %s. I typically %s.",
		p.Name,
		p.AgeRange,
		p.Occupation,
		p.Location.String(),
		strings.Join(p.Goals, ", "),
		strings.Join(p.PainPoints, ", "),
		strings.ToLower(strings.TrimSuffix(strings.TrimSpace(p.Behavior), ".")),
	)
}

// PersonaSet is an immutable bundle of personas generated for one website,
// resolvable from the store by its opaque id before a run starts.
type PersonaSet struct {
	ID           string    `json:"id"`
	WebsiteURL   string    `json:"website_url"`
	WebsiteTitle string    `json:"website_title"`
	Personas     []Persona `json:"personas"`
}
