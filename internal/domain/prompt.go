package domain

type PromptCategory string

const (
	CategoryInformational PromptCategory = "informational"
	CategoryTransactional PromptCategory = "transactional"
	CategoryComparison    PromptCategory = "comparison"
)

func (c PromptCategory) String() string {
	return string(c)
}

func (c PromptCategory) IsValid() bool {
	switch c {
	case CategoryInformational, CategoryTransactional, CategoryComparison:
		return true
	default:
		return false
	}
}

// Prompt is one test query. Independent of personas; immutable.
type Prompt struct {
	ID              string         `json:"id"`
	Text            string         `json:"text"`
	Category        PromptCategory `json:"category"`
	Intent          string         `json:"intent"`
	ExpectedGeoBias *bool          `json:"expected_geo_bias,omitempty"`
}

// PromptSet is an immutable bundle of prompts generated for one website.
type PromptSet struct {
	ID           string   `json:"id"`
	PersonaSetID string   `json:"persona_set_id,omitempty"`
	WebsiteURL   string   `json:"website_url"`
	WebsiteTitle string   `json:"website_title"`
	Prompts      []Prompt `json:"prompts"`
}
