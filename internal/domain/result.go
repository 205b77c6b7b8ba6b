package domain

import "time"

// Citation is a hyperlink embedded in a model reply. Position is the 1-based
// rank in appearance order, not relevance.
type Citation struct {
	Position int    `json:"position"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

// RawResponse is what the chat session driver hands back for one turn.
type RawResponse struct {
	Text      string     `json:"text"`
	Citations []Citation `json:"citations"`
}

func (r *RawResponse) HasCitations() bool {
	return len(r.Citations) > 0
}

// AnalysisFlags are derived, never hand-authored: a pure function of the
// response text and citations. Recomputing them from a stored TestResult must
// reproduce identical values.
type AnalysisFlags struct {
	DetectedLocations         []string `json:"detected_locations"`
	LocationCount             int      `json:"location_count"`
	CitationCount             int      `json:"citation_count"`
	CitationDomains           []string `json:"citation_domains"`
	HasBusinessRecommendation bool     `json:"has_business_recommendation"`
	HasSpecificAddress        bool     `json:"has_specific_address"`
	ResponseLength            int      `json:"response_length"`
	HasGeographicContent      bool     `json:"has_geographic_content"`
}

// TestResult is the persisted outcome of one (persona, prompt) cell.
// Append-only: once written it is never mutated, only superseded by a later
// run's separate record. Persona and prompt are snapshotted so later analysis
// survives source mutation.
type TestResult struct {
	ID             string        `json:"id,omitempty"`
	RunID          string        `json:"run_id"`
	PersonaSetID   string        `json:"persona_set_id"`
	PersonaID      string        `json:"persona_id"`
	PromptSetID    string        `json:"prompt_set_id"`
	PromptID       string        `json:"prompt_id"`
	SequenceNumber int           `json:"sequence_number"`
	Persona        Persona       `json:"persona_details"`
	Prompt         Prompt        `json:"prompt_details"`
	WebsiteURL     string        `json:"website_url"`
	WebsiteTitle   string        `json:"website_title"`
	ResponseText   string        `json:"response_text"`
	Citations      []Citation    `json:"citations"`
	HasCitations   bool          `json:"has_citations"`
	BrandMentioned bool          `json:"brand_mentioned"`
	Flags          AnalysisFlags `json:"analysis_flags"`
	Timestamp      time.Time     `json:"timestamp"`
	Success        bool          `json:"success"`
}

// AggregateStats summarizes a set of persisted results.
type AggregateStats struct {
	Total          int     `json:"total_tests"`
	WithCitations  int     `json:"tests_with_citations"`
	WithGeoContent int     `json:"tests_with_geographic_content"`
	CitationRate   float64 `json:"citation_rate"`
	GeoContentRate float64 `json:"geo_content_rate"`
}
