package domain

import "time"

// WebsiteAnalysis is the profile of the site under test: scraped metadata
// plus the model-written business description that seeds persona and prompt
// generation.
type WebsiteAnalysis struct {
	URL          string    `json:"url"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	Analysis     string    `json:"analysis"`
	BrandSummary string    `json:"brand_summary"`
	FetchedAt    time.Time `json:"fetched_at"`
}
