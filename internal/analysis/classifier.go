// Package analysis turns raw reply text and extracted links into the
// structured signal record persisted with every test cell. Everything here is
// a pure function of its inputs: recomputing flags from a stored result must
// reproduce them exactly.
package analysis

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/bamarler/geo-optimizer/internal/domain"
)

// LocationMatcher detects known-city references in lower-cased reply text.
// Pluggable so the keyword tables can be extended or replaced without
// touching orchestration logic.
type LocationMatcher interface {
	Detect(lowerText string) []string
}

// LocationEntry maps a canonical city key to its alias substrings.
type LocationEntry struct {
	Key     string
	Aliases []string
}

// KeywordLocationMatcher does literal substring matching over an ordered
// alias table. No tokenization, no stemming: partial-word false positives are
// an accepted limitation. The entry order fixes the output order, keeping
// detection deterministic.
type KeywordLocationMatcher struct {
	entries []LocationEntry
}

func NewKeywordLocationMatcher(entries []LocationEntry) *KeywordLocationMatcher {
	return &KeywordLocationMatcher{entries: entries}
}

// DefaultLocationMatcher covers the cities the measurement battery targets.
func DefaultLocationMatcher() *KeywordLocationMatcher {
	return NewKeywordLocationMatcher([]LocationEntry{
		{Key: "san francisco", Aliases: []string{"san francisco", "sf", "bay area"}},
		{Key: "new york", Aliases: []string{"new york", "nyc", "manhattan", "brooklyn"}},
		{Key: "boston", Aliases: []string{"boston", "cambridge", "somerville"}},
		{Key: "seattle", Aliases: []string{"seattle", "pike place"}},
		{Key: "los angeles", Aliases: []string{"los angeles", "la", "hollywood"}},
	})
}

func (m *KeywordLocationMatcher) Detect(lowerText string) []string {
	detected := make([]string, 0)
	for _, entry := range m.entries {
		for _, alias := range entry.Aliases {
			if strings.Contains(lowerText, alias) {
				detected = append(detected, entry.Key)
				break
			}
		}
	}
	return detected
}

var (
	businessKeywords = []string{"restaurant", "café", "coffee", "shop", "store", "hotel"}

	// A street address shaped like "<number> <word> <suffix>".
	addressPattern = regexp.MustCompile(`(?i)\d+\s+\w+\s+(street|st|avenue|ave|road|rd|boulevard|blvd)`)
)

// Classifier derives AnalysisFlags from a reply. Safe for concurrent use:
// it holds only immutable tables.
type Classifier struct {
	locations LocationMatcher
}

func NewClassifier(locations LocationMatcher) *Classifier {
	if locations == nil {
		locations = DefaultLocationMatcher()
	}
	return &Classifier{locations: locations}
}

// Classify computes the signal flags for one reply. Deterministic and
// idempotent; classification never fails, so there is no error return.
func (c *Classifier) Classify(responseText string, citations []domain.Citation) domain.AnalysisFlags {
	lower := strings.ToLower(responseText)

	detected := c.locations.Detect(lower)

	domains := make([]string, 0, len(citations))
	for _, citation := range citations {
		if host := hostOf(citation.URL); host != "" {
			domains = append(domains, host)
		}
	}

	hasBusiness := false
	for _, keyword := range businessKeywords {
		if strings.Contains(lower, keyword) {
			hasBusiness = true
			break
		}
	}

	hasAddress := addressPattern.MatchString(responseText)

	return domain.AnalysisFlags{
		DetectedLocations:         detected,
		LocationCount:             len(detected),
		CitationCount:             len(citations),
		CitationDomains:           domains,
		HasBusinessRecommendation: hasBusiness,
		HasSpecificAddress:        hasAddress,
		ResponseLength:            len(responseText),
		HasGeographicContent:      len(detected) > 0 || hasAddress,
	}
}

// hostOf extracts a citation URL's hostname; unparseable URLs are skipped
// silently upstream by returning "".
func hostOf(rawURL string) string {
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
