package analysis

import "strings"

// BrandVariants builds the lowercased name variants a reply is scanned
// against when checking whether the analyzed website was mentioned: the
// domain label, a cleaned title prefix, the full domain, and the full title.
// Order is preserved and duplicates removed; empty or near-empty candidates
// are dropped.
func BrandVariants(websiteTitle, websiteURL string) []string {
	domainPart := websiteURL
	for _, prefix := range []string{"https://", "http://", "www."} {
		domainPart = strings.TrimPrefix(domainPart, prefix)
	}
	if idx := strings.IndexAny(domainPart, "/?#"); idx >= 0 {
		domainPart = domainPart[:idx]
	}

	candidates := make([]string, 0, 4)

	if label, _, found := strings.Cut(domainPart, "."); found && label != "" {
		candidates = append(candidates, label)
	}

	titleClean := websiteTitle
	for _, sep := range []string{" - ", " | ", " — ", "-", "|", "—"} {
		if before, _, found := strings.Cut(titleClean, sep); found {
			titleClean = before
			break
		}
	}
	titleClean = strings.TrimSpace(titleClean)
	if len(titleClean) > 2 {
		candidates = append(candidates, titleClean)
	}

	if domainPart != "" {
		candidates = append(candidates, domainPart)
	}
	if websiteTitle != "" {
		candidates = append(candidates, websiteTitle)
	}

	variants := make([]string, 0, len(candidates))
	seen := make(map[string]struct{}, len(candidates))
	for _, candidate := range candidates {
		lowered := strings.ToLower(strings.TrimSpace(candidate))
		if lowered == "" {
			continue
		}
		if _, dup := seen[lowered]; dup {
			continue
		}
		seen[lowered] = struct{}{}
		variants = append(variants, lowered)
	}
	return variants
}

// BrandMentioned reports whether any variant occurs in the reply text,
// case-insensitively.
func BrandMentioned(responseText string, variants []string) bool {
	lower := strings.ToLower(responseText)
	for _, variant := range variants {
		if variant != "" && strings.Contains(lower, variant) {
			return true
		}
	}
	return false
}
