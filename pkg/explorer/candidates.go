package explorer

import (
	"encoding/json"
	"strings"

	"github.com/matt-house-e/shortlist/pkg/search"
	"github.com/matt-house-e/shortlist/pkg/table"
)

// retailerDomains get a scoring penalty when matching citations; we prefer
// manufacturer pages for official_url.
var retailerDomains = []string{"amazon", "bestbuy", "walmart", "target", "ebay", "newegg"}

// rawCandidate is the shape each search response lists products in.
type rawCandidate struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Description  string `json:"description"`
	OfficialURL  string `json:"official_url"`
}

// extractCandidates parses product candidates out of a search response.
// The JSON array is located tolerantly (first '[' to last ']') since models
// wrap it in prose. Entries without a name are dropped. Any URL the model
// produced is discarded in favor of a matched citation URL, which is the
// only source of real links.
func extractCandidates(content string, citations []search.Citation) []table.Candidate {
	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start == -1 || end == -1 || end <= start {
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil
	}

	candidates := make([]table.Candidate, 0, len(raw))
	for _, item := range raw {
		var rc rawCandidate
		if err := json.Unmarshal(item, &rc); err != nil {
			continue
		}
		name := strings.TrimSpace(rc.Name)
		if name == "" {
			continue
		}

		manufacturer := strings.TrimSpace(rc.Manufacturer)
		if manufacturer == "" {
			manufacturer = "Unknown"
		}

		candidates = append(candidates, table.Candidate{
			Name:         name,
			Manufacturer: manufacturer,
			OfficialURL:  matchCitation(name, manufacturer, citations),
			Description:  strings.TrimSpace(rc.Description),
		})
	}
	return candidates
}

// matchCitation finds the best citation URL for a product. Manufacturer
// presence in the URL scores 3 and in the title 2, each matched name term
// scores 1 per location, retailer domains lose 1. A match needs a score of
// at least 2, roughly a manufacturer hit or two name terms.
func matchCitation(name, manufacturer string, citations []search.Citation) string {
	if len(citations) == 0 {
		return ""
	}

	mfr := strings.ToLower(manufacturer)
	if mfr == "unknown" {
		mfr = ""
	}

	// Key terms: first few words of the name, skipping short tokens
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(name)) {
		if len(t) > 2 {
			terms = append(terms, t)
		}
		if len(terms) == 4 {
			break
		}
	}

	bestURL := ""
	bestScore := 0

	for _, c := range citations {
		urlLower := strings.ToLower(c.URL)
		titleLower := strings.ToLower(c.Title)

		score := 0
		if len(mfr) > 2 {
			if strings.Contains(urlLower, mfr) {
				score += 3
			}
			if strings.Contains(titleLower, mfr) {
				score += 2
			}
		}
		for _, term := range terms {
			if strings.Contains(urlLower, term) {
				score++
			}
			if strings.Contains(titleLower, term) {
				score++
			}
		}
		for _, retailer := range retailerDomains {
			if strings.Contains(urlLower, retailer) {
				score--
				break
			}
		}

		if score > bestScore {
			bestScore = score
			bestURL = c.URL
		}
	}

	if bestScore < 2 {
		return ""
	}
	return bestURL
}
