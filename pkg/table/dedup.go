package table

import "strings"

// NormalizeName normalizes a product name for deduplication comparison.
func NormalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.ReplaceAll(normalized, "-", " ")
	normalized = strings.ReplaceAll(normalized, "_", " ")
	return normalized
}

// NamesMatch reports whether two normalized names identify the same product:
// exact match or one containing the other. Favors false-positive merges over
// duplicate listings.
func NamesMatch(a, b string) bool {
	if a == b {
		return true
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// DeduplicateCandidates fuzzy-merges a flat candidate list by name. When two
// names overlap, the longer name wins and absorbs the slot; empty names are
// dropped. Order of surviving candidates follows first appearance.
func DeduplicateCandidates(candidates []Candidate) []Candidate {
	type slot struct {
		normalized string
		candidate  Candidate
	}
	var seen []slot

	for _, candidate := range candidates {
		if candidate.Name == "" {
			continue
		}
		normalized := NormalizeName(candidate.Name)

		duplicate := false
		for i, s := range seen {
			if normalized == s.normalized {
				duplicate = true
				break
			}
			if strings.Contains(normalized, s.normalized) || strings.Contains(s.normalized, normalized) {
				// Keep the more informative name.
				if len(candidate.Name) > len(s.candidate.Name) {
					seen[i] = slot{normalized: normalized, candidate: candidate}
				}
				duplicate = true
				break
			}
		}
		if !duplicate {
			seen = append(seen, slot{normalized: normalized, candidate: candidate})
		}
	}

	deduped := make([]Candidate, 0, len(seen))
	for _, s := range seen {
		deduped = append(deduped, s.candidate)
	}
	return deduped
}
