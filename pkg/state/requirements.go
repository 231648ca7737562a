// Package state holds the explicit session state for research workflows.
package state

import (
	"fmt"
	"strings"
)

// UserRequirements captures what the user is shopping for. Fields are
// accumulated across intake turns via Merge.
type UserRequirements struct {
	Category    string   `json:"category,omitempty"`
	MustHaves   []string `json:"must_haves,omitempty"`
	NiceToHaves []string `json:"nice_to_haves,omitempty"`
	Budget      string   `json:"budget,omitempty"`
	UseCase     string   `json:"use_case,omitempty"`
	Context     string   `json:"context,omitempty"`
}

// Merge folds a partial update into the requirements. Scalar fields are
// replaced when the update provides a non-empty value; list fields are
// appended with case-insensitive dedup.
func (r *UserRequirements) Merge(update UserRequirements) {
	if update.Category != "" {
		r.Category = update.Category
	}
	if update.Budget != "" {
		r.Budget = update.Budget
	}
	if update.UseCase != "" {
		r.UseCase = update.UseCase
	}
	if update.Context != "" {
		r.Context = update.Context
	}
	r.MustHaves = appendUnique(r.MustHaves, update.MustHaves)
	r.NiceToHaves = appendUnique(r.NiceToHaves, update.NiceToHaves)
}

func appendUnique(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[strings.ToLower(strings.TrimSpace(v))] = true
	}
	for _, v := range incoming {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		existing = append(existing, strings.TrimSpace(v))
	}
	return existing
}

// Ready reports whether enough is known to start searching: a category,
// at least one must-have, and either a budget or a use case.
func (r *UserRequirements) Ready() bool {
	return r.Category != "" &&
		len(r.MustHaves) > 0 &&
		(r.Budget != "" || r.UseCase != "")
}

// SummaryLine renders a one-line summary for prompts and qualification
// field descriptions.
func (r *UserRequirements) SummaryLine() string {
	var parts []string
	if r.Category != "" {
		parts = append(parts, r.Category)
	}
	if len(r.MustHaves) > 0 {
		parts = append(parts, fmt.Sprintf("must have: %s", strings.Join(r.MustHaves, ", ")))
	}
	if len(r.NiceToHaves) > 0 {
		parts = append(parts, fmt.Sprintf("nice to have: %s", strings.Join(r.NiceToHaves, ", ")))
	}
	if r.Budget != "" {
		parts = append(parts, fmt.Sprintf("budget: %s", r.Budget))
	}
	if r.UseCase != "" {
		parts = append(parts, fmt.Sprintf("use case: %s", r.UseCase))
	}
	if len(parts) == 0 {
		return "no requirements captured yet"
	}
	return strings.Join(parts, "; ")
}
