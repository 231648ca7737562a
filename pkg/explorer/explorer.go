// Package explorer discovers product candidates through diverse web
// searches and generates the comparison field set for a research session.
package explorer

import (
	"context"
	"sync"

	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/config"
	"github.com/matt-house-e/shortlist/pkg/knowledge"
	"github.com/matt-house-e/shortlist/pkg/logx"
	"github.com/matt-house-e/shortlist/pkg/search"
	"github.com/matt-house-e/shortlist/pkg/state"
	"github.com/matt-house-e/shortlist/pkg/table"
)

// Search angles. A good query plan spreads queries across these so the
// candidate pool is not dominated by one source type.
const (
	AngleReviewSite   = "review_site"
	AngleReddit       = "reddit"
	AngleBrandCatalog = "brand_catalog"
	AngleComparison   = "comparison"
	AngleBudget       = "budget"
	AnglePremium      = "premium"
	AngleFeatureFocus = "feature_focus"
	AngleUseCase      = "use_case"
	AngleAlternatives = "alternatives"
)

// searchInstructions steers each web search toward extractable candidate
// lists. URLs are deliberately excluded; real URLs come from citations.
const searchInstructions = `You are a product researcher. Search for products matching the query.
For each product found, extract:
- Full product name (be specific, include model numbers)
- Manufacturer/brand
- Brief description

Return results as a JSON array:
[
    {"name": "Product Name Model X123", "manufacturer": "Brand", "description": "Brief description"},
    ...
]

IMPORTANT:
- Find 8-15 DISTINCT products per search
- Include model numbers/variants when available
- Include a mix of popular and lesser-known options
- Don't repeat the same product with different names
- Do NOT include URLs - they will be extracted from citations automatically`

// Explorer runs the candidate discovery phase: query planning, parallel
// web searches, dedup, and field generation.
type Explorer struct {
	chat   llm.LLMClient
	search search.Client
	cfg    *config.SearchConfig
	kb     *knowledge.Base
	logger *logx.Logger
}

// New creates an Explorer. The chat client handles structured generation
// (query plans, field sets); the search client performs the web searches.
func New(chat llm.LLMClient, searchClient search.Client, cfg *config.SearchConfig, logger *logx.Logger) (*Explorer, error) {
	kb, err := knowledge.Load()
	if err != nil {
		return nil, err
	}
	return &Explorer{
		chat:   chat,
		search: searchClient,
		cfg:    cfg,
		kb:     kb,
		logger: logger,
	}, nil
}

// SummarizeRequirements renders the one-line requirements summary used in
// search and qualification prompts.
func SummarizeRequirements(req *state.UserRequirements) string {
	return req.SummaryLine()
}

// Explore executes the query plan concurrently and returns deduplicated
// candidates capped at MaxProducts. A failed query logs a warning and
// contributes zero candidates; Explore itself only fails if the context is
// done before any work completes.
func (e *Explorer) Explore(ctx context.Context, queries []state.PlannedQuery, productType string) []state.DiscoveredCandidate {
	e.logger.Info("🔍 Executing %d searches for %q", len(queries), productType)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		raw []state.DiscoveredCandidate
	)

	for i := range queries {
		wg.Add(1)
		go func(idx int, q state.PlannedQuery) {
			defer wg.Done()

			resp, err := e.search.SearchWithCitations(ctx, q.Query, searchInstructions)
			if err != nil {
				e.logger.Warn("search [%d] %s failed: %v", idx+1, q.Angle, err)
				return
			}

			candidates := extractCandidates(resp.Content, resp.Citations)
			e.logger.Info("search [%d] %s: %d candidates", idx+1, q.Angle, len(candidates))

			mu.Lock()
			for j := range candidates {
				candidates[j].Category = productType
				raw = append(raw, state.DiscoveredCandidate{Candidate: candidates[j], SourceQuery: q.Query})
			}
			mu.Unlock()
		}(i, queries[i])
	}
	wg.Wait()

	deduped := dedupDiscoveries(raw)
	if len(deduped) > e.cfg.MaxProducts {
		e.logger.Info("capping candidates %d -> %d", len(deduped), e.cfg.MaxProducts)
		deduped = deduped[:e.cfg.MaxProducts]
	}

	e.logger.Info("🔍 Exploration complete: %d raw, %d unique candidates", len(raw), len(deduped))
	return deduped
}

// dedupDiscoveries deduplicates by fuzzy name match, preserving the source
// query of whichever candidate survives.
func dedupDiscoveries(discoveries []state.DiscoveredCandidate) []state.DiscoveredCandidate {
	candidates := make([]table.Candidate, 0, len(discoveries))
	sourceByName := make(map[string]string, len(discoveries))
	for _, d := range discoveries {
		if d.Candidate.Name == "" {
			continue
		}
		candidates = append(candidates, d.Candidate)
		key := table.NormalizeName(d.Candidate.Name)
		if _, ok := sourceByName[key]; !ok {
			sourceByName[key] = d.SourceQuery
		}
	}

	deduped := table.DeduplicateCandidates(candidates)

	out := make([]state.DiscoveredCandidate, 0, len(deduped))
	for _, c := range deduped {
		out = append(out, state.DiscoveredCandidate{
			Candidate:   c,
			SourceQuery: sourceByName[table.NormalizeName(c.Name)],
		})
	}
	return out
}
