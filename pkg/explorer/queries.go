package explorer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/state"
)

const queryPlanSystemPrompt = `You are a product research strategist. Generate diverse web search queries that together surface a broad, representative candidate pool: professional reviews, community recommendations, brand catalogs, head-to-head comparisons, budget and premium picks, and underrated alternatives. Avoid near-duplicate queries.`

// queryPlan is the structured output shape for query generation.
type queryPlan struct {
	Queries []plannedQueryOut `json:"queries"`
	Notes   string            `json:"strategy_notes,omitempty"`
}

type plannedQueryOut struct {
	Query string `json:"query"`
	Angle string `json:"angle"`
}

var queryPlanTool = llm.ToolDefinition{
	Name:        "plan_search_queries",
	Description: "Record the planned set of diverse web search queries.",
	InputSchema: llm.InputSchema{
		Type: "object",
		Properties: map[string]llm.Property{
			"queries": {
				Type:        "array",
				Description: "The planned search queries",
				Items: &llm.Property{
					Type: "object",
					Properties: map[string]*llm.Property{
						"query": {Type: "string", Description: "The exact web search query"},
						"angle": {
							Type:        "string",
							Description: "The research angle this query covers",
							Enum: []string{
								AngleReviewSite, AngleReddit, AngleBrandCatalog,
								AngleComparison, AngleBudget, AnglePremium,
								AngleFeatureFocus, AngleUseCase, AngleAlternatives,
							},
						},
					},
					Required: []string{"query", "angle"},
				},
			},
			"strategy_notes": {Type: "string", Description: "Brief explanation of the query strategy"},
		},
		Required: []string{"queries"},
	},
}

// GenerateQueryPlan produces MinQueries to MaxQueries diverse search
// queries for the requirements. Generation failures fall back to a
// deterministic template plan built from the category knowledge base, so
// a plan is always returned.
func (e *Explorer) GenerateQueryPlan(ctx context.Context, req *state.UserRequirements) []state.PlannedQuery {
	catName, cat := e.kb.DetectCategory(req.Category)

	prompt := fmt.Sprintf(`Plan %d-%d diverse web search queries to find candidate products.

Requirements: %s

Category knowledge (%s):
- Top brands: %s
- Review sites: %s
- Communities: %s
- Key specs: %s

Spread queries across angles. Cover at least review_site, reddit, brand_catalog, and comparison. Include the current year (%d) where it sharpens results.`,
		e.cfg.MinQueries, e.cfg.MaxQueries,
		req.SummaryLine(),
		catName,
		joinOr(cat.TopBrands, "none known"),
		joinOr(cat.ReviewSites, "none known"),
		joinOr(cat.Subreddits, "none known"),
		joinOr(cat.KeySpecs, "none known"),
		time.Now().Year(),
	)

	plan, err := llm.GenerateStructured[queryPlan](ctx, e.chat, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(queryPlanSystemPrompt),
			llm.NewUserMessage(prompt),
		},
		MaxTokens: 2048,
	}, queryPlanTool)
	if err != nil {
		e.logger.Warn("query plan generation failed, using knowledge base fallback: %v", err)
		return e.fallbackQueryPlan(req)
	}

	queries := make([]state.PlannedQuery, 0, len(plan.Queries))
	for _, q := range plan.Queries {
		query := strings.TrimSpace(q.Query)
		if query == "" {
			continue
		}
		queries = append(queries, state.PlannedQuery{Query: query, Angle: q.Angle})
	}

	if len(queries) < e.cfg.MinQueries {
		e.logger.Warn("query plan too small (%d < %d), using knowledge base fallback", len(queries), e.cfg.MinQueries)
		return e.fallbackQueryPlan(req)
	}
	if len(queries) > e.cfg.MaxQueries {
		queries = queries[:e.cfg.MaxQueries]
	}

	e.logger.Info("Generated %d search queries (%s)", len(queries), angleBreakdown(queries))
	return queries
}

// fallbackQueryPlan builds a deterministic plan from the category
// knowledge base when structured generation fails.
func (e *Explorer) fallbackQueryPlan(req *state.UserRequirements) []state.PlannedQuery {
	productType := req.Category
	if productType == "" {
		productType = "product"
	}

	_, cat := e.kb.DetectCategory(productType)
	year := time.Now().Year()

	budget := ""
	if req.Budget != "" {
		budget = " " + req.Budget
	}

	queries := []state.PlannedQuery{
		{Query: fmt.Sprintf("best %s%s %d reviews", productType, budget, year), Angle: AngleReviewSite},
		{Query: fmt.Sprintf("%s recommendations reddit", productType), Angle: AngleReddit},
		{Query: fmt.Sprintf("top rated %s comparison %d", productType, year), Angle: AngleComparison},
		{Query: fmt.Sprintf("best budget %s %d", productType, year), Angle: AngleBudget},
		{Query: fmt.Sprintf("%s alternatives underrated %d", productType, year), Angle: AngleAlternatives},
	}

	if len(cat.ReviewSites) > 0 {
		queries = append(queries, state.PlannedQuery{
			Query: fmt.Sprintf("best %s %d site:%s", productType, year, cat.ReviewSites[0]),
			Angle: AngleReviewSite,
		})
	}
	if len(cat.Subreddits) > 0 {
		queries = append(queries, state.PlannedQuery{
			Query: fmt.Sprintf("%s recommendations %s %d", productType, cat.Subreddits[0], year),
			Angle: AngleReddit,
		})
	}
	for i, brand := range cat.TopBrands {
		if i >= 3 {
			break
		}
		queries = append(queries, state.PlannedQuery{
			Query: fmt.Sprintf("%s %s %d", brand, productType, year),
			Angle: AngleBrandCatalog,
		})
	}
	if req.UseCase != "" {
		queries = append(queries, state.PlannedQuery{
			Query: fmt.Sprintf("best %s for %s", productType, req.UseCase),
			Angle: AngleUseCase,
		})
	}
	for i, mustHave := range req.MustHaves {
		if i >= 2 || len(queries) >= e.cfg.MaxQueries {
			break
		}
		queries = append(queries, state.PlannedQuery{
			Query: fmt.Sprintf("%s with %s", productType, mustHave),
			Angle: AngleFeatureFocus,
		})
	}

	if len(queries) > e.cfg.MaxQueries {
		queries = queries[:e.cfg.MaxQueries]
	}

	e.logger.Info("Fallback query plan: %d queries", len(queries))
	return queries
}

func joinOr(values []string, fallback string) string {
	if len(values) == 0 {
		return fallback
	}
	return strings.Join(values, ", ")
}

func angleBreakdown(queries []state.PlannedQuery) string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, q := range queries {
		if counts[q.Angle] == 0 {
			order = append(order, q.Angle)
		}
		counts[q.Angle]++
	}
	parts := make([]string, 0, len(order))
	for _, angle := range order {
		parts = append(parts, fmt.Sprintf("%s:%d", angle, counts[angle]))
	}
	return strings.Join(parts, " ")
}
