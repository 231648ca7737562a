package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/matt-house-e/shortlist/pkg/config"
	"github.com/matt-house-e/shortlist/pkg/logx"
	"github.com/matt-house-e/shortlist/pkg/search"
)

const latticeInstructions = `You are a product data researcher. Research the product described in the query and extract the requested fields.

Return ONLY a JSON object keyed by field name. Use null for fields you cannot determine from real sources. Never invent URLs; only use URLs that appear in your search results.`

var retailerDomains = []string{"amazon", "bestbuy", "walmart", "target", "ebay", "newegg"}

// LatticeBackend enriches rows by running one web search per row and
// parsing the structured answer. Rows run on a bounded worker pool with a
// stagger between dispatches to stay under provider rate limits.
type LatticeBackend struct {
	search search.Client
	cfg    *config.EnrichConfig
	logger *logx.Logger
}

// NewLatticeBackend creates the production enrichment backend.
func NewLatticeBackend(searchClient search.Client, cfg *config.EnrichConfig, logger *logx.Logger) *LatticeBackend {
	return &LatticeBackend{search: searchClient, cfg: cfg, logger: logger}
}

// EnrichRows implements Backend. Results are returned in input order; a
// row that keeps failing after retries carries its error in RowResult.Err.
func (b *LatticeBackend) EnrichRows(ctx context.Context, req Request) ([]RowResult, error) {
	results := make([]RowResult, len(req.Rows))

	batchSize := b.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(req.Rows)
	}

	for start := 0; start < len(req.Rows); start += batchSize {
		end := start + batchSize
		if end > len(req.Rows) {
			end = len(req.Rows)
		}
		b.logger.Info("Enriching batch %d-%d of %d rows", start+1, end, len(req.Rows))

		if err := b.enrichBatch(ctx, req.Rows[start:end], results[start:end]); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// enrichBatch runs one batch through the worker pool.
func (b *LatticeBackend) enrichBatch(ctx context.Context, rows []RowInput, results []RowResult) error {
	workers := b.cfg.MaxWorkers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(rows) {
		workers = len(rows)
	}

	type job struct {
		idx int
		row RowInput
	}

	jobs := make(chan job)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				values, err := b.enrichRow(ctx, j.row)
				results[j.idx] = RowResult{RowID: j.row.RowID, Values: values, Err: err}
			}
		}()
	}

	for i, row := range rows {
		select {
		case jobs <- job{idx: i, row: row}:
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return ctx.Err()
		}
		// Stagger dispatches to avoid bursts
		if b.cfg.RowDelay > 0 && i < len(rows)-1 {
			select {
			case <-time.After(b.cfg.RowDelay):
			case <-ctx.Done():
				close(jobs)
				wg.Wait()
				return ctx.Err()
			}
		}
	}
	close(jobs)
	wg.Wait()

	return nil
}

// enrichRow researches one row, retrying transient failures with
// exponential backoff. The retry loop is bounded by MaxRetries.
func (b *LatticeBackend) enrichRow(ctx context.Context, row RowInput) (map[string]any, error) {
	query := b.buildQuery(row)

	var lastErr error
	for attempt := 0; attempt <= b.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			b.logger.Debug("Retrying row %s (attempt %d/%d) after %s", row.RowID, attempt, b.cfg.MaxRetries, backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		values, err := b.searchRow(ctx, query, row)
		if err == nil {
			return values, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("row enrichment failed after %d attempts: %w", b.cfg.MaxRetries+1, lastErr)
}

// searchRow performs a single research attempt for a row.
func (b *LatticeBackend) searchRow(ctx context.Context, query string, row RowInput) (map[string]any, error) {
	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	resp, err := b.search.SearchWithCitations(ctx, query, latticeInstructions)
	if err != nil {
		return nil, err
	}

	values, err := extractValues(resp.Content)
	if err != nil {
		return nil, err
	}

	validateOfficialURL(values, row, resp.Citations)
	return values, nil
}

// buildQuery renders the per-row research prompt: the candidate identity
// plus one line per requested field.
func (b *LatticeBackend) buildQuery(row RowInput) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Research this product and fill in the requested fields.\n\n")
	fmt.Fprintf(&sb, "Product: %s\n", row.Candidate.Name)
	if row.Candidate.Manufacturer != "" {
		fmt.Fprintf(&sb, "Manufacturer: %s\n", row.Candidate.Manufacturer)
	}
	if row.Candidate.Category != "" {
		fmt.Fprintf(&sb, "Category: %s\n", row.Candidate.Category)
	}
	if row.Candidate.OfficialURL != "" {
		fmt.Fprintf(&sb, "Known URL: %s\n", row.Candidate.OfficialURL)
	}
	if row.Candidate.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", row.Candidate.Description)
	}

	sb.WriteString("\nFields to extract:\n")
	for _, f := range row.Fields {
		fmt.Fprintf(&sb, "- %s (%s): %s\n", f.Name, f.DataType, f.Prompt)
	}

	sb.WriteString("\nReturn a single JSON object with exactly these field names as keys.")
	return sb.String()
}

// extractValues parses the JSON object out of a research response. The
// object is located tolerantly (first '{' to last '}') since models wrap
// it in prose.
func extractValues(content string) (map[string]any, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in enrichment response")
	}

	var values map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &values); err != nil {
		return nil, fmt.Errorf("malformed JSON in enrichment response: %w", err)
	}
	return values, nil
}

// validateOfficialURL replaces a retailer official_url with a manufacturer
// citation when one is available. The model is told to prefer manufacturer
// pages but does not always comply.
func validateOfficialURL(values map[string]any, row RowInput, citations []search.Citation) {
	current, ok := values["official_url"].(string)
	if !ok || current == "" || !isRetailerURL(current) {
		return
	}

	mfr := strings.ToLower(row.Candidate.Manufacturer)
	if len(mfr) <= 2 || mfr == "unknown" {
		return
	}

	for _, c := range citations {
		urlLower := strings.ToLower(c.URL)
		if isRetailerURL(urlLower) {
			continue
		}
		if strings.Contains(urlLower, mfr) {
			values["official_url"] = c.URL
			return
		}
	}
}

func isRetailerURL(url string) bool {
	lower := strings.ToLower(url)
	for _, r := range retailerDomains {
		if strings.Contains(lower, r) {
			return true
		}
	}
	return false
}
