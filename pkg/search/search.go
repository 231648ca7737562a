// Package search provides web search with source citations, backed by the
// OpenAI Responses API web_search tool.
package search

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/matt-house-e/shortlist/pkg/agent/llmerrors"
)

// ErrEmptyResponse indicates the search completed but produced no content.
var ErrEmptyResponse = errors.New("empty search response")

// Citation is a source reference anchored to a span of the response content.
type Citation struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	StartIndex int    `json:"start_index"`
	EndIndex   int    `json:"end_index"`
}

// Response is the result of a citation-bearing web search.
type Response struct {
	Content   string     `json:"content"`
	Citations []Citation `json:"citations"`
}

// Client performs web searches that return content with source citations.
type Client interface {
	// SearchWithCitations runs the query through a search-capable model.
	// Instructions steer the synthesis of results and may be empty.
	SearchWithCitations(ctx context.Context, query, instructions string) (*Response, error)
}

// OpenAIClient implements Client using the Responses API with the
// web_search tool. Citations come from url_citation annotations on the
// output text.
type OpenAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAIClient creates a search client for the given model.
func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// GetModelName returns the model used for searches.
func (c *OpenAIClient) GetModelName() string {
	return c.model
}

// SearchWithCitations implements Client.
func (c *OpenAIClient) SearchWithCitations(ctx context.Context, query, instructions string) (*Response, error) {
	params := responses.ResponseNewParams{
		Model: c.model,
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(query)},
		Tools: []responses.ToolUnionParam{{
			OfWebSearchPreview: &responses.WebSearchToolParam{
				Type: responses.WebSearchToolTypeWebSearchPreview,
			},
		}},
	}

	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}

	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp == nil {
		return nil, ErrEmptyResponse
	}

	out := extractResponse(resp)
	if out.Content == "" {
		return nil, ErrEmptyResponse
	}

	return out, nil
}

// extractResponse pulls the output text and url_citation annotations out of
// a Responses API result. Web search call items and reasoning items carry no
// user-visible content and are skipped.
func extractResponse(resp *responses.Response) *Response {
	out := &Response{}

	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "message" {
			continue
		}

		for j := range item.Content {
			part := &item.Content[j]
			if part.Type != "output_text" {
				continue
			}

			out.Content += part.Text

			for k := range part.Annotations {
				ann := &part.Annotations[k]
				if ann.Type != "url_citation" {
					continue
				}
				out.Citations = append(out.Citations, Citation{
					URL:        ann.URL,
					Title:      ann.Title,
					StartIndex: int(ann.StartIndex),
					EndIndex:   int(ann.EndIndex),
				})
			}
		}
	}

	return out
}

// classifyError maps SDK errors to structured error types so callers can
// distinguish rate limits and transient failures from hard errors.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "search request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "search request canceled")
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeAuth, apiErr.StatusCode, "authentication failed - check API key")
		case 429:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeRateLimit, apiErr.StatusCode, "rate limit exceeded")
		case 400, 404, 422:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeBadPrompt, apiErr.StatusCode, "bad search request")
		case 500, 502, 503, 504:
			return llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, apiErr.StatusCode, "server error")
		}
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "connection"),
		strings.Contains(lower, "network"), strings.Contains(lower, "eof"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeTransient, err, "network or connection error")
	case strings.Contains(lower, "rate"), strings.Contains(lower, "quota"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeRateLimit, err, "rate limiting detected")
	case strings.Contains(lower, "auth"), strings.Contains(lower, "api key"):
		return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeAuth, err, "authentication error")
	}

	return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeUnknown, err, "unclassified search error")
}
