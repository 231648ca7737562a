package explorer

import (
	"context"
	"fmt"
	"strings"

	"github.com/matt-house-e/shortlist/pkg/agent/llm"
	"github.com/matt-house-e/shortlist/pkg/state"
	"github.com/matt-house-e/shortlist/pkg/table"
)

const (
	maxCategoryFields = 10
	maxMustHaveFields = 3
)

const fieldGenSystemPrompt = `You are a product comparison expert. Given a product type and user requirements, decide which category-specific attributes matter most for comparing candidates. Each field needs a snake_case name, a detailed extraction prompt a researcher can follow, and a data type (string, number, or boolean).`

type fieldPlan struct {
	Fields []generatedField `json:"fields"`
}

type generatedField struct {
	Name     string `json:"name"`
	Prompt   string `json:"prompt"`
	DataType string `json:"data_type"`
}

var fieldPlanTool = llm.ToolDefinition{
	Name:        "define_comparison_fields",
	Description: "Record the category-specific comparison fields for this product type.",
	InputSchema: llm.InputSchema{
		Type: "object",
		Properties: map[string]llm.Property{
			"fields": {
				Type:        "array",
				Description: "5-10 category-specific comparison fields",
				Items: &llm.Property{
					Type: "object",
					Properties: map[string]*llm.Property{
						"name":   {Type: "string", Description: "snake_case field identifier"},
						"prompt": {Type: "string", Description: "Detailed extraction prompt for the enricher"},
						"data_type": {
							Type:        "string",
							Description: "Expected value type",
							Enum:        []string{"string", "number", "boolean"},
						},
					},
					Required: []string{"name", "prompt", "data_type"},
				},
			},
		},
		Required: []string{"fields"},
	},
}

// standardFields apply to every product category.
func standardFields() []table.FieldDefinition {
	return []table.FieldDefinition{
		{
			Category: table.FieldStandard,
			Name:     "name",
			Prompt: "Extract the full product name including brand and model number. " +
				"Look for the official product title. Format: 'Brand Model Name'.",
			DataType: table.TypeString,
		},
		{
			Category: table.FieldStandard,
			Name:     "price",
			Prompt: "Extract the current retail price with currency symbol. " +
				"Use the main price, not sale/discount price. " +
				"If a range is given, use the starting price. Format: '$XX.XX' or '£XX.XX'.",
			DataType: table.TypeString,
		},
		{
			Category: table.FieldStandard,
			Name:     "official_url",
			Prompt: "Select the official product page URL from the 'Source:' URLs provided in the search results. " +
				"ONLY use URLs that appear in the source context - NEVER generate or guess URLs. " +
				"Prefer manufacturer URLs over retailer URLs (Amazon, Best Buy, etc.). " +
				"If no suitable URL is found in the sources, return null.",
			DataType: table.TypeString,
		},
	}
}

// GenerateFields builds the full comparison field set: 3 standard fields,
// 5-10 category-specific fields, and exactly 2 qualification fields whose
// prompts embed the requirements summary. Category field generation falls
// back to knowledge base templates on failure, so this never errors.
func (e *Explorer) GenerateFields(ctx context.Context, req *state.UserRequirements) []table.FieldDefinition {
	fields := standardFields()

	category := e.generateCategoryFields(ctx, req)
	fields = append(fields, category...)

	summary := req.SummaryLine()
	fields = append(fields,
		table.FieldDefinition{
			Category: table.FieldQualification,
			Name:     table.QualificationField,
			Prompt: fmt.Sprintf("Does this product meet ALL these requirements: %s? "+
				"Carefully check each requirement against the product specs. "+
				"Answer TRUE only if ALL requirements are met. Answer FALSE if any requirement is not met or unclear.", summary),
			DataType: table.TypeBoolean,
		},
		table.FieldDefinition{
			Category: table.FieldQualification,
			Name:     "requirements_notes",
			Prompt: fmt.Sprintf("For each of these requirements: %s - "+
				"indicate which are MET, NOT MET, or UNCLEAR. "+
				"Be specific about why each requirement is or isn't satisfied.", summary),
			DataType: table.TypeString,
		},
	)

	e.logger.Info("Generated %d field definitions (%d category-specific)", len(fields), len(category))
	return fields
}

// generateCategoryFields asks the model for category-specific fields and
// falls back to knowledge base templates plus must-have fields on failure.
func (e *Explorer) generateCategoryFields(ctx context.Context, req *state.UserRequirements) []table.FieldDefinition {
	prompt := fmt.Sprintf(`Define 5-10 comparison fields for this purchase.

Product type: %s
Requirements: %s

Focus on attributes that differentiate candidates and that a web search can answer. Do not include name, price, or URL fields; those already exist.`,
		req.Category, req.SummaryLine())

	plan, err := llm.GenerateStructured[fieldPlan](ctx, e.chat, llm.CompletionRequest{
		Messages: []llm.CompletionMessage{
			llm.NewSystemMessage(fieldGenSystemPrompt),
			llm.NewUserMessage(prompt),
		},
		MaxTokens: 2048,
	}, fieldPlanTool)
	if err != nil {
		e.logger.Warn("field generation failed, using knowledge base fallback: %v", err)
		return e.fallbackCategoryFields(req)
	}

	fields := make([]table.FieldDefinition, 0, len(plan.Fields))
	seen := make(map[string]bool)
	for _, f := range plan.Fields {
		name := normalizeFieldName(f.Name)
		if name == "" || f.Prompt == "" || seen[name] {
			continue
		}
		seen[name] = true
		fields = append(fields, table.FieldDefinition{
			Category: table.FieldCategoryBased,
			Name:     name,
			Prompt:   f.Prompt,
			DataType: parseDataType(f.DataType),
		})
		if len(fields) == maxCategoryFields {
			break
		}
	}

	if len(fields) == 0 {
		e.logger.Warn("field generation returned no usable fields, using knowledge base fallback")
		return e.fallbackCategoryFields(req)
	}
	return fields
}

// fallbackCategoryFields builds fields from the knowledge base templates
// plus up to three fields derived from the user's must-haves.
func (e *Explorer) fallbackCategoryFields(req *state.UserRequirements) []table.FieldDefinition {
	templates := e.kb.FallbackFields(req.Category)

	fields := make([]table.FieldDefinition, 0, len(templates))
	seen := make(map[string]bool)
	for _, t := range templates {
		name := normalizeFieldName(t.Name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		fields = append(fields, table.FieldDefinition{
			Category: table.FieldCategoryBased,
			Name:     name,
			Prompt:   t.Prompt,
			DataType: parseDataType(t.DataType),
		})
	}

	added := 0
	for _, mustHave := range req.MustHaves {
		if added == maxMustHaveFields || len(fields) == maxCategoryFields {
			break
		}
		name := normalizeFieldName(mustHave)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		fields = append(fields, table.FieldDefinition{
			Category: table.FieldCategoryBased,
			Name:     name,
			Prompt: fmt.Sprintf("Determine if this product has %s. "+
				"Look for '%s' or related features. "+
				"Answer 'Yes' if present, 'No' if not mentioned.", mustHave, mustHave),
			DataType: table.TypeString,
		})
		added++
	}

	if len(fields) > maxCategoryFields {
		fields = fields[:maxCategoryFields]
	}
	return fields
}

// NormalizeFieldName lowercases a field name and squeezes it to snake_case
// [a-z0-9_] form.
func NormalizeFieldName(name string) string {
	return normalizeFieldName(name)
}

// UserFieldDefinition builds a comparison field from a user-requested
// attribute name, with a generic extraction prompt. Returns false when the
// name normalizes to nothing usable.
func UserFieldDefinition(name string) (table.FieldDefinition, bool) {
	normalized := normalizeFieldName(name)
	if normalized == "" {
		return table.FieldDefinition{}, false
	}
	display := strings.ReplaceAll(normalized, "_", " ")
	return table.FieldDefinition{
		Category: table.FieldUserDriven,
		Name:     normalized,
		Prompt: fmt.Sprintf("Determine the %s for this product. "+
			"Look for specifications, reviews, or product pages that mention %s. "+
			"Be specific and include units where applicable. "+
			"Answer 'Unknown' if no reliable information is found.", display, display),
		DataType: table.TypeString,
	}, true
}

func normalizeFieldName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, "-", "_")

	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "_")
}

func parseDataType(s string) table.DataType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "number", "int", "float", "currency":
		return table.TypeNumber
	case "boolean", "bool":
		return table.TypeBoolean
	case "list", "array":
		return table.TypeList
	default:
		return table.TypeString
	}
}
