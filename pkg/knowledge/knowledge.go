// Package knowledge holds an embedded knowledge base of product categories.
// The explorer uses it to build deterministic fallback query plans and field
// sets when structured LLM generation fails.
package knowledge

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var categoriesYAML string

// FieldTemplate is a predefined comparison field for a product category.
type FieldTemplate struct {
	Name     string `yaml:"name"`
	Prompt   string `yaml:"prompt"`
	DataType string `yaml:"data_type"`
}

// Category describes what we know about one product category.
type Category struct {
	Keywords       []string        `yaml:"keywords"`
	TopBrands      []string        `yaml:"top_brands"`
	ReviewSites    []string        `yaml:"review_sites"`
	Subreddits     []string        `yaml:"subreddits"`
	KeySpecs       []string        `yaml:"key_specs"`
	FallbackFields []FieldTemplate `yaml:"fallback_fields"`
}

// Base is the parsed knowledge base.
type Base struct {
	Categories map[string]Category `yaml:"categories"`
}

var (
	loadOnce sync.Once
	loaded   *Base
	loadErr  error
)

// Load parses the embedded knowledge base. The result is cached.
func Load() (*Base, error) {
	loadOnce.Do(func() {
		var b Base
		if err := yaml.Unmarshal([]byte(categoriesYAML), &b); err != nil {
			loadErr = fmt.Errorf("failed to parse embedded category knowledge base: %w", err)
			return
		}
		if _, ok := b.Categories["default"]; !ok {
			loadErr = fmt.Errorf("embedded category knowledge base has no default category")
			return
		}
		loaded = &b
	})
	return loaded, loadErr
}

// DetectCategory finds the best matching category for a product type using
// keyword matching, then a partial match on the category name, then the
// default category.
func (b *Base) DetectCategory(productType string) (string, Category) {
	lower := strings.ToLower(strings.TrimSpace(productType))
	if lower == "" {
		return "default", b.Categories["default"]
	}

	// Sorted iteration keeps the winner stable when two categories tie.
	names := make([]string, 0, len(b.Categories))
	for name := range b.Categories {
		if name != "default" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		for _, kw := range b.Categories[name].Keywords {
			if strings.Contains(lower, kw) {
				return name, b.Categories[name]
			}
		}
	}

	for _, name := range names {
		if strings.Contains(lower, name) || strings.Contains(name, lower) {
			return name, b.Categories[name]
		}
	}

	return "default", b.Categories["default"]
}

// FallbackFields returns the predefined comparison fields for a product type.
func (b *Base) FallbackFields(productType string) []FieldTemplate {
	_, cat := b.DetectCategory(productType)
	return cat.FallbackFields
}
