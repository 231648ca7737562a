package knowledge

import "testing"

func TestLoad(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(b.Categories) < 2 {
		t.Errorf("expected multiple categories, got %d", len(b.Categories))
	}
	if _, ok := b.Categories["default"]; !ok {
		t.Error("default category missing")
	}
	for name, cat := range b.Categories {
		if len(cat.FallbackFields) == 0 {
			t.Errorf("category %q has no fallback fields", name)
		}
		if len(cat.ReviewSites) == 0 {
			t.Errorf("category %q has no review sites", name)
		}
	}
}

func TestDetectCategory(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	tests := []struct {
		productType string
		want        string
	}{
		{"wireless headphones", "electronics"},
		{"gaming laptop", "electronics"},
		{"electric kettle", "appliances"},
		{"robot vacuum", "appliances"},
		{"family SUV", "vehicles"},
		{"standing desk", "default"},
		{"", "default"},
		{"   ", "default"},
	}

	for _, tt := range tests {
		got, cat := b.DetectCategory(tt.productType)
		if got != tt.want {
			t.Errorf("DetectCategory(%q) = %q, want %q", tt.productType, got, tt.want)
		}
		if len(cat.FallbackFields) == 0 {
			t.Errorf("DetectCategory(%q) returned category with no fallback fields", tt.productType)
		}
	}
}

func TestFallbackFields(t *testing.T) {
	b, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	fields := b.FallbackFields("mechanical keyboard")
	if len(fields) == 0 {
		t.Fatal("expected fallback fields")
	}
	for _, f := range fields {
		if f.Name == "" || f.Prompt == "" || f.DataType == "" {
			t.Errorf("incomplete field template: %+v", f)
		}
	}
}
