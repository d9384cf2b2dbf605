package tileserver

import (
	"testing"

	"github.com/geoply/mvtserver/internal/config"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
func boolPtr(b bool) *bool    { return &b }

func TestResolveLayer_NoVariants(t *testing.T) {
	layer := config.Layer{Name: "roads", Table: strPtr("osm_roads")}
	resolved := resolveLayer(layer, 10)
	if resolved == nil {
		t.Fatalf("expected a resolved layer")
	}
	if resolved.Name != "roads" || *resolved.Table != "osm_roads" {
		t.Fatalf("resolved = %+v", resolved)
	}
}

func TestResolveLayer_VariantLadder(t *testing.T) {
	layer := config.Layer{
		Name:  "roads",
		Table: strPtr("base"),
		Variants: []config.Variant{
			{Minzoom: 10, Table: strPtr("t10")},
			{Minzoom: 11, Table: strPtr("t11")},
		},
	}

	resolved := resolveLayer(layer, 11)
	if resolved == nil || *resolved.Table != "t11" {
		t.Fatalf("zoom 11: resolved = %+v", resolved)
	}

	resolved = resolveLayer(layer, 10)
	if resolved == nil || *resolved.Table != "t10" {
		t.Fatalf("zoom 10: resolved = %+v", resolved)
	}

	// below every variant: the base layer applies unchanged
	resolved = resolveLayer(layer, 9)
	if resolved == nil || *resolved.Table != "base" {
		t.Fatalf("zoom 9: resolved = %+v", resolved)
	}
}

func TestResolveLayer_LastMatchWins(t *testing.T) {
	// both variants match at zoom 11; list order decides, not the
	// numerically closest minzoom
	layer := config.Layer{
		Name:  "roads",
		Table: strPtr("base"),
		Variants: []config.Variant{
			{Minzoom: 11, Table: strPtr("t11")},
			{Minzoom: 10, Table: strPtr("t10")},
		},
	}
	resolved := resolveLayer(layer, 11)
	if resolved == nil || *resolved.Table != "t10" {
		t.Fatalf("resolved = %+v", resolved)
	}
}

func TestResolveLayer_LayerZoomBounds(t *testing.T) {
	layer := config.Layer{Name: "roads", Table: strPtr("t"), Minzoom: intPtr(12)}
	if resolved := resolveLayer(layer, 11); resolved != nil {
		t.Fatalf("expected nil below minzoom, got %+v", resolved)
	}
	if resolved := resolveLayer(layer, 12); resolved == nil {
		t.Fatalf("expected layer at minzoom")
	}

	// maxzoom is exclusive
	layer = config.Layer{Name: "roads", Table: strPtr("t"), Maxzoom: intPtr(11)}
	if resolved := resolveLayer(layer, 11); resolved != nil {
		t.Fatalf("expected nil at maxzoom, got %+v", resolved)
	}
	if resolved := resolveLayer(layer, 10); resolved == nil {
		t.Fatalf("expected layer below maxzoom")
	}
}

func TestResolveLayer_VariantInterval(t *testing.T) {
	layer := config.Layer{
		Name:  "roads",
		Table: strPtr("base"),
		Variants: []config.Variant{
			{Minzoom: 10, Maxzoom: intPtr(12), Table: strPtr("mid")},
		},
	}
	if resolved := resolveLayer(layer, 12); *resolved.Table != "base" {
		t.Fatalf("variant maxzoom must be exclusive, got %+v", resolved)
	}
	if resolved := resolveLayer(layer, 11); *resolved.Table != "mid" {
		t.Fatalf("variant should match inside interval, got %+v", resolved)
	}
}

func TestResolveLayer_VariantMergesOverLayer(t *testing.T) {
	layer := config.Layer{
		Common: config.Common{
			Buffer: intPtr(128),
			Keys:   []string{"name"},
		},
		Name:  "roads",
		Table: strPtr("base"),
		Variants: []config.Variant{
			{Minzoom: 10, Common: config.Common{Keys: []string{"name", "ref"}}},
		},
	}
	resolved := resolveLayer(layer, 10)
	if len(resolved.Keys) != 2 || resolved.Keys[1] != "ref" {
		t.Fatalf("variant keys should override: %+v", resolved.Keys)
	}
	// fields the variant leaves out keep the layer's values
	if resolved.Buffer == nil || *resolved.Buffer != 128 {
		t.Fatalf("layer buffer should survive merge: %+v", resolved.Common)
	}
	if *resolved.Table != "base" {
		t.Fatalf("layer table should survive merge: %+v", resolved)
	}
}

func TestResolveLayer_VariantErasesKeys(t *testing.T) {
	layer := config.Layer{
		Common: config.Common{Keys: []string{"name"}},
		Name:   "roads",
		Table:  strPtr("base"),
		Variants: []config.Variant{
			{Minzoom: 10, Common: config.Common{Keys: []string{}}},
		},
	}
	resolved := resolveLayer(layer, 10)
	if len(resolved.Keys) != 0 {
		t.Fatalf("empty variant keys should erase layer keys: %+v", resolved.Keys)
	}
}

func TestResolveLayer_VariantsStripped(t *testing.T) {
	layer := config.Layer{
		Name:     "roads",
		Table:    strPtr("base"),
		Variants: []config.Variant{{Minzoom: 10}},
	}
	resolved := resolveLayer(layer, 10)
	if resolved.Variants != nil {
		t.Fatalf("variants must be stripped from the result")
	}
}
