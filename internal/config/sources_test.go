package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadSources_TOML(t *testing.T) {
	path := writeFile(t, "sources.toml", `
[[sources]]
name = "local"
host = "localhost"
database = "gis"
minzoom = 8

  [[sources.layers]]
  name = "landuse"
  table = "osm_landuse"
  buffer = 128
  keys = ["name", "type"]

    [[sources.layers.variants]]
    minzoom = 14
    table = "osm_landuse_gen14"
`)
	cfg, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}

	src := cfg.Source("local")
	if src == nil {
		t.Fatalf("source 'local' not found")
	}
	if src.Host == nil || *src.Host != "localhost" {
		t.Fatalf("host not decoded: %+v", src)
	}
	if src.Minzoom == nil || *src.Minzoom != 8 {
		t.Fatalf("source minzoom not decoded: %+v", src.Common)
	}
	if len(src.Layers) != 1 {
		t.Fatalf("layers = %d, want 1", len(src.Layers))
	}

	layer := src.Layers[0]
	if layer.Name != "landuse" || layer.Table == nil || *layer.Table != "osm_landuse" {
		t.Fatalf("layer not decoded: %+v", layer)
	}
	if layer.Buffer == nil || *layer.Buffer != 128 {
		t.Fatalf("layer buffer not decoded: %+v", layer.Common)
	}
	if len(layer.Keys) != 2 || layer.Keys[0] != "name" {
		t.Fatalf("layer keys not decoded: %v", layer.Keys)
	}
	if len(layer.Variants) != 1 || layer.Variants[0].Minzoom != 14 {
		t.Fatalf("variants not decoded: %+v", layer.Variants)
	}
	if layer.Variants[0].Table == nil || *layer.Variants[0].Table != "osm_landuse_gen14" {
		t.Fatalf("variant table not decoded: %+v", layer.Variants[0])
	}
}

func TestLoadSources_JSON(t *testing.T) {
	path := writeFile(t, "sources.json", `{
  "sources": [
    {
      "name": "global",
      "database": "gis",
      "layers": [
        {"name": "water", "table": "osm_water", "clip_geom": false}
      ]
    }
  ]
}`)
	cfg, err := LoadSources(path)
	if err != nil {
		t.Fatalf("LoadSources: %v", err)
	}
	src := cfg.Source("global")
	if src == nil {
		t.Fatalf("source 'global' not found")
	}
	layer := src.Layers[0]
	if layer.ClipGeom == nil || *layer.ClipGeom != false {
		t.Fatalf("clip_geom not decoded: %+v", layer.Common)
	}
}

func TestLoadSources_UnnamedLayerRejected(t *testing.T) {
	path := writeFile(t, "sources.toml", `
[[sources]]
name = "local"

  [[sources.layers]]
  table = "osm_water"
`)
	if _, err := LoadSources(path); err == nil {
		t.Fatalf("expected error for unnamed layer")
	}
}

func TestLoadSources_DuplicateSourceRejected(t *testing.T) {
	path := writeFile(t, "sources.toml", `
[[sources]]
name = "local"

[[sources]]
name = "local"
`)
	if _, err := LoadSources(path); err == nil {
		t.Fatalf("expected error for duplicate source name")
	}
}

func TestSourceLookup_Missing(t *testing.T) {
	cfg := Sources{}
	if cfg.Source("nope") != nil {
		t.Fatalf("expected nil for unknown source")
	}
}
