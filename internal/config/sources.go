package config

import (
	"fmt"
	"path/filepath"
	"strings"

	koanfjson "github.com/knadh/koanf/parsers/json"
	koanftoml "github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Common holds the SQL-generation parameters shared by sources, layers
// and variants. All fields are optional; nil means "not set here" and
// defers to the next level of the default chain.
type Common struct {
	Extend    *int     `koanf:"extend"`
	Buffer    *int     `koanf:"buffer"`
	ClipGeom  *bool    `koanf:"clip_geom"`
	Geom      *string  `koanf:"geom"`
	SRID      *int     `koanf:"srid"`
	Keys      []string `koanf:"keys"`
	Where     []string `koanf:"where"`
	Prefix    *string  `koanf:"prefix"`
	Postfix   *string  `koanf:"postfix"`
	SQL       *string  `koanf:"sql"`
	Namespace *string  `koanf:"namespace"`
}

// Merge returns base with every field that is set in over overriding the
// corresponding base field. Keys and Where override as whole lists; an
// explicitly empty list erases the base value.
func (base Common) Merge(over Common) Common {
	out := base
	if over.Extend != nil {
		out.Extend = over.Extend
	}
	if over.Buffer != nil {
		out.Buffer = over.Buffer
	}
	if over.ClipGeom != nil {
		out.ClipGeom = over.ClipGeom
	}
	if over.Geom != nil {
		out.Geom = over.Geom
	}
	if over.SRID != nil {
		out.SRID = over.SRID
	}
	if over.Keys != nil {
		out.Keys = over.Keys
	}
	if over.Where != nil {
		out.Where = over.Where
	}
	if over.Prefix != nil {
		out.Prefix = over.Prefix
	}
	if over.Postfix != nil {
		out.Postfix = over.Postfix
	}
	if over.SQL != nil {
		out.SQL = over.SQL
	}
	if over.Namespace != nil {
		out.Namespace = over.Namespace
	}
	return out
}

// Variant is a zoom-scoped partial override of a layer. Minzoom is
// mandatory; a missing maxzoom means "up to zoom 32".
type Variant struct {
	Common  `koanf:",squash"`
	Minzoom int     `koanf:"minzoom"`
	Maxzoom *int    `koanf:"maxzoom"`
	Table   *string `koanf:"table"`
}

// Layer is one named feature set of a source.
type Layer struct {
	Common   `koanf:",squash"`
	Name     string    `koanf:"name"`
	Table    *string   `koanf:"table"`
	Minzoom  *int      `koanf:"minzoom"`
	Maxzoom  *int      `koanf:"maxzoom"`
	Variants []Variant `koanf:"variants"`
}

// Source is a named group of layers sharing defaults and a database
// connection target.
type Source struct {
	Common   `koanf:",squash"`
	Name     string  `koanf:"name"`
	Host     *string `koanf:"host"`
	Port     *int    `koanf:"port"`
	User     *string `koanf:"user"`
	Password *string `koanf:"password"`
	Database *string `koanf:"database"`
	Minzoom  *int    `koanf:"minzoom"`
	Maxzoom  *int    `koanf:"maxzoom"`
	Layers   []Layer `koanf:"layers"`
}

// ConnParams is the subset of a source used to open its database
// connection.
type ConnParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// ConnParams picks the connection fields from the source. Unset fields
// stay zero and fall back to driver defaults.
func (s *Source) ConnParams() ConnParams {
	var p ConnParams
	if s.Host != nil {
		p.Host = *s.Host
	}
	if s.Port != nil {
		p.Port = *s.Port
	}
	if s.User != nil {
		p.User = *s.User
	}
	if s.Password != nil {
		p.Password = *s.Password
	}
	if s.Database != nil {
		p.Database = *s.Database
	}
	return p
}

// Sources is the per-deployment layer configuration, loaded once at
// startup and immutable afterwards.
type Sources struct {
	Sources []Source `koanf:"sources"`
}

// Source returns the source with the given name, or nil.
func (s *Sources) Source(name string) *Source {
	for i := range s.Sources {
		if s.Sources[i].Name == name {
			return &s.Sources[i]
		}
	}
	return nil
}

// LoadSources reads a TOML or JSON sources document. The parser is
// chosen by file extension; anything that is not .json parses as TOML.
func LoadSources(path string) (*Sources, error) {
	k := koanf.New(".")

	var parser koanf.Parser
	if strings.EqualFold(filepath.Ext(path), ".json") {
		parser = koanfjson.Parser()
	} else {
		parser = koanftoml.Parser()
	}

	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("load sources %s: %w", path, err)
	}

	var cfg Sources
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal sources %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Sources) validate() error {
	seen := map[string]bool{}
	for _, src := range s.Sources {
		if src.Name == "" {
			return fmt.Errorf("source without a name")
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name: %s", src.Name)
		}
		seen[src.Name] = true
		for _, layer := range src.Layers {
			if layer.Name == "" {
				return fmt.Errorf("source %s: layer without a name", src.Name)
			}
		}
	}
	return nil
}
