package tileserver

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/geoply/mvtserver/internal/config"
	"github.com/geoply/mvtserver/internal/projection"
)

// Hard defaults, applied when neither the resolved layer nor the source
// sets a value.
const (
	defaultExtend = 4096
	defaultGeom   = "geometry"
	defaultSRID   = 3857
	defaultBuffer = 64
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// collapseWhitespace folds whitespace runs into single spaces. Purely
// cosmetic for logging and comparison; the SQL engine does not care.
func collapseWhitespace(s string) string {
	return whitespaceRun.ReplaceAllString(s, " ")
}

// formatCoord renders a coordinate in the shortest fixed-notation form
// that round-trips.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// bboxExpression projects the WGS84 tile bounds into the target SRID.
func bboxExpression(bbox projection.WGS84BoundingBox, srid int) string {
	return fmt.Sprintf("ST_Transform(ST_MakeEnvelope(%s, %s, %s, %s, 4326), %d)",
		formatCoord(bbox.LeftBottom.Lng), formatCoord(bbox.LeftBottom.Lat),
		formatCoord(bbox.RightTop.Lng), formatCoord(bbox.RightTop.Lat), srid)
}

func pickInt(layer, source *int, def int) int {
	if layer != nil {
		return *layer
	}
	if source != nil {
		return *source
	}
	return def
}

func pickString(layer, source *string, def string) string {
	if layer != nil {
		return *layer
	}
	if source != nil {
		return *source
	}
	return def
}

func pickBool(layer, source *bool, def bool) bool {
	if layer != nil {
		return *layer
	}
	if source != nil {
		return *source
	}
	return def
}

// BuildLayerQuery assembles the SQL fragment for one layer of a source.
// Source-level values fill in whatever the resolved layer leaves unset.
// Returns "" when the layer does not apply at this zoom.
func (t *Tileserver) BuildLayerQuery(source *config.Source, layer config.Layer, bbox projection.WGS84BoundingBox, zoom int) string {
	resolved := resolveLayer(layer, zoom)
	if resolved == nil {
		return ""
	}

	extend := pickInt(resolved.Extend, source.Extend, defaultExtend)
	rawSQL := pickString(resolved.SQL, source.SQL, "")
	geom := pickString(resolved.Geom, source.Geom, defaultGeom)
	srid := pickInt(resolved.SRID, source.SRID, defaultSRID)
	buffer := pickInt(resolved.Buffer, source.Buffer, defaultBuffer)
	clipGeom := pickBool(resolved.ClipGeom, source.ClipGeom, true)
	prefix := pickString(resolved.Prefix, source.Prefix, "")
	postfix := pickString(resolved.Postfix, source.Postfix, "")
	namespace := pickString(resolved.Namespace, source.Namespace, "")

	bboxSQL := bboxExpression(bbox, srid)

	if rawSQL != "" {
		query := fmt.Sprintf("(SELECT ST_AsMVT(q, '%s', %d, 'geom') AS l FROM (%s) AS q)",
			resolved.Name, extend, rawSQL)
		query = strings.ReplaceAll(query, "!ZOOM!", strconv.Itoa(zoom))
		query = strings.ReplaceAll(query, "!BBOX!", bboxSQL)
		return collapseWhitespace(query)
	}

	keys := ""
	if len(source.Keys) > 0 {
		keys += ", " + strings.Join(source.Keys, ", ")
	}
	if len(resolved.Keys) > 0 {
		keys += ", " + strings.Join(resolved.Keys, ", ")
	}

	where := ""
	if len(source.Where) > 0 {
		where += fmt.Sprintf(" AND (%s)", strings.Join(source.Where, ") AND ("))
	}
	if len(resolved.Where) > 0 {
		where += fmt.Sprintf(" AND (%s)", strings.Join(resolved.Where, ") AND ("))
	}

	table := ""
	if resolved.Table != nil {
		table = *resolved.Table
	}
	if namespace != "" {
		table = namespace + "." + table
	}

	query := fmt.Sprintf(`(SELECT ST_AsMVT(q, '%s', %d, 'geom') AS l FROM
        (SELECT %sST_AsMvtGeom(
            %s,
            %s,
            %d,
            %d,
            %t
            ) AS geom%s
        FROM %s WHERE (%s && %s)%s%s) AS q)`,
		resolved.Name, extend, prefix, geom, bboxSQL, extend, buffer, clipGeom,
		keys, table, geom, bboxSQL, where, postfix)
	query = strings.ReplaceAll(query, "!ZOOM!", strconv.Itoa(zoom))
	return collapseWhitespace(query)
}

// BuildQuery resolves and merges the queries of every layer of the named
// source into one statement. Returns "" when no layer applies at this
// zoom, which is not an error but an empty tile.
func (t *Tileserver) BuildQuery(source string, bbox projection.WGS84BoundingBox, zoom int) string {
	var layerQueries []string
	seen := map[string]bool{}

	for i := range t.cfg.Sources {
		sourceItem := &t.cfg.Sources[i]
		if sourceItem.Name != source {
			continue
		}
		for _, layer := range sourceItem.Layers {
			// A vector tile must not contain two layers of the same
			// name (MVT spec 2.1, section 4.1). Subsequent duplicates
			// are dropped and logged.
			if seen[layer.Name] {
				t.log.Error("duplicate layer name", "source", source, "layer", layer.Name)
				continue
			}
			seen[layer.Name] = true
			if q := t.BuildLayerQuery(sourceItem, layer, bbox, zoom); q != "" {
				layerQueries = append(layerQueries, q)
			}
		}
	}

	if len(layerQueries) == 0 {
		return ""
	}
	// merge the per-layer MVT blobs with the postgres string
	// concatenation operator
	return collapseWhitespace(fmt.Sprintf("SELECT ( %s ) AS mvt", strings.Join(layerQueries, " || ")))
}
