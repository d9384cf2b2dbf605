package tileserver

import "github.com/geoply/mvtserver/internal/config"

// variantMaxzoomDefault covers every zoom level in use on earth, so a
// variant only needs a sequence of minzooms.
const variantMaxzoomDefault = 32

// resolveLayer checks a layer and its variants against the requested
// zoom. Every matching variant is merged over the layer in list order,
// so the last matching variant wins regardless of its zoom values.
// Returns nil when the layer itself is out of zoom bounds.
func resolveLayer(layer config.Layer, zoom int) *config.Layer {
	if layer.Minzoom != nil && zoom < *layer.Minzoom {
		return nil
	}
	if layer.Maxzoom != nil && zoom >= *layer.Maxzoom {
		return nil
	}

	resolved := layer
	for _, variant := range layer.Variants {
		maxzoom := variantMaxzoomDefault
		if variant.Maxzoom != nil {
			maxzoom = *variant.Maxzoom
		}
		if zoom >= variant.Minzoom && zoom < maxzoom {
			resolved = mergeVariant(layer, variant)
		}
	}

	// no recursive variant definitions
	resolved.Variants = nil
	return &resolved
}

// mergeVariant lays the variant's set fields over the layer. Fields the
// variant leaves out keep the layer's values.
func mergeVariant(layer config.Layer, variant config.Variant) config.Layer {
	out := layer
	out.Common = layer.Common.Merge(variant.Common)
	minzoom := variant.Minzoom
	out.Minzoom = &minzoom
	if variant.Maxzoom != nil {
		out.Maxzoom = variant.Maxzoom
	}
	if variant.Table != nil {
		out.Table = variant.Table
	}
	return out
}
