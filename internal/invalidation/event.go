// Package invalidation defines the cache invalidation events emitted
// when source data changes.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/geoply/mvtserver/internal/projection"
)

const (
	OpTiles  = "tiles"
	OpSource = "source"
)

// maxPyramidDepth bounds how far below the named tiles a purge may
// descend. Depth 8 already covers 87k descendants per tile.
const maxPyramidDepth = 8

// Event asks the cache to drop tiles after an upstream data change.
// Op "tiles" purges the named tiles plus their descendants down to
// Depth extra zoom levels; op "source" purges every tile of a source.
type Event struct {
	Version int               `json:"version"`
	Op      string            `json:"op"`
	Source  string            `json:"source"`
	TS      time.Time         `json:"ts"`
	Tiles   []projection.Tile `json:"tiles,omitempty"`
	Depth   int               `json:"depth,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	if strings.TrimSpace(e.Source) == "" {
		return fmt.Errorf("source is required")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	switch e.Op {
	case OpTiles:
		if len(e.Tiles) == 0 {
			return fmt.Errorf("op %q requires at least one tile", OpTiles)
		}
		if e.Depth < 0 || e.Depth > maxPyramidDepth {
			return fmt.Errorf("depth must be in [0,%d]", maxPyramidDepth)
		}
		for _, t := range e.Tiles {
			if t.Z < 0 || t.X < 0 || t.Y < 0 {
				return fmt.Errorf("tile %d/%d/%d is invalid", t.Z, t.X, t.Y)
			}
			max := 1 << t.Z
			if t.X >= max || t.Y >= max {
				return fmt.Errorf("tile %d/%d/%d is outside the zoom %d grid", t.Z, t.X, t.Y, t.Z)
			}
		}
	case OpSource:
		if len(e.Tiles) > 0 {
			return fmt.Errorf("op %q must not carry tiles", OpSource)
		}
	default:
		return fmt.Errorf("op must be %s|%s", OpTiles, OpSource)
	}
	return nil
}
