package tileserver

import (
	"regexp"
	"strconv"

	"github.com/geoply/mvtserver/internal/projection"
)

// maxPathLen bounds the input handed to the extraction regexes.
const maxPathLen = 1024

var (
	tilePattern   = regexp.MustCompile(`(\d+)/(\d+)/(\d+)\.mvt\b`)
	sourcePattern = regexp.MustCompile(`(\w+)/\d+/\d+/\d+\.mvt\b`)
)

// ExtractTile pulls the zxy tile address out of a request path. The
// path may carry an arbitrary prefix; the rightmost run of
// `<z>/<x>/<y>.mvt` wins.
func ExtractTile(path string) (projection.Tile, bool) {
	if len(path) > maxPathLen {
		return projection.Tile{}, false
	}
	matches := tilePattern.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		return projection.Tile{}, false
	}
	m := matches[len(matches)-1]
	// digit runs long enough to overflow int are not tile numbers
	z, errZ := strconv.Atoi(m[1])
	x, errX := strconv.Atoi(m[2])
	y, errY := strconv.Atoi(m[3])
	if errZ != nil || errX != nil || errY != nil {
		return projection.Tile{}, false
	}
	return projection.Tile{Z: z, X: x, Y: y}, true
}

// ExtractSource pulls the source name out of a request path: the last
// word-token immediately preceding a `<z>/<x>/<y>.mvt` tile segment.
func ExtractSource(path string) (string, bool) {
	if len(path) > maxPathLen {
		return "", false
	}
	matches := sourcePattern.FindAllStringSubmatch(path, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}
