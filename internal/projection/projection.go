// Package projection implements spherical Web-Mercator (EPSG:3857) tile
// math. All functions are pure; callers are expected to pass well-formed
// tile coordinates.
package projection

import "math"

// originShift is half the circumference of the spherical-Mercator earth
// (R = 6378137 m), i.e. the projected coordinate of the antimeridian.
const originShift = 2 * math.Pi * 6378137 / 2.0

// DefaultTileSize is the pixel edge length of one tile in the pyramid.
const DefaultTileSize = 256

// Tile addresses a square region of the Web-Mercator tile pyramid.
type Tile struct {
	Z int `json:"z"`
	X int `json:"x"`
	Y int `json:"y"`
}

// Wgs84 is a geographic coordinate in degrees.
type Wgs84 struct {
	Lng float64
	Lat float64
}

// Mercator is a projected coordinate in meters.
type Mercator struct {
	X float64
	Y float64
}

// WGS84BoundingBox is a tile extent in geographic coordinates.
type WGS84BoundingBox struct {
	LeftBottom Wgs84
	RightTop   Wgs84
}

// MercatorBoundingBox is a tile extent in projected coordinates.
type MercatorBoundingBox struct {
	LeftBottom Mercator
	RightTop   Mercator
}

// WGS84FromMercator converts a Pseudo-Mercator point to WGS84 degrees.
func WGS84FromMercator(pos Mercator) Wgs84 {
	lng := pos.X / originShift * 180.0
	lat := pos.Y / originShift * 180.0
	lat = 180 / math.Pi * (2*math.Atan(math.Exp(lat*math.Pi/180.0)) - math.Pi/2.0)
	return Wgs84{Lng: math.Mod(lng, 360), Lat: math.Mod(lat, 180)}
}

// MercatorFromPixels converts pixel coordinates (origin top-left) at the
// given zoom level to Pseudo-Mercator meters.
func MercatorFromPixels(pixelX, pixelY float64, zoom int, tileSize int) Mercator {
	res := 2 * math.Pi * 6378137 / float64(tileSize) / math.Exp2(float64(zoom))
	return Mercator{
		X: pixelX*res - originShift,
		Y: originShift - pixelY*res,
	}
}

// MercatorTileBounds returns the extent of a tile in Pseudo-Mercator
// coordinates. Tile row 0 is the top of the pyramid, so the bottom edge
// of a tile is row y+1.
func MercatorTileBounds(tile Tile, tileSize int) MercatorBoundingBox {
	ts := float64(tileSize)
	return MercatorBoundingBox{
		LeftBottom: MercatorFromPixels(float64(tile.X)*ts, float64(tile.Y+1)*ts, tile.Z, tileSize),
		RightTop:   MercatorFromPixels(float64(tile.X+1)*ts, float64(tile.Y)*ts, tile.Z, tileSize),
	}
}

// TileBounds returns the extent of a tile in WGS84 coordinates.
func TileBounds(tile Tile, tileSize int) WGS84BoundingBox {
	bounds := MercatorTileBounds(tile, tileSize)
	return WGS84BoundingBox{
		LeftBottom: WGS84FromMercator(bounds.LeftBottom),
		RightTop:   WGS84FromMercator(bounds.RightTop),
	}
}

// TileCenter returns the center of a tile in WGS84 coordinates.
func TileCenter(tile Tile, tileSize int) Wgs84 {
	bounds := TileBounds(tile, tileSize)
	return Wgs84{
		Lng: (bounds.RightTop.Lng + bounds.LeftBottom.Lng) / 2,
		Lat: (bounds.RightTop.Lat + bounds.LeftBottom.Lat) / 2,
	}
}

// TilePyramid enumerates the given tile and all of its descendants down
// to depth levels below it. Within each zoom level tiles are emitted in
// row-major order (y outer, x inner); levels are emitted top-down.
// Negative depths are clamped to 0.
func TilePyramid(tile Tile, depth int) []Tile {
	if depth < 0 {
		depth = 0
	}
	var list []Tile
	for dz := 0; dz <= depth; dz++ {
		scale := 1 << dz
		for y := tile.Y * scale; y < (tile.Y+1)*scale; y++ {
			for x := tile.X * scale; x < (tile.X+1)*scale; x++ {
				list = append(list, Tile{X: x, Y: y, Z: tile.Z + dz})
			}
		}
	}
	return list
}
