// Package geogrid computes the geometric grid of check points around a
// business location. All functions are pure: identical inputs always
// produce identical point lists.
package geogrid

import (
	"fmt"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/rank-tracker/internal/model"
)

// earthRadiusMiles is the mean Earth radius used by the great-circle
// destination formula.
const earthRadiusMiles = 3958.8

// coordPrecision is the number of decimal places coordinates are rounded
// to, keeping recomputed grids byte-stable.
const coordPrecision = 6

// SupportedGridSizes lists the allowed point counts.
var SupportedGridSizes = []int{5, 9, 25, 49}

// crossBearings maps the cross-layout labels to their compass bearings.
var crossBearings = []struct {
	label   string
	bearing float64
}{
	{"north", 0},
	{"east", 90},
	{"south", 180},
	{"west", 270},
}

// Points returns the deterministic ordered list of check points for the
// given center, radius, and grid size. Size 5 is a cross layout (center
// plus the four cardinal points at full radius); 9/25/49 are N-by-N
// square layouts spanning the radius on each axis with the center cell on
// the origin. A radius of zero collapses every point onto the center.
func Points(centerLat, centerLng, radiusMiles float64, gridSize int) ([]model.GridPoint, error) {
	if err := Validate(centerLat, centerLng, radiusMiles, gridSize); err != nil {
		return nil, err
	}

	if gridSize == 5 {
		return crossPoints(centerLat, centerLng, radiusMiles), nil
	}
	return squarePoints(centerLat, centerLng, radiusMiles, gridSize), nil
}

// Validate fails fast on configuration errors: out-of-range coordinates,
// negative radius, or an unsupported grid size.
func Validate(centerLat, centerLng, radiusMiles float64, gridSize int) error {
	if centerLat < -90 || centerLat > 90 {
		return eris.Errorf("geogrid: latitude %v out of range [-90, 90]", centerLat)
	}
	if centerLng < -180 || centerLng > 180 {
		return eris.Errorf("geogrid: longitude %v out of range [-180, 180]", centerLng)
	}
	if radiusMiles < 0 {
		return eris.Errorf("geogrid: negative radius %v", radiusMiles)
	}
	for _, s := range SupportedGridSizes {
		if gridSize == s {
			return nil
		}
	}
	return eris.Errorf("geogrid: unsupported grid size %d (want one of %v)", gridSize, SupportedGridSizes)
}

func crossPoints(lat, lng, radius float64) []model.GridPoint {
	points := make([]model.GridPoint, 0, 5)
	points = append(points, model.GridPoint{
		Lat:   round(lat),
		Lng:   round(lng),
		Label: "center",
	})
	for _, c := range crossBearings {
		pLat, pLng := destination(lat, lng, c.bearing, radius)
		points = append(points, model.GridPoint{Lat: pLat, Lng: pLng, Label: c.label})
	}
	return points
}

func squarePoints(lat, lng, radius float64, size int) []model.GridPoint {
	n := int(math.Sqrt(float64(size)))
	half := (n - 1) / 2
	step := 0.0
	if half > 0 {
		step = radius / float64(half)
	}

	points := make([]model.GridPoint, 0, size)
	for row := 0; row < n; row++ {
		// Row 0 is the northernmost row.
		dy := float64(half-row) * step
		for col := 0; col < n; col++ {
			dx := float64(col-half) * step

			dist := math.Hypot(dx, dy)
			var pLat, pLng float64
			if dist == 0 {
				pLat, pLng = round(lat), round(lng)
			} else {
				bearing := math.Mod(rad2deg(math.Atan2(dx, dy))+360, 360)
				pLat, pLng = destination(lat, lng, bearing, dist)
			}

			points = append(points, model.GridPoint{
				Lat:   pLat,
				Lng:   pLng,
				Label: fmt.Sprintf("r%dc%d", row, col),
			})
		}
	}
	return points
}

// destination applies the great-circle destination-point formula: the
// point at the given initial bearing (degrees) and distance (miles) from
// (lat, lng). Coordinates are rounded to coordPrecision.
func destination(lat, lng, bearingDeg, distMiles float64) (float64, float64) {
	if distMiles == 0 {
		return round(lat), round(lng)
	}

	lat1 := deg2rad(lat)
	lng1 := deg2rad(lng)
	brng := deg2rad(bearingDeg)
	ad := distMiles / earthRadiusMiles // angular distance

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(ad) + math.Cos(lat1)*math.Sin(ad)*math.Cos(brng))
	lng2 := lng1 + math.Atan2(
		math.Sin(brng)*math.Sin(ad)*math.Cos(lat1),
		math.Cos(ad)-math.Sin(lat1)*math.Sin(lat2),
	)

	// Normalize longitude to [-180, 180).
	lng2deg := math.Mod(rad2deg(lng2)+540, 360) - 180

	return round(rad2deg(lat2)), round(lng2deg)
}

// Distance returns the great-circle (haversine) distance in miles between
// two coordinates.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	rLat1 := deg2rad(lat1)
	rLat2 := deg2rad(lat2)
	dLat := deg2rad(lat2 - lat1)
	dLng := deg2rad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(a)))
}

// Geometry converts a point list to a go-geom MultiPoint (SRID 4326,
// x=lng y=lat) for GeoJSON serving.
func Geometry(points []model.GridPoint) *geom.MultiPoint {
	flat := make([]float64, 0, len(points)*2)
	for _, p := range points {
		flat = append(flat, p.Lng, p.Lat)
	}
	return geom.NewMultiPointFlat(geom.XY, flat).SetSRID(4326)
}

func deg2rad(d float64) float64 { return d * math.Pi / 180 }
func rad2deg(r float64) float64 { return r * 180 / math.Pi }

func round(v float64) float64 {
	scale := math.Pow10(coordPrecision)
	return math.Round(v*scale) / scale
}
