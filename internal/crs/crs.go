// Package crs detects the coordinate reference system of a shapefile from its
// .prj definition and reprojects geometry into WGS 84 longitude/latitude.
// Projection and datum math is done by github.com/wroge/wgs84; this package
// maps WKT keywords and parameters onto it.
package crs

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/project"
)

var ErrProjection = errors.New("projection error")

// CRS describes how to bring coordinates into lon/lat. The zero value has no
// known reference system and cannot be normalized.
type CRS struct {
	Name    string
	known   bool
	toWGS84 orb.Projection // nil for WGS 84 lon/lat
}

// WGS84 is the canonical geographic system.
func WGS84() CRS {
	return CRS{Name: "WGS 84", known: true}
}

func (c CRS) Known() bool { return c.known }

// Geographic reports whether coordinates are already WGS 84 lon/lat.
func (c CRS) Geographic() bool { return c.known && c.toWGS84 == nil }

func (c CRS) String() string {
	if !c.known {
		return "unknown"
	}
	return c.Name
}

// FromWKT interprets a WKT1 (ESRI or OGC flavored) or WKT2 CRS definition.
func FromWKT(wkt string) (CRS, error) {
	root, err := parseWKT(wkt)
	if err != nil {
		return CRS{}, fmt.Errorf("%w: parse wkt: %v", ErrProjection, err)
	}
	name := root.str(0)

	switch root.Name {
	case "GEOGCS", "GEOGCRS", "GEODCRS", "GEOGRAPHICCRS":
		g, err := geodeticFrom(root)
		if err != nil {
			// lon/lat without a usable datum is read as WGS 84
			return CRS{Name: name, known: true}, nil
		}
		return CRS{Name: name, known: true, toWGS84: g.lonLat(nil, 1)}, nil
	case "PROJCS", "PROJCRS", "PROJECTEDCRS":
	default:
		return CRS{}, fmt.Errorf("%w: unsupported crs kind %s", ErrProjection, root.Name)
	}

	method := root.child("PROJECTION")
	if method == nil {
		if conv := root.child("CONVERSION"); conv != nil {
			method = conv.child("METHOD")
		}
	}
	if method == nil {
		return CRS{}, fmt.Errorf("%w: %q has no projection method", ErrProjection, name)
	}
	unit := linearUnit(root)

	switch kind := projectionKindOf(normalizeName(method.str(0)), normalizeName(name)); kind {
	case kindWebMercator:
		return CRS{Name: name, known: true, toWGS84: scaled(unit, project.Mercator.ToWGS84)}, nil
	case kindUnsupported:
		return CRS{}, fmt.Errorf("%w: unsupported projection %q", ErrProjection, method.str(0))
	default:
		inv, err := projectedInverse(kind, root, unit)
		if err != nil {
			return CRS{}, err
		}
		return CRS{Name: name, known: true, toWGS84: inv}, nil
	}
}

// Normalize reprojects every feature geometry of fc in place. Normalizing a
// collection that is already geographic only validates it.
func Normalize(fc *geojson.FeatureCollection, src CRS) error {
	if !src.Known() {
		return fmt.Errorf("%w: source has no coordinate reference system", ErrProjection)
	}
	if fc == nil {
		return nil
	}
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		if src.toWGS84 != nil {
			f.Geometry = project.Geometry(f.Geometry, src.toWGS84)
		}
		if err := checkLonLat(f.Geometry); err != nil {
			return fmt.Errorf("%w: feature %d: %v", ErrProjection, i, err)
		}
	}
	return nil
}

func checkLonLat(g orb.Geometry) error {
	if isEmpty(g) {
		return nil
	}
	b := g.Bound()
	for _, v := range []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("transform produced non-finite coordinates")
		}
	}
	const eps = 1e-9
	if b.Min[0] < -180-eps || b.Max[0] > 180+eps || b.Min[1] < -90-eps || b.Max[1] > 90+eps {
		return fmt.Errorf("coordinates outside lon/lat range: %v", b)
	}
	return nil
}

func isEmpty(g orb.Geometry) bool {
	switch t := g.(type) {
	case orb.MultiPoint:
		return len(t) == 0
	case orb.LineString:
		return len(t) == 0
	case orb.MultiLineString:
		return len(t) == 0
	case orb.Ring:
		return len(t) == 0
	case orb.Polygon:
		return len(t) == 0
	case orb.MultiPolygon:
		return len(t) == 0
	case orb.Collection:
		return len(t) == 0
	}
	return false
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(s)
}

func isWebMercator(method, crsName string) bool {
	switch method {
	case "mercator_auxiliary_sphere", "popular_visualisation_pseudo_mercator", "pseudo_mercator":
		return true
	}
	return strings.Contains(crsName, "pseudo_mercator") || strings.Contains(crsName, "web_mercator")
}

// metres per linear unit declared by the projected system
func linearUnit(root *node) float64 {
	for _, u := range root.children("UNIT") {
		if f, ok := u.num(1); ok && f > 0 {
			return f
		}
	}
	if root.child("CS") != nil {
		// WKT2 puts the unit on each axis
		for _, ax := range root.children("AXIS") {
			if u := ax.child("LENGTHUNIT"); u != nil {
				if f, ok := u.num(1); ok && f > 0 {
					return f
				}
			}
		}
	}
	if u := root.child("LENGTHUNIT"); u != nil {
		if f, ok := u.num(1); ok && f > 0 {
			return f
		}
	}
	return 1
}

func scaled(unit float64, p orb.Projection) orb.Projection {
	if unit == 1 {
		return p
	}
	return func(pt orb.Point) orb.Point {
		return p(orb.Point{pt[0] * unit, pt[1] * unit})
	}
}
