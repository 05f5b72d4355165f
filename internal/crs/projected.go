package crs

import (
	"fmt"
	"strings"

	"github.com/paulmach/orb"
	"github.com/wroge/wgs84"
)

// geodetic is the datum part of a definition: its ellipsoid and the
// seven-parameter shift to WGS 84 (tx, ty, tz in metres, rx, ry, rz in arc
// seconds, ds in ppm).
type geodetic struct {
	name    string
	a, invF float64
	shift   [7]float64
}

func (g geodetic) shifted() bool { return g.shift != [7]float64{} }

// shifts for datums whose ESRI .prj files carry no TOWGS84 clause
var knownShifts = map[string][7]float64{
	"kalianpur_1975":   {295, 736, 257, 0, 0, 0, 0},
	"d_kalianpur_1975": {295, 736, 257, 0, 0, 0, 0},
	"kalianpur_1962":   {283, 682, 231, 0, 0, 0, 0},
	"d_kalianpur_1962": {283, 682, 231, 0, 0, 0, 0},
	"indian_1975":      {210, 814, 289, 0, 0, 0, 0},
	"d_indian_1975":    {210, 814, 289, 0, 0, 0, 0},
}

func geodeticFrom(root *node) (geodetic, error) {
	sph := root.find("SPHEROID")
	if sph == nil {
		sph = root.find("ELLIPSOID")
	}
	if sph == nil {
		return geodetic{}, fmt.Errorf("%w: definition has no ellipsoid", ErrProjection)
	}
	a, okA := sph.num(1)
	invF, okF := sph.num(2)
	if !okA || !okF || a <= 0 {
		return geodetic{}, fmt.Errorf("%w: malformed ellipsoid %v", ErrProjection, sph.Args)
	}
	g := geodetic{a: a, invF: invF}

	for _, kw := range []string{"DATUM", "GEODETICDATUM", "TRF"} {
		if d := root.find(kw); d != nil {
			g.name = normalizeName(d.str(0))
			break
		}
	}
	if tw := root.find("TOWGS84"); tw != nil {
		for i := range g.shift {
			v, ok := tw.num(i)
			if !ok {
				if i == 3 {
					// three-parameter form
					break
				}
				return geodetic{}, fmt.Errorf("%w: malformed TOWGS84 %v", ErrProjection, tw.Args)
			}
			g.shift[i] = v
		}
		return g, nil
	}
	// datums without a shift are taken as coincident with WGS 84
	g.shift = knownShifts[g.name]
	return g, nil
}

// lonLat converts coordinates already unprojected into the source datum's
// lon/lat on to WGS 84. unit converts input coordinates to metres; local is
// nil for geographic input.
func (g geodetic) lonLat(local func(a, b, c float64) (float64, float64, float64), unit float64) orb.Projection {
	var shift func(a, b, c float64) (float64, float64, float64)
	if g.shifted() {
		s := g.shift
		d := wgs84.Helmert(g.a, g.invF, s[0], s[1], s[2], s[3], s[4], s[5], s[6])
		shift = wgs84.Transform(d.LonLat(), wgs84.LonLat())
	}
	if local == nil && shift == nil {
		return nil
	}
	return func(p orb.Point) orb.Point {
		x, y, h := p[0], p[1], 0.0
		if local != nil {
			x, y, h = local(x*unit, y*unit, 0)
		}
		if shift != nil {
			x, y, _ = shift(x, y, h)
		}
		return orb.Point{x, y}
	}
}

type projParams map[string]float64

func projParamsFrom(root *node) projParams {
	params := projParams{}
	holders := []*node{root}
	if conv := root.child("CONVERSION"); conv != nil {
		holders = append(holders, conv)
	}
	for _, h := range holders {
		for _, p := range h.children("PARAMETER") {
			if v, ok := p.num(1); ok {
				params[paramKey(p.str(0))] = v
			}
		}
	}
	return params
}

func (p projParams) get(key string, def float64) float64 {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

func paramKey(name string) string {
	switch n := normalizeName(name); n {
	case "central_meridian", "longitude_of_natural_origin", "longitude_of_center",
		"longitude_of_origin", "longitude_of_false_origin":
		return "central_meridian"
	case "latitude_of_origin", "latitude_of_natural_origin", "latitude_of_center",
		"latitude_of_false_origin":
		return "latitude_of_origin"
	case "scale_factor", "scale_factor_at_natural_origin":
		return "scale_factor"
	case "false_easting", "easting_at_false_origin":
		return "false_easting"
	case "false_northing", "northing_at_false_origin":
		return "false_northing"
	case "standard_parallel_1", "latitude_of_1st_standard_parallel":
		return "standard_parallel_1"
	case "standard_parallel_2", "latitude_of_2nd_standard_parallel":
		return "standard_parallel_2"
	default:
		return n
	}
}

type projectionKind int

const (
	kindUnsupported projectionKind = iota
	kindWebMercator
	kindTransverseMercator
	kindLambert
	kindAlbers
)

func projectionKindOf(method, crsName string) projectionKind {
	m := strings.NewReplacer("(", "", ")", "").Replace(method)
	switch {
	case isWebMercator(m, crsName):
		return kindWebMercator
	case m == "transverse_mercator" || m == "gauss_kruger":
		return kindTransverseMercator
	case strings.HasPrefix(m, "lambert_conformal_conic") || strings.HasPrefix(m, "lambert_conic_conformal"):
		return kindLambert
	case strings.HasPrefix(m, "albers"):
		return kindAlbers
	}
	return kindUnsupported
}

// projectedInverse maps a projected system onto WGS 84 lon/lat through
// the source datum. False easting and northing are given in the projected
// linear unit and converted to metres.
func projectedInverse(kind projectionKind, root *node, unit float64) (orb.Projection, error) {
	g, err := geodeticFrom(root)
	if err != nil {
		return nil, err
	}
	p := projParamsFrom(root)
	// shift-free datum: the projection runs on the source ellipsoid and the
	// WGS 84 shift is applied afterwards
	d := wgs84.Helmert(g.a, g.invF, 0, 0, 0, 0, 0, 0, 0)
	lon0 := p.get("central_meridian", 0)
	lat0 := p.get("latitude_of_origin", 0)
	fe := p.get("false_easting", 0) * unit
	fn := p.get("false_northing", 0) * unit

	switch kind {
	case kindTransverseMercator:
		k0 := p.get("scale_factor", 1)
		if k0 == 0 {
			k0 = 1
		}
		return g.lonLat(wgs84.Transform(d.TransverseMercator(lon0, lat0, k0, fe, fn), d.LonLat()), unit), nil
	case kindLambert:
		sp1, ok := p["standard_parallel_1"]
		if !ok {
			// one standard parallel at the origin; a scaled 1SP variant has no
			// two-parallel equivalent
			if k := p.get("scale_factor", 1); k != 1 {
				return nil, fmt.Errorf("%w: lambert 1SP with scale factor %v", ErrProjection, k)
			}
			sp1 = lat0
		}
		sp2 := p.get("standard_parallel_2", sp1)
		return g.lonLat(wgs84.Transform(d.LambertConformalConic2SP(lon0, lat0, sp1, sp2, fe, fn), d.LonLat()), unit), nil
	case kindAlbers:
		sp1, ok := p["standard_parallel_1"]
		if !ok {
			return nil, fmt.Errorf("%w: albers without standard parallels", ErrProjection)
		}
		sp2 := p.get("standard_parallel_2", sp1)
		return g.lonLat(wgs84.Transform(d.AlbersEqualAreaConic(lon0, lat0, sp1, sp2, fe, fn), d.LonLat()), unit), nil
	}
	return nil, fmt.Errorf("%w: unsupported projection kind", ErrProjection)
}
