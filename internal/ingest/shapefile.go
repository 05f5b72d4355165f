package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// readShapefile parses the .shp at path and its .dbf attributes into a
// feature collection. Records with a null shape are skipped.
func readShapefile(path string) (fc *geojson.FeatureCollection, err error) {
	// go-shp indexes slices straight from file headers
	defer func() {
		if r := recover(); r != nil {
			fc, err = nil, fmt.Errorf("%w: corrupt shapefile: %v", ErrParse, r)
		}
	}()

	// the reader opens <stem>.shp and <stem>.dbf with lower-case extensions
	stem := strings.TrimSuffix(path, filepath.Ext(path))
	if path != stem+".shp" {
		if err := os.Rename(path, stem+".shp"); err != nil {
			return nil, fmt.Errorf("align shp name: %w", err)
		}
		path = stem + ".shp"
	}
	if dbf := companion(path, ".dbf"); dbf != "" && dbf != stem+".dbf" {
		if err := os.Rename(dbf, stem+".dbf"); err != nil {
			return nil, fmt.Errorf("align dbf name: %w", err)
		}
	}

	r, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	defer r.Close()

	fields := r.Fields()
	fc = geojson.NewFeatureCollection()
	for r.Next() {
		n, s := r.Shape()
		g, err := toGeometry(s)
		if err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrParse, n, err)
		}
		if g == nil {
			continue
		}
		f := geojson.NewFeature(g)
		for k, fld := range fields {
			f.Properties[fld.String()] = attrValue(fld, r.ReadAttribute(n, k))
		}
		fc.Append(f)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return fc, nil
}

func toGeometry(s shp.Shape) (orb.Geometry, error) {
	switch t := s.(type) {
	case *shp.Point:
		return orb.Point{t.X, t.Y}, nil
	case *shp.PointZ:
		return orb.Point{t.X, t.Y}, nil
	case *shp.PointM:
		return orb.Point{t.X, t.Y}, nil
	case *shp.MultiPoint:
		return multiPoint(t.Points), nil
	case *shp.MultiPointZ:
		return multiPoint(t.Points), nil
	case *shp.MultiPointM:
		return multiPoint(t.Points), nil
	case *shp.PolyLine:
		return lines(t.Parts, t.Points)
	case *shp.PolyLineZ:
		return lines(t.Parts, t.Points)
	case *shp.PolyLineM:
		return lines(t.Parts, t.Points)
	case *shp.Polygon:
		return polygons(t.Parts, t.Points)
	case *shp.PolygonZ:
		return polygons(t.Parts, t.Points)
	case *shp.PolygonM:
		return polygons(t.Parts, t.Points)
	case nil, *shp.Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported shape type %T", s)
	}
}

func multiPoint(pts []shp.Point) orb.Geometry {
	mp := make(orb.MultiPoint, len(pts))
	for i, p := range pts {
		mp[i] = orb.Point{p.X, p.Y}
	}
	return mp
}

func splitParts(parts []int32, pts []shp.Point) ([][]orb.Point, error) {
	out := make([][]orb.Point, 0, len(parts))
	for i := range parts {
		start := int(parts[i])
		end := len(pts)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if start < 0 || start > end || end > len(pts) {
			return nil, fmt.Errorf("part %d spans [%d,%d) of %d points", i, start, end, len(pts))
		}
		seg := make([]orb.Point, 0, end-start)
		for _, p := range pts[start:end] {
			seg = append(seg, orb.Point{p.X, p.Y})
		}
		out = append(out, seg)
	}
	return out, nil
}

func lines(parts []int32, pts []shp.Point) (orb.Geometry, error) {
	segs, err := splitParts(parts, pts)
	if err != nil {
		return nil, err
	}
	if len(segs) == 1 {
		return orb.LineString(segs[0]), nil
	}
	mls := make(orb.MultiLineString, len(segs))
	for i, s := range segs {
		mls[i] = orb.LineString(s)
	}
	return mls, nil
}

// polygons groups shapefile rings into polygons: clockwise rings are outer
// boundaries, counter-clockwise rings are holes of the outer ring containing
// them.
func polygons(parts []int32, pts []shp.Point) (orb.Geometry, error) {
	segs, err := splitParts(parts, pts)
	if err != nil {
		return nil, err
	}
	var mp orb.MultiPolygon
	var orphans []orb.Ring
	for _, s := range segs {
		ring := orb.Ring(s)
		if len(ring) == 0 {
			continue
		}
		if ring.Orientation() != orb.CCW {
			mp = append(mp, orb.Polygon{ring})
			continue
		}
		if !attachHole(mp, ring) {
			orphans = append(orphans, ring)
		}
	}
	for _, h := range orphans {
		if !attachHole(mp, h) {
			// a hole with no enclosing outer ring is an outer ring itself
			mp = append(mp, orb.Polygon{h})
		}
	}
	switch len(mp) {
	case 0:
		return nil, nil
	case 1:
		return mp[0], nil
	default:
		return mp, nil
	}
}

func attachHole(mp orb.MultiPolygon, hole orb.Ring) bool {
	for i := len(mp) - 1; i >= 0; i-- {
		if planar.RingContains(mp[i][0], hole[0]) {
			mp[i] = append(mp[i], hole)
			return true
		}
	}
	return false
}

func attrValue(f shp.Field, raw string) any {
	v := strings.TrimSpace(strings.Trim(raw, "\x00"))
	if v == "" {
		return nil
	}
	switch f.Fieldtype {
	case 'N', 'F':
		if f.Precision == 0 {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
		if x, err := strconv.ParseFloat(v, 64); err == nil {
			return x
		}
		return v
	case 'L':
		switch v {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		}
		return nil
	case 'D':
		if len(v) == 8 {
			return v[0:4] + "-" + v[4:6] + "-" + v[6:8]
		}
		return v
	default:
		return v
	}
}
