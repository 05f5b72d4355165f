package h3mapper

import (
	"errors"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/himgis/webgis/internal/mapper"
)

type Mapper struct{}

func New() *Mapper { return &Mapper{} }

var _ mapper.Interface = (*Mapper)(nil)

// CenterCell returns the cell at res containing the center of b.
func (m *Mapper) CenterCell(b orb.Bound, res int) (string, error) {
	if err := validateRes(res); err != nil {
		return "", err
	}
	c := b.Center()
	cell, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat(), Lng: c.Lon()}, res)
	if err != nil {
		return "", fmt.Errorf("h3 cell: %w", err)
	}
	return cell.String(), nil
}

// CellsForBound polyfills the rectangle b at res.
func (m *Mapper) CellsForBound(b orb.Bound, res int) ([]string, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	// rectangular loop, v4 wants degrees
	outer := h3.GeoLoop{
		{Lat: b.Min.Lat(), Lng: b.Min.Lon()},
		{Lat: b.Min.Lat(), Lng: b.Max.Lon()},
		{Lat: b.Max.Lat(), Lng: b.Max.Lon()},
		{Lat: b.Max.Lat(), Lng: b.Min.Lon()},
	}
	return polyfillOne(outer, nil, res)
}

// CoverBound finds the finest resolution up to maxRes whose cover of b has
// at most maxCells cells. Extents too small to contain any cell centroid
// are covered by their center cell.
func (m *Mapper) CoverBound(b orb.Bound, maxRes, maxCells int) (mapper.Cover, error) {
	if err := validateRes(maxRes); err != nil {
		return mapper.Cover{}, err
	}
	if maxCells < 1 {
		return mapper.Cover{}, errors.New("maxCells must be positive")
	}

	best := mapper.Cover{Res: -1}
	if b.Min != b.Max {
		for res := 0; res <= maxRes; res++ {
			cells, err := m.CellsForBound(b, res)
			if err != nil {
				return mapper.Cover{}, err
			}
			if len(cells) > maxCells {
				break
			}
			if len(cells) > 0 {
				best = mapper.Cover{Res: res, Cells: cells}
			}
		}
	}
	if best.Res >= 0 {
		return best, nil
	}

	center, err := m.CenterCell(b, maxRes)
	if err != nil {
		return mapper.Cover{}, err
	}
	return mapper.Cover{Res: maxRes, Cells: []string{center}}, nil
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

// polyfillOne computes unique cells and returns them sorted for determinism.
func polyfillOne(outer h3.GeoLoop, holes []h3.GeoLoop, res int) ([]string, error) {
	if len(outer) < 3 {
		return nil, errors.New("outer ring has < 3 vertices")
	}
	poly := h3.GeoPolygon{
		GeoLoop: outer,
		Holes:   holes,
	}

	// v4 returns ([]h3.Cell, error)
	indexes, err := h3.PolygonToCells(poly, res)
	if err != nil {
		return nil, fmt.Errorf("h3 polyfill: %w", err)
	}

	out := make([]string, 0, len(indexes))
	seen := make(map[string]struct{}, len(indexes))
	for _, idx := range indexes {
		s := idx.String()
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}
