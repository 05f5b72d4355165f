// Package bounds computes the framing rectangle over a set of layers.
package bounds

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/himgis/webgis/internal/layer"
)

// Rect is [[minLat, minLon], [maxLat, maxLon]], the shape web map clients
// take for fitBounds.
type Rect [2][2]float64

func FromBound(b orb.Bound) Rect {
	return Rect{{b.Min.Lat(), b.Min.Lon()}, {b.Max.Lat(), b.Max.Lon()}}
}

// Of returns the bound of every geometry in l. ok is false when the layer
// has no usable geometry.
func Of(l *layer.Layer) (b orb.Bound, ok bool) {
	if l == nil || l.Features == nil {
		return orb.Bound{}, false
	}
	for _, f := range l.Features.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		fb := f.Geometry.Bound()
		if fb.IsEmpty() {
			continue
		}
		if !finite(fb) {
			return orb.Bound{}, false
		}
		if !ok {
			b, ok = fb, true
			continue
		}
		b = b.Union(fb)
	}
	return b, ok
}

// Aggregate unions the bounds of layers. Layers without usable geometry are
// skipped; nil means no layer produced bounds.
func Aggregate(layers []*layer.Layer) *Rect {
	var (
		all   orb.Bound
		found bool
	)
	for _, l := range layers {
		b, ok := Of(l)
		if !ok {
			continue
		}
		if !found {
			all, found = b, true
			continue
		}
		all = all.Union(b)
	}
	if !found {
		return nil
	}
	r := FromBound(all)
	return &r
}

func finite(b orb.Bound) bool {
	for _, v := range [...]float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
