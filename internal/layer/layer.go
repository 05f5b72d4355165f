// Package layer defines the Layer record shared by the ingestor, the registry
// and the HTTP surface.
package layer

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/paulmach/orb/geojson"
)

const DefaultOpacity = 0.7

// Layer is one named geometry collection in lon/lat. A Layer is never
// mutated after it has been handed to the registry.
type Layer struct {
	Name       string
	Features   *geojson.FeatureCollection
	Color      string
	Opacity    float64
	Source     string
	CRS        string
	IngestedAt time.Time

	// set by the registry on Put
	Version uint64
}

// RandomColor returns a "#rrggbb" color.
func RandomColor() string {
	return fmt.Sprintf("#%06x", rand.IntN(0x1000000))
}

// WithSource returns a copy of l pointing at a different archive.
func (l *Layer) WithSource(path string) *Layer {
	cp := *l
	cp.Source = path
	return &cp
}

func (l *Layer) FeatureCount() int {
	if l == nil || l.Features == nil {
		return 0
	}
	return len(l.Features.Features)
}
