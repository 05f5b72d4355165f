// Package mapper converts layer extents into H3 cells.
package mapper

import (
	"github.com/paulmach/orb"
)

// Cover is the set of cells covering an extent at Res.
type Cover struct {
	Res   int      `json:"res"`
	Cells []string `json:"cells"`
}

type Interface interface {
	CenterCell(b orb.Bound, res int) (string, error)
	CoverBound(b orb.Bound, maxRes, maxCells int) (Cover, error)
}
