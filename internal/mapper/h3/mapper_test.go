package h3mapper

import (
	"reflect"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"
)

var ahmedabad = orb.Bound{Min: orb.Point{72.45, 22.95}, Max: orb.Point{72.70, 23.10}}

func TestBound_HappyPath_SortedUnique(t *testing.T) {
	m := New()
	cells, err := m.CellsForBound(ahmedabad, 8)
	if err != nil {
		t.Fatalf("CellsForBound err: %v", err)
	}
	if len(cells) == 0 {
		t.Fatalf("expected non-empty cells for bound")
	}
	if !sort.StringsAreSorted(cells) {
		t.Fatalf("cells must be sorted")
	}
	if hasDups(cells) {
		t.Fatalf("cells must be de-duplicated")
	}
	again, err := m.CellsForBound(ahmedabad, 8)
	if err != nil || !reflect.DeepEqual(cells, again) {
		t.Fatalf("expected identical output for identical input")
	}
}

func TestCenterCell(t *testing.T) {
	m := New()
	got, err := m.CenterCell(ahmedabad, 5)
	if err != nil {
		t.Fatalf("CenterCell: %v", err)
	}
	c := ahmedabad.Center()
	want, err := h3.LatLngToCell(h3.LatLng{Lat: c.Lat(), Lng: c.Lon()}, 5)
	if err != nil {
		t.Fatalf("LatLngToCell: %v", err)
	}
	if got != want.String() {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestCoverBound_RespectsCap(t *testing.T) {
	m := New()
	cov, err := m.CoverBound(ahmedabad, 9, 50)
	if err != nil {
		t.Fatalf("CoverBound: %v", err)
	}
	if len(cov.Cells) == 0 || len(cov.Cells) > 50 {
		t.Fatalf("cells=%d want 1..50", len(cov.Cells))
	}
	if cov.Res < 0 || cov.Res > 9 {
		t.Fatalf("res=%d", cov.Res)
	}
	if cov.Res < 9 {
		finer, err := m.CellsForBound(ahmedabad, cov.Res+1)
		if err != nil {
			t.Fatalf("CellsForBound: %v", err)
		}
		if len(finer) <= 50 {
			t.Fatalf("res %d has %d cells, cover should have used it", cov.Res+1, len(finer))
		}
	}
}

func TestCoverBound_PointFallsBackToCenter(t *testing.T) {
	m := New()
	p := orb.Point{72.57, 23.02}
	cov, err := m.CoverBound(p.Bound(), 7, 10)
	if err != nil {
		t.Fatalf("CoverBound: %v", err)
	}
	center, _ := m.CenterCell(p.Bound(), 7)
	if cov.Res != 7 || len(cov.Cells) != 1 || cov.Cells[0] != center {
		t.Fatalf("cover=%+v want center %s", cov, center)
	}
}

func TestInvalidResolution(t *testing.T) {
	m := New()
	if _, err := m.CellsForBound(ahmedabad, -1); err == nil {
		t.Fatalf("expected error for res=-1")
	}
	if _, err := m.CenterCell(ahmedabad, 16); err == nil {
		t.Fatalf("expected error for res=16")
	}
	if _, err := m.CoverBound(ahmedabad, 5, 0); err == nil {
		t.Fatalf("expected error for maxCells=0")
	}
}

func hasDups(xs []string) bool {
	seen := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			return true
		}
		seen[x] = struct{}{}
	}
	return false
}
