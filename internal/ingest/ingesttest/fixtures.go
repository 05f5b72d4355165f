// Package ingesttest builds shapefile archives for tests.
package ingesttest

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/klauspost/compress/zip"
)

const PrjWGS84 = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

const PrjUTM43N = `PROJCS["WGS_1984_UTM_Zone_43N",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],PARAMETER["False_Easting",500000.0],PARAMETER["False_Northing",0.0],PARAMETER["Central_Meridian",75.0],PARAMETER["Scale_Factor",0.9996],PARAMETER["Latitude_Of_Origin",0.0],UNIT["Meter",1.0]]`

// Square is a clockwise ring, the shapefile convention for an outer boundary.
func Square(x0, y0, x1, y1 float64) []shp.Point {
	return []shp.Point{{X: x0, Y: y0}, {X: x0, Y: y1}, {X: x1, Y: y1}, {X: x1, Y: y0}, {X: x0, Y: y0}}
}

func Reversed(r []shp.Point) []shp.Point {
	out := make([]shp.Point, len(r))
	for i := range r {
		out[i] = r[len(r)-1-i]
	}
	return out
}

func PolygonShape(rings ...[]shp.Point) *shp.Polygon {
	pg := shp.Polygon(*shp.NewPolyLine(rings))
	return &pg
}

type Record struct {
	Shape shp.Shape
	Name  string
	Pop   int
}

// WriteShapefile creates <dir>/<stem>.shp/.shx/.dbf (and .prj when prj != "")
// and returns the paths of the files written.
func WriteShapefile(t testing.TB, dir, stem string, typ shp.ShapeType, prj string, recs ...Record) []string {
	t.Helper()
	base := filepath.Join(dir, stem)
	w, err := shp.Create(base+".shp", typ)
	if err != nil {
		t.Fatalf("shp.Create: %v", err)
	}
	if err := w.SetFields([]shp.Field{shp.StringField("NAME", 25), shp.NumberField("POP", 10)}); err != nil {
		t.Fatalf("SetFields: %v", err)
	}
	for i, r := range recs {
		w.Write(r.Shape)
		if err := w.WriteAttribute(i, 0, r.Name); err != nil {
			t.Fatalf("WriteAttribute: %v", err)
		}
		if err := w.WriteAttribute(i, 1, r.Pop); err != nil {
			t.Fatalf("WriteAttribute: %v", err)
		}
	}
	w.Close()
	// go-shp names the table <base>dbf, without the dot
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		t.Fatalf("rename dbf: %v", err)
	}

	files := []string{base + ".shp", base + ".shx", base + ".dbf"}
	if prj != "" {
		if err := os.WriteFile(base+".prj", []byte(prj), 0o644); err != nil {
			t.Fatalf("write prj: %v", err)
		}
		files = append(files, base+".prj")
	}
	return files
}

// ZipFiles stores each file under prefix+basename in a new archive at out.
func ZipFiles(t testing.TB, out, prefix string, files ...string) string {
	t.Helper()
	f, err := os.Create(out)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for _, p := range files {
		w, err := zw.Create(prefix + filepath.Base(p))
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		src, err := os.Open(p)
		if err != nil {
			t.Fatalf("open %s: %v", p, err)
		}
		if _, err := io.Copy(w, src); err != nil {
			t.Fatalf("zip copy: %v", err)
		}
		_ = src.Close()
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return out
}

// ZipEntries writes literal name/content pairs into a new archive at out.
func ZipEntries(t testing.TB, out string, entries map[string]string) string {
	t.Helper()
	f, err := os.Create(out)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, body := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := io.WriteString(w, body); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return out
}

// ValidArchive builds a zip holding one WGS 84 polygon layer covering
// [x0,x1]x[y0,y1].
func ValidArchive(t testing.TB, dir, filename string, x0, y0, x1, y1 float64) string {
	t.Helper()
	src := t.TempDir()
	files := WriteShapefile(t, src, "data", shp.POLYGON, PrjWGS84,
		Record{Shape: PolygonShape(Square(x0, y0, x1, y1)), Name: "one", Pop: 42})
	return ZipFiles(t, filepath.Join(dir, filename), "", files...)
}
