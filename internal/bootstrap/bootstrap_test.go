package bootstrap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"github.com/himgis/webgis/internal/core/config"
	"github.com/himgis/webgis/internal/core/httpclient"
	"github.com/himgis/webgis/internal/ingest"
	"github.com/himgis/webgis/internal/ingest/ingesttest"
	"github.com/himgis/webgis/internal/layer"
	"github.com/himgis/webgis/internal/order"
	"github.com/himgis/webgis/internal/registry"
)

type env struct {
	dir    string
	reg    *registry.Registry
	orders *order.Store
	hits   *atomic.Int32
	srv    *httptest.Server
}

// newEnv serves a valid archive at /Taluka.zip and 404 for everything else.
func newEnv(t *testing.T) *env {
	t.Helper()
	archive, err := os.ReadFile(ingesttest.ValidArchive(t, t.TempDir(), "Taluka.zip", 72, 21, 74, 23))
	if err != nil {
		t.Fatal(err)
	}
	hits := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/Taluka.zip" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	root := t.TempDir()
	fb, err := order.NewFileBackend(filepath.Join(root, "layer_order.json"))
	if err != nil {
		t.Fatal(err)
	}
	return &env{
		dir:    filepath.Join(root, "uploads"),
		reg:    registry.New(),
		orders: order.NewStore(fb, []string{"P_Location", "Taluka"}, nil),
		hits:   hits,
		srv:    srv,
	}
}

func (e *env) loader(t *testing.T, reingest bool) *Loader {
	return New(Options{
		Client: httpclient.NewOutbound(),
		Dir:    e.dir,
		Sources: []config.BootstrapSource{
			{Name: "Taluka", URL: e.srv.URL + "/Taluka.zip"},
			{Name: "P_Location", URL: e.srv.URL + "/P_Location.zip"},
		},
		Timeout:       5 * time.Second,
		ReingestLocal: reingest,
		Workers:       2,
		Ingestor:      ingest.New(ingest.Options{ScratchDir: t.TempDir()}),
		Registry:      e.reg,
		Orders:        e.orders,
	})
}

func TestRun_DownloadsMissingAndSkipsFailures(t *testing.T) {
	e := newEnv(t)
	l := e.loader(t, false)
	if l.Ready() {
		t.Fatalf("ready before Run")
	}

	rep := l.Run(context.Background())

	if !slices.Equal(rep.Downloaded, []string{"Taluka"}) || !slices.Equal(rep.FetchFailed, []string{"P_Location"}) {
		t.Fatalf("report=%+v", rep)
	}
	if !slices.Equal(rep.Loaded, []string{"Taluka"}) || !slices.Equal(e.reg.Names(), []string{"Taluka"}) {
		t.Fatalf("loaded=%v registry=%v", rep.Loaded, e.reg.Names())
	}
	if !l.Ready() {
		t.Fatalf("not ready after Run")
	}
	got, _ := e.reg.Get("Taluka")
	if got.Source != filepath.Join(e.dir, "Taluka.zip") {
		t.Fatalf("source=%q", got.Source)
	}
	if _, err := os.Stat(filepath.Join(e.dir, "P_Location.zip")); !os.IsNotExist(err) {
		t.Fatalf("failed download left a file behind: %v", err)
	}
	entries, _ := os.ReadDir(e.dir)
	if len(entries) != 1 {
		t.Fatalf("upload dir has %d entries, want only Taluka.zip", len(entries))
	}
	if stored := e.orders.Load(context.Background()); !slices.Equal(stored, []string{"P_Location", "Taluka"}) {
		t.Fatalf("stored order=%v", stored)
	}
}

func TestRun_NeverRefetchesExistingArchive(t *testing.T) {
	e := newEnv(t)
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		t.Fatal(err)
	}
	// stale local copy with a different extent
	stale := ingesttest.ValidArchive(t, e.dir, "Taluka.zip", 0, 0, 1, 1)

	rep := e.loader(t, false).Run(context.Background())

	if !slices.Equal(rep.Cached, []string{"Taluka"}) || len(rep.Downloaded) != 0 {
		t.Fatalf("report=%+v", rep)
	}
	// only the P_Location request reached the server
	if n := e.hits.Load(); n != 1 {
		t.Fatalf("server hits=%d want 1", n)
	}
	got, _ := e.reg.Get("Taluka")
	if got.Source != stale {
		t.Fatalf("source=%q want %q", got.Source, stale)
	}
	if b := got.Features.Features[0].Geometry.Bound(); b.Max[0] != 1 {
		t.Fatalf("cached archive not used, bound=%v", b)
	}
}

func TestRun_ReingestsLocalArchives(t *testing.T) {
	e := newEnv(t)
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		t.Fatal(err)
	}
	ingesttest.ValidArchive(t, e.dir, "Roads.zip", 5, 5, 6, 6)
	if err := os.WriteFile(filepath.Join(e.dir, "junk.zip"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(e.dir, ".upload-123.zip"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(e.dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	rep := e.loader(t, true).Run(context.Background())

	if !slices.Equal(rep.Loaded, []string{"Taluka", "Roads"}) {
		t.Fatalf("loaded=%v", rep.Loaded)
	}
	if !slices.Equal(rep.IngestFailed, []string{"junk"}) {
		t.Fatalf("ingest failed=%v", rep.IngestFailed)
	}
	if stored := e.orders.Load(context.Background()); !slices.Equal(stored, []string{"P_Location", "Taluka", "Roads"}) {
		t.Fatalf("stored order=%v", stored)
	}
}

func TestRun_KeepsLayerUploadedMeanwhile(t *testing.T) {
	e := newEnv(t)
	uploaded := e.reg.Put(&layer.Layer{Name: "Taluka", Color: "#abcdef", Source: "uploaded.zip"})

	rep := e.loader(t, false).Run(context.Background())

	if !slices.Equal(rep.Superseded, []string{"Taluka"}) || len(rep.Loaded) != 0 {
		t.Fatalf("report=%+v", rep)
	}
	got, _ := e.reg.Get("Taluka")
	if got.Version != uploaded.Version || got.Source != "uploaded.zip" {
		t.Fatalf("uploaded layer replaced: %+v", got)
	}
}

func TestRun_LocalArchivesIgnoredWhenDisabled(t *testing.T) {
	e := newEnv(t)
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		t.Fatal(err)
	}
	ingesttest.ValidArchive(t, e.dir, "Roads.zip", 5, 5, 6, 6)

	e.loader(t, false).Run(context.Background())
	if e.reg.Has("Roads") {
		t.Fatalf("Roads loaded with re-ingest disabled")
	}
}

func TestRun_UnreachableSource(t *testing.T) {
	e := newEnv(t)
	e.srv.Close()

	rep := e.loader(t, false).Run(context.Background())
	if len(rep.FetchFailed) != 2 || e.reg.Len() != 0 {
		t.Fatalf("report=%+v len=%d", rep, e.reg.Len())
	}
}
