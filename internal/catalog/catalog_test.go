package catalog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/paulmach/orb/geojson"

	"github.com/himgis/webgis/internal/bounds"
	"github.com/himgis/webgis/internal/events"
	"github.com/himgis/webgis/internal/ingest"
	"github.com/himgis/webgis/internal/ingest/ingesttest"
	"github.com/himgis/webgis/internal/layer"
	h3mapper "github.com/himgis/webgis/internal/mapper/h3"
	"github.com/himgis/webgis/internal/order"
	"github.com/himgis/webgis/internal/registry"
)

var (
	admin  = Actor{Admin: true}
	viewer = Actor{}
)

type recorder struct {
	mu  sync.Mutex
	got []events.Event
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
}

func (r *recorder) ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.got))
	for i, ev := range r.got {
		out[i] = ev.Op + ":" + ev.Layer
	}
	return out
}

type fixture struct {
	svc       *Service
	reg       *registry.Registry
	orders    *order.Store
	orderFile string
	uploadDir string
	events    *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	uploadDir := filepath.Join(root, "uploads")
	orderFile := filepath.Join(root, "state", "layer_order.json")
	fb, err := order.NewFileBackend(orderFile)
	if err != nil {
		t.Fatalf("NewFileBackend: %v", err)
	}
	f := &fixture{
		reg:       registry.New(),
		orders:    order.NewStore(fb, []string{"P_Location", "Taluka"}, nil),
		orderFile: orderFile,
		uploadDir: uploadDir,
		events:    &recorder{},
	}
	f.svc = New(Options{
		Registry:  f.reg,
		Orders:    f.orders,
		Ingestor:  ingest.New(ingest.Options{ScratchDir: t.TempDir()}),
		Events:    f.events,
		Mapper:    h3mapper.New(),
		UploadDir: uploadDir,
		Workers:   3,
		H3Res:     5,
	})
	return f
}

// seedBootstrap registers the two default layers without going through
// upload.
func (f *fixture) seedBootstrap() {
	for _, n := range []string{"Taluka", "P_Location"} {
		f.reg.Put(&layer.Layer{Name: n, Features: geojson.NewFeatureCollection(), Color: "#000000", Opacity: layer.DefaultOpacity})
	}
}

func archive(t *testing.T, filename string, x0, y0, x1, y1 float64) File {
	t.Helper()
	path := ingesttest.ValidArchive(t, t.TempDir(), filename, x0, y0, x1, y1)
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return File{Filename: filename, Body: bytes.NewReader(raw)}
}

func raw(filename, body string) File {
	return File{Filename: filename, Body: strings.NewReader(body)}
}

func dirNames(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var out []string
	for _, e := range entries {
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func TestUpload_MixedBatchScenario(t *testing.T) {
	f := newFixture(t)
	f.seedBootstrap()
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, admin, []File{
		archive(t, "A.zip", 72, 21, 74, 23),
		raw("B.txt", "not a zip"),
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !slices.Equal(res.Uploaded, []string{"A"}) || !slices.Equal(res.Failed, []string{"B.txt"}) {
		t.Fatalf("result=%+v", res)
	}

	got := f.svc.List(ctx, viewer)
	if want := []string{"P_Location", "Taluka", "A"}; !slices.Equal(got.Order, want) {
		t.Fatalf("order=%v want %v", got.Order, want)
	}
	if got.Layers[2].Name != "A" || got.IsAdmin {
		t.Fatalf("listing=%+v", got)
	}
	if got.Bounds == nil || *got.Bounds != (bounds.Rect{{21, 72}, {23, 74}}) {
		t.Fatalf("bounds=%v", got.Bounds)
	}
	if names := dirNames(t, f.uploadDir); !slices.Equal(names, []string{"A.zip"}) {
		t.Fatalf("upload dir=%v want only A.zip", names)
	}
	if stored := f.orders.Load(ctx); !slices.Equal(stored, []string{"P_Location", "Taluka", "A"}) {
		t.Fatalf("stored order=%v", stored)
	}
	if ops := f.events.ops(); !slices.Equal(ops, []string{"upsert:A"}) {
		t.Fatalf("events=%v", ops)
	}
}

func TestUpload_IndependentOutcomes(t *testing.T) {
	f := newFixture(t)
	files := []File{
		archive(t, "one.zip", 0, 0, 1, 1),
		raw("two.zip", "garbage"),
		archive(t, "three.ZIP", 2, 2, 3, 3),
		File{Filename: "four.zip", Body: bytes.NewReader(mustRead(t, ingesttest.ZipEntries(t, filepath.Join(t.TempDir(), "four.zip"), map[string]string{"readme.txt": "x"})))},
		raw("five.shp", "x"),
		archive(t, "six.zip", 4, 4, 5, 5),
	}
	res, err := f.svc.Upload(context.Background(), admin, files)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if want := []string{"one", "three", "six"}; !slices.Equal(res.Uploaded, want) {
		t.Fatalf("uploaded=%v want %v", res.Uploaded, want)
	}
	if want := []string{"two.zip", "four.zip", "five.shp"}; !slices.Equal(res.Failed, want) {
		t.Fatalf("failed=%v want %v", res.Failed, want)
	}
	if f.reg.Len() != 3 {
		t.Fatalf("registry len=%d want 3", f.reg.Len())
	}
	if names := dirNames(t, f.uploadDir); !slices.Equal(names, []string{"one.zip", "six.zip", "three.zip"}) {
		t.Fatalf("upload dir=%v", names)
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestUpload_FailedReuploadKeepsExistingArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Upload(ctx, admin, []File{archive(t, "A.zip", 0, 0, 1, 1)}); err != nil {
		t.Fatal(err)
	}
	before := mustRead(t, filepath.Join(f.uploadDir, "A.zip"))

	res, err := f.svc.Upload(ctx, admin, []File{raw("A.zip", "corrupt")})
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(res.Failed, []string{"A.zip"}) {
		t.Fatalf("result=%+v", res)
	}
	if after := mustRead(t, filepath.Join(f.uploadDir, "A.zip")); !bytes.Equal(before, after) {
		t.Fatalf("archive was overwritten by failed upload")
	}
	if !f.reg.Has("A") {
		t.Fatalf("layer A should still be registered")
	}
}

func TestUpload_ReplacesLayerOnReupload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Upload(ctx, admin, []File{archive(t, "A.zip", 0, 0, 1, 1)}); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Upload(ctx, admin, []File{archive(t, "A.zip", 10, 10, 11, 11)}); err != nil {
		t.Fatal(err)
	}
	got := f.svc.List(ctx, admin)
	if !slices.Equal(got.Order, []string{"A"}) {
		t.Fatalf("order=%v", got.Order)
	}
	if *got.Bounds != (bounds.Rect{{10, 10}, {11, 11}}) {
		t.Fatalf("bounds=%v, layer not replaced", *got.Bounds)
	}
}

func TestMutations_RequireAdmin(t *testing.T) {
	f := newFixture(t)
	f.seedBootstrap()
	ctx := context.Background()

	if _, err := f.svc.Upload(ctx, viewer, []File{archive(t, "A.zip", 0, 0, 1, 1)}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("upload err=%v", err)
	}
	if err := f.svc.Delete(ctx, viewer, "Taluka"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete err=%v", err)
	}
	if _, err := f.svc.SetOrder(ctx, viewer, []any{"Taluka"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("set order err=%v", err)
	}
	if f.reg.Len() != 2 || len(f.events.ops()) != 0 {
		t.Fatalf("state changed by forbidden calls")
	}
	if _, err := os.Stat(f.orderFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("order file written by forbidden call: %v", err)
	}
}

func TestUpload_NoFiles(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Upload(context.Background(), admin, nil); !errors.Is(err, ErrBadInput) {
		t.Fatalf("err=%v want ErrBadInput", err)
	}
}

func TestDelete_RemovesLayerArchiveAndOrderEntry(t *testing.T) {
	f := newFixture(t)
	f.seedBootstrap()
	ctx := context.Background()
	if _, err := f.svc.Upload(ctx, admin, []File{archive(t, "A.zip", 0, 0, 1, 1)}); err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Delete(ctx, admin, "A"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if f.reg.Has("A") {
		t.Fatalf("A still registered")
	}
	if _, err := os.Stat(filepath.Join(f.uploadDir, "A.zip")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("archive still present: %v", err)
	}
	if stored := f.orders.Load(ctx); slices.Contains(stored, "A") {
		t.Fatalf("stored order still has A: %v", stored)
	}
	if ops := f.events.ops(); !slices.Equal(ops, []string{"upsert:A", "delete:A"}) {
		t.Fatalf("events=%v", ops)
	}
}

func TestDelete_ConcurrentReuploadKeepsLiveArchive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if _, err := f.svc.Upload(ctx, admin, []File{archive(t, "A.zip", 0, 0, 1, 1)}); err != nil {
			t.Fatal(err)
		}
		next := archive(t, "A.zip", 5, 5, 6, 6)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.svc.Delete(ctx, admin, "A")
		}()
		go func() {
			defer wg.Done()
			if _, err := f.svc.Upload(ctx, admin, []File{next}); err != nil {
				t.Error(err)
			}
		}()
		wg.Wait()

		l, err := f.reg.Get("A")
		if err != nil {
			continue
		}
		if _, err := os.Stat(l.Source); err != nil {
			t.Fatalf("round %d: A registered but its archive is gone: %v", i, err)
		}
	}
}

func TestDelete_UnknownLayerChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.seedBootstrap()
	ctx := context.Background()
	if err := f.orders.Save(ctx, []string{"Taluka", "P_Location"}); err != nil {
		t.Fatal(err)
	}
	before := mustRead(t, f.orderFile)

	if err := f.svc.Delete(ctx, admin, "nope"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	if f.reg.Len() != 2 {
		t.Fatalf("registry len=%d", f.reg.Len())
	}
	if after := mustRead(t, f.orderFile); !bytes.Equal(before, after) {
		t.Fatalf("order file changed: %s", after)
	}
}

func TestDelete_SeedOnlyOrderIsNotWritten(t *testing.T) {
	f := newFixture(t)
	f.reg.Put(&layer.Layer{Name: "X"})
	if err := f.svc.Delete(context.Background(), admin, "X"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(f.orderFile); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("order file should not be created when the name was not stored: %v", err)
	}
}

func TestList_DefaultSeedScenario(t *testing.T) {
	f := newFixture(t)
	f.seedBootstrap()
	got := f.svc.List(context.Background(), admin)
	if !slices.Equal(got.Order, []string{"P_Location", "Taluka"}) || !got.IsAdmin {
		t.Fatalf("listing=%+v", got)
	}
	if got.Bounds != nil {
		t.Fatalf("empty layers should give nil bounds, got %v", got.Bounds)
	}
}

func TestSetOrder(t *testing.T) {
	f := newFixture(t)
	f.seedBootstrap()
	f.reg.Put(&layer.Layer{Name: "Roads"})
	ctx := context.Background()

	got, err := f.svc.SetOrder(ctx, admin, []any{"Roads", "ghost", 7.0})
	if err != nil {
		t.Fatalf("SetOrder: %v", err)
	}
	want := []string{"Roads", "Taluka", "P_Location"}
	if !slices.Equal(got, want) {
		t.Fatalf("order=%v want %v", got, want)
	}
	if stored := f.orders.Load(ctx); !slices.Equal(stored, want) {
		t.Fatalf("stored=%v", stored)
	}
	if l := f.svc.List(ctx, admin); !slices.Equal(l.Order, want) {
		t.Fatalf("listing order=%v", l.Order)
	}

	if _, err := f.svc.SetOrder(ctx, admin, "Roads"); !errors.Is(err, ErrBadInput) {
		t.Fatalf("non-list err=%v want ErrBadInput", err)
	}
	if got, err := f.svc.SetOrder(ctx, admin, nil); err != nil || !slices.Equal(got, []string{"Taluka", "P_Location", "Roads"}) {
		t.Fatalf("absent order=%v,%v", got, err)
	}
}

func TestInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Upload(ctx, admin, []File{archive(t, "A.zip", 72, 21, 74, 23)}); err != nil {
		t.Fatal(err)
	}
	info, err := f.svc.Info(ctx, "A")
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Features != 1 || info.Bounds == nil || *info.Bounds != (bounds.Rect{{21, 72}, {23, 74}}) {
		t.Fatalf("info=%+v", info)
	}
	if info.CenterCell == "" || info.Cover == nil || len(info.Cover.Cells) == 0 {
		t.Fatalf("missing h3 fields: %+v", info)
	}
	if _, err := f.svc.Info(ctx, "missing"); !errors.Is(err, registry.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}
