// Package catalog implements the layer operations exposed over HTTP: batch
// upload, delete, the ordered listing and reordering. Mutations take an
// explicit Actor and are refused unless it is an admin.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/himgis/webgis/internal/bounds"
	"github.com/himgis/webgis/internal/events"
	"github.com/himgis/webgis/internal/ingest"
	"github.com/himgis/webgis/internal/layer"
	mylog "github.com/himgis/webgis/internal/logger"
	"github.com/himgis/webgis/internal/mapper"
	"github.com/himgis/webgis/internal/order"
	"github.com/himgis/webgis/internal/registry"
)

var (
	ErrForbidden = errors.New("forbidden")
	ErrBadInput  = errors.New("bad input")
)

// Actor is the caller of an operation, resolved by the transport layer.
type Actor struct {
	Admin bool
}

type Options struct {
	Registry  *registry.Registry
	Orders    *order.Store
	Ingestor  *ingest.Ingestor
	Events    events.Publisher
	Mapper    mapper.Interface
	UploadDir string
	Workers   int
	H3Res     int
	// cap on the number of cells in a layer's cover
	MaxCoverCells int
	Logger        *slog.Logger
	Now           func() time.Time
}

type Service struct {
	reg       *registry.Registry
	orders    *order.Store
	ingestor  *ingest.Ingestor
	events    events.Publisher
	mapper    mapper.Interface
	uploadDir string
	workers   int
	h3Res     int
	maxCover  int
	log       *slog.Logger
	now       func() time.Time

	// held while an archive on disk and its registry entry change together
	archives sync.Mutex
}

func New(opts Options) *Service {
	if opts.Events == nil {
		opts.Events = events.Noop{}
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxCoverCells < 1 {
		opts.MaxCoverCells = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		reg:       opts.Registry,
		orders:    opts.Orders,
		ingestor:  opts.Ingestor,
		events:    opts.Events,
		mapper:    opts.Mapper,
		uploadDir: opts.UploadDir,
		workers:   opts.Workers,
		h3Res:     opts.H3Res,
		maxCover:  opts.MaxCoverCells,
		log:       opts.Logger,
		now:       opts.Now,
	}
}

func (s *Service) publish(ev events.Event) {
	ev.TS = s.now().UTC()
	s.events.Publish(ev)
}

// File is one part of an upload batch.
type File struct {
	Filename string
	Body     io.Reader
}

type UploadResult struct {
	Uploaded []string `json:"uploaded"`
	Failed   []string `json:"failed"`
}

// Upload ingests each archive independently. Archives are staged next to
// their final location and only moved to <uploadDir>/<name>.zip once they
// ingest cleanly, so a bad re-upload leaves the previous archive in place.
// Both result lists follow the input order.
func (s *Service) Upload(ctx context.Context, actor Actor, files []File) (UploadResult, error) {
	if !actor.Admin {
		return UploadResult{}, fmt.Errorf("upload: %w", ErrForbidden)
	}
	if len(files) == 0 {
		return UploadResult{}, fmt.Errorf("upload: no files: %w", ErrBadInput)
	}
	ctx = mylog.WithComponent(ctx, "catalog")

	failed := make([]bool, len(files))
	jobs := make([]ingest.Job, 0, len(files))
	slot := make([]int, 0, len(files))
	for i, f := range files {
		name := ingest.NameFromFilename(f.Filename)
		if !strings.EqualFold(filepath.Ext(f.Filename), ".zip") || name == "" {
			failed[i] = true
			continue
		}
		staged, err := s.stage(f.Body)
		if err != nil {
			s.log.WarnContext(ctx, "staging upload failed", "file", f.Filename, "err", err)
			failed[i] = true
			continue
		}
		jobs = append(jobs, ingest.Job{Filename: f.Filename, Path: staged, Name: name})
		slot = append(slot, i)
	}

	outcomes := s.ingestor.IngestAll(ctx, jobs, s.workers)

	s.archives.Lock()
	layers := make([]*layer.Layer, len(files))
	for k, o := range outcomes {
		i := slot[k]
		if o.Err != nil {
			_ = os.Remove(o.Job.Path)
			failed[i] = true
			continue
		}
		final := filepath.Join(s.uploadDir, o.Job.Name+".zip")
		if err := os.Rename(o.Job.Path, final); err != nil {
			s.log.ErrorContext(ctx, "storing archive failed", "file", o.Job.Filename, "err", err)
			_ = os.Remove(o.Job.Path)
			failed[i] = true
			continue
		}
		layers[i] = o.Layer.WithSource(final)
	}

	res := UploadResult{Uploaded: []string{}, Failed: []string{}}
	for i, f := range files {
		if failed[i] {
			res.Failed = append(res.Failed, f.Filename)
			continue
		}
		l := s.reg.Put(layers[i])
		res.Uploaded = append(res.Uploaded, l.Name)
		s.publish(events.Event{Op: events.OpUpsert, Layer: l.Name})
	}
	s.archives.Unlock()

	if _, err := s.orders.Update(ctx, func(cur []string) []string {
		return order.AppendMissing(cur, s.reg.Names())
	}); err != nil {
		s.log.WarnContext(ctx, "order not saved after upload", "err", err)
	}

	s.log.InfoContext(ctx, "upload processed",
		"uploaded", len(res.Uploaded), "failed", len(res.Failed))
	return res, nil
}

func (s *Service) stage(body io.Reader) (path string, err error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", fmt.Errorf("upload dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.uploadDir, ".upload-*.zip")
	if err != nil {
		return "", fmt.Errorf("create staging file: %w", err)
	}
	defer func() {
		if cerr := tmp.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err := io.Copy(tmp, body); err != nil {
		return "", fmt.Errorf("write staging file: %w", err)
	}
	return tmp.Name(), nil
}

// Delete drops the layer, its archive and its entry in the stored order.
// A failed order write is logged; the layer stays deleted.
func (s *Service) Delete(ctx context.Context, actor Actor, name string) error {
	if !actor.Admin {
		return fmt.Errorf("delete: %w", ErrForbidden)
	}
	ctx = mylog.WithLayer(mylog.WithComponent(ctx, "catalog"), name)

	s.archives.Lock()
	l, err := s.reg.Remove(name)
	if err != nil {
		s.archives.Unlock()
		return err
	}
	if l.Source != "" {
		if err := os.Remove(l.Source); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.log.WarnContext(ctx, "archive not removed", "path", l.Source, "err", err)
		}
	}
	s.archives.Unlock()

	if _, err := s.orders.Update(ctx, func(cur []string) []string {
		next := order.Without(cur, name)
		if len(next) == len(cur) {
			return nil
		}
		return next
	}); err != nil {
		s.log.WarnContext(ctx, "order not saved after delete", "err", err)
	}

	s.publish(events.Event{Op: events.OpDelete, Layer: name})
	s.log.InfoContext(ctx, "layer deleted")
	return nil
}

// Listing is the ordered view of every live layer.
type Listing struct {
	IsAdmin bool
	Order   []string
	Layers  []*layer.Layer
	Bounds  *bounds.Rect
}

func (s *Service) List(ctx context.Context, actor Actor) Listing {
	names, byName := s.reg.Snapshot()
	ordered := order.Reconcile(s.orders.Load(ctx), names)
	ls := make([]*layer.Layer, len(ordered))
	for i, n := range ordered {
		ls[i] = byName[n]
	}
	return Listing{
		IsAdmin: actor.Admin,
		Order:   ordered,
		Layers:  ls,
		Bounds:  bounds.Aggregate(ls),
	}
}

// SetOrder stores a caller supplied order. requested is the decoded JSON
// value of the "order" field; nil means the field was absent.
func (s *Service) SetOrder(ctx context.Context, actor Actor, requested any) ([]string, error) {
	if !actor.Admin {
		return nil, fmt.Errorf("set order: %w", ErrForbidden)
	}
	if requested == nil {
		requested = []any{}
	}
	list, ok := requested.([]any)
	if !ok {
		return nil, fmt.Errorf("set order: order is %T: %w", requested, ErrBadInput)
	}

	var cleaned []string
	_, err := s.orders.Update(ctx, func([]string) []string {
		cleaned = order.SetOrder(list, s.reg.Names())
		return cleaned
	})
	if err != nil {
		return nil, err
	}
	s.publish(events.Event{Op: events.OpReorder, Order: cleaned})
	return cleaned, nil
}

// Info describes one layer.
type Info struct {
	Name       string        `json:"name"`
	Color      string        `json:"color"`
	Opacity    float64       `json:"opacity"`
	Features   int           `json:"features"`
	CRS        string        `json:"crs,omitempty"`
	Bounds     *bounds.Rect  `json:"bounds"`
	CenterCell string        `json:"center_cell,omitempty"`
	Cover      *mapper.Cover `json:"cover,omitempty"`
	IngestedAt time.Time     `json:"ingested_at"`
}

func (s *Service) Info(ctx context.Context, name string) (Info, error) {
	l, err := s.reg.Get(name)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		Name:       l.Name,
		Color:      l.Color,
		Opacity:    l.Opacity,
		Features:   l.FeatureCount(),
		CRS:        l.CRS,
		IngestedAt: l.IngestedAt,
	}
	b, ok := bounds.Of(l)
	if !ok {
		return info, nil
	}
	r := bounds.FromBound(b)
	info.Bounds = &r
	if s.mapper == nil {
		return info, nil
	}
	if cell, err := s.mapper.CenterCell(b, s.h3Res); err == nil {
		info.CenterCell = cell
	} else {
		s.log.DebugContext(ctx, "center cell unavailable", "layer", name, "err", err)
	}
	if cov, err := s.mapper.CoverBound(b, s.h3Res, s.maxCover); err == nil {
		info.Cover = &cov
	} else {
		s.log.DebugContext(ctx, "cover unavailable", "layer", name, "err", err)
	}
	return info, nil
}
