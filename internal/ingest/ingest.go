// Package ingest turns an uploaded shapefile archive into a Layer: extract the
// zip into a scratch dir, locate and parse the .shp, reproject to lon/lat.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/himgis/webgis/internal/core/observability"
	"github.com/himgis/webgis/internal/crs"
	"github.com/himgis/webgis/internal/layer"
	mylog "github.com/himgis/webgis/internal/logger"
)

var (
	ErrNoShapefile = errors.New("no shapefile found in archive")
	ErrParse       = errors.New("shapefile parse error")
)

type Options struct {
	// parent of the per-archive scratch dirs; os.TempDir() when empty
	ScratchDir      string
	Opacity         float64
	MaxExtractBytes int64
	Color           func() string
	Now             func() time.Time
	Logger          *slog.Logger
}

type Ingestor struct {
	scratch string
	opacity float64
	limit   int64
	color   func() string
	now     func() time.Time
	log     *slog.Logger
}

func New(opts Options) *Ingestor {
	if opts.Opacity <= 0 || opts.Opacity > 1 {
		opts.Opacity = layer.DefaultOpacity
	}
	if opts.MaxExtractBytes <= 0 {
		opts.MaxExtractBytes = 1 << 30
	}
	if opts.Color == nil {
		opts.Color = layer.RandomColor
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Ingestor{
		scratch: opts.ScratchDir,
		opacity: opts.Opacity,
		limit:   opts.MaxExtractBytes,
		color:   opts.Color,
		now:     opts.Now,
		log:     opts.Logger,
	}
}

// NameFromFilename derives a layer name from an archive filename:
// base name with the extension stripped.
func NameFromFilename(filename string) string {
	base := filepath.Base(filepath.FromSlash(strings.ReplaceAll(filename, `\`, "/")))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Ingest parses the archive at archivePath into a Layer called name. The
// returned layer's Source is archivePath; callers that move the archive
// afterwards should use Layer.WithSource.
func (in *Ingestor) Ingest(ctx context.Context, archivePath, name string) (l *layer.Layer, err error) {
	start := time.Now()
	ctx = mylog.WithLayer(ctx, name)
	defer func() {
		observability.ObserveIngest(Classify(err), time.Since(start).Seconds())
		if err != nil {
			in.log.WarnContext(ctx, "ingest failed", "archive", archivePath, "err", err)
		}
	}()

	scratch, err := os.MkdirTemp(in.scratch, "ingest-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if rerr := os.RemoveAll(scratch); rerr != nil {
			in.log.WarnContext(ctx, "scratch cleanup failed", "dir", scratch, "err", rerr)
		}
	}()

	if err := extract(ctx, archivePath, scratch, in.limit); err != nil {
		return nil, err
	}
	shpPath, err := findShapefile(scratch)
	if err != nil {
		return nil, err
	}
	fc, err := readShapefile(shpPath)
	if err != nil {
		return nil, err
	}

	src := crs.CRS{}
	if prj := companion(shpPath, ".prj"); prj != "" {
		raw, err := os.ReadFile(prj)
		if err != nil {
			return nil, fmt.Errorf("%w: read prj: %v", crs.ErrProjection, err)
		}
		if src, err = crs.FromWKT(string(raw)); err != nil {
			return nil, err
		}
	}
	if err := crs.Normalize(fc, src); err != nil {
		return nil, err
	}

	in.log.DebugContext(ctx, "archive ingested",
		"archive", archivePath, "features", len(fc.Features), "crs", src.String(),
		"dur", time.Since(start).String())

	return &layer.Layer{
		Name:       name,
		Features:   fc,
		Color:      in.color(),
		Opacity:    in.opacity,
		Source:     archivePath,
		CRS:        src.String(),
		IngestedAt: in.now().UTC(),
	}, nil
}

type Job struct {
	Filename string
	Path     string
	Name     string
}

type Outcome struct {
	Job   Job
	Layer *layer.Layer
	Err   error
}

// IngestAll ingests jobs with up to workers goroutines. Outcome i always
// belongs to jobs[i], whatever order the workers finish in.
func (in *Ingestor) IngestAll(ctx context.Context, jobs []Job, workers int) []Outcome {
	out := make([]Outcome, len(jobs))
	if len(jobs) == 0 {
		return out
	}
	if workers <= 0 {
		workers = 1
	}
	workers = min(workers, len(jobs))

	idx := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range idx {
				j := jobs[i]
				l, err := in.Ingest(ctx, j.Path, j.Name)
				out[i] = Outcome{Job: j, Layer: l, Err: err}
			}
		}()
	}
	for i := range jobs {
		idx <- i
	}
	close(idx)
	wg.Wait()
	return out
}

// Classify maps an ingest error to a short outcome label.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNoShapefile):
		return "no_shapefile"
	case errors.Is(err, crs.ErrProjection):
		return "projection"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
