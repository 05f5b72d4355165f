// Package bootstrap loads the startup layers: the configured remote
// archives, fetched once and cached in the upload dir, and optionally every
// archive already stored there.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/himgis/webgis/internal/core/config"
	"github.com/himgis/webgis/internal/core/observability"
	"github.com/himgis/webgis/internal/ingest"
	mylog "github.com/himgis/webgis/internal/logger"
	"github.com/himgis/webgis/internal/order"
	"github.com/himgis/webgis/internal/registry"
)

var ErrFetch = errors.New("bootstrap fetch failed")

type Options struct {
	Client        *http.Client
	Dir           string
	Sources       []config.BootstrapSource
	Timeout       time.Duration
	ReingestLocal bool
	Workers       int
	Ingestor      *ingest.Ingestor
	Registry      *registry.Registry
	Orders        *order.Store
	Logger        *slog.Logger
}

type Loader struct {
	opts  Options
	log   *slog.Logger
	ready atomic.Bool
}

func New(opts Options) *Loader {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loader{opts: opts, log: opts.Logger}
}

// Ready reports whether Run has finished.
func (l *Loader) Ready() bool { return l.ready.Load() }

type Report struct {
	Downloaded   []string
	Cached       []string
	FetchFailed  []string
	Loaded       []string
	IngestFailed []string
	// layers uploaded while bootstrap ran; the upload wins
	Superseded []string
}

// Run fetches missing archives, ingests everything available and registers
// the results. Individual failures are logged and skipped; Run itself only
// returns early when ctx is done.
func (l *Loader) Run(ctx context.Context) Report {
	defer l.ready.Store(true)
	ctx = mylog.WithComponent(ctx, "bootstrap")

	var rep Report
	var jobs []ingest.Job
	seen := map[string]bool{}

	for _, src := range l.opts.Sources {
		if ctx.Err() != nil {
			return rep
		}
		path := filepath.Join(l.opts.Dir, src.Name+".zip")
		fetched, err := l.ensure(ctx, src, path)
		switch {
		case err != nil:
			observability.IncBootstrapFetch("failed")
			l.log.WarnContext(ctx, "bootstrap source skipped", "layer", src.Name, "url", src.URL, "err", err)
			rep.FetchFailed = append(rep.FetchFailed, src.Name)
			continue
		case fetched:
			observability.IncBootstrapFetch("downloaded")
			rep.Downloaded = append(rep.Downloaded, src.Name)
		default:
			observability.IncBootstrapFetch("cached")
			rep.Cached = append(rep.Cached, src.Name)
		}
		seen[src.Name] = true
		jobs = append(jobs, ingest.Job{Filename: src.Name + ".zip", Path: path, Name: src.Name})
	}

	if l.opts.ReingestLocal {
		local, err := l.localArchives()
		if err != nil {
			l.log.WarnContext(ctx, "scanning local archives failed", "dir", l.opts.Dir, "err", err)
		}
		for _, j := range local {
			if !seen[j.Name] {
				seen[j.Name] = true
				jobs = append(jobs, j)
			}
		}
	}

	for _, o := range l.opts.Ingestor.IngestAll(ctx, jobs, l.opts.Workers) {
		if o.Err != nil {
			rep.IngestFailed = append(rep.IngestFailed, o.Job.Name)
			continue
		}
		if _, added := l.opts.Registry.PutIfAbsent(o.Layer); !added {
			l.log.InfoContext(ctx, "bootstrap layer superseded by upload", "layer", o.Job.Name)
			rep.Superseded = append(rep.Superseded, o.Job.Name)
			continue
		}
		rep.Loaded = append(rep.Loaded, o.Job.Name)
	}

	if _, err := l.opts.Orders.Update(ctx, func(cur []string) []string {
		return order.AppendMissing(cur, l.opts.Registry.Names())
	}); err != nil {
		l.log.WarnContext(ctx, "order not saved after bootstrap", "err", err)
	}

	l.log.InfoContext(ctx, "bootstrap finished",
		"loaded", len(rep.Loaded), "downloaded", len(rep.Downloaded),
		"cached", len(rep.Cached), "fetch_failed", len(rep.FetchFailed),
		"ingest_failed", len(rep.IngestFailed), "superseded", len(rep.Superseded))
	return rep
}

// ensure makes sure path exists, downloading src if it does not. An
// existing file is never replaced.
func (l *Loader) ensure(ctx context.Context, src config.BootstrapSource, path string) (fetched bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("%w: stat %s: %v", ErrFetch, path, err)
	}
	if err := l.download(ctx, src.URL, path); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Loader) download(ctx context.Context, url, path string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	resp, err := l.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %s", ErrFetch, url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".fetch-*.zip")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	_, err = io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("%w: write %s: %v", ErrFetch, path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return nil
}

func (l *Loader) localArchives() ([]ingest.Job, error) {
	entries, err := os.ReadDir(l.opts.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var jobs []ingest.Job
	for _, e := range entries {
		n := e.Name()
		if e.IsDir() || strings.HasPrefix(n, ".") || !strings.EqualFold(filepath.Ext(n), ".zip") {
			continue
		}
		jobs = append(jobs, ingest.Job{Filename: n, Path: filepath.Join(l.opts.Dir, n), Name: ingest.NameFromFilename(n)})
	}
	return jobs, nil
}
