// Package api maps the catalog operations onto HTTP.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/himgis/webgis/internal/cache"
	"github.com/himgis/webgis/internal/cache/keys"
	"github.com/himgis/webgis/internal/catalog"
	"github.com/himgis/webgis/internal/core/middleware"
	"github.com/himgis/webgis/internal/layer"
	"github.com/himgis/webgis/internal/order"
	"github.com/himgis/webgis/internal/registry"
)

const multipartMemory = 32 << 20

type Handler struct {
	svc       *catalog.Service
	cache     cache.Interface
	maxUpload int64
	log       *slog.Logger
}

func New(svc *catalog.Service, c cache.Interface, maxUpload int64, log *slog.Logger) *Handler {
	if c == nil {
		c = cache.NewEncoded(0)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, cache: c, maxUpload: maxUpload, log: log}
}

// Routes mounts the layer endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/upload", h.upload)
	r.Delete("/delete/{name}", h.delete)
	r.Get("/layers", h.list)
	r.Get("/layers/{name}", h.info)
	r.Post("/set_order", h.setOrder)
}

func actor(r *http.Request) catalog.Actor {
	return catalog.Actor{Admin: middleware.Admin(r.Context())}
}

func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	if !a.Admin {
		writeError(w, http.StatusForbidden, "Only admin can upload!")
		return
	}
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			h.log.WarnContext(r.Context(), "bad multipart body", "err", err)
		}
		writeError(w, http.StatusBadRequest, "No files received!")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No files received!")
		return
	}

	files := make([]catalog.File, 0, len(headers))
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			h.log.WarnContext(r.Context(), "open upload part", "file", fh.Filename, "err", err)
			files = append(files, catalog.File{Filename: fh.Filename, Body: errReader{err}})
			continue
		}
		opened = append(opened, f)
		files = append(files, catalog.File{Filename: fh.Filename, Body: f})
	}

	res, err := h.svc.Upload(r.Context(), a, files)
	if err != nil {
		h.writeErr(w, r, err, "Only admin can upload!", "No files received!")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.Delete(r.Context(), actor(r), name); err != nil {
		h.writeErr(w, r, err, "Only admin can delete!", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted"})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	l := h.svc.List(r.Context(), actor(r))

	var buf bytes.Buffer
	buf.WriteString(`{"is_admin":`)
	writeRaw(&buf, l.IsAdmin)
	buf.WriteString(`,"layers":{`)
	for i, ly := range l.Layers {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeRaw(&buf, ly.Name)
		buf.WriteByte(':')
		enc, err := h.encodeLayer(ly)
		if err != nil {
			h.log.ErrorContext(r.Context(), "encode layer", "layer", ly.Name, "err", err)
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		buf.Write(enc)
	}
	buf.WriteString(`},"order":`)
	writeRaw(&buf, l.Order)
	buf.WriteString(`,"bounds":`)
	writeRaw(&buf, l.Bounds)
	buf.WriteString("}\n")

	etag := keys.ETag(buf.Bytes())
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

type layerJSON struct {
	GeoJSON any     `json:"geojson"`
	Color   string  `json:"color"`
	Opacity float64 `json:"opacity"`
}

func (h *Handler) encodeLayer(l *layer.Layer) ([]byte, error) {
	if b, ok := h.cache.Get(l.Name, l.Version); ok {
		return b, nil
	}
	b, err := json.Marshal(layerJSON{GeoJSON: l.Features, Color: l.Color, Opacity: l.Opacity})
	if err != nil {
		return nil, err
	}
	h.cache.Add(l.Name, l.Version, b)
	return b, nil
}

// writeRaw marshals values that cannot fail to encode.
func writeRaw(buf *bytes.Buffer, v any) {
	b, _ := json.Marshal(v)
	buf.Write(b)
}

func (h *Handler) info(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Info(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeErr(w, r, err, "", "")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) setOrder(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	if !a.Admin {
		writeError(w, http.StatusForbidden, "Only admin can set order")
		return
	}

	body := map[string]any{}
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	requested, present := body["order"]
	if present && requested == nil {
		writeError(w, http.StatusBadRequest, "Order must be a list")
		return
	}

	cleaned, err := h.svc.SetOrder(r.Context(), a, requested)
	if err != nil {
		h.writeErr(w, r, err, "Only admin can set order", "Order must be a list")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Order saved", "order": cleaned})
}

// writeErr maps service errors onto status codes and client messages.
func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error, forbidden, badInput string) {
	switch {
	case errors.Is(err, catalog.ErrForbidden):
		writeError(w, http.StatusForbidden, forbidden)
	case errors.Is(err, catalog.ErrBadInput):
		writeError(w, http.StatusBadRequest, badInput)
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, "Layer not found")
	case errors.Is(err, order.ErrPersist):
		writeError(w, http.StatusInternalServerError, "Failed to save order")
	default:
		h.log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
