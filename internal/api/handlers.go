package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/othala/internal/apperr"
	"github.com/starford/othala/internal/metrics"
	"github.com/starford/othala/internal/remotestorage"
	"github.com/starford/othala/internal/rspath"
	"github.com/starford/othala/internal/sse"
)

// maxDocumentSize caps PUT bodies.
const maxDocumentSize = 100 << 20

// Handler holds the storage route handlers.
type Handler struct {
	svc     *remotestorage.Service
	stats   *metrics.ServerMetrics
	broker  *sse.Broker // may be nil
	maxBody int64
}

// NewHandler creates a new Handler.
func NewHandler(svc *remotestorage.Service, stats *metrics.ServerMetrics, broker *sse.Broker) *Handler {
	return &Handler{svc: svc, stats: stats, broker: broker, maxBody: maxDocumentSize}
}

// storagePath extracts the remoteStorage path from the URL (everything after
// /storage). Encoded characters are unescaped before validation.
func storagePath(r *http.Request) (rspath.Path, error) {
	raw := "/" + chi.URLParam(r, "*")
	if decoded, err := url.PathUnescape(raw); err == nil {
		raw = decoded
	}
	return rspath.Parse(raw)
}

// Get handles GET/HEAD /storage/*. Folders (trailing slash) return a listing
// document, documents stream their bytes.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := storagePath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path"))
		return
	}
	ifNoneMatch, err := parseConditional(r.Header.Get("If-None-Match"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed If-None-Match"))
		return
	}

	if p.IsFolder() {
		h.getFolder(w, r, p, ifNoneMatch)
		return
	}
	h.getDocument(w, r, p, ifNoneMatch)
}

func (h *Handler) getFolder(w http.ResponseWriter, r *http.Request, p rspath.Path, ifNoneMatch []string) {
	folder, err := h.svc.GetFolder(r.Context(), p, ifNoneMatch)
	if err != nil {
		if errors.Is(err, apperr.ErrNotModified) {
			w.Header().Set("ETag", quoteETag(folder.Version.String()))
			w.WriteHeader(http.StatusNotModified)
			return
		}
		slog.Error("get folder failed", slog.String("path", p.String()), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}

	w.Header().Set("ETag", quoteETag(folder.Version.String()))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "application/ld+json")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	// Served counters only track responses that carry a listing or body,
	// so HEAD stays invisible here like it does for documents.
	h.stats.FoldersServed.Inc()
	writeListing(w, folder)
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request, p rspath.Path, ifNoneMatch []string) {
	doc, err := h.svc.GetDocument(r.Context(), p, ifNoneMatch)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotModified):
			w.Header().Set("ETag", quoteETag(doc.Version.String()))
			w.WriteHeader(http.StatusNotModified)
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		default:
			slog.Error("get document failed", slog.String("path", p.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	defer doc.Body.Close()

	w.Header().Set("ETag", quoteETag(doc.Version.String()))
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(doc.Length, 10))
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	h.stats.DocumentsServed.Inc()
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, doc.Body); err != nil {
		slog.Error("stream document failed", slog.String("path", p.String()), slog.String("error", err.Error()))
	}
}

// Put handles PUT /storage/*. Only documents can be written.
func (h *Handler) Put(w http.ResponseWriter, r *http.Request) {
	p, err := storagePath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path"))
		return
	}
	if p.IsFolder() {
		writeJSON(w, http.StatusBadRequest, errorBody("cannot write a folder"))
		return
	}
	ifMatch, err := parseConditional(r.Header.Get("If-Match"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed If-Match"))
		return
	}
	ifNoneMatch, err := parseConditional(r.Header.Get("If-None-Match"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed If-None-Match"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	content, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				errorBody(fmt.Sprintf("body exceeds %d bytes", maxErr.Limit)))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	version, err := h.svc.PutDocument(r.Context(), p, contentType, content, ifMatch, ifNoneMatch)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrVersionMismatch):
			h.stats.PreconditionFailures.Inc()
			writeJSON(w, http.StatusPreconditionFailed, errorBody("version mismatch"))
		case errors.Is(err, apperr.ErrAlreadyExists):
			h.stats.PreconditionFailures.Inc()
			writeJSON(w, http.StatusPreconditionFailed, errorBody("already exists"))
		case errors.Is(err, apperr.ErrConflict):
			h.stats.Conflicts.Inc()
			writeJSON(w, http.StatusConflict, errorBody("conflict"))
		default:
			slog.Error("put document failed", slog.String("path", p.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	h.stats.DocumentsStored.Inc()
	if h.broker != nil {
		kind := "updated"
		if version.Seq == 1 {
			kind = "created"
		}
		h.broker.PublishChange(kind, p.String())
	}
	w.Header().Set("ETag", quoteETag(version.String()))
	w.WriteHeader(http.StatusOK)
}

// Delete handles DELETE /storage/*. The ETag on a successful response is the
// version the document had before the delete.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	p, err := storagePath(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid path"))
		return
	}
	if p.IsFolder() {
		writeJSON(w, http.StatusBadRequest, errorBody("cannot delete a folder"))
		return
	}
	ifMatch, err := parseConditional(r.Header.Get("If-Match"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("malformed If-Match"))
		return
	}

	prior, err := h.svc.DeleteDocument(r.Context(), p, ifMatch)
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrVersionMismatch):
			h.stats.PreconditionFailures.Inc()
			writeJSON(w, http.StatusPreconditionFailed, errorBody("version mismatch"))
		case errors.Is(err, apperr.ErrNotFound):
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		case errors.Is(err, apperr.ErrConflict):
			h.stats.Conflicts.Inc()
			writeJSON(w, http.StatusConflict, errorBody("conflict"))
		default:
			slog.Error("delete document failed", slog.String("path", p.String()), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}

	h.stats.DocumentsDeleted.Inc()
	if h.broker != nil {
		h.broker.PublishChange("deleted", p.String())
	}
	w.Header().Set("ETag", quoteETag(prior.String()))
	w.WriteHeader(http.StatusOK)
}

// Usage handles GET /usage/{user}: the user's recursive storage size.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	p, err := rspath.Parse("/" + user + "/")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid user"))
		return
	}
	size, human, err := h.svc.Usage(r.Context(), p)
	if err != nil {
		slog.Error("usage failed", slog.String("user", user), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bytes": size,
		"human": human,
	})
}
