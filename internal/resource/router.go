// Package resource provides the document routers mounted under the API
// prefix. Each router exposes list, create, get, update and delete over one
// collection and forwards multipart attachments to object storage.
package resource

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"hospital-backend/internal/db"
	"hospital-backend/internal/storage"
	"hospital-backend/internal/web"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Store is the document persistence a router needs. *db.Collection
// satisfies it.
type Store interface {
	Name() string
	Insert(ctx context.Context, doc db.Document) (db.Document, error)
	List(ctx context.Context, limit int64) ([]db.Document, error)
	Get(ctx context.Context, id string) (db.Document, error)
	Update(ctx context.Context, id string, fields db.Document) (db.Document, error)
	Delete(ctx context.Context, id string) error
}

// Uploader stores attachments. *storage.Client satisfies it.
type Uploader interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (storage.Object, error)
	Remove(ctx context.Context, key string) error
}

type response struct {
	Success  bool        `json:"success"`
	Message  string      `json:"message,omitempty"`
	Document db.Document `json:"document,omitempty"`
}

type handler struct {
	store    Store
	uploader Uploader
}

// NewRouter returns the routes for one collection. A nil uploader disables
// attachments; requests carrying files then fail with 503.
func NewRouter(store Store, uploader Uploader) chi.Router {
	h := &handler{store: store, uploader: uploader}

	r := chi.NewRouter()
	r.Get("/", web.Handle(h.list))
	r.Post("/", web.Handle(h.create))
	r.Get("/{id}", web.Handle(h.get))
	r.Put("/{id}", web.Handle(h.update))
	r.Delete("/{id}", web.Handle(h.delete))
	return r
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) error {
	limit := DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return web.NewError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, MaxLimit)
	}

	docs, err := h.store.List(r.Context(), int64(limit))
	if err != nil {
		return h.storeError(err)
	}
	if docs == nil {
		docs = []db.Document{}
	}
	return writeDocuments(w, docs)
}

func (h *handler) create(w http.ResponseWriter, r *http.Request) error {
	doc, err := documentFromRequest(r)
	if err != nil {
		return err
	}
	keys, err := h.attach(r, doc)
	if err != nil {
		return err
	}
	if len(doc) == 0 {
		return web.NewError(http.StatusBadRequest, "request body is empty")
	}

	stored, err := h.store.Insert(r.Context(), doc)
	if err != nil {
		h.discard(r, keys)
		return h.storeError(err)
	}
	return web.WriteJSON(w, http.StatusCreated, response{Success: true, Document: stored})
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) error {
	doc, err := h.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return h.storeError(err)
	}
	return web.WriteJSON(w, http.StatusOK, response{Success: true, Document: doc})
}

func (h *handler) update(w http.ResponseWriter, r *http.Request) error {
	fields, err := documentFromRequest(r)
	if err != nil {
		return err
	}
	keys, err := h.attach(r, fields)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return web.NewError(http.StatusBadRequest, "no fields to update")
	}

	doc, err := h.store.Update(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		h.discard(r, keys)
		return h.storeError(err)
	}
	return web.WriteJSON(w, http.StatusOK, response{Success: true, Document: doc})
}

func (h *handler) delete(w http.ResponseWriter, r *http.Request) error {
	if err := h.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		return h.storeError(err)
	}
	return web.WriteJSON(w, http.StatusOK, response{Success: true, Message: "document deleted"})
}

func writeDocuments(w http.ResponseWriter, docs []db.Document) error {
	return web.WriteJSON(w, http.StatusOK, struct {
		Success   bool          `json:"success"`
		Documents []db.Document `json:"documents"`
	}{true, docs})
}

// storeError maps persistence failures onto HTTP errors.
func (h *handler) storeError(err error) error {
	switch {
	case errors.Is(err, db.ErrInvalidID):
		return web.WrapError(http.StatusBadRequest, "invalid id", err)
	case errors.Is(err, db.ErrNotFound):
		return web.WrapError(http.StatusNotFound, h.store.Name()+" document not found", err)
	case errors.Is(err, db.ErrNotConnected):
		return web.WrapError(http.StatusServiceUnavailable, "database unavailable", err)
	case errors.Is(err, context.DeadlineExceeded):
		return web.WrapError(http.StatusServiceUnavailable, "database timeout", err)
	default:
		return web.WrapError(http.StatusInternalServerError, "Internal Server Error", err)
	}
}
