package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hospital-backend/internal/db"
	"hospital-backend/internal/storage"
	"hospital-backend/internal/web"
)

const discardTimeout = 10 * time.Second

// documentFromRequest builds a document from whichever body stage ran:
// a JSON object, multipart fields or URL-encoded fields.
func documentFromRequest(r *http.Request) (db.Document, error) {
	if raw := web.JSONBody(r.Context()); len(raw) > 0 {
		var doc db.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, web.NewError(http.StatusBadRequest, "request body must be a JSON object")
		}
		if doc == nil {
			doc = db.Document{}
		}
		return doc, checkFieldNames(doc)
	}

	form := r.PostForm
	if up := web.UploadFrom(r.Context()); up != nil {
		form = up.Fields
	}
	doc := formDocument(form)
	return doc, checkFieldNames(doc)
}

func formDocument(form url.Values) db.Document {
	doc := make(db.Document, len(form))
	for k, v := range form {
		if len(v) == 1 {
			doc[k] = v[0]
		} else {
			doc[k] = v
		}
	}
	return doc
}

// checkFieldNames rejects keys MongoDB would interpret as operators or paths.
func checkFieldNames(v any) error {
	switch t := v.(type) {
	case db.Document:
		for k, val := range t {
			if err := checkFieldName(k); err != nil {
				return err
			}
			if err := checkFieldNames(val); err != nil {
				return err
			}
		}
	case map[string]any:
		return checkFieldNames(db.Document(t))
	case []any:
		for _, val := range t {
			if err := checkFieldNames(val); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkFieldName(k string) error {
	if k == "" || strings.HasPrefix(k, "$") || strings.Contains(k, ".") {
		return web.NewError(http.StatusBadRequest, fmt.Sprintf("invalid field name %q", k))
	}
	return nil
}

// attach uploads every buffered file and records a reference to it in doc
// under its form field. It returns the stored object keys.
func (h *handler) attach(r *http.Request, doc db.Document) ([]string, error) {
	up := web.UploadFrom(r.Context())
	if up == nil || len(up.Files) == 0 {
		return nil, nil
	}
	if h.uploader == nil {
		return nil, web.NewError(http.StatusServiceUnavailable, "file storage is not configured")
	}

	var keys []string
	for field, files := range up.Files {
		if err := checkFieldName(field); err != nil {
			h.discard(r, keys)
			return nil, err
		}
		refs := make([]db.Document, 0, len(files))
		for _, f := range files {
			obj, err := h.put(r.Context(), f)
			if err != nil {
				h.discard(r, keys)
				return nil, web.WrapError(http.StatusServiceUnavailable, "file storage unavailable", err)
			}
			keys = append(keys, obj.Key)
			refs = append(refs, attachment(f, obj))
		}
		if len(refs) == 1 {
			doc[field] = refs[0]
		} else {
			doc[field] = refs
		}
	}
	return keys, nil
}

// objectKey places attachments under the collection name with a random,
// non-guessable base name.
func (h *handler) objectKey(filename string) string {
	return h.store.Name() + "/" + uuid.NewString() + strings.ToLower(filepath.Ext(filename))
}

func (h *handler) put(ctx context.Context, f *web.File) (storage.Object, error) {
	rc, err := f.Open()
	if err != nil {
		return storage.Object{}, err
	}
	defer rc.Close()
	return h.uploader.Upload(ctx, h.objectKey(f.Filename), rc, f.Size, f.ContentType)
}

func attachment(f *web.File, obj storage.Object) db.Document {
	return db.Document{
		"key":         obj.Key,
		"url":         obj.URL,
		"filename":    f.Filename,
		"contentType": f.ContentType,
		"size":        f.Size,
	}
}

// discard removes objects uploaded for a request whose document was not
// written. Failures are logged only.
func (h *handler) discard(r *http.Request, keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), discardTimeout)
	defer cancel()

	log := zerolog.Ctx(r.Context())
	for _, key := range keys {
		if err := h.uploader.Remove(ctx, key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("attachment_cleanup_failed")
		}
	}
}
