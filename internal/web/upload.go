package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"

	"github.com/rs/zerolog"
)

const (
	// DefaultMaxFieldBytes caps a single non-file multipart field.
	DefaultMaxFieldBytes = 1 << 20
	defaultContentType   = "application/octet-stream"
)

// File is an uploaded file buffered to local disk.
type File struct {
	Field       string
	Filename    string
	ContentType string
	Size        int64
	Path        string
}

// Open opens the temporary file for reading.
func (f *File) Open() (*os.File, error) {
	return os.Open(f.Path)
}

// Upload is the parsed multipart body of a request.
type Upload struct {
	Fields url.Values
	Files  map[string][]*File
}

// File returns the first file uploaded under field, or nil.
func (u *Upload) File(field string) *File {
	if u == nil || len(u.Files[field]) == 0 {
		return nil
	}
	return u.Files[field][0]
}

// All returns every uploaded file.
func (u *Upload) All() []*File {
	if u == nil {
		return nil
	}
	var all []*File
	for _, files := range u.Files {
		all = append(all, files...)
	}
	return all
}

func (u *Upload) cleanup(log *zerolog.Logger) {
	for _, f := range u.All() {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", f.Path).Msg("temp_file_cleanup_failed")
		}
	}
}

// UploadFrom returns the multipart upload of the request, or nil when the
// request was not multipart.
func UploadFrom(ctx context.Context) *Upload {
	u, _ := ctx.Value(uploadKey).(*Upload)
	return u
}

// UploadOptions configures ParseMultipart.
type UploadOptions struct {
	// Dir receives the temporary files. Empty means os.TempDir().
	Dir string
	// MaxBytes caps the whole request body.
	MaxBytes int64
	// MaxFieldBytes caps each non-file field. Zero means DefaultMaxFieldBytes.
	MaxFieldBytes int64
	// OnFile, if set, is called for each file once it has been buffered.
	OnFile func(*File)
}

// ParseMultipart buffers multipart/form-data file parts to temporary files
// before the handler runs. Field values land in r.PostForm and r.Form. The
// temporary files are removed when the handler returns.
func ParseMultipart(opts UploadOptions) func(http.Handler) http.Handler {
	if opts.MaxFieldBytes <= 0 {
		opts.MaxFieldBytes = DefaultMaxFieldBytes
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mediaType(r) != "multipart/form-data" {
				next.ServeHTTP(w, r)
				return
			}

			if opts.MaxBytes > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, opts.MaxBytes)
			}

			mr, err := r.MultipartReader()
			if err != nil {
				Fail(w, r, WrapError(http.StatusBadRequest, "malformed multipart body", err))
				return
			}

			up := &Upload{Fields: url.Values{}, Files: map[string][]*File{}}
			defer up.cleanup(zerolog.Ctx(r.Context()))

			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				if err != nil {
					Fail(w, r, bodyError(err, "malformed multipart body"))
					return
				}

				if part.FileName() == "" {
					value, err := readField(part, opts.MaxFieldBytes)
					_ = part.Close()
					if err != nil {
						Fail(w, r, err)
						return
					}
					up.Fields.Add(part.FormName(), value)
					continue
				}

				f, err := bufferFile(part, opts.Dir)
				_ = part.Close()
				if f != nil {
					// Registered before the error check so partial files are removed too.
					up.Files[f.Field] = append(up.Files[f.Field], f)
				}
				if err != nil {
					Fail(w, r, err)
					return
				}
				if opts.OnFile != nil {
					opts.OnFile(f)
				}
			}

			r.PostForm = up.Fields
			form := r.URL.Query()
			for k, vs := range up.Fields {
				form[k] = append(form[k], vs...)
			}
			r.Form = form

			ctx := context.WithValue(r.Context(), uploadKey, up)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func readField(part io.Reader, limit int64) (string, error) {
	b, err := io.ReadAll(io.LimitReader(part, limit+1))
	if err != nil {
		return "", bodyError(err, "malformed multipart body")
	}
	if int64(len(b)) > limit {
		return "", NewError(http.StatusRequestEntityTooLarge, "form field too large")
	}
	return string(b), nil
}

// bufferFile copies part to a new temporary file in dir. The returned File is
// non-nil whenever a temporary file was created, even on error.
func bufferFile(part *multipart.Part, dir string) (*File, error) {
	name := SanitizeFilename(part.FileName())
	if err := CheckUploadFilename(name); err != nil {
		return nil, WrapError(http.StatusBadRequest, err.Error(), err)
	}

	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return nil, WrapError(http.StatusInternalServerError, "Internal Server Error", fmt.Errorf("create temp file: %w", err))
	}

	f := &File{
		Field:       part.FormName(),
		Filename:    name,
		ContentType: part.Header.Get("Content-Type"),
		Path:        tmp.Name(),
	}
	if f.ContentType == "" {
		f.ContentType = defaultContentType
	}

	n, copyErr := io.Copy(tmp, part)
	closeErr := tmp.Close()
	f.Size = n

	if copyErr != nil {
		return f, bodyError(copyErr, "malformed multipart body")
	}
	if closeErr != nil {
		return f, WrapError(http.StatusInternalServerError, "Internal Server Error", fmt.Errorf("close temp file: %w", closeErr))
	}
	return f, nil
}
