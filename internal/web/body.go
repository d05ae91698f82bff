// Package web holds the request pipeline stages shared by every route group:
// cookie and body parsing, multipart uploads to temporary files, and the
// central error handler.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
)

type ctxKey string

const (
	cookiesKey ctxKey = "cookies"
	jsonKey    ctxKey = "json_body"
	uploadKey  ctxKey = "upload"
)

// mediaType returns the lower-cased media type of the request body.
func mediaType(r *http.Request) string {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return mt
}

// bodyError maps a body read failure to a client error.
func bodyError(err error, message string) *Error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return WrapError(http.StatusRequestEntityTooLarge, "request body too large", err)
	}
	return WrapError(http.StatusBadRequest, message, err)
}

// ParseCookies makes the request cookies available through Cookies.
func ParseCookies(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies := make(map[string]string)
		for _, c := range r.Cookies() {
			if _, seen := cookies[c.Name]; !seen {
				cookies[c.Name] = c.Value
			}
		}
		ctx := context.WithValue(r.Context(), cookiesKey, cookies)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Cookies returns the parsed cookies, first value per name.
func Cookies(ctx context.Context) map[string]string {
	if m, ok := ctx.Value(cookiesKey).(map[string]string); ok {
		return m
	}
	return map[string]string{}
}

// ParseJSON validates application/json bodies of at most limit bytes. The raw
// body is stored on the context and the request body is rewound, so handlers
// can decode it again. Malformed bodies stop the chain with 400.
func ParseJSON(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mediaType(r) != "application/json" || r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
			if err != nil {
				Fail(w, r, bodyError(err, "could not read request body"))
				return
			}

			ctx := r.Context()
			if len(bytes.TrimSpace(body)) > 0 {
				if !json.Valid(body) {
					Fail(w, r, NewError(http.StatusBadRequest, "malformed JSON body"))
					return
				}
				ctx = context.WithValue(ctx, jsonKey, json.RawMessage(body))
			}

			r = r.WithContext(ctx)
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// JSONBody returns the validated JSON body, or nil when there was none.
func JSONBody(ctx context.Context) json.RawMessage {
	raw, _ := ctx.Value(jsonKey).(json.RawMessage)
	return raw
}

// ParseURLEncoded parses application/x-www-form-urlencoded bodies of at most
// limit bytes into r.Form and r.PostForm.
func ParseURLEncoded(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mediaType(r) != "application/x-www-form-urlencoded" {
				next.ServeHTTP(w, r)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, limit)
			if err := r.ParseForm(); err != nil {
				Fail(w, r, bodyError(err, "malformed form body"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
