package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Error is a request-level failure with the HTTP status it maps to.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Status, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError returns an Error with the given status and client-facing message.
func NewError(status int, message string) *Error {
	return &Error{Status: status, Message: message}
}

// WrapError attaches a cause that is logged but not shown to the client.
func WrapError(status int, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type slotKey struct{}

// errorSlot carries the first error reported by any stage of a request back
// to ErrorHandler.
type errorSlot struct {
	err error
}

// Fail reports err for the current request. Under ErrorHandler the error is
// recorded and rendered once the chain unwinds; callers must return without
// writing a response or invoking the next stage. Outside ErrorHandler the
// response is written immediately.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	if slot, ok := r.Context().Value(slotKey{}).(*errorSlot); ok {
		if slot.err == nil {
			slot.err = err
		}
		return
	}
	WriteError(w, r, err)
}

// HandlerFunc is an http.HandlerFunc that returns its error instead of
// writing it.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Handle adapts fn to http.Handler, routing returned errors through Fail.
func Handle(fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(w, r); err != nil {
			Fail(w, r, err)
		}
	}
}

// ErrorHandler is the terminal error stage. It wraps every other stage so it
// observes errors reported through Fail anywhere in the chain, as well as
// panics, and produces the final JSON error response.
func ErrorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		slot := &errorSlot{}
		r = r.WithContext(context.WithValue(r.Context(), slotKey{}, slot))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				zerolog.Ctx(r.Context()).Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Msg("handler_panic")
				slot.err = NewError(http.StatusInternalServerError, "Internal Server Error")
			}
			if slot.err == nil {
				return
			}
			if ww.Status() != 0 {
				zerolog.Ctx(r.Context()).Error().Err(slot.err).
					Int("status", ww.Status()).
					Msg("error_after_response_started")
				return
			}
			WriteError(ww, r, slot.err)
		}()

		next.ServeHTTP(ww, r)
	})
}

// WriteError renders err as {"success":false,"message":...}. Errors that are
// not *Error become 500 with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Internal Server Error"

	var he *Error
	if errors.As(err, &he) {
		status = he.Status
		message = he.Message
	}

	log := zerolog.Ctx(r.Context())
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request_failed")

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Success: false, Message: message})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}
