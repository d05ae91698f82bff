package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func chain(h http.Handler, stages ...func(http.Handler) http.Handler) http.Handler {
	for i := len(stages) - 1; i >= 0; i-- {
		h = stages[i](h)
	}
	return ErrorHandler(h)
}

func TestParseCookies(t *testing.T) {
	var got map[string]string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = Cookies(r.Context())
	}), ParseCookies)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Cookie", "patientToken=abc; adminToken=xyz; patientToken=dup")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got["patientToken"] != "abc" || got["adminToken"] != "xyz" {
		t.Errorf("Cookies() = %v", got)
	}
}

func TestCookies_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if c := Cookies(req.Context()); c == nil || len(c) != 0 {
		t.Errorf("Cookies() without middleware = %v, want empty map", c)
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		wantStatus  int
		wantRouter  bool
	}{
		{"valid object", "application/json", `{"firstName":"Ada"}`, http.StatusOK, true},
		{"valid with charset", "application/json; charset=utf-8", `[1,2]`, http.StatusOK, true},
		{"empty body", "application/json", ``, http.StatusOK, true},
		{"malformed", "application/json", `{"firstName":`, http.StatusBadRequest, false},
		{"too large", "application/json", `{"note":"` + strings.Repeat("x", 64) + `"}`, http.StatusRequestEntityTooLarge, false},
		{"not json", "text/plain", `{not json`, http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			routerRan := false
			h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				routerRan = true
				if tt.contentType != "text/plain" {
					b, _ := io.ReadAll(r.Body)
					if string(b) != tt.body {
						t.Errorf("body not rewound: %q", b)
					}
				}
			}), ParseJSON(32))

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if routerRan != tt.wantRouter {
				t.Errorf("router ran = %v, want %v", routerRan, tt.wantRouter)
			}
			if !tt.wantRouter {
				if body := decodeError(t, rr); body.Success {
					t.Errorf("expected success=false, got %+v", body)
				}
			}
		})
	}
}

func TestJSONBody(t *testing.T) {
	var raw json.RawMessage
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw = JSONBody(r.Context())
	}), ParseJSON(1024))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), req)

	if string(raw) != `{"a":1}` {
		t.Errorf("JSONBody() = %q", raw)
	}
}

func TestParseURLEncoded(t *testing.T) {
	var got string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.PostForm.Get("email")
	}), ParseURLEncoded(1024))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("email=ada%40example.com&role=Patient"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got != "ada@example.com" {
		t.Errorf("email = %q", got)
	}
}

func TestParseURLEncoded_Malformed(t *testing.T) {
	routerRan := false
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routerRan = true
	}), ParseURLEncoded(1024))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("a=%zz"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if routerRan {
		t.Error("router must not run after a body parsing failure")
	}
}

func TestParseURLEncoded_TooLarge(t *testing.T) {
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), ParseURLEncoded(8))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("note="+strings.Repeat("x", 64)))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}
}
