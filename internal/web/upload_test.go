package web

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type multipartFile struct {
	field, name, contentType, content string
}

func multipartBody(t *testing.T, fields map[string]string, files ...multipartFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.field+`"; filename="`+f.name+`"`)
		if f.contentType != "" {
			h.Set("Content-Type", f.contentType)
		}
		part, err := mw.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write([]byte(f.content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return body, mw.FormDataContentType()
}

func TestParseMultipart_BuffersToTempDirAndCleansUp(t *testing.T) {
	dir := t.TempDir()
	var seen []*File
	var tempPath, content, field string

	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		up := UploadFrom(r.Context())
		if up == nil {
			t.Fatal("UploadFrom returned nil for multipart request")
		}
		f := up.File("docAvatar")
		if f == nil {
			t.Fatal("missing docAvatar file")
		}
		tempPath = f.Path
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		content = string(b)
		field = r.PostFormValue("firstName")
	}), ParseMultipart(UploadOptions{Dir: dir, MaxBytes: 1 << 20, OnFile: func(f *File) { seen = append(seen, f) }}))

	body, ct := multipartBody(t, map[string]string{"firstName": "Ada"},
		multipartFile{field: "docAvatar", name: "avatar.png", contentType: "image/png", content: "PNGDATA"})
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	if filepath.Dir(tempPath) != filepath.Clean(dir) {
		t.Errorf("temp file %q not under %q", tempPath, dir)
	}
	if content != "PNGDATA" {
		t.Errorf("content = %q", content)
	}
	if field != "Ada" {
		t.Errorf("firstName = %q", field)
	}
	if len(seen) != 1 || seen[0].Size != 7 || seen[0].ContentType != "image/png" || seen[0].Filename != "avatar.png" {
		t.Errorf("OnFile saw %+v", seen)
	}
	if _, err := os.Stat(tempPath); !os.IsNotExist(err) {
		t.Errorf("temp file should be removed after the handler returns, stat err = %v", err)
	}
}

func TestParseMultipart_DefaultContentType(t *testing.T) {
	var got string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = UploadFrom(r.Context()).File("report").ContentType
	}), ParseMultipart(UploadOptions{Dir: t.TempDir()}))

	body, ct := multipartBody(t, nil, multipartFile{field: "report", name: "lab.bin", content: "x"})
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if got != "application/octet-stream" {
		t.Errorf("ContentType = %q", got)
	}
}

func TestParseMultipart_RejectsExecutable(t *testing.T) {
	dir := t.TempDir()
	routerRan := false
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		routerRan = true
	}), ParseMultipart(UploadOptions{Dir: dir}))

	body, ct := multipartBody(t, nil, multipartFile{field: "file", name: "setup.exe", content: "MZ"})
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	if routerRan {
		t.Error("router must not run for a rejected upload")
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected no temp files left, found %d", len(entries))
	}
}

func TestParseMultipart_TooLargeRemovesPartialFile(t *testing.T) {
	dir := t.TempDir()
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("router must not run for an oversized upload")
	}), ParseMultipart(UploadOptions{Dir: dir, MaxBytes: 512}))

	body, ct := multipartBody(t, nil, multipartFile{field: "file", name: "scan.pdf", content: strings.Repeat("x", 4096)})
	req := httptest.NewRequest(http.MethodPost, "/", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rr.Code)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("expected partial temp file to be removed, found %d entries", len(entries))
	}
}

func TestParseMultipart_MalformedBoundary(t *testing.T) {
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("router must not run for a malformed body")
	}), ParseMultipart(UploadOptions{Dir: t.TempDir()}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("garbage"))
	req.Header.Set("Content-Type", "multipart/form-data")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestParseMultipart_NotMultipart(t *testing.T) {
	ran := false
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ran = true
		if UploadFrom(r.Context()) != nil {
			t.Error("UploadFrom should be nil for non-multipart requests")
		}
	}), ParseMultipart(UploadOptions{}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !ran {
		t.Error("handler did not run")
	}
}
