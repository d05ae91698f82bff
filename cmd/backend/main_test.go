package main

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

var envKeys = []string{
	"MONGO_URI", "MONGO_DB_NAME", "DB_CONNECT_TIMEOUT", "DB_AWAIT_BEFORE_LISTEN",
	"PORT", "APP_ENV", "LOG_LEVEL", "LOG_FORMAT", "CORS_ALLOWED_ORIGINS",
	"UPLOAD_TEMP_DIR", "MAX_UPLOAD_BYTES", "MAX_JSON_BYTES", "SHUTDOWN_TIMEOUT",
	"STORAGE_ENDPOINT", "STORAGE_BUCKET", "STORAGE_API_KEY", "STORAGE_API_SECRET", "STORAGE_PUBLIC_URL",
}

// clearEnv unsets every variable run reads; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

// syncBuffer is written by the logger from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func runWithDeadline(t *testing.T, ctx context.Context, limit time.Duration) (int, string) {
	t.Helper()
	out := &syncBuffer{}
	done := make(chan int, 1)
	go func() { done <- run(ctx, out) }()

	select {
	case code := <-done:
		return code, out.String()
	case <-time.After(limit):
		t.Fatalf("run did not return within %s; output:\n%s", limit, out.String())
		return 0, ""
	}
}

func TestRun_MissingMongoURI(t *testing.T) {
	clearEnv(t)

	code, out := runWithDeadline(t, context.Background(), 5*time.Second)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "MONGO_URI is not defined") {
		t.Errorf("output missing MONGO_URI message:\n%s", out)
	}
	if strings.Contains(out, "db_connecting") {
		t.Error("no connection attempt should be made without a URI")
	}
}

func TestRun_InvalidOptionalSettingsAreWarnings(t *testing.T) {
	clearEnv(t)
	// A non-mongodb scheme is left to the connector to reject.
	t.Setenv("MONGO_URI", "postgres://127.0.0.1:1")
	t.Setenv("APP_ENV", "test")
	t.Setenv("LOG_LEVEL", "trace")
	t.Setenv("PORT", "not-a-port")
	t.Setenv("UPLOAD_TEMP_DIR", t.TempDir())

	code, out := runWithDeadline(t, context.Background(), 5*time.Second)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if strings.Contains(out, "config_invalid") {
		t.Errorf("optional settings must not fail validation:\n%s", out)
	}
	for _, field := range []string{"APP_ENV", "LOG_LEVEL", "PORT", "MONGO_URI"} {
		if !strings.Contains(out, field+":") {
			t.Errorf("output missing warning for %s:\n%s", field, out)
		}
	}
	if !strings.Contains(out, "error connecting to MongoDB") {
		t.Errorf("malformed URI should fail in the connector:\n%s", out)
	}
}

func TestRun_UnreachableDatabaseFailsBeforeListen(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URI", "mongodb://127.0.0.1:1/?directConnection=true")
	t.Setenv("DB_CONNECT_TIMEOUT", "300ms")
	t.Setenv("PORT", "0")
	t.Setenv("UPLOAD_TEMP_DIR", t.TempDir())

	code, out := runWithDeadline(t, context.Background(), 10*time.Second)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "error connecting to MongoDB") {
		t.Errorf("output missing connect error:\n%s", out)
	}
	if strings.Contains(out, "server running on port") {
		t.Error("listener must not be bound when the database is unreachable")
	}
}

func TestRun_BackgroundConnectFailureStopsServer(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URI", "mongodb://127.0.0.1:1/?directConnection=true")
	t.Setenv("DB_CONNECT_TIMEOUT", "300ms")
	t.Setenv("DB_AWAIT_BEFORE_LISTEN", "false")
	t.Setenv("PORT", "0")
	t.Setenv("UPLOAD_TEMP_DIR", t.TempDir())

	code, out := runWithDeadline(t, context.Background(), 10*time.Second)
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(out, "server running on port") {
		t.Errorf("listener should be bound before the connect completes:\n%s", out)
	}
	if !strings.Contains(out, "error connecting to MongoDB") {
		t.Errorf("output missing connect error:\n%s", out)
	}
}

func TestRun_CancelledContextShutsDownCleanly(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URI", "mongodb://127.0.0.1:1/?directConnection=true")
	t.Setenv("DB_CONNECT_TIMEOUT", "5s")
	t.Setenv("DB_AWAIT_BEFORE_LISTEN", "false")
	t.Setenv("PORT", "0")
	t.Setenv("UPLOAD_TEMP_DIR", t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	code, out := runWithDeadline(t, ctx, 10*time.Second)
	if code != 0 {
		t.Errorf("exit code = %d, want 0; output:\n%s", code, out)
	}
	if !strings.Contains(out, "shutdown_complete") {
		t.Errorf("output missing shutdown_complete:\n%s", out)
	}
}

func TestRun_CancelledDuringConnectExitsCleanly(t *testing.T) {
	clearEnv(t)
	t.Setenv("MONGO_URI", "mongodb://127.0.0.1:1/?directConnection=true")
	t.Setenv("DB_CONNECT_TIMEOUT", "5s")
	t.Setenv("PORT", "0")
	t.Setenv("UPLOAD_TEMP_DIR", t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	code, out := runWithDeadline(t, ctx, 10*time.Second)
	if code != 0 {
		t.Errorf("exit code = %d, want 0; output:\n%s", code, out)
	}
	if strings.Contains(out, "startup_aborted") {
		t.Errorf("a cancelled wait is not a startup failure:\n%s", out)
	}
	if strings.Contains(out, "server running on port") {
		t.Error("listener must not be bound while the database gate is pending")
	}
}
