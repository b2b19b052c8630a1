package localctrl

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"logingest/src/apperr"
	"logingest/src/core/job"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Config{Root: t.TempDir(), PublicURL: "http://localhost:8080/", Secret: "local-secret"})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func tokenFrom(t *testing.T, raw string) (string, string) {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimPrefix(u.Path, UploadPath), u.Query().Get("token")
}

func TestUploadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := "raw-logs/abc.log"

	raw, err := s.PresignedUploadURL(ctx, key, 30*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(raw, "http://localhost:8080/uploads/raw-logs/abc.log?token=") {
		t.Errorf("URL = %s", raw)
	}

	gotKey, token := tokenFrom(t, raw)
	if gotKey != key {
		t.Errorf("key in URL = %q, want %q", gotKey, key)
	}
	if err := s.Authorize(key, token); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if err := s.Authorize("raw-logs/other.log", token); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Errorf("Authorize(other key) error = %v, want INVALID_TOKEN", err)
	}

	if ok, _ := s.Exists(ctx, key); ok {
		t.Fatal("object exists before upload")
	}
	n, err := s.Write(key, strings.NewReader(`{"level":"info"}`), 1024)
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 16 {
		t.Errorf("Write() = %d bytes, want 16", n)
	}
	if ok, err := s.Exists(ctx, key); !ok || err != nil {
		t.Errorf("Exists() = %v, %v after upload", ok, err)
	}
	if s.Type() != job.StorageLocal {
		t.Errorf("Type() = %s", s.Type())
	}
}

func TestAuthorizeExpired(t *testing.T) {
	s := newTestStore(t)
	s.now = func() time.Time { return time.Now().Add(-time.Hour) }

	raw, err := s.PresignedUploadURL(context.Background(), "raw-logs/a.log", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	s.now = time.Now

	_, token := tokenFrom(t, raw)
	if err := s.Authorize("raw-logs/a.log", token); !errors.Is(err, apperr.ErrInvalidToken) {
		t.Errorf("Authorize(expired) error = %v, want INVALID_TOKEN", err)
	}
}

func TestWriteLimit(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write("raw-logs/big.log", strings.NewReader(strings.Repeat("x", 11)), 10)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("Write() error = %v, want VALIDATION_ERROR", err)
	}
	if ok, _ := s.Exists(context.Background(), "raw-logs/big.log"); ok {
		t.Error("oversized upload left a file behind")
	}
}

func TestRejectsUnsafeKeys(t *testing.T) {
	s := newTestStore(t)
	for _, key := range []string{"", "../etc/passwd", "raw-logs/../../x", "/abs.log", "raw-logs//a.log"} {
		if _, err := s.Exists(context.Background(), key); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("Exists(%q) error = %v, want VALIDATION_ERROR", key, err)
		}
	}
}
