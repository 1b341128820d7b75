package seclog

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestS3ArchiverPutsObject(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := NewS3Archiver(context.Background(), S3Options{
		Bucket:    "audit",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	if err != nil {
		t.Fatalf("new archiver: %v", err)
	}
	a.now = func() time.Time { return time.Date(2024, 5, 7, 0, 0, 0, 0, time.UTC) }

	err = a.Archive(context.Background(), StreamLogin, []Entry{{ID: "e1", Type: LoginFailure}})
	if err != nil {
		t.Fatalf("archive: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut {
		t.Fatalf("expected PUT, got %s", method)
	}
	if !strings.HasPrefix(path, "/audit/security-archive/login_logs/2024/05/07/") {
		t.Fatalf("unexpected object path %s", path)
	}
	if !strings.Contains(body, `"e1"`) {
		t.Fatalf("entry not in object body")
	}
}

func TestS3ArchiverRequiresBucket(t *testing.T) {
	if _, err := NewS3Archiver(context.Background(), S3Options{}); err == nil {
		t.Fatalf("expected error without bucket")
	}
}
