package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHTTPUploaderSendsMultipartForm(t *testing.T) {
	var gotName, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "segmentcast/") {
			t.Errorf("User-Agent = %q", ua)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
			return
		}
		gotName = r.FormValue(FieldFilename)
		f, _, err := r.FormFile(FieldFile)
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotFile = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up := NewHTTP(srv.URL, 5*time.Second)
	if err := up.UploadFile(context.Background(), File{Filename: "clip-1-144p.webm", Data: []byte("webm")}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotName != "clip-1-144p.webm" || gotFile != "webm" {
		t.Errorf("server got filename=%q data=%q", gotName, gotFile)
	}
}

func TestHTTPUploaderRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	err := NewHTTP(srv.URL, time.Second).UploadFile(context.Background(), File{Filename: "a", Data: []byte("x")})
	if err == nil {
		t.Fatal("expected error for 507 response")
	}
}

func TestDirUploader(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	up, err := NewDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := up.UploadFile(context.Background(), File{Filename: "clip-1-144p.webm", Data: []byte("abc")}); err != nil {
		t.Fatalf("upload: %v", err)
	}
	b, err := os.ReadFile(filepath.Join(dir, "clip-1-144p.webm"))
	if err != nil || string(b) != "abc" {
		t.Fatalf("read back %q, %v", b, err)
	}

	for _, bad := range []string{"../x.webm", "a/b.webm", "", ".hidden"} {
		if err := up.UploadFile(context.Background(), File{Filename: bad}); err == nil {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}
