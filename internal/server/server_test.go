package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/gerbershot/internal/testutil"
	"github.com/matzehuels/gerbershot/pkg/errors"
	"github.com/matzehuels/gerbershot/pkg/layers"
	"github.com/matzehuels/gerbershot/pkg/pipeline"
	"github.com/matzehuels/gerbershot/pkg/raster"
	"github.com/matzehuels/gerbershot/pkg/stackup"
	"github.com/matzehuels/gerbershot/pkg/store"
)

var fakeComposer = stackup.ComposerFunc(func(ctx context.Context, ls []layers.Layer) (*stackup.Stackup, error) {
	var b bytes.Buffer
	for _, l := range ls {
		io.Copy(&b, l.Reader)
	}
	return &stackup.Stackup{Top: b.Bytes()}, nil
})

var fakeRasterizer = raster.RasterizerFunc(func(ctx context.Context, svg []byte, cfg raster.Config, dst string) error {
	return raster.WriteAtomic(dst, func(w io.Writer) error {
		_, err := w.Write(svg)
		return err
	})
})

type testServer struct {
	*httptest.Server
	dir     string
	scratch string
	output  string
	store   *store.Memory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	ts := &testServer{
		dir:     dir,
		scratch: filepath.Join(dir, "tmp"),
		output:  filepath.Join(dir, "img"),
		store:   store.NewMemory(),
	}
	runner, err := pipeline.NewRunner(pipeline.Options{
		ScratchRoot: ts.scratch,
		OutputRoot:  ts.output,
		Composer:    fakeComposer,
		Rasterizer:  fakeRasterizer,
	})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Options{
		Runner: runner,
		Render: raster.DefaultConfig(),
		Store:  ts.store,
		Logger: log.New(io.Discard),
	})
	if err != nil {
		t.Fatal(err)
	}
	ts.Server = httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type upload struct {
	field string
	name  string
	data  []byte
}

func (ts *testServer) post(t *testing.T, files ...upload) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		w, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(f.data)
	}
	mw.Close()
	resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST /upload: %v", err)
	}
	return resp
}

func (ts *testServer) boardZip(t *testing.T, entries []testutil.Entry) []byte {
	t.Helper()
	path := testutil.WriteZip(t, t.TempDir(), "board.zip", entries)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

// assertNoResidue fails if anything besides the empty uploads directory is
// left in the scratch root.
func (ts *testServer) assertNoResidue(t *testing.T) {
	t.Helper()
	if n := testutil.CountFiles(t, ts.scratch); n != 0 {
		t.Errorf("scratch root holds %d files after request", n)
	}
	entries, _ := os.ReadDir(ts.scratch)
	for _, e := range entries {
		if e.Name() != uploadsDir {
			t.Errorf("unexpected scratch entry %s", e.Name())
		}
	}
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestUploadSuccess(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, upload{FormField, "board.zip", ts.boardZip(t, testutil.BoardEntries())})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got := decode[uploadResponse](t, resp)
	if got.Image != "board.png" || got.FileCount != 6 {
		t.Errorf("response = %+v", got)
	}
	wantURL := "/img/" + got.ID + "/board.png"
	if got.URL != wantURL {
		t.Errorf("URL = %q, want %q", got.URL, wantURL)
	}

	img, err := http.Get(ts.URL + got.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer img.Body.Close()
	if img.StatusCode != http.StatusOK {
		t.Errorf("GET %s status = %d", got.URL, img.StatusCode)
	}

	rec, _ := ts.store.Get(context.Background(), got.ID)
	if rec == nil || rec.Status != store.StatusSucceeded || rec.Archive != "board.zip" {
		t.Errorf("record = %+v", rec)
	}
	ts.assertNoResidue(t)
}

func TestUploadRejections(t *testing.T) {
	tests := []struct {
		name     string
		files    func(ts *testServer, t *testing.T) []upload
		status   int
		wantCode errors.Code
	}{
		{
			name:     "no files",
			files:    func(*testServer, *testing.T) []upload { return nil },
			status:   http.StatusBadRequest,
			wantCode: errors.ErrCodeInvalidInput,
		},
		{
			name: "two files",
			files: func(ts *testServer, t *testing.T) []upload {
				z := ts.boardZip(t, testutil.BoardEntries())
				return []upload{{FormField, "a.zip", z}, {FormField, "b.zip", z}}
			},
			status:   http.StatusBadRequest,
			wantCode: errors.ErrCodeInvalidInput,
		},
		{
			name: "wrong field",
			files: func(ts *testServer, t *testing.T) []upload {
				return []upload{{"file", "board.zip", ts.boardZip(t, testutil.BoardEntries())}}
			},
			status:   http.StatusBadRequest,
			wantCode: errors.ErrCodeInvalidInput,
		},
		{
			name: "hidden file name",
			files: func(ts *testServer, t *testing.T) []upload {
				return []upload{{FormField, ".board.zip", ts.boardZip(t, testutil.BoardEntries())}}
			},
			status:   http.StatusBadRequest,
			wantCode: errors.ErrCodeInvalidInput,
		},
		{
			name: "corrupt archive",
			files: func(*testServer, *testing.T) []upload {
				return []upload{{FormField, "board.zip", []byte("not a zip")}}
			},
			status:   http.StatusBadRequest,
			wantCode: errors.ErrCodeExtraction,
		},
		{
			name: "empty archive",
			files: func(ts *testServer, t *testing.T) []upload {
				return []upload{{FormField, "board.zip", ts.boardZip(t, nil)}}
			},
			status:   http.StatusBadRequest,
			wantCode: errors.ErrCodeEmptyArchive,
		},
		{
			name: "missing layer",
			files: func(ts *testServer, t *testing.T) []upload {
				return []upload{{FormField, "board.zip", ts.boardZip(t, testutil.BoardEntries()[:3])}}
			},
			status:   http.StatusBadRequest,
			wantCode: errors.ErrCodeMissingLayer,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			resp := ts.post(t, tt.files(ts, t)...)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			got := decode[errorResponse](t, resp)
			if got.Code != tt.wantCode {
				t.Errorf("code = %s, want %s (%+v)", got.Code, tt.wantCode, got)
			}
			if got.Error != errors.Describe(tt.wantCode) {
				t.Errorf("error = %q, want %q", got.Error, errors.Describe(tt.wantCode))
			}
			ts.assertNoResidue(t)
		})
	}
}

func TestUploadFailureIsRecorded(t *testing.T) {
	ts := newTestServer(t)
	resp := ts.post(t, upload{FormField, "board.zip", ts.boardZip(t, testutil.BoardEntries()[:2])})
	got := decode[errorResponse](t, resp)

	lookup, err := http.Get(ts.URL + "/conversions/" + got.ID)
	if err != nil {
		t.Fatal(err)
	}
	if lookup.StatusCode != http.StatusOK {
		t.Fatalf("GET /conversions/%s status = %d", got.ID, lookup.StatusCode)
	}
	rec := decode[store.Record](t, lookup)
	if rec.Status != store.StatusFailed || rec.Code != errors.ErrCodeMissingLayer {
		t.Errorf("record = %+v", rec)
	}
	if !strings.Contains(rec.Message, layers.RoleSilkscreenTop) {
		t.Errorf("message = %q, want it to name the missing role", rec.Message)
	}
}

func TestConcurrentSameNameUploads(t *testing.T) {
	ts := newTestServer(t)
	const n = 4

	urls := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		entries := testutil.BoardEntries()
		entries[0].Body = fmt.Sprintf("board-%d\n", i)
		data := ts.boardZip(t, entries)
		wg.Add(1)
		go func(i int, data []byte) {
			defer wg.Done()
			var body bytes.Buffer
			mw := multipart.NewWriter(&body)
			w, _ := mw.CreateFormFile(FormField, "board.zip")
			w.Write(data)
			mw.Close()
			resp, err := http.Post(ts.URL+"/upload", mw.FormDataContentType(), &body)
			if err != nil {
				t.Error(err)
				return
			}
			defer resp.Body.Close()
			var got uploadResponse
			json.NewDecoder(resp.Body).Decode(&got)
			urls[i] = got.URL
		}(i, data)
	}
	wg.Wait()

	seen := map[string]bool{}
	for i, u := range urls {
		if u == "" || seen[u] {
			t.Fatalf("upload %d url = %q (seen before: %v)", i, u, seen[u])
		}
		seen[u] = true
		resp, err := http.Get(ts.URL + u)
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.HasPrefix(string(data), fmt.Sprintf("board-%d\n", i)) {
			t.Errorf("upload %d served another board: %q", i, data)
		}
	}
	ts.assertNoResidue(t)
}

func TestRoutes(t *testing.T) {
	ts := newTestServer(t)
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}

	tests := []struct {
		path   string
		status int
	}{
		{"/", http.StatusOK},
		{"/healthz", http.StatusOK},
		{"/upload", http.StatusFound},
		{"/conversions", http.StatusOK},
		{"/conversions/nope", http.StatusNotFound},
		{"/img/", http.StatusNotFound},
		{"/img/missing.png", http.StatusNotFound},
		{"/nowhere", http.StatusNotFound},
	}
	for _, tt := range tests {
		resp, err := client.Get(ts.URL + tt.path)
		if err != nil {
			t.Fatalf("GET %s: %v", tt.path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.status {
			t.Errorf("GET %s status = %d, want %d", tt.path, resp.StatusCode, tt.status)
		}
	}
}

func TestNewRequiresRunner(t *testing.T) {
	if _, err := New(Options{Render: raster.DefaultConfig()}); !errors.Is(err, errors.ErrCodeInvalidConfig) {
		t.Errorf("New error = %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	body := decode[map[string]string](t, resp)
	if body["status"] != "ok" || body["version"] == "" || body["go_version"] == "" {
		t.Errorf("healthz body = %v", body)
	}
}
