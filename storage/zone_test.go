package storage_test

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/bunny/client"
	"github.com/adamwoolhether/bunny/storage"
	"github.com/adamwoolhether/bunny/storage/storagetest"
)

const (
	testZone     = "test-zone"
	testPassword = "zone-password"
)

var testModified = time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

// newServer starts an in-memory zone holding objects, stamped with
// testModified.
func newServer(t *testing.T, objects map[string]string) *storagetest.Server {
	t.Helper()

	srv := storagetest.NewServer(testZone, testPassword, storagetest.WithClock(func() time.Time { return testModified }))
	t.Cleanup(srv.Close)

	for k, v := range objects {
		srv.PutObject(k, []byte(v))
	}

	return srv
}

// serverZone returns a zone reached through srv with a fast retry policy.
func serverZone(t *testing.T, srv *storagetest.Server, opts ...client.Option) *storage.Zone {
	t.Helper()

	z, err := srv.Zone(testOptions(opts)...)
	if err != nil {
		t.Fatalf("creating zone: %v", err)
	}

	return z
}

// newZone returns a zone served by h, for responses the in-memory server
// does not produce.
func newZone(t *testing.T, h http.Handler, opts ...client.Option) *storage.Zone {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	region, err := storage.CustomRegion(ts.URL)
	if err != nil {
		t.Fatalf("creating region: %v", err)
	}

	z, err := storage.New(testPassword, region, testZone, testOptions(opts)...)
	if err != nil {
		t.Fatalf("creating zone: %v", err)
	}

	return z
}

func testOptions(opts []client.Option) []client.Option {
	return append([]client.Option{
		client.WithRetryPolicy(client.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}),
		client.WithLogger(slog.New(slog.DiscardHandler)),
	}, opts...)
}

func writeProviderError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{"HttpCode": code, "Message": msg})
}

func TestNew_Validation(t *testing.T) {
	testCases := []struct {
		name     string
		password string
		region   storage.Region
		zone     string
	}{
		{name: "zero region", password: testPassword, zone: testZone},
		{name: "empty zone", password: testPassword, region: storage.Frankfurt},
		{name: "nested zone", password: testPassword, region: storage.Frankfurt, zone: "a/b"},
		{name: "empty password", region: storage.Frankfurt, zone: testZone},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := storage.New(tc.password, tc.region, tc.zone); !errors.Is(err, client.ErrConfig) {
				t.Errorf("exp ErrConfig, got %v", err)
			}
		})
	}
}

func TestParseRegion(t *testing.T) {
	testCases := []struct {
		in      string
		expName string
		expURL  string
		expErr  bool
	}{
		{in: "", expName: "de", expURL: "https://storage.bunnycdn.com"},
		{in: "falkenstein", expName: "de", expURL: "https://storage.bunnycdn.com"},
		{in: "NY", expName: "ny", expURL: "https://ny.storage.bunnycdn.com"},
		{in: "syd", expName: "syd", expURL: "https://syd.storage.bunnycdn.com"},
		{in: "http://localhost:8080/", expName: "custom", expURL: "http://localhost:8080"},
		{in: "mars", expErr: true},
		{in: "ftp://example.com", expErr: true},
		{in: "https://example.com/?q=1", expErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			r, err := storage.ParseRegion(tc.in)
			if tc.expErr {
				if err == nil {
					t.Fatalf("exp an error, got region %v", r)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if r.String() != tc.expName || r.Endpoint() != tc.expURL {
				t.Errorf("exp %s %s, got %s %s", tc.expName, tc.expURL, r, r.Endpoint())
			}
		})
	}
}

func TestRegions_ReturnsCopy(t *testing.T) {
	regions := storage.Regions()
	regions[0] = storage.Region{}

	if storage.Regions()[0].IsZero() {
		t.Error("exp Regions to return a copy")
	}
}

func TestZone_InvalidPaths(t *testing.T) {
	srv := newServer(t, nil)
	z := serverZone(t, srv)

	paths := []string{"", "/", "dir/", "a/../b", "./a", "a//b", "a\nb"}
	for _, p := range paths {
		t.Run(strconv.Quote(p), func(t *testing.T) {
			if _, err := z.Stat(t.Context(), p); !errors.Is(err, storage.ErrInvalidPath) {
				t.Errorf("stat: exp ErrInvalidPath, got %v", err)
			}
			if _, err := z.Download(t.Context(), p); !errors.Is(err, storage.ErrInvalidPath) {
				t.Errorf("download: exp ErrInvalidPath, got %v", err)
			}
			if _, err := z.Upload(t.Context(), p, strings.NewReader("x"), 1); !errors.Is(err, storage.ErrInvalidPath) {
				t.Errorf("upload: exp ErrInvalidPath, got %v", err)
			}
		})
	}

	if n := srv.Requests(""); n != 0 {
		t.Error("exp invalid paths to be rejected before any request")
	}
}

func TestZone_Stat(t *testing.T) {
	const content = "hello, bunny"
	z := serverZone(t, newServer(t, map[string]string{"docs/hello.txt": content}))

	info, err := z.Stat(t.Context(), "/docs/hello.txt")
	if err != nil {
		t.Fatal(err)
	}

	sum := sha256.Sum256([]byte(content))
	exp := storage.ObjectInfo{
		Path:         "docs/hello.txt",
		Size:         int64(len(content)),
		ContentType:  "application/octet-stream",
		LastModified: testModified,
		Checksum:     strings.ToUpper(hex.EncodeToString(sum[:])),
	}
	if diff := cmp.Diff(exp, info); diff != "" {
		t.Errorf("info mismatch (-want +got):\n%s", diff)
	}

	if stats := z.Client().PoolStats(); stats.InFlight != 0 {
		t.Errorf("exp no bodies in flight, got %+v", stats)
	}
}

func TestZone_Delete(t *testing.T) {
	srv := newServer(t, map[string]string{"a.txt": "a", "dir/b.txt": "b", "dir/sub/c.txt": "c"})
	z := serverZone(t, srv)

	if err := z.Delete(t.Context(), "a.txt"); err != nil {
		t.Fatalf("exp no error, got %v", err)
	}
	if _, ok := srv.Object("a.txt"); ok {
		t.Error("exp the object to be gone")
	}

	if err := z.Delete(t.Context(), "dir/"); err != nil {
		t.Fatalf("exp deleting a directory to succeed, got %v", err)
	}
	if keys := srv.Keys(); len(keys) != 0 {
		t.Errorf("exp the directory to be removed recursively, got %v", keys)
	}

	err := z.Delete(t.Context(), "a.txt")
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("exp ErrNotFound, got %v", err)
	}

	var serr *client.StatusError
	if !errors.As(err, &serr) || serr.Attempts != 1 || serr.Message != "Object Not Found" {
		t.Errorf("exp a single attempt with the provider message, got %+v", serr)
	}

	if err := z.Delete(t.Context(), "/"); !errors.Is(err, storage.ErrInvalidPath) {
		t.Errorf("exp deleting the root to be refused, got %v", err)
	}
}

func TestZone_WrongPassword(t *testing.T) {
	srv := newServer(t, map[string]string{"a.txt": "a"})

	z, err := storage.New("wrong", srv.Region(), testZone, client.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatal(err)
	}

	_, err = z.Stat(t.Context(), "a.txt")
	if srv.Requests("") != 0 {
		t.Error("exp unauthenticated requests not to be served")
	}
	if !errors.Is(err, client.ErrAuth) {
		t.Errorf("exp ErrAuth, got %v", err)
	}
	if strings.Contains(err.Error(), testPassword) {
		t.Errorf("error leaks the password: %v", err)
	}
}
