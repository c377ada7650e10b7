package storage_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/bunny/client"
	"github.com/adamwoolhether/bunny/storage"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestDownload_ReadsToEOF(t *testing.T) {
	content := strings.Repeat("bunny", 20000)
	z := serverZone(t, newServer(t, map[string]string{"a/b.txt": content}))

	obj, err := z.Download(t.Context(), "a/b.txt")
	if err != nil {
		t.Fatal(err)
	}

	b, err := io.ReadAll(obj)
	if err != nil {
		t.Fatalf("exp no error, got %v", err)
	}
	if err := obj.Close(); err != nil {
		t.Fatal(err)
	}

	if string(b) != content {
		t.Errorf("exp %d bytes of content, got %d", len(content), len(b))
	}

	stats := obj.Session().Stats()
	if stats.State != storage.StateCompleted || stats.Transferred != int64(len(content)) || stats.Attempts != 1 {
		t.Errorf("exp a completed single attempt of %d bytes, got %+v", len(content), stats)
	}
	if obj.Info.Size != int64(len(content)) {
		t.Errorf("exp info size %d, got %d", len(content), obj.Info.Size)
	}

	exp := client.PoolStats{Reused: 1}
	if diff := cmp.Diff(exp, z.Client().PoolStats()); diff != "" {
		t.Errorf("pool stats mismatch (-want +got):\n%s", diff)
	}
}

func TestDownload_NotFound(t *testing.T) {
	z := serverZone(t, newServer(t, nil))

	_, err := z.Download(t.Context(), "missing.bin")
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("exp ErrNotFound, got %v", err)
	}

	var serr *client.StatusError
	if !errors.As(err, &serr) || serr.Attempts != 1 {
		t.Errorf("exp a 404 to never be retried, got %+v", serr)
	}
}

func TestDownload_EarlyCloseReleasesConnection(t *testing.T) {
	z := serverZone(t, newServer(t, map[string]string{"big.bin": strings.Repeat("x", 1<<20)}))

	obj, err := z.Download(t.Context(), "big.bin")
	if err != nil {
		t.Fatal(err)
	}

	p := make([]byte, 10)
	if _, err := io.ReadFull(obj, p); err != nil {
		t.Fatal(err)
	}
	if err := obj.Close(); err != nil {
		t.Fatal(err)
	}

	if got := obj.Session().State(); got != storage.StateAborted {
		t.Errorf("exp aborted, got %v", got)
	}
	if _, err := obj.Read(p); !errors.Is(err, client.ErrTransfer) {
		t.Errorf("exp reads after close to fail, got %v", err)
	}

	exp := client.PoolStats{Discarded: 1}
	if diff := cmp.Diff(exp, z.Client().PoolStats()); diff != "" {
		t.Errorf("pool stats mismatch (-want +got):\n%s", diff)
	}
}

func TestObject_Chunks(t *testing.T) {
	const chunk = 1024
	content := bytes.Repeat([]byte("0123456789"), 500)
	z := serverZone(t, newServer(t, map[string]string{"c.bin": string(content)}))

	obj, err := z.Download(t.Context(), "c.bin")
	if err != nil {
		t.Fatal(err)
	}

	var sizes []int
	var got []byte
	chunks := obj.Chunks(chunk)
	for b, err := range chunks {
		if err != nil {
			t.Fatalf("exp no error, got %v", err)
		}
		sizes = append(sizes, len(b))
		got = append(got, b...)
	}

	if diff := cmp.Diff([]int{chunk, chunk, chunk, chunk, len(content) - 4*chunk}, sizes); diff != "" {
		t.Errorf("chunk sizes mismatch (-want +got):\n%s", diff)
	}
	if !bytes.Equal(got, content) {
		t.Error("exp chunks to reassemble the content")
	}

	stats := obj.Session().Stats()
	if stats.State != storage.StateCompleted || stats.ChunkSize != chunk {
		t.Errorf("exp completed with chunk size %d, got %+v", chunk, stats)
	}

	for _, err := range chunks {
		if !errors.Is(err, client.ErrSequenceConsumed) {
			t.Errorf("exp ErrSequenceConsumed on a second pass, got %v", err)
		}
	}

	if ps := z.Client().PoolStats(); ps.InFlight != 0 || ps.Reused != 1 {
		t.Errorf("exp the connection to be pooled, got %+v", ps)
	}
}

func TestObject_ChunksCancelled(t *testing.T) {
	const (
		chunk  = 1024
		chunks = 5
	)

	z := newZone(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(chunks*chunk))
		w.WriteHeader(http.StatusOK)
		for i := range 2 {
			w.Write(bytes.Repeat([]byte{byte('a' + i)}, chunk))
		}
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	obj, err := z.Download(ctx, "five.bin")
	if err != nil {
		t.Fatal(err)
	}

	var received int
	var gotErr error
	for _, err := range obj.Chunks(chunk) {
		if err != nil {
			gotErr = err
			break
		}
		received++
		if received == 2 {
			cancel()
		}
	}

	if received != 2 {
		t.Errorf("exp 2 chunks before cancellation, got %d", received)
	}
	if !errors.Is(gotErr, client.ErrTransfer) || !errors.Is(gotErr, context.Canceled) {
		t.Fatalf("exp a transfer error matching context.Canceled, got %v", gotErr)
	}

	var terr *client.TransferError
	if errors.As(gotErr, &terr) && terr.Transferred != 2*chunk {
		t.Errorf("exp %d bytes transferred, got %d", 2*chunk, terr.Transferred)
	}

	if got := obj.Session().State(); got != storage.StateAborted {
		t.Errorf("exp aborted, got %v", got)
	}
	if ps := z.Client().PoolStats(); ps.Discarded != 1 || ps.InFlight != 0 {
		t.Errorf("exp the connection to be closed, got %+v", ps)
	}
}

func TestDownload_ShortBody(t *testing.T) {
	rt := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			Header:        http.Header{},
			ContentLength: 10,
			Body:          io.NopCloser(strings.NewReader("short")),
			Request:       r,
		}, nil
	})
	z := newZone(t, http.NotFoundHandler(), client.WithTransport(rt))

	obj, err := z.Download(t.Context(), "short.bin")
	if err != nil {
		t.Fatal(err)
	}
	defer obj.Close()

	_, err = io.ReadAll(obj)
	if !errors.Is(err, client.ErrTransfer) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("exp a transfer error matching io.ErrUnexpectedEOF, got %v", err)
	}
	if got := obj.Session().State(); got != storage.StateFailed {
		t.Errorf("exp failed, got %v", got)
	}
}

func TestDownloadFile(t *testing.T) {
	content := "verified file content"

	testCases := []struct {
		name     string
		opts     []storage.Option
		expErr   error
		expState storage.State
	}{
		{name: "plain", expState: storage.StateCompleted},
		{name: "verify header", opts: []storage.Option{storage.WithVerifyChecksum()}, expState: storage.StateCompleted},
		{name: "checksum mismatch", opts: []storage.Option{storage.WithChecksum(strings.Repeat("0", 64))}, expErr: storage.ErrChecksumMismatch, expState: storage.StateFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			z := serverZone(t, newServer(t, map[string]string{"docs/file.txt": content}))
			dir := t.TempDir()
			dest := filepath.Join(dir, "file.txt")

			stats, err := z.DownloadFile(t.Context(), "docs/file.txt", dest, tc.opts...)
			if stats.State != tc.expState {
				t.Errorf("exp %v, got %v", tc.expState, stats.State)
			}

			if tc.expErr != nil {
				if !errors.Is(err, tc.expErr) || !errors.Is(err, client.ErrTransfer) {
					t.Fatalf("exp a transfer error matching %v, got %v", tc.expErr, err)
				}
				if entries, _ := os.ReadDir(dir); len(entries) != 0 {
					t.Errorf("exp no files left behind, got %v", entries)
				}
				return
			}

			if err != nil {
				t.Fatal(err)
			}
			b, err := os.ReadFile(dest)
			if err != nil {
				t.Fatal(err)
			}
			if string(b) != content {
				t.Errorf("exp %q, got %q", content, b)
			}
			if entries, _ := os.ReadDir(dir); len(entries) != 1 {
				t.Errorf("exp only the destination file, got %v", entries)
			}
		})
	}
}

func TestDownloadFile_SkipExisting(t *testing.T) {
	z := serverZone(t, newServer(t, map[string]string{"a.txt": "remote"}))
	dest := filepath.Join(t.TempDir(), "a.txt")
	if err := os.WriteFile(dest, []byte("local"), 0o600); err != nil {
		t.Fatal(err)
	}

	stats, err := z.DownloadFile(t.Context(), "a.txt", dest, storage.WithSkipExisting())
	if err != nil {
		t.Fatal(err)
	}
	if stats.State != storage.StateCompleted {
		t.Errorf("exp completed, got %v", stats.State)
	}

	if b, _ := os.ReadFile(dest); string(b) != "local" {
		t.Errorf("exp the existing file to be kept, got %q", b)
	}
	if ps := z.Client().PoolStats(); ps != (client.PoolStats{}) {
		t.Errorf("exp no request, got %+v", ps)
	}
}

func TestDownloadFile_NotFound(t *testing.T) {
	z := serverZone(t, newServer(t, nil))
	dir := t.TempDir()

	_, err := z.DownloadFile(t.Context(), "missing.txt", filepath.Join(dir, "missing.txt"))
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("exp ErrNotFound, got %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("exp no files created, got %v", entries)
	}
}

func TestAsyncTransfers(t *testing.T) {
	srv := newServer(t, map[string]string{"a.txt": "a", "b.txt": "bb", "c.txt": "ccc"})
	z := serverZone(t, srv)
	dir := t.TempDir()

	first, err := z.DownloadAsync(t.Context(), "a.txt", filepath.Join(dir, "a.txt"), storage.WithBatch(2))
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"b.txt", "c.txt"} {
		if _, err := z.DownloadAsync(t.Context(), name, filepath.Join(dir, name), storage.WithQueue(first.Queue())); err != nil {
			t.Fatal(err)
		}
	}

	local := filepath.Join(dir, "up.txt")
	if err := os.WriteFile(local, []byte("uploaded"), 0o600); err != nil {
		t.Fatal(err)
	}
	up, err := z.UploadAsync(t.Context(), local, "up.txt", storage.WithQueue(first.Queue()))
	if err != nil {
		t.Fatal(err)
	}

	if err := first.Wait(); err != nil {
		t.Fatalf("exp no errors, got %v", err)
	}

	for name, exp := range map[string]string{"a.txt": "a", "b.txt": "bb", "c.txt": "ccc"} {
		if b, _ := os.ReadFile(filepath.Join(dir, name)); string(b) != exp {
			t.Errorf("%s: exp %q, got %q", name, exp, b)
		}
	}
	if b, _ := srv.Object("up.txt"); string(b) != "uploaded" {
		t.Errorf("exp the upload to be stored, got %q", b)
	}
	if s := up.Stats(); s.Direction != storage.DirectionUpload || s.State != storage.StateCompleted {
		t.Errorf("exp a completed upload, got %+v", s)
	}

	missing, err := z.DownloadAsync(t.Context(), "missing.txt", filepath.Join(dir, "missing.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if err := missing.Err(); !errors.Is(err, client.ErrNotFound) {
		t.Errorf("exp ErrNotFound, got %v", err)
	}

	if _, err := z.DownloadAsync(t.Context(), "dir/", filepath.Join(dir, "x")); !errors.Is(err, storage.ErrInvalidPath) {
		t.Errorf("exp ErrInvalidPath, got %v", err)
	}
}
