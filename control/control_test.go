package control_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/bunny/client"
	"github.com/adamwoolhether/bunny/control"
)

const testKey = "account-api-key"

func newControl(t *testing.T, h http.Handler) *control.Client {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(client.DefaultAuthHeader) != testKey {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"Message":"Authorization has been denied for this request."}`))
			return
		}
		h.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	cl, err := control.NewWithEndpoint(ts.URL, testKey,
		client.WithRetryPolicy(client.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}),
		client.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("creating control client: %v", err)
	}

	return cl
}

func TestNew(t *testing.T) {
	if _, err := control.New(""); !errors.Is(err, client.ErrConfig) {
		t.Errorf("exp ErrConfig for an empty key, got %v", err)
	}

	cl, err := control.New(testKey)
	if err != nil {
		t.Fatal(err)
	}
	if got := cl.Client().Credentials().BaseURL().String(); got != control.DefaultBaseURL+"/" {
		t.Errorf("exp base %s/, got %s", control.DefaultBaseURL, got)
	}
}

func TestCountries(t *testing.T) {
	cl := newControl(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/country" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`[{"Name":"Germany","IsoCode":"DE","IsEU":true,"TaxRate":19,"TaxPrefix":"DE","FlagUrl":"https://bunny.net/flags/de.png","PopList":["FRA","DUS"]}]`))
	}))

	got, err := cl.Countries(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	exp := []control.Country{{
		Name:      "Germany",
		IsoCode:   "DE",
		IsEU:      true,
		TaxRate:   19,
		TaxPrefix: "DE",
		FlagURL:   "https://bunny.net/flags/de.png",
		PopList:   []string{"FRA", "DUS"},
	}}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("countries mismatch (-want +got):\n%s", diff)
	}
}

func TestRegions(t *testing.T) {
	cl := newControl(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"Id":1,"Name":"Europe: Frankfurt, DE","PricePerGigabyte":0.01,"RegionCode":"DE","ContinentCode":"EU","CountryCode":"DE","Latitude":50.11,"Longitude":8.68,"AllowLatencyRouting":true}]`))
	}))

	got, err := cl.Regions(t.Context())
	if err != nil {
		t.Fatal(err)
	}

	exp := []control.Region{{
		ID:                  1,
		Name:                "Europe: Frankfurt, DE",
		PricePerGigabyte:    0.01,
		RegionCode:          "DE",
		ContinentCode:       "EU",
		CountryCode:         "DE",
		Latitude:            50.11,
		Longitude:           8.68,
		AllowLatencyRouting: true,
	}}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("regions mismatch (-want +got):\n%s", diff)
	}
}

// keyPages serves total API keys, perPage at a time.
func keyPages(t *testing.T, total int, requests *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		page, err := strconv.Atoi(r.URL.Query().Get("page"))
		if err != nil {
			t.Errorf("bad page: %v", err)
		}
		perPage, err := strconv.Atoi(r.URL.Query().Get("perPage"))
		if err != nil {
			t.Errorf("bad perPage: %v", err)
		}

		p := client.Page[control.APIKey]{CurrentPage: page, TotalItems: total, Items: []control.APIKey{}}
		for i := (page - 1) * perPage; i < min(page*perPage, total); i++ {
			p.Items = append(p.Items, control.APIKey{ID: int64(i + 1), Key: fmt.Sprintf("key-%d", i+1), Roles: []string{"Admin"}})
		}
		p.HasMoreItems = page*perPage < total

		json.NewEncoder(w).Encode(p)
	})
}

func TestAPIKeys(t *testing.T) {
	testCases := []struct {
		name        string
		total       int
		perPage     int
		expRequests int32
	}{
		{name: "single page", total: 3, perPage: 10, expRequests: 1},
		{name: "exact pages", total: 6, perPage: 3, expRequests: 2},
		{name: "partial last page", total: 7, perPage: 3, expRequests: 3},
		{name: "empty", total: 0, perPage: 3, expRequests: 1},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var requests atomic.Int32
			cl := newControl(t, keyPages(t, tc.total, &requests))

			var ids []int64
			for key, err := range cl.APIKeys(t.Context(), tc.perPage) {
				if err != nil {
					t.Fatal(err)
				}
				ids = append(ids, key.ID)
			}

			if len(ids) != tc.total {
				t.Errorf("exp %d keys, got %d", tc.total, len(ids))
			}
			for i, id := range ids {
				if id != int64(i+1) {
					t.Fatalf("exp keys in order without duplicates, got %v", ids)
				}
			}
			if n := requests.Load(); n != tc.expRequests {
				t.Errorf("exp %d requests, got %d", tc.expRequests, n)
			}
		})
	}
}

func TestAPIKeys_Lazy(t *testing.T) {
	var requests atomic.Int32
	cl := newControl(t, keyPages(t, 10, &requests))

	seq := cl.APIKeys(t.Context(), 2)
	if n := requests.Load(); n != 0 {
		t.Fatalf("exp no request before iteration, got %d", n)
	}

	for key, err := range seq {
		if err != nil {
			t.Fatal(err)
		}
		if key.ID == 3 {
			break
		}
	}

	if n := requests.Load(); n != 2 {
		t.Errorf("exp 2 requests, got %d", n)
	}

	for _, err := range seq {
		if !errors.Is(err, client.ErrSequenceConsumed) {
			t.Errorf("exp ErrSequenceConsumed, got %v", err)
		}
	}
}

func TestAPIKeysPage_Validation(t *testing.T) {
	cl := newControl(t, http.NotFoundHandler())

	for _, tc := range []struct{ page, perPage int }{{0, 10}, {1, 0}, {1, control.MaxPerPage + 1}} {
		if _, err := cl.APIKeysPage(t.Context(), tc.page, tc.perPage); !errors.Is(err, client.ErrConfig) {
			t.Errorf("page %d per page %d: exp ErrConfig, got %v", tc.page, tc.perPage, err)
		}
	}
}

func TestPurgeURL(t *testing.T) {
	var seen atomic.Pointer[http.Request]
	cl := newControl(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r)
		w.WriteHeader(http.StatusNoContent)
	}))

	err := cl.PurgeURL(t.Context(), control.PurgeRequest{URL: "https://cdn.example.com/img/*", Async: true})
	if err != nil {
		t.Fatal(err)
	}

	r := seen.Load()
	if r.Method != http.MethodPost || r.URL.Path != "/purge" {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}
	if q := r.URL.Query(); q.Get("url") != "https://cdn.example.com/img/*" || q.Get("async") != "true" {
		t.Errorf("unexpected query %s", r.URL.RawQuery)
	}
}

func TestPurgeURL_Validation(t *testing.T) {
	var calls atomic.Int32
	cl := newControl(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))

	testCases := []struct {
		name string
		url  string
		exp  string
	}{
		{name: "missing", url: "", exp: "This field is required"},
		{name: "not a url", url: "cdn.example.com/x", exp: "This field must be an absolute http(s) URL"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := cl.PurgeURL(t.Context(), control.PurgeRequest{URL: tc.url})
			if !errors.Is(err, client.ErrConfig) {
				t.Fatalf("exp ErrConfig, got %v", err)
			}

			var fields client.FieldErrors
			if !errors.As(err, &fields) {
				t.Fatalf("exp FieldErrors, got %T", err)
			}
			if got := fields.Fields()["url"]; got != tc.exp {
				t.Errorf("exp %q, got %q", tc.exp, got)
			}
		})
	}

	if calls.Load() != 0 {
		t.Error("exp invalid requests never to be sent")
	}
}

func TestErrors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		exp    error
	}{
		{name: "server", status: http.StatusInternalServerError, exp: client.ErrServer},
		{name: "not found", status: http.StatusNotFound, exp: client.ErrNotFound},
		{name: "rate limited", status: http.StatusTooManyRequests, exp: client.ErrRateLimited},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cl := newControl(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))

			if _, err := cl.Countries(t.Context()); !errors.Is(err, tc.exp) {
				t.Errorf("exp %v, got %v", tc.exp, err)
			}
		})
	}

	cl, err := control.NewWithEndpoint(newControlServerURL(t), "wrong-key", client.WithLogger(slog.New(slog.DiscardHandler)))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cl.Regions(t.Context()); !errors.Is(err, client.ErrAuth) {
		t.Errorf("exp ErrAuth, got %v", err)
	}
}

func newControlServerURL(t *testing.T) string {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(client.DefaultAuthHeader) != testKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`[]`))
	}))
	t.Cleanup(ts.Close)
	return ts.URL
}
