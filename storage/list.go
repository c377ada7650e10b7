package storage

import (
	"bytes"
	"context"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/adamwoolhether/bunny/client"
)

// Entry is one object or directory in a listing.
type Entry struct {
	GUID            string    `json:"Guid"`
	StorageZoneName string    `json:"StorageZoneName"`
	Path            string    `json:"Path"`
	ObjectName      string    `json:"ObjectName"`
	Length          int64     `json:"Length"`
	LastChanged     Timestamp `json:"LastChanged"`
	ServerID        int64     `json:"ServerId"`
	ArrayNumber     int64     `json:"ArrayNumber"`
	IsDirectory     bool      `json:"IsDirectory"`
	UserID          string    `json:"UserId"`
	ContentType     string    `json:"ContentType"`
	DateCreated     Timestamp `json:"DateCreated"`
	StorageZoneID   int64     `json:"StorageZoneId"`
	Checksum        string    `json:"Checksum"`
	ReplicatedZones string    `json:"ReplicatedZones"`
}

// Key returns the entry's path relative to the zone root, as accepted by
// the other Zone methods. Directories end in "/".
func (e Entry) Key() string {
	dir := strings.TrimPrefix(e.Path, "/")
	if zone := e.StorageZoneName; zone != "" {
		dir = strings.TrimPrefix(dir, zone)
		dir = strings.TrimPrefix(dir, "/")
	}
	if dir != "" && !strings.HasSuffix(dir, "/") {
		dir += "/"
	}

	key := dir + e.ObjectName
	if e.IsDirectory {
		key += "/"
	}

	return key
}

// Timestamp is a listing time. The provider sends UTC times without a zone
// designator.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = ts.UTC()
			return nil
		}
	}

	return fmt.Errorf("parsing timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format("2006-01-02T15:04:05.999") + `"`), nil
}

// List returns the entries of one directory. The provider answers a
// directory listing in a single page, so the sequence makes exactly one
// request, once iteration starts. The sequence is single-pass.
func (z *Zone) List(ctx context.Context, dir string) iter.Seq2[Entry, error] {
	return client.OnePass(func(yield func(Entry, error) bool) {
		p, err := dirPath(dir)
		if err != nil {
			yield(Entry{}, err)
			return
		}

		entries, err := z.list(ctx, p)
		if err != nil {
			yield(Entry{}, err)
			return
		}

		for _, e := range entries {
			if !yield(e, nil) {
				return
			}
		}
	})
}

// Walk lists dir and every directory below it, breadth first. Each
// directory is fetched only when the previous one has been consumed, and
// every key is yielded at most once even if the provider repeats an entry.
// The sequence is single-pass.
func (z *Zone) Walk(ctx context.Context, dir string) iter.Seq2[Entry, error] {
	return client.OnePass(func(yield func(Entry, error) bool) {
		root, err := dirPath(dir)
		if err != nil {
			yield(Entry{}, err)
			return
		}

		seen := map[string]struct{}{root: {}}
		queue := []string{root}

		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]

			entries, err := z.list(ctx, p)
			if err != nil {
				yield(Entry{}, err)
				return
			}

			for _, e := range entries {
				key := e.Key()
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				if e.IsDirectory {
					queue = append(queue, key)
				}
				if !yield(e, nil) {
					return
				}
			}
		}
	})
}

func (z *Zone) list(ctx context.Context, dir string) ([]Entry, error) {
	req, err := client.NewRequest(http.MethodGet, dir, client.WithAccept("application/json"))
	if err != nil {
		return nil, err
	}

	var entries []Entry
	if err := z.c.Do(ctx, req, client.WithDestination(&entries)); err != nil {
		return nil, fmt.Errorf("list /%s: %w", dir, err)
	}

	z.logger.Debug("listed directory", "zone", z.name, "dir", dir, "entries", len(entries))

	return entries, nil
}
