package storagetest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/http/httptest"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/bunny/client"
	"github.com/adamwoolhether/bunny/storage"
)

// Server is an in-memory storage zone served over HTTP the way the
// provider's Edge Storage API answers. It is safe for concurrent use.
type Server struct {
	// URL is the base URL of the server, usable as a custom region.
	URL string

	zone     string
	password string
	srv      *httptest.Server
	log      *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	objects  map[string]object
	faults   map[string][]int
	requests map[string]int
	listings int
	repeat   bool
	last     map[string]*Request
}

type object struct {
	data        []byte
	contentType string
	modified    time.Time
	created     time.Time
	id          string
}

func (o object) checksum() string {
	sum := sha256.Sum256(o.data)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Request is what the server saw of a request.
type Request struct {
	Method           string
	Path             string
	Header           http.Header
	ContentLength    int64
	TransferEncoding []string
	// BodyBytes is the number of body bytes the server read.
	BodyBytes int64
}

type options struct {
	log    *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Server.
type Option func(*options)

// WithLogger logs every request at debug level and handler failures at
// error level.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithTracer records a server span per request, continued from the trace
// context the client propagated.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithClock sets the time stamped on stored objects.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewServer starts a server for the zone named zone, accepting password as
// the AccessKey. Callers must Close it.
func NewServer(zone, password string, opts ...Option) *Server {
	o := options{
		log:    slog.New(slog.DiscardHandler),
		tracer: noop.NewTracerProvider().Tracer("storagetest"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		zone:     zone,
		password: password,
		log:      o.log,
		now:      o.now,
		objects:  make(map[string]object),
		faults:   make(map[string][]int),
		requests: make(map[string]int),
		last:     make(map[string]*Request),
	}

	rt := newRouter(o.log, o.tracer, s.logger, errorsMW, s.panics, s.record, s.auth, s.inject)
	rt.handle(http.MethodPut, "/{zone}/{path...}", s.put)
	rt.handle(http.MethodGet, "/{zone}/{path...}", s.get)
	rt.handle(http.MethodDelete, "/{zone}/{path...}", s.delete)

	s.srv = httptest.NewServer(rt)
	s.URL = s.srv.URL

	return s
}

// Close shuts the server down, blocking until outstanding requests finish.
func (s *Server) Close() {
	s.srv.Close()
}

// Region returns a custom region pointing at the server.
func (s *Server) Region() storage.Region {
	r, err := storage.CustomRegion(s.URL)
	if err != nil {
		panic(fmt.Sprintf("storagetest: server URL %s is not a region: %v", s.URL, err))
	}
	return r
}

// Zone returns a storage.Zone for the server's zone, authenticated with its
// password.
func (s *Server) Zone(opts ...client.Option) (*storage.Zone, error) {
	return storage.New(s.password, s.Region(), s.zone, opts...)
}

// PutObject stores data under key as if it had been uploaded.
func (s *Server) PutObject(key string, data []byte) {
	s.store(key, data, "")
}

// Object returns the content stored under key.
func (s *Server) Object(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, false
	}
	return slices.Clone(obj.data), true
}

// Keys returns every stored key in order.
func (s *Server) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Sorted(maps.Keys(s.objects))
}

// FailNext answers the next n requests with method using status, after
// reading their bodies in full.
func (s *Server) FailNext(method string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for range n {
		s.faults[method] = append(s.faults[method], status)
	}
}

// RepeatListings makes directory listings carry every entry twice.
func (s *Server) RepeatListings(repeat bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.repeat = repeat
}

// Requests returns how many authenticated requests with method arrived. An
// empty method counts them all.
func (s *Server) Requests(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if method != "" {
		return s.requests[method]
	}

	var n int
	for _, c := range s.requests {
		n += c
	}
	return n
}

// Listings returns how many directory listings were answered.
func (s *Server) Listings() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listings
}

// LastRequest returns the most recent request with method.
func (s *Server) LastRequest(method string) (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.last[method]
	if !ok {
		return Request{}, false
	}

	cp := *r
	cp.Header = r.Header.Clone()
	return cp, true
}

// =============================================================================
// Middleware

func (s *Server) logger(fn handler) handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		s.log.Debug("request started", "method", r.Method, "path", r.URL.Path, "remoteaddr", r.RemoteAddr)

		err := fn(sw, r)

		s.log.Debug("request completed", "method", r.Method, "path", r.URL.Path, "statusCode", sw.status, "since", time.Since(start).String())

		return err
	}
}

func (s *Server) panics(fn handler) handler {
	return func(w http.ResponseWriter, r *http.Request) (err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = fmt.Errorf("PANIC [%v] TRACE[%s]", rec, debug.Stack())
			}
		}()

		return fn(w, r)
	}
}

func (s *Server) auth(fn handler) handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		if r.Header.Get(client.DefaultAuthHeader) != s.password {
			return newError(http.StatusUnauthorized, "Unauthorized")
		}
		if r.PathValue("zone") != s.zone {
			return newError(http.StatusNotFound, "Storage zone not found")
		}

		s.mu.Lock()
		s.requests[r.Method]++
		s.mu.Unlock()

		return fn(w, r)
	}
}

// record keeps the request for LastRequest. The body is counted as it is
// read, so the count is final once a handler has replied.
func (s *Server) record(fn handler) handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		rec := &Request{
			Method:           r.Method,
			Path:             r.URL.Path,
			Header:           r.Header.Clone(),
			ContentLength:    r.ContentLength,
			TransferEncoding: slices.Clone(r.TransferEncoding),
		}

		s.mu.Lock()
		s.last[r.Method] = rec
		s.mu.Unlock()

		r.Body = &countingBody{ReadCloser: r.Body, s: s, rec: rec}

		return fn(w, r)
	}
}

func (s *Server) inject(fn handler) handler {
	return func(w http.ResponseWriter, r *http.Request) error {
		s.mu.Lock()
		var status int
		if f := s.faults[r.Method]; len(f) > 0 {
			status, s.faults[r.Method] = f[0], f[1:]
		}
		s.mu.Unlock()

		if status == 0 {
			return fn(w, r)
		}

		if _, err := io.Copy(io.Discard, r.Body); err != nil {
			return err
		}

		return newError(status, http.StatusText(status))
	}
}

type countingBody struct {
	io.ReadCloser
	s   *Server
	rec *Request
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)

	b.s.mu.Lock()
	b.rec.BodyBytes += int64(n)
	b.s.mu.Unlock()

	return n, err
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// =============================================================================
// Handlers

func (s *Server) put(w http.ResponseWriter, r *http.Request) error {
	key := r.PathValue("path")
	if key == "" || strings.HasSuffix(key, "/") {
		return newError(http.StatusBadRequest, "Invalid path")
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}

	if want := r.Header.Get("Checksum"); want != "" {
		sum := sha256.Sum256(data)
		if !strings.EqualFold(want, hex.EncodeToString(sum[:])) {
			return newError(http.StatusBadRequest, "Checksum mismatch")
		}
	}

	s.store(key, data, r.Header.Get("Content-Type"))

	return respondJSON(w, r, http.StatusCreated, map[string]any{"HttpCode": http.StatusCreated, "Message": "File uploaded."})
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) error {
	key := r.PathValue("path")
	if key == "" || strings.HasSuffix(key, "/") {
		return s.list(w, r, key)
	}

	s.mu.Lock()
	obj, ok := s.objects[key]
	s.mu.Unlock()

	if !ok {
		return newError(http.StatusNotFound, "Object Not Found")
	}

	h := w.Header()
	h.Set("Content-Type", obj.contentType)
	h.Set("Content-Length", strconv.Itoa(len(obj.data)))
	h.Set("Checksum", obj.checksum())
	h.Set("Last-Modified", obj.modified.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return nil
	}

	_, err := w.Write(obj.data)
	return err
}

func (s *Server) list(w http.ResponseWriter, r *http.Request, dir string) error {
	s.mu.Lock()
	s.listings++
	repeat := s.repeat

	entries := make([]storage.Entry, 0)
	seenDirs := make(map[string]bool)
	for _, key := range slices.Sorted(maps.Keys(s.objects)) {
		rest, ok := strings.CutPrefix(key, dir)
		if !ok {
			continue
		}

		obj := s.objects[key]
		e := storage.Entry{
			GUID:            obj.id,
			StorageZoneName: s.zone,
			Path:            "/" + s.zone + "/" + dir,
			LastChanged:     storage.Timestamp{Time: obj.modified},
			DateCreated:     storage.Timestamp{Time: obj.created},
		}

		if name, _, isDir := strings.Cut(rest, "/"); isDir {
			if seenDirs[name] {
				continue
			}
			seenDirs[name] = true
			e.GUID = uuid.NewSHA1(uuid.NameSpaceURL, []byte(s.zone+"/"+dir+name+"/")).String()
			e.ObjectName = name
			e.IsDirectory = true
		} else {
			e.ObjectName = rest
			e.Length = int64(len(obj.data))
			e.ContentType = obj.contentType
			e.Checksum = obj.checksum()
		}

		entries = append(entries, e)
		if repeat {
			entries = append(entries, e)
		}
	}
	s.mu.Unlock()

	return respondJSON(w, r, http.StatusOK, entries)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) error {
	key := r.PathValue("path")

	s.mu.Lock()
	var deleted int
	if key == "" || strings.HasSuffix(key, "/") {
		for k := range s.objects {
			if strings.HasPrefix(k, key) {
				delete(s.objects, k)
				deleted++
			}
		}
	} else if _, ok := s.objects[key]; ok {
		delete(s.objects, key)
		deleted++
	}
	s.mu.Unlock()

	if deleted == 0 {
		return newError(http.StatusNotFound, "Object Not Found")
	}

	return respondJSON(w, r, http.StatusOK, map[string]any{"HttpCode": http.StatusOK, "Message": "File deleted successfuly."})
}

func (s *Server) store(key string, data []byte, contentType string) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	now := s.now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		obj = object{id: uuid.NewString(), created: now}
	}
	obj.data = slices.Clone(data)
	obj.contentType = contentType
	obj.modified = now

	s.objects[key] = obj
}
