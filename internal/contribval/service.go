package contribval

import (
	"context"
	"embed"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

//go:embed static/contribute.json
var staticFS embed.FS

type Service struct {
	cfg Config

	store   Store
	metrics *metrics
	stats   *statsCollector

	schemas      *SchemaProvider
	validator    *Validator
	resolver     *ContentResolver
	history      *History
	reachability *ReachabilityChecker

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService builds the storage backend described by cfg and wires every
// component onto it.
func NewService(cfg Config) (*Service, error) {
	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	return newService(cfg, store, nil), nil
}

func openStore(cfg Config) (Store, error) {
	if len(cfg.Storage.Memcache.Servers) > 0 {
		log.Printf("storage: memcached %s", strings.Join(cfg.Storage.Memcache.Servers, ","))
		return newMemcacheStore(cfg.Storage.Memcache.Servers, cfg.Fetch.timeoutDur), nil
	}
	ram := newRAMStore(cfg.Storage.ramMax, nil)
	if cfg.Storage.Disk.Path == "" {
		log.Printf("storage: ram (max %s)", describeMax(cfg.Storage.ramMax))
		return ram, nil
	}
	disk, err := newDiskStore(cfg.Storage.Disk.Path, cfg.Storage.diskMax, nil)
	if err != nil {
		return nil, err
	}
	log.Printf("storage: ram (max %s) + leveldb %s (max %s)",
		describeMax(cfg.Storage.ramMax), cfg.Storage.Disk.Path, describeMax(cfg.Storage.diskMax))
	return newTieredStore(ram, disk), nil
}

func describeMax(n int64) string {
	if n <= 0 {
		return "unbounded"
	}
	return formatBytes(uint64(n))
}

// newService wires components over an existing store. A nil client gets a
// default client bounded by fetch.timeout.
func newService(cfg Config, store Store, client *http.Client) *Service {
	m := newMetrics()
	f := newFetcher(client, cfg.Fetch.timeoutDur, cfg.Fetch.maxBody, cfg.Fetch.UserAgent, m)
	failLog := newRateLimitedLogger(cfg.Logging.logFailuresEveryDur)

	s := &Service{
		cfg:          cfg,
		store:        store,
		metrics:      m,
		stats:        newStatsCollector(),
		schemas:      NewSchemaProvider(cfg.Upstream.SchemaURL, cfg.Cache.schemaTTL, store, f, m),
		validator:    NewValidator(),
		resolver:     NewContentResolver(f, cfg.Upstream.CanonicalContributeURL, failLog),
		history:      NewHistory(store, cfg.Cache.historyTTL, cfg.History.RecordAnonymous, cfg.Upstream.CanonicalContributeURL),
		reachability: NewReachabilityChecker(store, cfg.Cache.reachabilityTTL, f, m, failLog),
		stopCh:       make(chan struct{}),
	}

	if every := cfg.Logging.logStatsEveryDur; every > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.statsLoop(every)
		}()
	}
	return s
}

func (s *Service) Close() error {
	close(s.stopCh)
	s.wg.Wait()
	return s.store.Close()
}

func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /validate", s.handleValidate)
	mux.HandleFunc("POST /validateurl", s.handleValidateURL)
	mux.HandleFunc("GET /examples.json", s.handleExamples)
	mux.HandleFunc("GET /contribute.json", s.handleStatic)
	mux.HandleFunc("GET /livez", handleStatus)
	mux.HandleFunc("GET /readyz", handleStatus)
	mux.Handle("GET /metrics", s.metrics.handler())
	mux.HandleFunc("/", handleNotFound)
	return s.withRequestID(mux)
}

// Validate runs one validation request end to end.
func (s *Service) Validate(ctx context.Context, req ValidationRequest) ValidationResult {
	res := s.resolver.Resolve(ctx, req)
	if res.Failed() {
		out := ValidationResult{RequestError: res.RequestError.Error()}
		if res.RawBody != nil {
			out.Response = echo(string(res.RawBody))
		}
		s.observe(ctx, out.Outcome(), req)
		return out
	}

	schema, err := s.schemas.Get(ctx)
	if err != nil {
		log.Printf("[%s] %v", requestID(ctx), err)
		s.observe(ctx, OutcomeSchemaFetchError, req)
		return ValidationResult{RequestError: err.Error()}
	}

	out := ValidationResult{
		Schema:    schema.Content,
		SchemaURL: schema.URL,
		Response:  echo(res.Content),
		URL:       res.URL,
	}
	outcome := s.validator.Validate(res.Content, schema)
	switch {
	case outcome.SchemaError != "":
		out.SchemaError = outcome.SchemaError
	case outcome.ValidationError != "":
		out.ValidationError = outcome.ValidationError
	default:
		out.Errors = new([]string)
	}

	if err := s.history.Record(ctx, res.URL); err != nil {
		log.Printf("[%s] record history: %v", requestID(ctx), err)
	}
	s.observe(ctx, out.Outcome(), req)
	return out
}

func (s *Service) observe(ctx context.Context, outcome string, req ValidationRequest) {
	s.metrics.observeValidation(outcome)
	s.stats.ObserveValidation(outcome, len(req.Body))
	if s.cfg.Server.Debug {
		log.Printf("[%s] validate url=%q body=%d outcome=%s", requestID(ctx), req.URL, len(req.Body), outcome)
	}
}

func (s *Service) handleValidate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ValidationRequest{
		URL:     q.Get("url"),
		HasURL:  q.Has("url"),
		SelfURL: selfContributeURL(r),
	}
	if !req.HasURL {
		body, err := readBody(r, s.cfg.Fetch.maxBody)
		if err != nil {
			writeJSON(w, http.StatusOK, ValidationResult{RequestError: err.Error()})
			return
		}
		req.Body = body
		s.metrics.observeDocument(len(body))
	}
	writeJSON(w, http.StatusOK, s.Validate(r.Context(), req))
}

type validateURLRequest struct {
	URL *string `json:"url"`
}

func (s *Service) handleValidateURL(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r, s.cfg.Fetch.maxBody)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var in validateURLRequest
	if err := json.Unmarshal(body, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if in.URL == nil {
		writeError(w, http.StatusBadRequest, errors.New("missing url"))
		return
	}
	res := s.reachability.Check(r.Context(), *in.URL)
	s.metrics.observeReachability(res.StatusCode)
	s.stats.ObserveCheck()
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) handleExamples(w http.ResponseWriter, r *http.Request) {
	feed, err := s.history.Examples(r.Context())
	if err != nil {
		log.Printf("[%s] examples: %v", requestID(r.Context()), err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (s *Service) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	b, err := staticFS.ReadFile("static/" + name)
	if err != nil {
		handleNotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(name))
	_, _ = w.Write(b)
}

var contentTypes = map[string]string{
	".json": "application/json",
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".png":  "image/png",
	".gif":  "image/gif",
	".html": "text/html; charset=utf-8",
}

func contentTypeFor(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		if ct, ok := contentTypes[strings.ToLower(name[i:])]; ok {
			return ct
		}
	}
	return "application/octet-stream"
}

func handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "404 page not found (uri: " + r.RequestURI + ", method: " + r.Method + ")",
	})
}

func readBody(r *http.Request, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r.Body)
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errors.New("request body exceeds " + formatBytes(uint64(limit)))
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// ---- request ids ----

type requestIDKey struct{}

const requestIDHeader = "X-Request-Id"

func (s *Service) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		if s.cfg.Server.Debug {
			start := time.Now()
			defer func() {
				log.Printf("[%s] %s %s %s", id, r.Method, r.URL.RequestURI(), time.Since(start))
			}()
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return "-"
}

// ---- stats ----

func (s *Service) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-t.C:
			rss, ok := processRSSBytes()
			log.Print(s.stats.Snapshot().logLine(rss, ok))
		}
	}
}

func init() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
}
