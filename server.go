package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mongomigrate/mongomigrate/config"
	"github.com/mongomigrate/mongomigrate/errors"
	"github.com/mongomigrate/mongomigrate/log"
	"github.com/mongomigrate/mongomigrate/metrics"
	"github.com/mongomigrate/mongomigrate/migrate"
	"github.com/mongomigrate/mongomigrate/topo"
	"github.com/mongomigrate/mongomigrate/util"
	"github.com/mongomigrate/mongomigrate/validate"
)

// Constants for server configuration.
const (
	ServerReadTimeout       = 30 * time.Second
	ServerReadHeaderTimeout = 3 * time.Second
	ServerShutdownTimeout   = 10 * time.Second
	MaxRequestSize          = humanize.MiByte
)

// runServer starts the HTTP server and blocks until it is interrupted.
func runServer(ctx context.Context, cfg *config.Config) error {
	err := config.ValidatePort(cfg.Port)
	if err != nil {
		return errors.Wrap(err, "validate options")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := createServer(cfg, migrate.MongoOpener(cfg))

	port := cfg.Port
	if port == 0 {
		port = config.DefaultServerPort
	}

	addr := fmt.Sprintf("localhost:%d", port)
	httpServer := http.Server{
		Addr:    addr,
		Handler: srv.Handler(),

		ReadTimeout:       ServerReadTimeout,
		ReadHeaderTimeout: ServerReadHeaderTimeout,

		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()

		err := util.Detached(ctx, ServerShutdownTimeout, httpServer.Shutdown)
		if err != nil {
			log.New("server").Errorf(err, "Shutdown server at %s", addr)
		}
	}()

	log.Ctx(ctx).Info("Starting HTTP server at http://" + addr)

	err = httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err //nolint:wrapcheck
}

// Server serves the migration HTTP API.
type Server struct {
	// Cfg holds the configuration.
	Cfg *config.Config
	// open opens database connections for jobs and connection tests.
	open migrate.OpenFunc

	// promRegistry is the Prometheus registry for metrics.
	promRegistry *prometheus.Registry

	// active maps the target endpoint of each running job to its id.
	active map[string]string
	lock   sync.Mutex
}

// createServer creates a new server with the given options.
func createServer(cfg *config.Config, open migrate.OpenFunc) *Server {
	promRegistry := prometheus.NewRegistry()
	metrics.Init(promRegistry)

	return &Server{
		Cfg:          cfg,
		open:         open,
		promRegistry: promRegistry,
		active:       make(map[string]string),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/migrate", s.HandleMigrate)
	mux.HandleFunc("/test", s.HandleTest)
	mux.Handle("/metrics", s.HandleMetrics())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			log.New("http").Trace(r.Method + " " + r.URL.String())
		} else {
			log.New("http").Info(r.Method + " " + r.URL.String())
		}
		mux.ServeHTTP(w, r)
	})
}

// HandleMigrate runs a migration job and streams its progress as newline-delimited JSON.
// The last line is the job result.
func (s *Server) HandleMigrate(w http.ResponseWriter, r *http.Request) {
	params, ok := readRequest[migrateRequest](w, r)
	if !ok {
		return
	}

	lg := log.New("http:migrate")
	stream := &eventStream{w: w, rc: http.NewResponseController(w)}
	job := migrate.NewJob(s.open, migrate.Tee(stream, migrate.LogSink(lg)))

	release, err := s.acquire(params.TargetURI, job.ID())
	if err != nil {
		writeResponseStatus(w, http.StatusConflict, errorResponse{Err: err.Error()})

		return
	}
	defer release()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("X-Job-Id", job.ID())
	w.WriteHeader(http.StatusOK)

	// a disconnected client does not cancel the job
	ctx := context.WithoutCancel(r.Context())

	res, _ := job.Run(lg.WithContext(ctx), migrate.Options{
		SourceURI:          params.SourceURI,
		TargetURI:          params.TargetURI,
		Mode:               params.MigrationMode,
		IncludeCollections: params.IncludeCollections,
		ExcludeCollections: params.ExcludeCollections,
	})

	stream.Emit(jobResult{res})
}

// HandleTest tests the source and target connections.
func (s *Server) HandleTest(w http.ResponseWriter, r *http.Request) {
	params, ok := readRequest[testRequest](w, r)
	if !ok {
		return
	}

	lg := log.New("http:test")
	tester := migrate.NewTester(s.open)

	rep := tester.TestConnections(lg.WithContext(r.Context()),
		params.SourceURI, params.TargetURI, migrate.LogSink(lg))

	writeResponse(w, rep)
}

func (s *Server) HandleMetrics() http.Handler {
	return promhttp.HandlerFor(s.promRegistry, promhttp.HandlerOpts{})
}

// acquire reserves the target of a job. Jobs writing to the same target are not coordinated,
// so only one may run at a time.
func (s *Server) acquire(targetURI, jobID string) (func(), error) {
	key := targetURI
	if ep, err := topo.ResolveEndpoint(targetURI); err == nil {
		key = ep.Key()
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if id, ok := s.active[key]; ok {
		return nil, errors.Errorf("migration %s is already running against %s", id, key)
	}

	s.active[key] = jobID

	return func() {
		s.lock.Lock()
		delete(s.active, key)
		s.lock.Unlock()
	}, nil
}

// readRequest checks the method and size of r and decodes and validates its JSON body.
// On failure it writes the response and returns false.
func readRequest[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var params T

	if r.Method != http.MethodPost {
		http.Error(w,
			http.StatusText(http.StatusMethodNotAllowed),
			http.StatusMethodNotAllowed)

		return params, false
	}

	if r.ContentLength > MaxRequestSize {
		http.Error(w,
			http.StatusText(http.StatusRequestEntityTooLarge),
			http.StatusRequestEntityTooLarge)

		return params, false
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestSize))
	if err != nil {
		http.Error(w,
			http.StatusText(http.StatusRequestEntityTooLarge),
			http.StatusRequestEntityTooLarge)

		return params, false
	}

	err = json.Unmarshal(data, &params)
	if err != nil {
		http.Error(w,
			http.StatusText(http.StatusBadRequest),
			http.StatusBadRequest)

		return params, false
	}

	err = validate.Struct(params)
	if err != nil {
		resp := errorResponse{Err: err.Error()}

		var fields validate.ValidationErrors
		if errors.As(err, &fields) {
			resp.Fields = fields
		}

		writeResponseStatus(w, http.StatusBadRequest, resp)

		return params, false
	}

	return params, true
}

func writeResponse[T any](w http.ResponseWriter, resp T) {
	writeResponseStatus(w, http.StatusOK, resp)
}

func writeResponseStatus[T any](w http.ResponseWriter, code int, resp T) {
	data, err := json.Marshal(resp)
	if err != nil {
		http.Error(w,
			http.StatusText(http.StatusInternalServerError),
			http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(data, '\n'))
}

// EventResult tags the last line of a migration stream.
const EventResult migrate.EventType = "result"

// jobResult is the last event of a migration stream.
type jobResult struct {
	*migrate.JobResult
}

func (jobResult) Type() migrate.EventType { return EventResult }

// eventStream writes events as JSON lines, flushing after each.
type eventStream struct {
	w  io.Writer
	rc *http.ResponseController

	mu  sync.Mutex
	err error
}

func (s *eventStream) Emit(ev migrate.Event) {
	data, err := migrate.MarshalEvent(ev)
	if err != nil {
		log.New("http:migrate").Errorf(err, "Encode %s event", ev.Type())

		return
	}

	s.write(data)
}

func (s *eventStream) write(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// the client is gone; the job still runs to completion
	if s.err != nil {
		return
	}

	_, err := s.w.Write(append(data, '\n'))
	if err == nil {
		err = s.rc.Flush()
	}

	if err != nil {
		s.err = err
		log.New("http:migrate").Warnf("Stream closed: %v", err)
	}
}

type migrateRequest struct {
	SourceURI     string `json:"sourceUri"     validate:"required,mongouri"`
	TargetURI     string `json:"targetUri"     validate:"required,mongouri,nefield=SourceURI"`
	MigrationMode string `json:"migrationMode" validate:"omitempty,oneof=complete newOnly incremental"`

	IncludeCollections []string `json:"includeCollections,omitempty" validate:"dive,collpattern"`
	ExcludeCollections []string `json:"excludeCollections,omitempty" validate:"dive,collpattern"`
}

type testRequest struct {
	SourceURI string `json:"sourceUri" validate:"required"`
	TargetURI string `json:"targetUri" validate:"required"`
}

type errorResponse struct {
	Ok     bool                      `json:"ok"`
	Err    string                    `json:"error,omitempty"`
	Fields validate.ValidationErrors `json:"fields,omitempty"`
}
