package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mailru/easyjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/infinityCounter2/vh-surveil/internal/logic"
	"github.com/infinityCounter2/vh-surveil/internal/metrics"
	"github.com/infinityCounter2/vh-surveil/internal/models"
	"github.com/infinityCounter2/vh-surveil/internal/pipeline"
	"github.com/infinityCounter2/vh-surveil/internal/transport"
)

type Params struct {
	Port int
	// Detectors evaluated for events posted to /ingest.
	Detectors []logic.Detector
	Sink      pipeline.Sink
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// MaxBodyBytes caps the size of an /ingest request body.
	//
	// Defaults to 8MiB.
	MaxBodyBytes int64
	// Gatherer backs /metrics.
	//
	// Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

type Server struct {
	p Params

	// Detectors in the order they were given, events are offered
	// to each in turn. Each is guarded so concurrent requests and
	// any other feeder of the same detector stay serial.
	detectors []*pipeline.Guarded
	byName    map[string]*pipeline.Guarded
}

func NewServer(p Params) *Server {
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Gatherer == nil {
		p.Gatherer = prometheus.DefaultGatherer
	}
	if p.Metrics == nil {
		p.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if p.Sink == nil {
		p.Sink = transport.MultiSink(nil)
	}
	if p.MaxBodyBytes <= 0 {
		p.MaxBodyBytes = 8 << 20
	}

	s := &Server{
		p:      p,
		byName: make(map[string]*pipeline.Guarded, len(p.Detectors)),
	}
	for _, d := range p.Detectors {
		g := pipeline.Guard(d)
		s.detectors = append(s.detectors, g)
		s.byName[d.Name()] = g
	}

	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ingest", s.ingestHandler)
	mux.HandleFunc("/windows", s.windowsHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(s.p.Gatherer, promhttp.HandlerOpts{}))

	return s.middleware(mux)
}

// Run starts the HTTP server and will continue until either an
// expected event is encountered, or the provided context is finished.
func (s *Server) Run(ctx context.Context) error {
	// Buffer the error channel so that the routine
	// pushing to it can exit immediately.
	errCh := make(chan error, 1)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.p.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Start serving.
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err // Abnormal termination event so push the error
			return
		}
		errCh <- nil // http.ErrServerClosed is a normal shutdown event
	}()

	// Wait for the context to end
	select {
	case <-ctx.Done():
		// Attempt a graceful shutdown with a timeout
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_ = srv.Shutdown(shCtx) // We wll drop the error here since it's inconsequential
		<-errCh
		return nil

	case err := <-errCh:
		// Non-graceful server error (bind failure, etc.)
		return err
	}
}

// ingestHandler is a handler for the /ingest endpoint to run a batch of
// order envelopes through every detector.
//
// Only handles POST requests. Responds with the alerts raised.
func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	// Load and parse JSON body
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.p.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "POST body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read POST body", http.StatusInternalServerError)
		return
	}

	defer r.Body.Close()

	var envelopes models.RawEnvelopeList
	if err := easyjson.Unmarshal(payload, &envelopes); err != nil {
		http.Error(w, "Failed to parse POST body to order events", http.StatusUnprocessableEntity)
		return
	}

	alerts := make(models.AlertList, 0)
	for _, raw := range envelopes {
		for _, d := range s.detectors {
			if alert, fired := s.evaluate(d, raw); fired {
				alerts = append(alerts, alert)
			}
		}
	}

	writeJSON(w, s.p.Logger, alerts)
}

func (s *Server) evaluate(d logic.Detector, raw []byte) (models.Alert, bool) {
	name := d.Name()

	ev, err := models.DecodeOrderEvent(raw, d.Requires())
	if err != nil {
		s.p.Logger.Debug("Skipping order event", zap.String("detector", name), zap.Error(err))
		s.p.Metrics.EventsRejected.WithLabelValues(name, pipeline.RejectReason(err)).Inc()
		return models.Alert{}, false
	}

	return pipeline.Evaluate(d, ev, s.p.Sink, s.p.Logger.Named(name), s.p.Metrics)
}

// windowsHandler is a handler for the /windows endpoint to serve the
// current window of a "key" for the required "detector".
func (s *Server) windowsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	name := getParam(r, "detector")
	d, ok := s.byName[name]
	if !ok {
		http.Error(w,
			fmt.Sprintf("invalid detector value %q", name),
			http.StatusBadRequest,
		)
		return
	}

	key := getParam(r, "key")
	if key == "" {
		http.Error(w, "key is required", http.StatusBadRequest)
		return
	}

	writeJSON(w, s.p.Logger, models.OrderEventList(d.Store().Snapshot(key)))
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte("ok"))
}

// writeJSON is a helper for serializing the response via easyjson
// and writing it back to the client.
func writeJSON(w http.ResponseWriter, logger *zap.Logger, data easyjson.Marshaler) {
	payload, err := easyjson.Marshal(data)
	if err != nil {
		logger.Error("Failed to marshal response", zap.Error(err))
		http.Error(w, "Internal Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, err = w.Write(payload)
	if err != nil {
		logger.Warn("Failed to write response to client", zap.Error(err))
	}
}

// getParam retrieves a query parameter from the request URL.
// It returns the parameter's value as a string. If the parameter is not found,
// an empty string is returned.
func getParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// Simple request logging middleware.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.p.Logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", time.Since(start)),
		)
	})
}
