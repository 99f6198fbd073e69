// Package server exposes the agent's current view over HTTP: the last quality
// state, probe supervisor states, Prometheus metrics and a live event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"github.com/thetooth/ping-agent/bus"
	"github.com/thetooth/ping-agent/probe"
	"github.com/thetooth/ping-agent/statistics"
)

// Options for New.
type Options struct {
	Probes         []*probe.Supervisor
	Metrics        http.Handler
	AllowedOrigins []string
}

// ProbeStatus describes one supervised probe.
type ProbeStatus struct {
	Target   string `json:"target"`
	Address  string `json:"address"`
	State    string `json:"state"`
	Launches int64  `json:"launches"`
}

// Status is the body of GET /status.
type Status struct {
	Time       time.Time                      `json:"time"`
	Severities map[string]statistics.Severity `json:"state"`
	Stats      []statistics.TargetStat        `json:"stats"`
	Probes     []ProbeStatus                  `json:"probes"`
}

// Server keeps the last quality state and serves it.
type Server struct {
	Hub *Hub

	probes  []*probe.Supervisor
	handler http.Handler

	mu   sync.RWMutex
	last *bus.QualityState
}

func New(opts Options) *Server {
	s := &Server{
		Hub:    NewHub(opts.AllowedOrigins),
		probes: opts.Probes,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
		}))
	}

	r.Get("/status", s.getStatus)
	r.Get("/status/{target}", s.getTarget)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}
	r.Get("/ws", s.Hub.HandleConnect)

	s.handler = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Subscribe attaches the server and its hub to the bus.
func (s *Server) Subscribe(b *bus.Bus) {
	b.SubscribeQuality(s)
	b.SubscribeQuality(s.Hub)
	b.SubscribeAlerts(s.Hub)
}

func (s *Server) HandleQuality(q bus.QualityState) {
	s.mu.Lock()
	s.last = &q
	s.mu.Unlock()
}

// ListenAndServe serves on addr until ctx is done. The hub runs alongside.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.Hub.Run(hubCtx)

	errc := make(chan error, 1)
	go func() {
		logrus.Info("[ SERVER_START ] listen: ", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) status() Status {
	st := Status{}

	s.mu.RLock()
	if s.last != nil {
		st.Time = s.last.Time
		st.Severities = s.last.Severities
		st.Stats = s.last.Stats
	}
	s.mu.RUnlock()

	for _, p := range s.probes {
		st.Probes = append(st.Probes, ProbeStatus{
			Target:   p.Target.ID,
			Address:  p.Target.Address,
			State:    p.State().String(),
			Launches: p.Launches(),
		})
	}
	return st
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "target")
	for _, stat := range s.status().Stats {
		if stat.Target == id {
			writeJSON(w, http.StatusOK, stat)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "no quality state for " + id})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Debug("Failed to write response: ", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start),
			"request_id": middleware.GetReqID(r.Context()),
		}).Debug("http request")
	})
}
