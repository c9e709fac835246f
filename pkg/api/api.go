// Package api exposes the operator REST surface: the settings record,
// the latest reading, recent history, and the health and metrics
// endpoints. It is a thin layer over the meter; every mutation goes
// through the same validation and persistence path as the serial
// command protocol.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rriggio/energino/pkg/sample"
	"github.com/rriggio/energino/pkg/settings"
)

const shutdownTimeout = 5 * time.Second

// Agent is the meter surface the handlers need.
type Agent interface {
	Settings() settings.Settings
	UpdateSettings(settings.Settings) error
	LastReading() (sample.Reading, bool)
	History(max int) []sample.Reading
}

// Server serves the REST API for one meter agent.
type Server struct {
	agent Agent
	reg   prometheus.Gatherer
	log   zerolog.Logger
}

// New builds a Server around agent. Collectors gathered from reg are
// served on /metrics.
func New(agent Agent, reg prometheus.Gatherer, log zerolog.Logger) *Server {
	return &Server{
		agent: agent,
		reg:   reg,
		log:   log.With().Str("component", "api").Logger(),
	}
}

// LoadAPI registers all REST endpoints.
func (s *Server) LoadAPI(r *mux.Router) {
	sr := r.PathPrefix("/api").Subrouter()
	sr.HandleFunc("/settings", s.getSettings).Methods("GET")
	sr.HandleFunc("/settings", s.putSettings).Methods("PUT")
	sr.HandleFunc("/reading", s.getReading).Methods("GET")
	sr.HandleFunc("/readings", s.getReadings).Methods("GET")
	r.HandleFunc("/health", s.health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
}

// Serve runs the listener on addr until ctx is cancelled, then drains
// in-flight requests before returning.
func (s *Server) Serve(ctx context.Context, addr string) error {
	r := mux.NewRouter()
	s.LoadAPI(r)

	srv := &http.Server{Addr: addr, Handler: r}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("api listening")

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.agent.Settings())
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var st settings.Settings
	if err := json.NewDecoder(r.Body).Decode(&st); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.agent.UpdateSettings(st); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getReading(w http.ResponseWriter, r *http.Request) {
	rd, ok := s.agent.LastReading()
	if !ok {
		http.Error(w, "no reading yet", http.StatusNotFound)
		return
	}
	s.writeJSON(w, rd)
}

func (s *Server) getReadings(w http.ResponseWriter, r *http.Request) {
	max := 0
	if q := r.URL.Query().Get("max"); q != "" {
		v, err := strconv.Atoi(q)
		if err != nil || v < 0 {
			http.Error(w, "max must be a non-negative integer", http.StatusBadRequest)
			return
		}
		max = v
	}
	s.writeJSON(w, s.agent.History(max))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("encoding response")
	}
}
