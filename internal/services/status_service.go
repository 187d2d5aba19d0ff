package services

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/benmeehan/location-agent/internal/dispatcher"
	"github.com/benmeehan/location-agent/internal/models"
	"github.com/benmeehan/location-agent/internal/queue"
	"github.com/benmeehan/location-agent/internal/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// SyncAPI is the slice of the dispatcher exposed over the local status API.
type SyncAPI interface {
	Submitter
	Deleter
	StatusReporter
	Query(ctx context.Context, start, end int64) (dispatcher.QueryResult, error)
	Drain(ctx context.Context) (dispatcher.DrainReport, error)
	DropFront() (models.QueuedOperation, error)
	Pending() []models.QueuedOperation
	DeadLetters() []models.QueuedOperation
}

type queueView struct {
	Pending     []models.QueuedOperation `json:"pending"`
	DeadLetters []models.QueuedOperation `json:"deadLetters,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// StatusService serves the local UI boundary: submit, query, delete, and queue inspection.
type StatusService struct {
	listenAddr string
	api        SyncAPI
	logger     zerolog.Logger
	now        func() time.Time

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewStatusService creates a StatusService bound to listenAddr.
func NewStatusService(listenAddr string, api SyncAPI, logger zerolog.Logger) *StatusService {
	return &StatusService{
		listenAddr: listenAddr,
		api:        api,
		logger:     logger,
		now:        time.Now,
	}
}

// Handler builds the router.
func (s *StatusService) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/status", s.handleStatus)
	r.Get("/queue", s.handleQueue)
	r.Delete("/queue/front", s.handleDropFront)
	r.Post("/sync/drain", s.handleDrain)

	r.Post("/locations", s.handleSubmit)
	r.Get("/locations", s.handleQuery)
	r.Delete("/locations", s.handleDelete)

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// Start begins serving on the configured address.
func (s *StatusService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		s.logger.Warn().Msg("StatusService is already running")
		return errors.New("status service is already running")
	}

	ln, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		s.logger.Error().Err(err).Str("addr", s.listenAddr).Msg("Failed to listen")
		return err
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func(srv *http.Server) {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Status API stopped unexpectedly")
		}
	}(s.server)

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("StatusService started")
	return nil
}

// Addr returns the bound address, or "" when not running.
func (s *StatusService) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down.
func (s *StatusService) Stop() error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		s.logger.Warn().Msg("StatusService is not running")
		return errors.New("status service is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(ctx)
	s.wg.Wait()

	s.logger.Info().Msg("StatusService stopped")
	return err
}

func (s *StatusService) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.api.Report())
}

func (s *StatusService) handleQueue(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, queueView{
		Pending:     s.api.Pending(),
		DeadLetters: s.api.DeadLetters(),
	})
}

func (s *StatusService) handleDropFront(w http.ResponseWriter, r *http.Request) {
	op, err := s.api.DropFront()
	if errors.Is(err, queue.ErrEmpty) {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, op)
}

func (s *StatusService) handleDrain(w http.ResponseWriter, r *http.Request) {
	report, err := s.api.Drain(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *StatusService) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var sample models.LocationSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if sample.DeviceID == "" {
		sample.DeviceID = r.Header.Get(transport.DeviceIDHeader)
	}

	outcome, err := s.api.Submit(r.Context(), sample)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, outcomeStatusCode(outcome), outcome)
}

func (s *StatusService) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseMillis(q.Get("startTime"), 0)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid startTime"})
		return
	}
	end, err := parseMillis(q.Get("endTime"), s.now().UnixMilli())
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid endTime"})
		return
	}

	result, err := s.api.Query(r.Context(), start, end)
	switch {
	case models.IsMalformed(err):
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case err != nil:
		s.writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *StatusService) handleDelete(w http.ResponseWriter, r *http.Request) {
	olderThan, err := parseMillis(r.URL.Query().Get("olderThan"), s.now().UnixMilli())
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid olderThan"})
		return
	}

	outcome, err := s.api.DeleteOlderThan(r.Context(), olderThan)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, outcomeStatusCode(outcome), outcome)
}

func (s *StatusService) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func outcomeStatusCode(o dispatcher.Outcome) int {
	switch o.Status {
	case dispatcher.Sent:
		return http.StatusOK
	case dispatcher.Queued:
		return http.StatusAccepted
	default:
		return http.StatusUnprocessableEntity
	}
}

func parseMillis(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
