package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/benmeehan/location-agent/internal/models"
	"github.com/benmeehan/location-agent/internal/store"
	"github.com/benmeehan/location-agent/internal/transport"
	"github.com/benmeehan/location-agent/internal/utils"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	maxBodyBytes = 1 << 20
	maxLimit     = 1000
	pingTimeout  = 2 * time.Second
)

// Server is the reference location backend.
type Server struct {
	store  store.Store
	cfg    *utils.ServerConfig
	logger zerolog.Logger
	now    func() time.Time
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

type deleteResponse struct {
	Message string `json:"message"`
	Deleted int64  `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New creates a Server backed by st.
func New(st store.Store, cfg *utils.ServerConfig, logger zerolog.Logger) *Server {
	return &Server{store: st, cfg: cfg, logger: logger, now: time.Now}
}

// Routes creates the HTTP router with all location endpoints.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORS.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", transport.DeviceIDHeader},
		MaxAge:         300,
	}))

	r.Get("/health", s.Health)
	r.Get("/status", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.cfg.RateLimit.Requests > 0 {
			r.Use(httprate.LimitByIP(s.cfg.RateLimit.Requests, s.cfg.RateLimit.Window))
		}

		r.Get("/health", s.Health)
		r.Get("/status", s.Health)

		r.Post("/locations", s.CreateLocation)
		r.Get("/locations", s.ListLocations)
		r.Delete("/locations", s.DeleteLocations)

		r.Post("/user/trace-movement", s.CreateLocation)
		r.Get("/user/latest-locations", s.LatestLocations)
	})

	s.logger.Info().Msg("HTTP routes registered")
	return r
}

// Health reports liveness and the API version. An unreachable store reports 503.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Store ping failed")
		s.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Version: s.cfg.Version})
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.cfg.Version})
}

// CreateLocation stores one sample and echoes the stored record.
func (s *Server) CreateLocation(w http.ResponseWriter, r *http.Request) {
	var sample models.LocationSample
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&sample); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}
	if sample.DeviceID == "" {
		sample.DeviceID = r.Header.Get(transport.DeviceIDHeader)
	}
	if sample.Timestamp == 0 {
		sample.Timestamp = s.now().UnixMilli()
	}
	if err := sample.Validate(); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	rec, err := s.store.Insert(r.Context(), sample)
	if err != nil {
		s.internalError(w, err, "Failed to store location")
		return
	}

	s.logger.Debug().
		Int64("id", rec.ID).
		Str("device_id", rec.DeviceID).
		Int64("timestamp", rec.Timestamp).
		Msg("Location saved")
	s.writeJSON(w, http.StatusCreated, rec)
}

// ListLocations returns records in an inclusive time range, ascending by timestamp.
// Missing bounds are open.
func (s *Server) ListLocations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseInt(q.Get("startTime"), 0)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid startTime"})
		return
	}
	end, err := parseInt(q.Get("endTime"), store.MaxTimestamp)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid endTime"})
		return
	}
	if start > end {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "startTime is after endTime"})
		return
	}

	records, err := s.store.Range(r.Context(), start, end)
	if err != nil {
		s.internalError(w, err, "Failed to query locations")
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

// DeleteLocations removes records older than olderThan, or every record when it is absent.
func (s *Server) DeleteLocations(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("olderThan")

	var (
		deleted int64
		err     error
		message string
	)
	if raw == "" {
		deleted, err = s.store.DeleteAll(r.Context())
		message = "All locations deleted"
	} else {
		olderThan, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil || olderThan < 0 {
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid olderThan"})
			return
		}
		deleted, err = s.store.DeleteOlderThan(r.Context(), olderThan)
		message = "Locations deleted successfully"
	}
	if err != nil {
		s.internalError(w, err, "Failed to delete locations")
		return
	}

	s.logger.Info().Int64("deleted", deleted).Str("older_than", raw).Msg("Locations deleted")
	s.writeJSON(w, http.StatusOK, deleteResponse{Message: message, Deleted: deleted})
}

// LatestLocations returns the newest records first.
func (s *Server) LatestLocations(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), s.cfg.LatestLimit, maxLimit)

	records, err := s.store.Latest(r.Context(), limit)
	if err != nil {
		s.internalError(w, err, "Failed to query latest locations")
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) internalError(w http.ResponseWriter, err error, msg string) {
	s.logger.Error().Err(err).Msg(msg)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msg})
}

// writeJSON writes a JSON response with the given status code
func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode json response")
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		s.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func parseInt(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.New("negative value")
	}
	return v, nil
}

// parseLimit parses a limit query param with default and max
func parseLimit(q string, def, max int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
