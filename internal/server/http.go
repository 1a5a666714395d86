package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/udp-audio-relay/internal/config"
	"github.com/skypro1111/udp-audio-relay/internal/httperror"
	"github.com/skypro1111/udp-audio-relay/internal/membership"
	"github.com/skypro1111/udp-audio-relay/internal/metrics"
)

const (
	serviceName    = "udp-audio-relay"
	serviceVersion = "1.0.0"
)

// HandlerWithErr is an HTTP handler that reports failures as *httperror.HTTPError
type HandlerWithErr func(http.ResponseWriter, *http.Request) *httperror.HTTPError

// HTTPServer provides HTTP API endpoints for monitoring and announcements
type HTTPServer struct {
	server  *http.Server
	router  chi.Router
	logger  *slog.Logger
	config  *config.Config
	relay   *Relay
	metrics *metrics.Metrics
}

// NewHTTPServer creates the HTTP API server. gatherer backs the /metrics endpoint.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger, relay *Relay,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:  logger,
		config:  cfg,
		relay:   relay,
		metrics: m,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.handle("/health", h.handleHealth))
	r.Get("/clients", h.handle("/clients", h.handleClients))
	r.Get("/stats", h.handle("/stats", h.handleStats))
	r.Get("/config", h.handle("/config", h.handleConfig))
	r.Post("/announce", h.handle("/announce", h.handleAnnounce))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	h.router = r
	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler exposes the router for tests and embedding
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// handle renders handler errors and records request metrics
func (h *HTTPServer) handle(endpoint string, handlerFn HandlerWithErr) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		if err := handlerFn(ww, r); err != nil {
			render.Render(ww, r, err)
			h.logger.Warn("Request failed",
				slog.String("endpoint", endpoint),
				slog.Int("status", err.Code),
				slog.String("error", err.Error()),
			)
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.RecordHTTPRequest(r.Method, endpoint, fmt.Sprintf("%d", status), time.Since(startTime).Seconds())
	}
}

// Start starts the HTTP server in the background
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))

	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Clients   int       `json:"clients"`
}

func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	stats := h.relay.GetStatistics()

	render.JSON(w, r, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Service:   serviceName,
		Version:   serviceVersion,
		Uptime:    stats.Uptime,
		Clients:   stats.Clients,
	})
	return nil
}

type clientsResponse struct {
	Count   int                 `json:"count"`
	Clients []membership.Member `json:"clients"`
}

func (h *HTTPServer) handleClients(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	members := h.relay.Members()

	render.JSON(w, r, clientsResponse{
		Count:   len(members),
		Clients: members,
	})
	return nil
}

func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	render.JSON(w, r, h.relay.GetStatistics())
	return nil
}

func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	render.JSON(w, r, map[string]any{
		"server": h.config.Server,
		"audio":  h.config.Audio,
	})
	return nil
}

// AnnounceRequest is the body of POST /announce
type AnnounceRequest struct {
	Message string `json:"message"`
}

func (a *AnnounceRequest) Bind(r *http.Request) error {
	if strings.TrimSpace(a.Message) == "" {
		return errors.New("message cannot be empty")
	}
	return nil
}

type announceResponse struct {
	Queued     bool `json:"queued"`
	Recipients int  `json:"recipients"`
}

func (h *HTTPServer) handleAnnounce(w http.ResponseWriter, r *http.Request) *httperror.HTTPError {
	req := &AnnounceRequest{}
	if err := render.Bind(r, req); err != nil {
		return httperror.BadRequestWithError("invalid announcement", err)
	}

	recipients, err := h.relay.Announce(req.Message)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			return httperror.New(http.StatusRequestEntityTooLarge, "announcement too large", err)
		}
		return httperror.ServiceUnavailable("announcement not queued", err)
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, announceResponse{Queued: true, Recipients: recipients})
	return nil
}
