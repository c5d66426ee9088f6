package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/chargerate/pkg/common"
	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/pricing"
	"github.com/raterudder/chargerate/pkg/scheduler"
	"github.com/raterudder/chargerate/pkg/storage"
)

// SchedulerStatus is the view of the scheduler exposed by /api/status.
type SchedulerStatus interface {
	Name() string
	State() scheduler.State
	Stats() scheduler.Stats
	Interval() time.Duration
}

// PriceSource is the configured price provider.
type PriceSource interface {
	pricing.Provider
	ID() pricing.ProviderID
	Currency() string
}

// Server exposes the health of the price updates and the prices the
// provider returns over HTTP.
type Server struct {
	scheduler SchedulerStatus
	prices    PriceSource
	archive   storage.PriceArchive

	listenAddr string
	httpServer *http.Server
	serverName string
	maxRange   time.Duration
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(sched SchedulerStatus, prices PriceSource, archive storage.PriceArchive) *Server {
	srv := &Server{
		scheduler:  sched,
		prices:     prices,
		archive:    archive,
		serverName: common.UserAgent(),
	}

	// listen on PORT when it is set, otherwise the status API is off by default
	defaultListen := ""
	if port := os.Getenv("PORT"); port != "" {
		defaultListen = ":" + port
	}

	listenAddr := lflag.String("http-listen", defaultListen, "HTTP status server listen address (empty disables it)")
	maxRange := lflag.Duration("http-max-price-range", 7*24*time.Hour, "Largest window /api/prices will request from the provider")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.maxRange = *maxRange
	})

	return srv
}

// Enabled reports whether a listen address was configured.
func (s *Server) Enabled() bool {
	return s.listenAddr != ""
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/prices", s.handlePrices)
	mux.HandleFunc("GET /api/archive/prices", s.handleArchivedPrices)
	return s.revisionMiddleware(gziphandler.GzipHandler(s.securityHeadersMiddleware(mux)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(ctx, "starting server", slog.String("addr", s.listenAddr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		// Context canceled, shut down gracefully
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func writeJSONError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
	}{Error: msg}); err != nil {
		slog.Warn("failed to write error response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		panic(http.ErrAbortHandler)
	}
}

type statusResponse struct {
	Provider  pricing.ProviderID `json:"provider"`
	Currency  string             `json:"currency"`
	Scheduler schedulerResponse  `json:"scheduler"`
}

type schedulerResponse struct {
	Name            string          `json:"name"`
	State           scheduler.State `json:"state"`
	IntervalSeconds float64         `json:"intervalSeconds"`
	Stats           scheduler.Stats `json:"stats"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, statusResponse{
		Provider: s.prices.ID(),
		Currency: s.prices.Currency(),
		Scheduler: schedulerResponse{
			Name:            s.scheduler.Name(),
			State:           s.scheduler.State(),
			IntervalSeconds: s.scheduler.Interval().Seconds(),
			Stats:           s.scheduler.Stats(),
		},
	})
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
