package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gorilla/websocket"
	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/gridsync/pkg/engine"
	"github.com/raterudder/gridsync/pkg/log"
	"github.com/raterudder/gridsync/pkg/metrics"
	"github.com/raterudder/gridsync/pkg/storage"
	"github.com/raterudder/gridsync/pkg/types"
)

// Engine is the part of engine.Engine the HTTP API uses.
type Engine interface {
	Snapshot() engine.State
	Samples() []types.EnergySample
	Devices() []types.DeviceState
	Notifications() []types.Notification
	Analysis() *types.AnalysisReport
	SetDevice(ctx context.Context, id int64, isOn bool) error
	ToggleDevice(ctx context.Context, id int64) (bool, error)
	Analyze(ctx context.Context) (*types.AnalysisReport, error)
	Subscribe() (<-chan types.Notification, func())
}

// tokenVerifier validates an OIDC ID token.
type tokenVerifier func(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)

// Server exposes the engine's live state and device commands over HTTP.
type Server struct {
	engine  Engine
	storage storage.Database
	metrics *metrics.Metrics

	listenAddr    string
	httpServer    *http.Server
	serverName    string
	oidcVerifier  tokenVerifier
	allowedOrigin string
	upgrader      websocket.Upgrader
}

// Configured initializes the Server with dependencies.
// It uses lflag to register command-line flags for configuration.
func Configured(e Engine, s storage.Database, m *metrics.Metrics) *Server {
	srv := &Server{
		engine:     e,
		storage:    s,
		metrics:    m,
		serverName: "gridsync",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		// otherwise default to 8080
		port = "8080"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	oidcIssuer := lflag.String("oidc-issuer", "https://accounts.google.com", "Issuer of the ID tokens accepted for device commands")
	oidcAudience := lflag.String("oidc-audience", "", "Audience to validate ID tokens against. Empty disables authentication")
	allowedOrigin := lflag.String("allowed-origin", "", "Origin allowed to open the notification stream. Empty allows same-origin only")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.allowedOrigin = *allowedOrigin
		if *oidcAudience != "" {
			provider, err := oidc.NewProvider(context.Background(), *oidcIssuer)
			if err != nil {
				log.Ctx(context.Background()).Error("failed to initialize OIDC provider", slog.String("issuer", *oidcIssuer), slog.Any("error", err))
				os.Exit(1)
			}
			srv.oidcVerifier = provider.Verifier(&oidc.Config{ClientID: *oidcAudience}).Verify
		}
	})

	return srv
}

func (s *Server) setupHandler() http.Handler {
	s.upgrader.CheckOrigin = s.checkOrigin

	apiMux := http.NewServeMux()
	s.handle(apiMux, "GET /api/state", s.handleState)
	s.handle(apiMux, "GET /api/samples", s.handleSamples)
	s.handle(apiMux, "GET /api/devices", s.handleDevices)
	s.handle(apiMux, "POST /api/devices/{id}/toggle", s.handleToggleDevice)
	s.handle(apiMux, "POST /api/devices/{id}/control", s.handleControlDevice)
	s.handle(apiMux, "GET /api/notifications", s.handleNotifications)
	s.handle(apiMux, "GET /api/analysis", s.handleGetAnalysis)
	s.handle(apiMux, "POST /api/analysis", s.handleRunAnalysis)
	s.handle(apiMux, "GET /api/history/notifications", s.handleHistoryNotifications)
	s.handle(apiMux, "GET /api/history/analysis", s.handleHistoryAnalysis)
	// the stream hijacks the connection so it skips gzip and metrics
	apiMux.HandleFunc("GET /api/stream", s.handleStream)

	mux := http.NewServeMux()
	mux.Handle("/api/", s.authMiddleware(apiMux))
	mux.Handle("GET /metrics", s.metrics.Handler())
	mux.HandleFunc("/healthz", s.handleHealthz)
	return s.revisionMiddleware(s.securityHeadersMiddleware(mux))
}

// handle registers h compressed and instrumented under the route pattern.
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, s.metrics.WrapHandler(pattern, gziphandler.GzipHandler(h)))
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.listenAddr,
		Handler:      s.setupHandler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  15 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
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

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
