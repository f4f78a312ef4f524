package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hiermem/hiermem/pkg/engine"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Run the HTTP API server",
	Long: `Serve the memory engine over HTTP.

Endpoints:
  POST /v1/memory/store       Append one turn
  POST /v1/memory/recent      Last N turns in original order
  POST /v1/memory/compressed  Summary + recent turns verbatim
  GET  /v1/memory/stats       Turn log statistics
  GET  /v1/tools              Operation discovery
  GET  /healthz               Liveness probe
  GET  /metrics               Prometheus metrics`,
	RunE: runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)

	apiCmd.Flags().String("addr", ":8080", "Listen address")
	_ = viper.BindPFlag("api.addr", apiCmd.Flags().Lookup("addr"))
}

func runAPI(cmd *cobra.Command, args []string) error {
	shutdown, err := setupTracing(cmd.Context())
	if err != nil {
		return err
	}
	defer shutdown()

	reg := prometheus.NewRegistry()
	eng, store, err := openEngine(engine.NewMetrics(reg))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	api := &APIServer{engine: eng, registry: reg}
	srv := &http.Server{
		Addr:              viper.GetString("api.addr"),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", srv.Addr, "db", viper.GetString("db"))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// APIServer holds the HTTP surface over the engine.
type APIServer struct {
	engine   *engine.Engine
	registry *prometheus.Registry
}

// Handler builds the routed mux with logging middleware applied to
// every business endpoint.
func (a *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	turnsAPI := &TurnsAPI{engine: a.engine}
	turnsAPI.RegisterTurnRoutes(mux, requestMiddleware)

	mux.HandleFunc("/v1/tools", requestMiddleware("/v1/tools", a.handleTools))
	mux.HandleFunc("/healthz", a.handleHealthz)
	if a.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}

	return mux
}

// requestMiddleware tags each request with an id and logs its outcome.
func requestMiddleware(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)

		slog.Info("request",
			"route", route,
			"method", r.Method,
			"status", rec.status,
			"duration", time.Since(start),
			"request_id", requestID,
		)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

type toolInfo struct {
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	Description string `json:"description"`
}

func (a *APIServer) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tools := []toolInfo{
		{
			Name:        "store_memory",
			Endpoint:    "POST /v1/memory/store",
			Description: "Append one conversation turn to an agent's memory; duplicate turn_ids are rejected.",
		},
		{
			Name:        "get_recent_turns",
			Endpoint:    "POST /v1/memory/recent",
			Description: "Last N turns for an agent in original conversational order.",
		},
		{
			Name:        "get_compressed_memory",
			Endpoint:    "POST /v1/memory/compressed",
			Description: "Token-bounded view: summarized old turns plus the recent tail verbatim.",
		},
		{
			Name:        "memory_stats",
			Endpoint:    "GET /v1/memory/stats",
			Description: "Turn log statistics.",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"service": "hiermem",
		"version": Version,
		"tools":   tools,
	})
}

func (a *APIServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
