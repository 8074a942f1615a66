package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/amin3ltd/project-chimera/internal/bootstrap"
	"github.com/amin3ltd/project-chimera/internal/config"
	"github.com/amin3ltd/project-chimera/internal/observability"
	"github.com/amin3ltd/project-chimera/internal/skill"
	"github.com/amin3ltd/project-chimera/internal/state"
	"github.com/amin3ltd/project-chimera/internal/tenancy"
	"github.com/amin3ltd/project-chimera/internal/worker"
)

func main() {
	cfg := config.FromEnv()

	shutdownTrace, err := observability.InitTracingFromEnv("chimera-worker")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	qs, err := bootstrap.NewQueueStore(cfg)
	if err != nil {
		log.Fatalf("bootstrap queue store: %v", err)
	}
	registry, err := skill.Builtin()
	if err != nil {
		log.Fatalf("capability registry: %v", err)
	}

	ks := tenancy.NewKeyspace(cfg.Tenant)
	w := worker.New(cfg.WorkerID,
		state.NewTaskQueue(qs, ks),
		state.NewReviewQueue(qs, ks),
		state.NewHITLQueue(qs, ks),
		registry,
		worker.Options{PollInterval: cfg.PollInterval, HITLThreshold: cfg.HITLThreshold},
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/v1/metrics", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, observability.Default.Snapshot())
	})
	mux.HandleFunc("/v1/metrics/prometheus", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(observability.Default.RenderPrometheus()))
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go w.Run(ctx)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("chimera worker %s listening on %s (tenant %s)", cfg.WorkerID, cfg.ListenAddr, cfg.Tenant)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("worker failed: %v", err)
	}
	log.Println("chimera worker shutting down")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
