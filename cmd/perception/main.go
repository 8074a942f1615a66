package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/amin3ltd/project-chimera/internal/bootstrap"
	"github.com/amin3ltd/project-chimera/internal/config"
	"github.com/amin3ltd/project-chimera/internal/observability"
	"github.com/amin3ltd/project-chimera/internal/perception"
	"github.com/amin3ltd/project-chimera/internal/state"
	"github.com/amin3ltd/project-chimera/internal/tenancy"
)

func main() {
	cfg := config.FromEnv()

	shutdownTrace, err := observability.InitTracingFromEnv("chimera-perception")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	qs, err := bootstrap.NewQueueStore(cfg)
	if err != nil {
		log.Fatalf("bootstrap queue store: %v", err)
	}
	ss, err := bootstrap.NewStateStore(cfg)
	if err != nil {
		log.Fatalf("bootstrap state store: %v", err)
	}

	readers := buildReaders(cfg)
	if len(readers) == 0 {
		log.Fatalf("no resources configured: set CHIMERA_FEED_URLS or CHIMERA_FEED_FILES")
	}

	ks := tenancy.NewKeyspace(cfg.Tenant)
	m := perception.NewMonitor(cfg.CampaignID,
		state.NewCampaignStore(ss, ks),
		state.NewTaskQueue(qs, ks),
		readers,
		perception.Options{
			PollInterval: time.Duration(cfg.PerceptionIntervalSeconds) * time.Second,
			Threshold:    cfg.PerceptionThreshold,
		},
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
	go m.Run(ctx)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("chimera perception listening on %s (tenant %s, campaign %s, %d resources)",
		cfg.ListenAddr, cfg.Tenant, cfg.CampaignID, len(readers))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("perception failed: %v", err)
	}
	log.Println("chimera perception shutting down")
}

func buildReaders(cfg config.Config) []perception.ResourceReader {
	var readers []perception.ResourceReader
	for i, raw := range splitList(cfg.FeedURLs) {
		readers = append(readers, perception.HTTPReader{
			ResourceName: fmt.Sprintf("url-%d", i+1),
			URL:          raw,
		})
	}
	for i, raw := range splitList(cfg.FeedFiles) {
		readers = append(readers, perception.FileReader{
			ResourceName: fmt.Sprintf("file-%d", i+1),
			Path:         raw,
		})
	}
	return readers
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
