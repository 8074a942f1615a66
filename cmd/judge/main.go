package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/amin3ltd/project-chimera/internal/bootstrap"
	"github.com/amin3ltd/project-chimera/internal/config"
	"github.com/amin3ltd/project-chimera/internal/judge"
	"github.com/amin3ltd/project-chimera/internal/observability"
	"github.com/amin3ltd/project-chimera/internal/state"
	"github.com/amin3ltd/project-chimera/internal/tenancy"
)

type humanDecisionRequest struct {
	TaskID   string `json:"task_id"`
	Reviewer string `json:"reviewer"`
	Verdict  string `json:"verdict"`
	Note     string `json:"note"`
}

func main() {
	cfg := config.FromEnv()

	shutdownTrace, err := observability.InitTracingFromEnv("chimera-judge")
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
	pol, err := bootstrap.NewPolicy(cfg)
	if err != nil {
		log.Fatalf("load policy: %v", err)
	}
	artifacts, err := bootstrap.NewArtifactStore(cfg)
	if err != nil {
		log.Fatalf("bootstrap artifact store: %v", err)
	}

	ks := tenancy.NewKeyspace(cfg.Tenant)
	campaigns := state.NewCampaignStore(ss, ks)
	review := state.NewReviewQueue(qs, ks)
	hitl := state.NewHITLQueue(qs, ks)
	tasks := state.NewTaskQueue(qs, ks)
	j := judge.New(review, hitl, tasks, campaigns, artifacts, pol, judge.Options{PollInterval: cfg.PollInterval})

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
	mux.HandleFunc("/v1/hitl/next", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		res, ok, err := hitl.Pop(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"empty": true})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"empty": false, "result": res})
	})
	mux.HandleFunc("/v1/hitl/queue", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		n, err := hitl.Len(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"pending": n})
	})
	mux.HandleFunc("/v1/hitl/decisions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req humanDecisionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.TaskID) == "" || strings.TrimSpace(req.Reviewer) == "" {
			writeError(w, http.StatusBadRequest, "task_id and reviewer are required")
			return
		}
		d := state.HumanDecision{TaskID: req.TaskID, Reviewer: req.Reviewer, Verdict: req.Verdict, Note: req.Note}
		if err := j.RecordHumanDecision(r.Context(), d); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
	})
	mux.HandleFunc("/v1/hitl/decisions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		taskID := strings.TrimPrefix(r.URL.Path, "/v1/hitl/decisions/")
		if taskID == "" {
			writeError(w, http.StatusNotFound, "task id is required")
			return
		}
		d, ok, err := campaigns.GetHumanDecision(r.Context(), taskID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "decision not found")
			return
		}
		writeJSON(w, http.StatusOK, d)
	})
	mux.HandleFunc("/v1/outputs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		taskID := strings.TrimPrefix(r.URL.Path, "/v1/outputs/")
		if taskID == "" {
			writeError(w, http.StatusNotFound, "task id is required")
			return
		}
		payload, ok, err := campaigns.GetOutput(r.Context(), taskID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, "output not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(payload)
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go j.Run(ctx)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("chimera judge listening on %s (tenant %s)", cfg.ListenAddr, cfg.Tenant)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("judge failed: %v", err)
	}
	log.Println("chimera judge shutting down")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
