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
	"github.com/amin3ltd/project-chimera/internal/observability"
	"github.com/amin3ltd/project-chimera/internal/planner"
	"github.com/amin3ltd/project-chimera/internal/state"
	"github.com/amin3ltd/project-chimera/internal/tenancy"
)

type initCampaignRequest struct {
	CampaignID  string   `json:"campaign_id"`
	Goals       []string `json:"goals"`
	BudgetLimit float64  `json:"budget_limit"`
}

type setStatusRequest struct {
	Status          string `json:"status"`
	ExpectedVersion int64  `json:"expected_version"`
}

func main() {
	cfg := config.FromEnv()

	shutdownTrace, err := observability.InitTracingFromEnv("chimera-planner")
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

	ks := tenancy.NewKeyspace(cfg.Tenant)
	campaigns := state.NewCampaignStore(ss, ks)
	queue := state.NewTaskQueue(qs, ks)
	p := planner.New(campaigns, queue, nil, planner.Options{
		Interval:    time.Duration(cfg.PlannerIntervalSeconds) * time.Second,
		DedupWindow: pol.Planner.DedupWindow(),
	})

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
	mux.HandleFunc("/v1/campaigns", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req initCampaignRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.CampaignID) == "" || len(req.Goals) == 0 {
			writeError(w, http.StatusBadRequest, "campaign_id and goals are required")
			return
		}
		res, err := campaigns.Init(r.Context(), state.Campaign{
			CampaignID:  req.CampaignID,
			Goals:       req.Goals,
			BudgetLimit: req.BudgetLimit,
			Status:      state.CampaignActive,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !res.OK {
			writeJSON(w, http.StatusConflict, res)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	})
	mux.HandleFunc("/v1/campaigns/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/v1/campaigns/")
		parts := strings.Split(path, "/")
		campaignID := parts[0]
		if campaignID == "" {
			writeError(w, http.StatusNotFound, "campaign id is required")
			return
		}
		sub := ""
		if len(parts) > 1 {
			sub = parts[1]
		}
		switch {
		case sub == "" && r.Method == http.MethodGet:
			c, ok, err := campaigns.Get(r.Context(), campaignID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !ok {
				writeError(w, http.StatusNotFound, "campaign not found")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"campaign": c, "state_version": c.Version})
		case sub == "status" && r.Method == http.MethodPost:
			var req setStatusRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			switch req.Status {
			case state.CampaignActive, state.CampaignPaused, state.CampaignCompleted:
			default:
				writeError(w, http.StatusBadRequest, "status must be active, paused, or completed")
				return
			}
			c, ok, err := campaigns.Get(r.Context(), campaignID)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !ok {
				writeError(w, http.StatusNotFound, "campaign not found")
				return
			}
			expected := req.ExpectedVersion
			if expected == 0 {
				expected = c.Version
			}
			c.Status = req.Status
			res, err := campaigns.CompareAndSet(r.Context(), expected, c)
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			if !res.OK {
				writeJSON(w, http.StatusConflict, res)
				return
			}
			writeJSON(w, http.StatusOK, res)
		default:
			writeError(w, http.StatusNotFound, "campaign subresource not found")
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go p.Run(ctx, cfg.CampaignID)

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Printf("chimera planner listening on %s (tenant %s, campaign %s)", cfg.ListenAddr, cfg.Tenant, cfg.CampaignID)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("planner failed: %v", err)
	}
	log.Println("chimera planner shutting down")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
