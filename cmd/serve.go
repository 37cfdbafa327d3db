package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/contact-research/internal/batch"
	"github.com/sells-group/contact-research/internal/model"
	"github.com/sells-group/contact-research/internal/monitoring"
	"github.com/sells-group/contact-research/internal/normalize"
	"github.com/sells-group/contact-research/internal/research"
	"github.com/sells-group/contact-research/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		api := &apiServer{
			orch:     env.Orchestrator,
			batch:    env.Controller,
			store:    env.Store,
			search:   env.Layered,
			opts:     env.batchOptions(),
			monitor:  env.collector(),
			lookback: cfg.Monitoring.LookbackWindowHours,
		}

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(api.monitor, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
			go checker.Run(ctx)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           buildRouter(api),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return env.Persist(context.WithoutCancel(ctx))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// searchFlusher drops memoized search responses.
type searchFlusher interface {
	Flush()
}

// apiServer exposes the orchestrator and batch controller over HTTP.
type apiServer struct {
	orch     *research.Orchestrator
	batch    *batch.Controller
	store    store.Store   // may be nil
	search   searchFlusher // may be nil
	opts     batch.Options
	monitor  *monitoring.Collector
	lookback int

	// persistMu orders snapshot saves against clears so a stale snapshot
	// never lands after ClearRecords.
	persistMu sync.Mutex
}

type researchRequest struct {
	Name  string `json:"name"`
	Force bool   `json:"force"`
}

type batchRequest struct {
	Names          []string `json:"names"`
	Force          bool     `json:"force"`
	SkipResearched *bool    `json:"skip_researched,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

type batchResponse struct {
	Results []model.ResultRecord  `json:"results"`
	Summary model.BatchRunSummary `json:"summary"`
}

// buildRouter returns the API routes wrapped in request logging, panic
// recovery and CORS.
func buildRouter(s *apiServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/cache/summary", s.handleSummary)
		r.Get("/cache/{name}", s.handleStatus)
		r.Delete("/cache/{name}", s.handleReset)
		r.Delete("/cache", s.handleClear)
		r.Post("/research", s.handleResearch)
		r.Post("/batch", s.handleBatch)
		r.Get("/stats", s.handleStats)
	})

	return r
}

func (s *apiServer) handleSummary(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Summary())
}

func (s *apiServer) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := s.lookback
	if v := r.URL.Query().Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	if hours <= 0 {
		hours = 24
	}

	snap, err := s.monitor.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("collect stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "collect stats failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rec, ok := s.orch.Status(name)
	if !ok {
		writeError(w, http.StatusNotFound, "not researched")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) handleReset(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.orch.Reset(name) {
		writeError(w, http.StatusNotFound, "not researched")
		return
	}
	s.persist(r.Context())
	rec, _ := s.orch.Status(name)
	writeJSON(w, http.StatusOK, rec)
}

func (s *apiServer) handleClear(w http.ResponseWriter, r *http.Request) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	n := s.orch.Summary().TotalCached
	s.orch.Clear()
	if s.search != nil {
		s.search.Flush()
	}
	if s.store != nil {
		if err := s.store.ClearRecords(context.WithoutCancel(r.Context())); err != nil {
			zap.L().Error("clear persisted records", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "clear persisted records failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *apiServer) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := normalize.Validate(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	res := s.orch.ResearchOne(r.Context(), req.Name, req.Force)
	if res.Decision == model.DecisionResearch {
		s.persist(r.Context())
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *apiServer) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Names) == 0 {
		writeError(w, http.StatusBadRequest, "names is required")
		return
	}

	opts := s.opts
	opts.OnProgress = nil
	opts.Force = req.Force
	opts.Limit = req.Limit
	opts.SkipResearched = true
	if req.SkipResearched != nil {
		opts.SkipResearched = *req.SkipResearched
	}

	ctx := r.Context()
	var run *model.Run
	if s.store != nil {
		var err error
		run, err = s.store.CreateRun(context.WithoutCancel(ctx), "api")
		if err != nil {
			zap.L().Warn("create run log entry", zap.Error(err))
		}
	}

	results, summary := s.batch.Run(ctx, req.Names, opts)
	s.persist(ctx)
	if run != nil {
		summary.RunID = run.ID
		if err := s.store.CompleteRun(context.WithoutCancel(ctx), run.ID, &summary); err != nil {
			zap.L().Warn("complete run log entry", zap.String("run_id", run.ID), zap.Error(err))
		}
	}

	writeJSON(w, http.StatusOK, batchResponse{Results: results, Summary: summary})
}

// persist saves the cache after a mutation. Failures are logged; the
// in-memory cache stays authoritative for the session.
func (s *apiServer) persist(ctx context.Context) {
	if s.store == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if err := s.store.SaveRecords(context.WithoutCancel(ctx), s.orch.Store().Records()); err != nil {
		zap.L().Error("persist status records", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if strings.HasPrefix(r.URL.Path, "/health") {
			return
		}
		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
