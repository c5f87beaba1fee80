package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/prepstack/enrich-cli/internal/enrich"
	"github.com/prepstack/enrich-cli/internal/model"
	"github.com/prepstack/enrich-cli/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for enrichment jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Route("/api", func(r chi.Router) {
			r.Post("/jobs", handleStartJob(env))
			r.Get("/jobs", handleListJobs(env))
			r.Get("/jobs/{id}", handleGetJob(env))
			r.Post("/jobs/{id}/cancel", handleCancelJob(env))

			r.Get("/master", handleListTopics(env))
			r.Get("/master/{topic}", handleDownloadMaster(env))
			r.Get("/master/{topic}/stats", handleMasterStats(env))

			r.Get("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, env.Cache.Stats())
			})
			r.Delete("/cache", handleClearCache(env))

			r.Get("/models", handleListModels())
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func handleStartJob(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Topic     string `json:"topic"`
			Backend   string `json:"backend"`
			Model     string `json:"model"`
			Questions []struct {
				Question string `json:"question"`
				Answer   string `json:"answer"`
			} `json:"questions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Questions) == 0 {
			writeError(w, http.StatusBadRequest, "questions are required")
			return
		}

		backend, ok := model.ParseBackend(req.Backend)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown backend")
			return
		}
		if req.Topic == "" {
			req.Topic = "general"
		}

		gen, err := enrich.ForConfig(cfg, backend, req.Model)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		effectiveModel := resolveModel(backend, req.Model)
		requests := make([]model.EnrichmentRequest, 0, len(req.Questions))
		for _, q := range req.Questions {
			requests = append(requests, model.EnrichmentRequest{
				Question: q.Question,
				Answer:   q.Answer,
				Backend:  backend,
				Model:    effectiveModel,
			})
		}

		// The batch runs detached from the request context; a second
		// concurrent start conflicts instead of queueing.
		onDone := func(batch *model.Batch, result *model.BatchResult, err error) {
			if err != nil {
				zap.L().Error("job failed", zap.String("batch_id", batch.ID), zap.Error(err))
				return
			}
			if len(result.Records) > 0 {
				if _, err := env.Master.SaveBatch(req.Topic, result.Records); err != nil {
					zap.L().Error("job master save failed", zap.Error(err))
				}
			}
		}
		batch, err := env.Manager.Start(context.WithoutCancel(r.Context()), gen, req.Topic, requests, onDone)
		if err != nil {
			if errors.Is(err, enrich.ErrBatchActive) {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, batch)
	}
}

func handleListJobs(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := store.BatchFilter{
			Status: model.BatchStatus(r.URL.Query().Get("status")),
			Topic:  r.URL.Query().Get("topic"),
		}
		batches, err := env.Jobs.ListBatches(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": batches})
	}
}

func handleGetJob(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The in-memory batch is fresher than the store while running.
		id := chi.URLParam(r, "id")
		if current, ok := env.Manager.Current(); ok && current.ID == id {
			writeJSON(w, http.StatusOK, current)
			return
		}
		batch, err := env.Jobs.GetBatch(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeJSON(w, http.StatusOK, batch)
	}
}

func handleCancelJob(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		current, ok := env.Manager.Current()
		if !ok || current.ID != id || current.Status.Terminal() {
			writeError(w, http.StatusConflict, "job is not running")
			return
		}
		env.Manager.Cancel()
		writeJSON(w, http.StatusOK, map[string]string{"status": "canceling"})
	}
}

func handleListTopics(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topics, err := env.Master.Topics()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if topics == nil {
			topics = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"topics": topics})
	}
}

func handleDownloadMaster(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		topic := chi.URLParam(r, "topic")
		kb, err := env.Master.Load(topic)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=qa_master_%s.json", model.Slugify(topic)))
		writeJSON(w, http.StatusOK, kb)
	}
}

func handleMasterStats(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := env.Master.Stats(chi.URLParam(r, "topic"))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleClearCache(env *appEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backendParam := r.URL.Query().Get("backend")
		var backend model.Backend
		if backendParam != "" {
			b, ok := model.ParseBackend(backendParam)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown backend")
				return
			}
			backend = b
		}
		env.Cache.Clear(backend)
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func handleListModels() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		backend := model.BackendOllama
		if param := r.URL.Query().Get("backend"); param != "" {
			b, ok := model.ParseBackend(param)
			if !ok {
				writeError(w, http.StatusBadRequest, "unknown backend")
				return
			}
			backend = b
		}

		if backend != model.BackendOllama {
			writeJSON(w, http.StatusOK, map[string]any{
				"backend": backend,
				"models":  hostedModels(backend),
			})
			return
		}

		models, err := listOllamaModels(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"backend": backend, "models": models})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
