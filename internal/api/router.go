package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/kcjob/internal/api/middleware"
	"github.com/phrazzld/kcjob/internal/api/shared"
	"github.com/phrazzld/kcjob/internal/service"
)

// NewRouter builds the admin API. /health is public; everything under /api
// requires an operator token signed with jwtSecret.
func NewRouter(tasks service.TaskService, jwtSecret string, logger *slog.Logger) (http.Handler, error) {
	auth, err := middleware.NewAuthMiddleware(jwtSecret)
	if err != nil {
		return nil, err
	}
	h := NewTaskHandler(tasks)

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewTraceMiddleware(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		shared.RespondWithJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/tasks", func(r chi.Router) {
		r.Use(auth.Authenticate)
		r.Get("/", h.ListTasks)
		r.Get("/{id}", h.GetTask)
		r.Post("/{id}/fail", h.FailTask)
		r.Post("/{id}/reprocess", h.ReprocessTask)
	})
	return r, nil
}
