package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stratis-backend/internal/handlers"
	"stratis-backend/internal/middleware"
	"stratis-backend/internal/websocket"
)

// Pinger reports whether a backing store is reachable.
type Pinger func(ctx context.Context) error

type Handlers struct {
	Articles   *handlers.ArticleHandler
	Runs       *handlers.RunHandler
	Ideas      *handlers.IdeasHandler
	References *handlers.ReferenceHandler
}

func New(
	jwtAuth *middleware.JWTAuth,
	h Handlers,
	wsHub *websocket.Hub,
	metrics http.Handler,
	health map[string]Pinger,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Runs are expensive; 5 starts per user per minute.
	generateLimiter := middleware.NewRateLimiter(5, time.Minute)
	// Synchronous model calls (ideas, repurpose).
	aiLimiter := middleware.NewRateLimiter(20, time.Minute)

	r.Get("/health", healthHandler(health))
	if metrics == nil {
		metrics = promhttp.Handler()
	}
	r.Handle("/metrics", metrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/platforms", handlers.ListPlatforms) // Public

		// ──── Article Routes ────
		r.Route("/articles", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)

			r.Group(func(r chi.Router) {
				r.Use(generateLimiter.Middleware)
				r.Post("/generate", h.Articles.Generate)
				r.Post("/{id}/regenerate", h.Articles.Regenerate)
			})
			r.Get("/{id}", h.Articles.Get)
			r.With(aiLimiter.Middleware).Post("/{id}/repurpose", h.Articles.Repurpose)
		})

		// ──── Run Routes ────
		r.Route("/runs", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Get("/", h.Runs.List)
			r.Get("/{id}", h.Runs.Get)
		})

		// ──── Ideas Routes ────
		r.Route("/ideas", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Use(aiLimiter.Middleware)
			r.Post("/keywords", h.Ideas.Keywords)
			r.Post("/topics", h.Ideas.Topics)
		})

		// ──── Reference Routes ────
		r.Route("/references", func(r chi.Router) {
			r.Use(jwtAuth.Middleware)
			r.Post("/upload", h.References.Upload)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}

func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := `{"status":"ok"}`
		for name, ping := range checks {
			if err := ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body = `{"status":"degraded","failing":"` + name + `"}`
				break
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(body))
	}
}
