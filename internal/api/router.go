package api

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/manpreetbhatti/easel/internal/ratelimit"
	"github.com/manpreetbhatti/easel/internal/ws"
)

// Routes mounts the REST API, the websocket endpoint and, when given, the
// metrics handler. limiters may be nil to disable API rate limiting.
func (a *API) Routes(limiters *ratelimit.ClientLimiters, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/health", a.HealthHandler)
	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(a.hub, w, r)
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		if limiters != nil {
			r.Use(rateLimitMiddleware(limiters))
		}
		r.Get("/stats", a.StatsHandler)
		r.Get("/archive", a.ListArchivedHandler)
		r.Delete("/archive/{id}", a.PurgeRoomHandler)

		r.Route("/rooms", func(r chi.Router) {
			r.Get("/", a.ListRoomsHandler)
			r.Post("/", a.CreateRoomHandler)
			r.Get("/{id}", a.GetRoomHandler)
			r.Delete("/{id}", a.DeleteRoomHandler)
			r.Get("/{id}/pages/{index}", a.GetPageHandler)
		})
	})

	return r
}

func rateLimitMiddleware(limiters *ratelimit.ClientLimiters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.Get(clientKey(r)).Allow() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, `{"error":"Too many requests"}`, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
