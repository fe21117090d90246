package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"quizroom-service/internal/app"
)

// RouterConfig carries the transport-level knobs.
type RouterConfig struct {
	// SweepThreshold is used by POST /admin/sweep when no threshold query is given.
	SweepThreshold time.Duration
}

// NewRouter mounts the REST API and the websocket stream on a chi router.
func NewRouter(svc *app.Service, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	rooms := &RoomHandler{service: svc, logger: logger, sweepThreshold: cfg.SweepThreshold}
	ws := NewWSHandler(svc, logger)

	mux := chi.NewRouter()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(requestLogger(logger))
	mux.Use(cors.AllowAll().Handler)

	mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.Get("/ws", ws.ServeWS)

	mux.Route("/rooms", func(r chi.Router) {
		r.Post("/", rooms.Create)
		r.Get("/{roomId}", rooms.Get)
		r.Post("/{roomId}/join", rooms.Join)

		r.Post("/{roomId}/leave", rooms.Leave)
		r.Post("/{roomId}/npcs", rooms.AddNPC)
		r.Post("/{roomId}/start", rooms.Start)
		r.Post("/{roomId}/answers", rooms.Answer)
		r.Post("/{roomId}/messages", rooms.Chat)
		r.Get("/{roomId}/snapshot", rooms.Snapshot)
		r.Get("/{roomId}/leaderboard", rooms.Leaderboard)
	})

	mux.Post("/admin/sweep", rooms.Sweep)
	return mux
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("took", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
