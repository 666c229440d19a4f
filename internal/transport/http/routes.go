package http

import (
	"log/slog"
	"net/http"

	"trivia-forge-service/internal/app"
)

// NewRouter wires the play socket and the REST surface onto one mux.
func NewRouter(game *app.GameService, forge *app.ForgeService, logger *slog.Logger) *http.ServeMux {
	ws := NewWSHandler(game, logger)
	forgeHandler := NewForgeHandler(forge, logger)
	leaderboard := NewLeaderboardHandler(game, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /ws/play", ws.ServeWS)
	mux.HandleFunc("POST /forge", forgeHandler.Request)
	mux.HandleFunc("GET /forge/{id}", forgeHandler.Get)
	mux.HandleFunc("POST /forge/{id}/resolution", forgeHandler.Resolve)
	mux.HandleFunc("GET /leaderboard", leaderboard.Get)
	return mux
}
