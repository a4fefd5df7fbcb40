package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/partykit/quipguess/internal/config"
	"github.com/partykit/quipguess/internal/game"
	"github.com/partykit/quipguess/internal/gateway"
	"github.com/partykit/quipguess/internal/ratelimit"
)

func setupServer(cfg *config.Config, store *game.Store, manager *gateway.ConnectionManager, limiter *ratelimit.Limiter) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	mux.HandleFunc("/rooms", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Name     string `json:"name"`
			HostID   string `json:"host_id"`
			HostName string `json:"host_name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.HostID == "" || req.HostName == "" {
			http.Error(w, "name, host_id and host_name are required", http.StatusBadRequest)
			return
		}
		roomID := store.CreateRoom(req.Name, req.HostID, req.HostName)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"room_id": roomID})
	})

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		clientID := r.URL.Query().Get("client_id")
		roomID := r.URL.Query().Get("room_id")
		if clientID == "" || roomID == "" {
			http.Error(w, "client_id and room_id are required", http.StatusBadRequest)
			return
		}
		if _, ok := store.Snapshot(roomID); !ok {
			http.Error(w, "room not found", http.StatusNotFound)
			return
		}
		if err := manager.UpgradeConnection(w, r, clientID, roomID); err != nil {
			log.Error().Err(err).Str("room_id", roomID).Msg("websocket upgrade failed")
		}
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		stats := map[string]any{
			"connections": manager.ConnectionStats(),
			"rate_limit":  limiter.Global(),
		}
		if clientID := r.URL.Query().Get("client_id"); clientID != "" {
			stats["client"] = limiter.Stats(clientID)
		}
		json.NewEncoder(w).Encode(stats)
	})

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: c.Handler(mux),
	}
}
