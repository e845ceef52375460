package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"

	"github.com/ephemchat/roomstate/internal/config"
	"github.com/ephemchat/roomstate/internal/coordinator"
	"github.com/ephemchat/roomstate/internal/security"
	"github.com/ephemchat/roomstate/internal/stats"
	"github.com/ephemchat/roomstate/internal/store"
)

type RoomStateApp struct {
	log        *log.Logger
	coord      *coordinator.Coordinator
	store      *store.RoomStateStore
	gate       security.Gate
	stats      stats.StatsProvider
	mux        *http.Server
	signingKey []byte
	env        string
	dev        bool
}

func NewRoomStateApp(mux *http.ServeMux, logger *log.Logger, coord *coordinator.Coordinator, st *store.RoomStateStore, gate security.Gate, sp stats.StatsProvider, cfg *config.Config) *RoomStateApp {
	s := &RoomStateApp{
		log:        logger,
		coord:      coord,
		store:      st,
		gate:       gate,
		stats:      sp,
		signingKey: cfg.SigningKey,
		env:        cfg.Environment,
		dev:        cfg.IsDevelopment(),
	}

	mux.HandleFunc("/room-actions", s.gateMiddleware(s.roomActions))
	mux.HandleFunc("POST /api/session", s.createSession)
	mux.HandleFunc("DELETE /api/session", s.deleteSession)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *RoomStateApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RoomStateApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
