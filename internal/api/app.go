package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/wya-app/realtime/internal/config"
	"github.com/wya-app/realtime/internal/database"
	"github.com/wya-app/realtime/internal/gateway"
	"github.com/wya-app/realtime/internal/presence"
	"github.com/wya-app/realtime/internal/signal"
	"github.com/wya-app/realtime/internal/stats"
)

type WyaApp struct {
	log            *log.Logger
	db             database.WyaRepository
	mux            *http.Server
	gw             *gateway.Gateway
	relay          *signal.Relay
	presence       presence.Tracker
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
}

func NewWyaApp(mux *http.ServeMux, logger *log.Logger, gw *gateway.Gateway, relay *signal.Relay, tracker presence.Tracker, db database.WyaRepository, sp stats.StatsProvider, cfg *config.Config) *WyaApp {
	s := &WyaApp{
		log:            logger,
		db:             db,
		gw:             gw,
		relay:          relay,
		presence:       tracker,
		stats:          sp,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("DELETE /api/rooms", s.authMiddleware(s.deleteRoom))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.getRoom))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /api/directs", s.authMiddleware(s.getDirectThread))
	mux.Handle("GET /api/presence", s.authMiddleware(s.getPresence))
	mux.Handle("POST /api/signals", s.authMiddleware(s.publishSignal))
	mux.Handle("GET /api/signals", s.authMiddleware(s.pollSignals))
	mux.Handle("GET /api/chat", s.authMiddleware(s.legacyChat))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
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

func (s *WyaApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *WyaApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
