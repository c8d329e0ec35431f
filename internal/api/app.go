package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/tbellam/go-meeting/internal/broadcast"
	"github.com/tbellam/go-meeting/internal/config"
	"github.com/tbellam/go-meeting/internal/control"
	"github.com/tbellam/go-meeting/internal/database"
	"github.com/teris-io/shortid"
)

type MeetingApp struct {
	log            *log.Logger
	db             database.MeetingRepository
	cp             *control.ControlPlane
	es             *broadcast.EventServer
	mux            *http.Server
	signingKey     []byte
	allowedOrigins []string
	// generateShortId produces meeting external ids; a func field so tests
	// can pin the value.
	generateShortId func() (string, error)
}

func NewMeetingApp(mux *http.ServeMux, logger *log.Logger, cp *control.ControlPlane, es *broadcast.EventServer, db database.MeetingRepository, cfg *config.Config) *MeetingApp {
	s := &MeetingApp{
		log:             logger,
		db:              db,
		cp:              cp,
		es:              es,
		signingKey:      cfg.SigningKey,
		allowedOrigins:  cfg.AllowedOrigins,
		generateShortId: shortid.Generate,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("/api/account", s.authMiddleware(s.account))
	mux.Handle("POST /api/meetings", s.authMiddleware(s.createMeeting))
	mux.Handle("GET /api/meetings/{id}", s.authMiddleware(s.getMeeting))
	mux.Handle("POST /api/meetings/{id}/join", s.authMiddleware(s.joinMeeting))
	mux.Handle("POST /api/meetings/{id}/leave", s.authMiddleware(s.leaveMeeting))
	mux.Handle("PUT /api/meetings/{id}/spotlight", s.authMiddleware(s.setSpotlight))
	mux.Handle("PUT /api/meetings/{id}/participants/{pid}/role", s.authMiddleware(s.changeRole))
	mux.Handle("PUT /api/meetings/{id}/participants/{pid}/mute", s.authMiddleware(s.setMute))
	mux.Handle("PUT /api/meetings/{id}/participants/{pid}/hand-raise", s.authMiddleware(s.setHandRaise))
	mux.Handle("DELETE /api/meetings/{id}/participants/{pid}", s.authMiddleware(s.removeParticipant))
	mux.Handle("GET /api/meetings/{id}/waiting-room", s.authMiddleware(s.listWaitingRoom))
	mux.Handle("POST /api/meetings/{id}/waiting-room/admit", s.authMiddleware(s.admit))
	mux.Handle("POST /api/meetings/{id}/waiting-room/reject", s.authMiddleware(s.reject))
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

func (s *MeetingApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *MeetingApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
