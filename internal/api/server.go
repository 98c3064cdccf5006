package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"syncq/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type Server struct {
	router *chi.Mux
	app    *app.Context
}

func NewServer(a *app.Context) *Server {
	s := &Server{router: chi.NewRouter(), app: a}
	h := &Handlers{App: a}

	s.router.Get("/health", h.Health)
	s.router.Route("/queues", func(r chi.Router) {
		r.Get("/", h.ListQueues)
		r.Delete("/", h.ClearQueues)
		r.Get("/{type}", h.ListQueue)
	})
	s.router.Route("/commands", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Post("/{id}/resend", h.Resend)
		r.Delete("/{id}", h.Delete)
	})
	s.router.Post("/notes", h.PostNote)
	s.router.Get("/service", h.ServiceState)
	s.router.Post("/service/wake", h.Wake)
	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		requestIDHandler,
		realIPHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/health" }),
		corsHandler,
	)
}

// Run serves on port until ctx is done, then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info().Msg("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}

	<-done
	log.Info().Msg("Server stopped")
	return nil
}
