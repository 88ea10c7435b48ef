package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"pricepulse/internal/application/port"
	"pricepulse/internal/application/usecase/archive"
	"pricepulse/internal/application/usecase/pricing"
	"pricepulse/internal/application/usecase/realtime"
)

const shutdownTimeout = 10 * time.Second

// Server is the HTTP surface: price queries, feed and alert administration,
// cache diagnostics, and the websocket upgrade endpoint.
type Server struct {
	svc      *pricing.Service
	archiver *archive.Archiver
	hub      *realtime.Hub
	store    port.Store

	srv *http.Server
}

func NewServer(addr string, svc *pricing.Service, archiver *archive.Archiver, hub *realtime.Hub, store port.Store) *Server {
	s := &Server{
		svc:      svc,
		archiver: archiver,
		hub:      hub,
		store:    store,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.handleWS)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/prices", s.handlePrices).Methods(http.MethodGet)
	apiRouter.HandleFunc("/price/window/{coinId}", s.handleWindow).Methods(http.MethodGet)
	apiRouter.HandleFunc("/price/chart/{coinId}", s.handleChart).Methods(http.MethodGet)

	apiRouter.HandleFunc("/feeds", s.handleListFeeds).Methods(http.MethodGet)
	apiRouter.HandleFunc("/feeds", s.handleSaveFeed).Methods(http.MethodPost)
	apiRouter.HandleFunc("/feeds/test", s.handleTestFeed).Methods(http.MethodPost)
	apiRouter.HandleFunc("/feeds/{coinId}/{chain}", s.handleDeleteFeed).Methods(http.MethodDelete)

	apiRouter.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	apiRouter.HandleFunc("/cache/clear/{coinId}", s.handleCacheClear).Methods(http.MethodPost)

	apiRouter.HandleFunc("/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	apiRouter.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	apiRouter.HandleFunc("/alerts/{id}", s.handleDeleteAlert).Methods(http.MethodDelete)

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is done, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.srv.Addr).Msg("http server started")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("http server stopped")
	return nil
}
