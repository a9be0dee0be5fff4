// Package dashboard exposes a read-only HTTP status API over the engine's
// storage and session clock.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
	"github.com/eddiefleurent/schrute_scalper/internal/session"
	"github.com/eddiefleurent/schrute_scalper/internal/storage"
)

// Server serves the status API.
type Server struct {
	store   storage.Interface
	session models.TradingSession
	clock   session.Clock
	log     *logrus.Logger
	http    *http.Server
}

// New creates a dashboard server on the given port.
func New(port int, store storage.Interface, sess models.TradingSession, clock session.Clock, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	s := &Server{
		store:   store,
		session: sess,
		clock:   clock,
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/positions", s.handlePositions)
		r.Get("/history", s.handleHistory)
		r.Get("/trades/{positionID}", s.handleTrades)
		r.Get("/session", s.handleSession)
		r.Get("/stats", s.handleStats)
	})

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the context is done, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.http.Addr).Info("dashboard listening")
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Handler returns the route tree, for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	positions, err := s.store.GetOpenPositions()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":     len(positions),
		"positions": positions,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	history, err := s.store.GetHistory()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(history),
		"history": history,
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	positionID := chi.URLParam(r, "positionID")
	trades, err := s.store.GetTradesByPosition(positionID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"position_id": positionID,
		"trades":      trades,
	})
}

// handleSession reports the current session state. A fresh scheduler derives
// the state from the clock, so no shared mutable state leaks in from the
// pipelines.
func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	sched := session.NewScheduler(s.session, s.clock)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"state":            string(sched.State()),
		"description":      sched.Describe(),
		"open_time":        s.session.OpenTime,
		"active_end_time":  s.session.ActiveEndTime,
		"session_end_time": s.session.SessionEndTime,
		"now":              s.clock.Now(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := s.store.GetStatistics()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	today, err := s.store.GetDailyPnL(s.clock.Now())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"statistics": stats,
		"today_pnl":  today,
	})
}
