package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/skalibog/bandarscope/internal/storage"
	"github.com/skalibog/bandarscope/pkg/logger"
	"github.com/skalibog/bandarscope/pkg/models"
)

// Analyzer формирует рекомендации по запросу
type Analyzer interface {
	Analyze(ctx context.Context, pair string) (*models.Recommendation, error)
	Invalidate(pair string) (int, error)
}

// Server HTTP слой над конвейером анализа
type Server struct {
	analyzer Analyzer
	history  storage.Reader
	metrics  http.Handler
	started  time.Time
	mux      *http.ServeMux
}

// NewServer создает сервер. history и metrics могут быть nil.
func NewServer(analyzer Analyzer, history storage.Reader, metrics http.Handler) *Server {
	s := &Server{
		analyzer: analyzer,
		history:  history,
		metrics:  metrics,
		started:  time.Now(),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /api/v1/analysis/{pair}", s.handleAnalysis)
	s.mux.HandleFunc("GET /api/v1/history/{pair}", s.handleHistory)
	s.mux.HandleFunc("DELETE /api/v1/cache/{pair}", s.handleInvalidate)
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

// ServeHTTP реализует http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe запускает сервер и останавливает его при отмене ctx
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP сервер запущен", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("HTTP сервер остановлен")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	rec, err := s.analyzer.Analyze(r.Context(), r.PathValue("pair"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody("история недоступна для выбранного хранилища"))
		return
	}

	pair, err := models.ParsePair(r.PathValue("pair"))
	if err != nil {
		writeError(w, err)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > storage.MaxRecent {
			writeJSON(w, http.StatusBadRequest, errorBody("limit должен быть от 1 до 1000"))
			return
		}
		limit = n
	}

	recs, err := s.history.Recent(r.Context(), pair, limit)
	if err != nil {
		logger.Error("Ошибка чтения истории", zap.String("pair", pair.String()), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("ошибка чтения истории"))
		return
	}
	if recs == nil {
		recs = []*models.Recommendation{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"pair":    pair.String(),
		"count":   len(recs),
		"data":    recs,
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	n, err := s.analyzer.Invalidate(r.PathValue("pair"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "invalidated": n})
}

// statusFor сопоставляет типизированные ошибки с кодами HTTP
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, models.ErrInsufficientData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Warn("Ошибка обработки запроса", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]interface{} {
	return map[string]interface{}{"success": false, "error": msg}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Ошибка кодирования ответа", zap.Error(err))
	}
}
