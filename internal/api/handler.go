package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/usecase"
	"github.com/danmakubot/danmaku-bridge/internal/infra/danmaku"
	"github.com/danmakubot/danmaku-bridge/internal/service"
)

// RequestIDHeader carries the id assigned to every API request
const RequestIDHeader = "X-Request-ID"

// Server exposes the operator API used by the MCP tools and scripts
type Server struct {
	svc    *service.DanmakuService
	logger *zap.Logger

	server *http.Server
	port   int
}

// NewServer creates a new API server
func NewServer(svc *service.DanmakuService, port int, logger *zap.Logger) *Server {
	return &Server{
		svc:    svc,
		logger: logger.Named("api"),
		port:   port,
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.requestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/queue", func(r chi.Router) {
			r.Post("/", s.handleEnqueue)
			r.Get("/", s.handleQueueInfo)
			r.Get("/messages", s.handleMessages)
			r.Post("/clear", s.handleClear)
			r.Delete("/{id}", s.handleCancel)
		})

		r.Post("/processor/start", s.handleProcessorStart)
		r.Post("/processor/stop", s.handleProcessorStop)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", s.handleRules)
			r.Put("/{id}", s.handleUpsertRule)
			r.Delete("/{id}", s.handleDeleteRule)
			r.Post("/{id}/enable", s.handleSetRuleEnabled(true))
			r.Post("/{id}/disable", s.handleSetRuleEnabled(false))
		})

		r.Get("/sensitive-words", s.handleSensitiveWords)
		r.Post("/sensitive-words", s.handleAddSensitiveWord)
		r.Delete("/sensitive-words/{word}", s.handleRemoveSensitiveWord)

		r.Post("/filter/check", s.handleCheck)
		r.Get("/filter/stats", s.handleStats)
		r.Get("/audit", s.handleAudit)

		r.Get("/overlay/status", s.handleOverlayStatus)
		r.Post("/overlay/{action}", s.handleOverlayControl)
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting HTTP server", zap.Int("port", s.port))
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// GetPort returns the server port
func (s *Server) GetPort() int {
	return s.port
}

func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Debug("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// ============ Queue Handlers ============

// EnqueueRequest is the body of POST /api/queue
type EnqueueRequest struct {
	Text         string       `json:"text"`
	UserID       int64        `json:"user_id"`
	Priority     int          `json:"priority"`
	DelaySeconds float64      `json:"delay_seconds"`
	SkipFilter   bool         `json:"skip_filter"`
	Preset       string       `json:"preset,omitempty"`
	Style        domain.Style `json:"style"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.DelaySeconds < 0 {
		s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "delay_seconds must not be negative"})
		return
	}

	style := req.Style
	if req.Preset != "" {
		preset, ok := domain.PresetStyle(req.Preset)
		if !ok {
			s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "unknown style preset " + req.Preset})
			return
		}
		style = preset
	}

	id, err := s.svc.Send(r.Context(), usecase.EnqueueRequest{
		Text:       req.Text,
		UserID:     req.UserID,
		Priority:   req.Priority,
		Delay:      time.Duration(req.DelaySeconds * float64(time.Second)),
		SkipFilter: req.SkipFilter,
		Style:      style,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	msg, err := s.svc.Message(id)
	if err != nil {
		// already delivered or cancelled between the two calls
		s.writeStatus(w, http.StatusCreated, map[string]string{"id": id})
		return
	}
	s.writeStatus(w, http.StatusCreated, msg)
}

func (s *Server) handleQueueInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.svc.QueueInfo())
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	f, err := parseMessageFilter(r.URL.Query().Get("user_id"), r.URL.Query().Get("status"))
	if err != nil {
		s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	messages := s.svc.Messages(f)
	if messages == nil {
		messages = []*domain.QueuedMessage{}
	}
	s.writeJSON(w, map[string]interface{}{"messages": messages, "count": len(messages)})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	msg, err := s.svc.Cancel(r.Context(), chi.URLParam(r, "id"), 0, true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, msg)
}

// ClearRequest is the optional body of POST /api/queue/clear
type ClearRequest struct {
	UserID *int64 `json:"user_id,omitempty"`
	Status string `json:"status,omitempty"`
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	var req ClearRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	}

	f := usecase.MessageFilter{UserID: req.UserID}
	if req.Status != "" {
		status := domain.MessageStatus(req.Status)
		if !status.Valid() {
			s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "unknown status " + req.Status})
			return
		}
		f.Status = &status
	}

	s.writeJSON(w, map[string]int{"cancelled": s.svc.Clear(r.Context(), f)})
}

func parseMessageFilter(userID, status string) (usecase.MessageFilter, error) {
	var f usecase.MessageFilter
	if userID != "" {
		id, err := strconv.ParseInt(userID, 10, 64)
		if err != nil {
			return f, fmt.Errorf("user_id must be an integer")
		}
		f.UserID = &id
	}
	if status != "" {
		st := domain.MessageStatus(status)
		if !st.Valid() {
			return f, fmt.Errorf("unknown status %s", status)
		}
		f.Status = &st
	}
	return f, nil
}

// ============ Processor Handlers ============

func (s *Server) handleProcessorStart(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.StartProcessor(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]bool{"running": true})
}

func (s *Server) handleProcessorStop(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.StopProcessor(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]bool{"running": false})
}

// ============ Rule Handlers ============

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all")
	rules, err := s.svc.Rules(r.Context(), all == "1" || all == "true")
	if err != nil {
		s.writeError(w, err)
		return
	}
	if rules == nil {
		rules = []*domain.FilterRule{}
	}
	s.writeJSON(w, map[string]interface{}{"rules": rules, "count": len(rules)})
}

func (s *Server) handleUpsertRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.FilterRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	rule.ID = chi.URLParam(r, "id")

	created, err := s.svc.UpsertRule(r.Context(), &rule)
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeStatus(w, status, &rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveRule(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true})
}

func (s *Server) handleSetRuleEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.svc.SetRuleEnabled(r.Context(), chi.URLParam(r, "id"), enabled); err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, map[string]interface{}{"success": true, "enabled": enabled})
	}
}

// ============ Sensitive Word Handlers ============

// SensitiveWordRequest is the body of POST /api/sensitive-words
type SensitiveWordRequest struct {
	Word     string `json:"word"`
	Category string `json:"category"`
	Severity int    `json:"severity"`
}

func (s *Server) handleSensitiveWords(w http.ResponseWriter, r *http.Request) {
	words, err := s.svc.SensitiveWords(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if words == nil {
		words = []*domain.SensitiveWord{}
	}
	s.writeJSON(w, map[string]interface{}{"words": words, "count": len(words)})
}

func (s *Server) handleAddSensitiveWord(w http.ResponseWriter, r *http.Request) {
	var req SensitiveWordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Word == "" {
		s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "word is required"})
		return
	}

	if err := s.svc.AddSensitiveWord(r.Context(), req.Word, req.Category, req.Severity); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeStatus(w, http.StatusCreated, map[string]interface{}{"success": true, "word": req.Word})
}

func (s *Server) handleRemoveSensitiveWord(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RemoveSensitiveWord(r.Context(), chi.URLParam(r, "word")); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, map[string]interface{}{"success": true})
}

// ============ Filter Handlers ============

// CheckRequest is the body of POST /api/filter/check
type CheckRequest struct {
	Text   string `json:"text"`
	UserID int64  `json:"user_id"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.Text == "" {
		s.writeError(w, usecase.ErrEmptyText)
		return
	}
	s.writeJSON(w, s.svc.Check(r.Context(), req.Text, req.UserID))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	days := 7
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed <= 0 {
			s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	stats, err := s.svc.Statistics(r.Context(), days)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := domain.AuditQuery{Limit: 100}
	query := r.URL.Query()

	if u := query.Get("user_id"); u != "" {
		id, err := strconv.ParseInt(u, 10, 64)
		if err != nil {
			s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "user_id must be an integer"})
			return
		}
		q.UserID = &id
	}
	if d := query.Get("days"); d != "" {
		days, err := strconv.Atoi(d)
		if err != nil || days <= 0 {
			s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "days must be a positive integer"})
			return
		}
		q.Since = time.Now().AddDate(0, 0, -days)
	}
	if l := query.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			q.Limit = parsed
		}
	}

	records, err := s.svc.AuditRecords(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []*domain.AuditRecord{}
	}
	s.writeJSON(w, map[string]interface{}{"records": records, "count": len(records)})
}

// ============ Overlay Handlers ============

func (s *Server) handleOverlayStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.svc.OverlayStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, status)
}

func (s *Server) handleOverlayControl(w http.ResponseWriter, r *http.Request) {
	settings := map[string]any{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
			s.writeStatus(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
	}

	result, err := s.svc.OverlayControl(r.Context(), chi.URLParam(r, "action"), settings)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, result)
}

// ============ Helpers ============

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	s.writeStatus(w, http.StatusOK, data)
}

func (s *Server) writeStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"error": err.Error()}

	var (
		rejected   *usecase.ContentRejectedError
		validation *domain.RuleValidationError
		apiErr     *danmaku.APIError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &rejected):
		status = http.StatusUnprocessableEntity
		body["warnings"] = rejected.Warnings()
		if rejected.Result != nil {
			body["matched_rules"] = rejected.Result.MatchedRules
		}
		body["review"] = errors.Is(err, usecase.ErrNeedsReview)
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		body["field"] = validation.Field
	case errors.Is(err, usecase.ErrEmptyText), errors.Is(err, danmaku.ErrInvalidControl):
		status = http.StatusBadRequest
	case errors.Is(err, usecase.ErrQueueFull):
		status = http.StatusServiceUnavailable
	case errors.Is(err, usecase.ErrMessageNotFound),
		errors.Is(err, usecase.ErrRuleNotFound),
		errors.Is(err, service.ErrWordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyRunning), errors.Is(err, service.ErrNotRunning):
		status = http.StatusConflict
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	s.writeStatus(w, status, body)
}
