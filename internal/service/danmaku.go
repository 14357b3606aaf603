package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"
	"github.com/danmakubot/danmaku-bridge/internal/biz/usecase"
)

var (
	// ErrNotOwner is returned when a user touches a message queued by someone else
	ErrNotOwner = errors.New("message belongs to another user")
	// ErrWordNotFound is returned when removing a word that is not stored
	ErrWordNotFound = errors.New("sensitive word not found")
)

// DanmakuService is the operator surface shared by the chat front end, the
// admin API and the MCP tools
type DanmakuService struct {
	queueUC   *usecase.QueueUsecase
	filterUC  *usecase.FilterUsecase
	ruleUC    *usecase.RuleUsecase
	processor *QueueProcessor
	sink      repo.DeliverySink
	overlay   repo.OverlayController
	interval  time.Duration
	logger    *zap.Logger

	// processor runs on this context, not on the caller's request
	baseCtx context.Context
}

// NewDanmakuService creates the service. ctx bounds the processor's lifetime.
func NewDanmakuService(
	ctx context.Context,
	queueUC *usecase.QueueUsecase,
	filterUC *usecase.FilterUsecase,
	ruleUC *usecase.RuleUsecase,
	processor *QueueProcessor,
	sink repo.DeliverySink,
	overlay repo.OverlayController,
	interval time.Duration,
	logger *zap.Logger,
) *DanmakuService {
	return &DanmakuService{
		queueUC:   queueUC,
		filterUC:  filterUC,
		ruleUC:    ruleUC,
		processor: processor,
		sink:      sink,
		overlay:   overlay,
		interval:  interval,
		logger:    logger.Named("service"),
		baseCtx:   ctx,
	}
}

// ========== Queue ==========

// Send queues a danmaku and returns its id
func (s *DanmakuService) Send(ctx context.Context, req usecase.EnqueueRequest) (string, error) {
	return s.queueUC.Enqueue(ctx, req)
}

// QueueInfo returns counts, stats and whether the processor is running
func (s *DanmakuService) QueueInfo() *domain.QueueInfo {
	info := s.queueUC.Info()
	info.Processing = s.processor.IsRunning()
	return info
}

// Messages lists queued messages in delivery order
func (s *DanmakuService) Messages(f usecase.MessageFilter) []*domain.QueuedMessage {
	return s.queueUC.Messages(f)
}

// Message returns one message by id
func (s *DanmakuService) Message(id string) (*domain.QueuedMessage, error) {
	m, ok := s.queueUC.Get(id)
	if !ok {
		return nil, usecase.ErrMessageNotFound
	}
	return m, nil
}

// Cancel removes a message. Non-admins may only cancel their own.
func (s *DanmakuService) Cancel(ctx context.Context, id string, userID int64, admin bool) (*domain.QueuedMessage, error) {
	m, ok := s.queueUC.Get(id)
	if !ok {
		return nil, usecase.ErrMessageNotFound
	}
	if !admin && m.UserID != userID {
		return nil, ErrNotOwner
	}
	if !s.queueUC.Remove(ctx, id) {
		return nil, usecase.ErrMessageNotFound
	}
	return m, nil
}

// ClearUser cancels the pending messages of one user
func (s *DanmakuService) ClearUser(ctx context.Context, userID int64) int {
	pending := domain.StatusPending
	return s.queueUC.Clear(ctx, usecase.MessageFilter{UserID: &userID, Status: &pending})
}

// Clear cancels every message matching f
func (s *DanmakuService) Clear(ctx context.Context, f usecase.MessageFilter) int {
	n := s.queueUC.Clear(ctx, f)
	s.logger.Info("queue cleared", zap.Int("cancelled", n))
	return n
}

// ========== Processor ==========

// StartProcessor begins delivering to the overlay
func (s *DanmakuService) StartProcessor() error {
	return s.processor.Start(s.baseCtx, s.sink, s.interval)
}

// StopProcessor stops delivery after the in-flight send
func (s *DanmakuService) StopProcessor() error {
	return s.processor.Stop()
}

// ProcessorRunning reports whether delivery is active
func (s *DanmakuService) ProcessorRunning() bool {
	return s.processor.IsRunning()
}

// ========== Filter ==========

// Check runs the filter on text without queueing it
func (s *DanmakuService) Check(ctx context.Context, text string, userID int64) *domain.FilterResult {
	return s.filterUC.Filter(ctx, text, userID)
}

// Statistics summarises the audit log over days
func (s *DanmakuService) Statistics(ctx context.Context, days int) (*domain.FilterStatistics, error) {
	return s.filterUC.Statistics(ctx, days)
}

// AuditRecords queries the audit log
func (s *DanmakuService) AuditRecords(ctx context.Context, q domain.AuditQuery) ([]*domain.AuditRecord, error) {
	return s.filterUC.AuditRecords(ctx, q)
}

// ========== Rules ==========

// Rules returns the active rules, or every stored rule when all is set
func (s *DanmakuService) Rules(ctx context.Context, all bool) ([]*domain.FilterRule, error) {
	if all {
		return s.ruleUC.ListAll(ctx)
	}
	return s.ruleUC.List(), nil
}

// UpsertRule creates or replaces a rule
func (s *DanmakuService) UpsertRule(ctx context.Context, rule *domain.FilterRule) (bool, error) {
	return s.ruleUC.Upsert(ctx, rule)
}

// RemoveRule deletes a rule
func (s *DanmakuService) RemoveRule(ctx context.Context, id string) error {
	removed, err := s.ruleUC.Remove(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return usecase.ErrRuleNotFound
	}
	return nil
}

// SetRuleEnabled toggles a rule
func (s *DanmakuService) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	return s.ruleUC.SetEnabled(ctx, id, enabled)
}

// SensitiveWords lists the stored sensitive words
func (s *DanmakuService) SensitiveWords(ctx context.Context) ([]*domain.SensitiveWord, error) {
	return s.ruleUC.SensitiveWords(ctx)
}

// AddSensitiveWord stores a word
func (s *DanmakuService) AddSensitiveWord(ctx context.Context, word, category string, severity int) error {
	return s.ruleUC.AddSensitiveWord(ctx, word, category, severity)
}

// RemoveSensitiveWord deletes a word
func (s *DanmakuService) RemoveSensitiveWord(ctx context.Context, word string) error {
	removed, err := s.ruleUC.RemoveSensitiveWord(ctx, word)
	if err != nil {
		return err
	}
	if !removed {
		return ErrWordNotFound
	}
	return nil
}

// ========== Overlay ==========

// OverlayStatus returns the overlay state
func (s *DanmakuService) OverlayStatus(ctx context.Context) (map[string]any, error) {
	return s.overlay.Status(ctx)
}

// OverlayControl runs pause, resume, clear, speed or opacity on the overlay
func (s *DanmakuService) OverlayControl(ctx context.Context, action string, settings map[string]any) (*repo.SendResult, error) {
	return s.overlay.Control(ctx, action, settings)
}
