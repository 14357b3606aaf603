package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"
)

var (
	ErrQueueFull       = errors.New("queue is full")
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyText       = errors.New("danmaku text is empty")
	ErrContentBlocked  = errors.New("content blocked by filter")
	ErrNeedsReview     = errors.New("content needs manual review")
)

// ContentRejectedError is returned by Enqueue when the filter refuses a message.
// It unwraps to ErrContentBlocked or ErrNeedsReview.
type ContentRejectedError struct {
	Reason error
	Result *domain.FilterResult
}

func (e *ContentRejectedError) Error() string {
	switch {
	case e.Result == nil:
		return e.Reason.Error()
	case len(e.Result.Warnings) > 0:
		return e.Reason.Error() + ": " + strings.Join(e.Result.Warnings, "; ")
	case len(e.Result.MatchedRules) > 0:
		return e.Reason.Error() + " (rules: " + strings.Join(e.Result.MatchedRules, ", ") + ")"
	}
	return e.Reason.Error()
}

func (e *ContentRejectedError) Unwrap() error {
	return e.Reason
}

// Warnings returns the filter warnings that caused the rejection
func (e *ContentRejectedError) Warnings() []string {
	if e.Result == nil {
		return nil
	}
	return e.Result.Warnings
}

// ContentFilter gates queue admission
type ContentFilter interface {
	Filter(ctx context.Context, text string, userID int64) *domain.FilterResult
}

// QueueConfig sizes the delivery queue
type QueueConfig struct {
	MaxSize       int
	EvictionSlack int // extra room freed when eviction has to run
	MaxRetries    int
}

// EnqueueRequest describes one danmaku to deliver
type EnqueueRequest struct {
	Text       string
	UserID     int64
	Priority   int
	Delay      time.Duration
	SkipFilter bool
	Style      domain.Style
}

// MessageFilter selects messages by owner and/or status. Nil fields match everything.
type MessageFilter struct {
	UserID *int64
	Status *domain.MessageStatus
}

func (f MessageFilter) matches(m *domain.QueuedMessage) bool {
	if f.UserID != nil && m.UserID != *f.UserID {
		return false
	}
	if f.Status != nil && m.Status != *f.Status {
		return false
	}
	return true
}

// QueueUsecase owns the delivery queue. All state sits behind one mutex and
// every mutation is written through to the snapshot repo.
type QueueUsecase struct {
	filter    ContentFilter
	snapshots repo.QueueSnapshotRepo
	cfg       QueueConfig
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	messages []*domain.QueuedMessage
	stats    domain.QueueStats
}

// NewQueueUsecase creates the queue and restores the last snapshot.
// Messages that were in flight when the process stopped go back to pending.
func NewQueueUsecase(
	ctx context.Context,
	filter ContentFilter,
	snapshots repo.QueueSnapshotRepo,
	cfg QueueConfig,
	logger *zap.Logger,
) (*QueueUsecase, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 1000
	}
	if cfg.EvictionSlack < 0 {
		cfg.EvictionSlack = 0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = domain.DefaultMaxRetries
	}

	uc := &QueueUsecase{
		filter:    filter,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger.Named("queue"),
		now:       time.Now,
	}

	if snapshots == nil {
		return uc, nil
	}

	messages, stats, err := snapshots.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load queue snapshot: %w", err)
	}

	requeued := 0
	for _, m := range messages {
		if m.Status == domain.StatusSending {
			m.Status = domain.StatusPending
			requeued++
		}
		if m.MaxRetries <= 0 {
			m.MaxRetries = cfg.MaxRetries
		}
	}
	stats.SessionSent = 0
	stats.SessionFailed = 0

	uc.messages = messages
	uc.stats = stats
	if requeued > 0 {
		uc.persistLocked(ctx)
	}

	uc.logger.Info("queue restored", zap.Int("messages", len(messages)), zap.Int("requeued", requeued))
	return uc, nil
}

// Enqueue admits a message and returns its id. Unless SkipFilter is set the
// text is filtered first; a replace decision queues the rewritten text.
func (uc *QueueUsecase) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return "", ErrEmptyText
	}

	if !req.SkipFilter && uc.filter != nil {
		res := uc.filter.Filter(ctx, text, req.UserID)
		switch {
		case res.Action == domain.ActionReview:
			uc.logger.Info("danmaku held for review", zap.Int64("user", req.UserID), zap.String("text", preview(text)))
			return "", &ContentRejectedError{Reason: ErrNeedsReview, Result: res}
		case res.IsBlocked:
			uc.logger.Warn("danmaku blocked", zap.Int64("user", req.UserID), zap.String("text", preview(text)))
			return "", &ContentRejectedError{Reason: ErrContentBlocked, Result: res}
		}
		if res.Action == domain.ActionReplace {
			text = res.FilteredText
		}
		if len(res.Warnings) > 0 {
			uc.logger.Warn("danmaku admitted with warnings", zap.Int64("user", req.UserID), zap.Strings("warnings", res.Warnings))
		}
	}

	delay := req.Delay
	if delay < 0 {
		delay = 0
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	priority := domain.ClampPriority(req.Priority)
	if err := uc.makeRoomLocked(); err != nil {
		return "", err
	}

	now := uc.now()
	msg := &domain.QueuedMessage{
		ID:         uc.nextIDLocked(req.UserID, now),
		Text:       text,
		UserID:     req.UserID,
		Style:      req.Style.Normalize(),
		Priority:   priority,
		Delay:      delay,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		MaxRetries: uc.cfg.MaxRetries,
	}
	uc.insertLocked(msg)
	uc.persistLocked(ctx)

	uc.logger.Info("danmaku queued",
		zap.String("id", msg.ID),
		zap.Int("priority", priority),
		zap.String("text", preview(text)),
	)
	return msg.ID, nil
}

// insertLocked places msg before the first message of strictly lower priority
func (uc *QueueUsecase) insertLocked(msg *domain.QueuedMessage) {
	idx := len(uc.messages)
	for i, m := range uc.messages {
		if m.Priority < msg.Priority {
			idx = i
			break
		}
	}
	uc.messages = append(uc.messages, nil)
	copy(uc.messages[idx+1:], uc.messages[idx:])
	uc.messages[idx] = msg
}

func (uc *QueueUsecase) nextIDLocked(userID int64, now time.Time) string {
	base := fmt.Sprintf("dm_%d_%d", userID, now.UnixMilli())
	id := base
	for n := 2; uc.indexLocked(id) >= 0; n++ {
		id = fmt.Sprintf("%s_%d", base, n)
	}
	return id
}

// makeRoomLocked frees space for one more message. Terminal messages go first;
// after that pending messages are evicted, oldest of the lowest tier first,
// down to EvictionSlack below the cap. Messages being sent are never evicted.
func (uc *QueueUsecase) makeRoomLocked() error {
	if len(uc.messages) < uc.cfg.MaxSize {
		return nil
	}
	uc.purgeTerminalLocked()
	if len(uc.messages) < uc.cfg.MaxSize {
		return nil
	}

	var candidates []*domain.QueuedMessage
	for _, m := range uc.messages {
		if m.Status == domain.StatusPending {
			candidates = append(candidates, m)
		}
	}

	need := len(uc.messages) - uc.cfg.MaxSize + 1
	if len(candidates) < need {
		uc.logger.Warn("queue full, nothing evictable",
			zap.Int("size", len(uc.messages)),
			zap.Int("evictable", len(candidates)),
		)
		return ErrQueueFull
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	want := need + uc.cfg.EvictionSlack
	if want > len(candidates) {
		want = len(candidates)
	}

	evicted := make(map[string]struct{}, want)
	for _, m := range candidates[:want] {
		evicted[m.ID] = struct{}{}
	}
	kept := uc.messages[:0]
	for _, m := range uc.messages {
		if _, ok := evicted[m.ID]; ok {
			continue
		}
		kept = append(kept, m)
	}
	uc.messages = kept
	uc.stats.TotalEvicted += int64(want)

	uc.logger.Warn("queue full, evicted pending messages", zap.Int("evicted", want))
	return nil
}

func (uc *QueueUsecase) purgeTerminalLocked() int {
	kept := uc.messages[:0]
	for _, m := range uc.messages {
		if !m.Status.IsTerminal() {
			kept = append(kept, m)
		}
	}
	removed := len(uc.messages) - len(kept)
	for i := len(kept); i < len(uc.messages); i++ {
		uc.messages[i] = nil
	}
	uc.messages = kept
	return removed
}

func (uc *QueueUsecase) indexLocked(id string) int {
	for i, m := range uc.messages {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func (uc *QueueUsecase) nextEligibleLocked() *domain.QueuedMessage {
	now := uc.now()
	for _, m := range uc.messages {
		if m.IsEligible(now) {
			return m
		}
	}
	return nil
}

// DequeueNext returns a copy of the first eligible pending message without claiming it
func (uc *QueueUsecase) DequeueNext() (*domain.QueuedMessage, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	m := uc.nextEligibleLocked()
	if m == nil {
		return nil, false
	}
	return m.Clone(), true
}

// ClaimNext marks the first eligible message as sending and returns a copy of it
func (uc *QueueUsecase) ClaimNext(ctx context.Context) (*domain.QueuedMessage, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	m := uc.nextEligibleLocked()
	if m == nil {
		return nil, false
	}
	if err := m.MarkSending(); err != nil {
		uc.logger.Error("failed to claim message", zap.String("id", m.ID), zap.Error(err))
		return nil, false
	}
	uc.persistLocked(ctx)
	return m.Clone(), true
}

// Complete records the outcome of a send started by ClaimNext. A message
// cancelled while in flight is dropped whatever the outcome.
func (uc *QueueUsecase) Complete(ctx context.Context, id string, result *repo.SendResult, sendErr error) error {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	idx := uc.indexLocked(id)
	if idx < 0 {
		return ErrMessageNotFound
	}
	m := uc.messages[idx]

	if m.Status == domain.StatusCancelled {
		uc.messages = append(uc.messages[:idx], uc.messages[idx+1:]...)
		uc.persistLocked(ctx)
		uc.logger.Info("dropped message cancelled in flight", zap.String("id", id))
		return nil
	}

	if reason := failureReason(result, sendErr); reason != "" {
		final, err := m.MarkFailure(reason, uc.now())
		if err != nil {
			return err
		}
		if final {
			uc.stats.TotalFailed++
			uc.stats.SessionFailed++
			uc.logger.Error("danmaku failed, retries exhausted",
				zap.String("id", id),
				zap.Int("retries", m.RetryCount),
				zap.String("error", reason),
			)
		} else {
			uc.logger.Warn("danmaku send failed, will retry",
				zap.String("id", id),
				zap.Int("retry", m.RetryCount),
				zap.Duration("delay", m.Delay),
				zap.String("error", reason),
			)
		}
		uc.persistLocked(ctx)
		return nil
	}

	if err := m.MarkSuccess(uc.now()); err != nil {
		return err
	}
	uc.stats.TotalSent++
	uc.stats.SessionSent++
	uc.persistLocked(ctx)
	uc.logger.Info("danmaku sent", zap.String("id", id), zap.String("text", preview(m.Text)))
	return nil
}

func failureReason(result *repo.SendResult, sendErr error) string {
	switch {
	case sendErr != nil:
		return sendErr.Error()
	case result == nil:
		return "empty send result"
	case !result.Success:
		if result.Message == "" {
			return "send rejected"
		}
		return result.Message
	}
	return ""
}

// Remove cancels a message. Pending messages are deleted, an in-flight one is
// marked cancelled and dropped when its send returns, terminal ones are deleted.
func (uc *QueueUsecase) Remove(ctx context.Context, id string) bool {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	idx := uc.indexLocked(id)
	if idx < 0 {
		return false
	}
	m := uc.messages[idx]

	switch m.Status {
	case domain.StatusSending:
		_ = m.Cancel()
	case domain.StatusPending:
		uc.messages = append(uc.messages[:idx], uc.messages[idx+1:]...)
		uc.stats.TotalCancelled++
	default:
		uc.messages = append(uc.messages[:idx], uc.messages[idx+1:]...)
	}
	uc.persistLocked(ctx)

	uc.logger.Info("danmaku removed", zap.String("id", id), zap.String("status", string(m.Status)))
	return true
}

// Clear removes every message matching f and returns how many pending messages were cancelled.
// In-flight matches are marked cancelled instead of being deleted.
func (uc *QueueUsecase) Clear(ctx context.Context, f MessageFilter) int {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	cancelled := 0
	kept := make([]*domain.QueuedMessage, 0, len(uc.messages))
	for _, m := range uc.messages {
		if !f.matches(m) {
			kept = append(kept, m)
			continue
		}
		switch m.Status {
		case domain.StatusSending:
			_ = m.Cancel()
			kept = append(kept, m)
		case domain.StatusPending:
			cancelled++
		}
	}
	uc.messages = kept
	uc.stats.TotalCancelled += int64(cancelled)
	uc.persistLocked(ctx)

	uc.logger.Info("queue cleared", zap.Int("cancelled", cancelled), zap.Int("remaining", len(kept)))
	return cancelled
}

// Cleanup drops terminal messages and returns how many were removed
func (uc *QueueUsecase) Cleanup(ctx context.Context) int {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	removed := uc.purgeTerminalLocked()
	if removed > 0 {
		uc.persistLocked(ctx)
		uc.logger.Debug("terminal messages cleaned up", zap.Int("removed", removed))
	}
	return removed
}

// Get returns a copy of the message with id
func (uc *QueueUsecase) Get(id string) (*domain.QueuedMessage, bool) {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	idx := uc.indexLocked(id)
	if idx < 0 {
		return nil, false
	}
	return uc.messages[idx].Clone(), true
}

// Messages returns copies of the messages matching f in queue order
func (uc *QueueUsecase) Messages(f MessageFilter) []*domain.QueuedMessage {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	var out []*domain.QueuedMessage
	for _, m := range uc.messages {
		if f.matches(m) {
			out = append(out, m.Clone())
		}
	}
	return out
}

// UserMessages returns the user's messages, optionally restricted to one status
func (uc *QueueUsecase) UserMessages(userID int64, status *domain.MessageStatus) []*domain.QueuedMessage {
	return uc.Messages(MessageFilter{UserID: &userID, Status: status})
}

// Info reports queue size, per-status counts and cumulative stats
func (uc *QueueUsecase) Info() *domain.QueueInfo {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	counts := map[domain.MessageStatus]int{
		domain.StatusPending:   0,
		domain.StatusSending:   0,
		domain.StatusSuccess:   0,
		domain.StatusFailed:    0,
		domain.StatusCancelled: 0,
	}
	for _, m := range uc.messages {
		counts[m.Status]++
	}
	return &domain.QueueInfo{
		TotalMessages: len(uc.messages),
		StatusCounts:  counts,
		Stats:         uc.stats,
		MaxSize:       uc.cfg.MaxSize,
	}
}

func (uc *QueueUsecase) persistLocked(ctx context.Context) {
	if uc.snapshots == nil {
		return
	}
	snapshot := make([]*domain.QueuedMessage, len(uc.messages))
	for i, m := range uc.messages {
		snapshot[i] = m.Clone()
	}
	// the snapshot must land even if the caller's request was cancelled
	if err := uc.snapshots.Save(context.WithoutCancel(ctx), snapshot, uc.stats); err != nil {
		uc.logger.Error("failed to save queue snapshot", zap.Error(err))
	}
}

// preview shortens text for log fields
func preview(text string) string {
	const limit = 20
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
