package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/usecase"
	"github.com/danmakubot/danmaku-bridge/internal/infra/feishu"
	"github.com/danmakubot/danmaku-bridge/internal/service"
)

const (
	seenTTL   = 5 * time.Minute
	statsDays = 7
)

// ChatClient is the part of the Feishu client the server needs
type ChatClient interface {
	OnMessage(handler feishu.MessageHandler)
	Start(ctx context.Context) error
	Stop()
	ReplyText(ctx context.Context, msgID, text string) error
}

// FeishuServer turns Feishu chat messages into danmaku commands
type FeishuServer struct {
	client   ChatClient
	svc      *service.DanmakuService
	adminIDs map[string]bool
	logger   *zap.Logger

	// Message deduplication cache
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // msgID -> timestamp
}

// NewFeishuServer creates a new Feishu server
func NewFeishuServer(client ChatClient, svc *service.DanmakuService, adminIDs []string, logger *zap.Logger) *FeishuServer {
	admins := make(map[string]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &FeishuServer{
		client:   client,
		svc:      svc,
		adminIDs: admins,
		logger:   logger.Named("server"),
		seenMsgs: make(map[string]time.Time),
	}
}

// Start blocks while listening for chat messages
func (s *FeishuServer) Start(ctx context.Context) error {
	s.client.OnMessage(s.handleMessage)
	return s.client.Start(ctx)
}

// Stop disconnects from Feishu
func (s *FeishuServer) Stop() {
	s.client.Stop()
}

// UserKey maps a Feishu open_id to the numeric user id used by the queue and filter
func UserKey(openID string) int64 {
	return int64(xxhash.Sum64String(openID) & math.MaxInt64)
}

func (s *FeishuServer) handleMessage(msg *feishu.Message) {
	if s.markSeen(msg.MsgID) {
		s.logger.Debug("duplicate message ignored", zap.String("msg_id", msg.MsgID))
		return
	}
	if msg.Sender == nil || msg.Sender.OpenID == "" {
		return
	}

	ctx := context.Background()
	reply := s.Handle(ctx, msg.Sender.OpenID, msg.Content)
	if reply == "" {
		return
	}
	if err := s.client.ReplyText(ctx, msg.MsgID, reply); err != nil {
		s.logger.Error("failed to send reply", zap.String("msg_id", msg.MsgID), zap.Error(err))
	}
}

// Handle runs one chat message for the sender and returns the reply text
func (s *FeishuServer) Handle(ctx context.Context, openID, content string) string {
	cmd, err := ParseCommand(content)
	if err != nil {
		if errors.Is(err, errEmptyCommand) {
			return ""
		}
		return err.Error()
	}

	admin := s.adminIDs[openID]
	if cmd.Kind.AdminOnly() && !admin {
		return fmt.Sprintf("/%s is for admins only", cmd.Kind)
	}

	userID := UserKey(openID)
	s.logger.Info("command",
		zap.String("kind", string(cmd.Kind)),
		zap.Int64("user", userID),
		zap.Bool("admin", admin),
	)
	return s.execute(ctx, cmd, userID, admin)
}

func (s *FeishuServer) execute(ctx context.Context, cmd *Command, userID int64, admin bool) string {
	switch cmd.Kind {
	case CmdSend:
		return s.send(ctx, cmd, userID)
	case CmdQueue:
		return formatQueueInfo(s.svc.QueueInfo())
	case CmdMine:
		return s.mine(userID)
	case CmdCancel:
		m, err := s.svc.Cancel(ctx, cmd.Args[0], userID, admin)
		switch {
		case errors.Is(err, usecase.ErrMessageNotFound):
			return "No message with id " + cmd.Args[0]
		case errors.Is(err, service.ErrNotOwner):
			return "You can only cancel your own messages"
		case err != nil:
			return "Cancel failed: " + err.Error()
		}
		return fmt.Sprintf("Cancelled %s (%s)", m.ID, preview(m.Text))
	case CmdClear:
		return fmt.Sprintf("Cancelled %d pending message(s)", s.svc.ClearUser(ctx, userID))
	case CmdCheck:
		return formatCheck(s.svc.Check(ctx, cmd.Text, userID))
	case CmdHelp:
		return HelpText(admin)
	case CmdClearAll:
		return fmt.Sprintf("Cleared the queue, %d pending message(s) cancelled", s.svc.Clear(ctx, usecase.MessageFilter{}))
	case CmdStart:
		if err := s.svc.StartProcessor(); err != nil {
			return err.Error()
		}
		return "Delivery started"
	case CmdStop:
		if err := s.svc.StopProcessor(); err != nil {
			return err.Error()
		}
		return "Delivery stopped"
	case CmdRules:
		return s.rules(ctx)
	case CmdDisable, CmdEnable:
		enabled := cmd.Kind == CmdEnable
		if err := s.svc.SetRuleEnabled(ctx, cmd.Args[0], enabled); err != nil {
			if errors.Is(err, usecase.ErrRuleNotFound) {
				return "No rule with id " + cmd.Args[0]
			}
			return "Update failed: " + err.Error()
		}
		return fmt.Sprintf("Rule %s %sd", cmd.Args[0], cmd.Kind)
	case CmdWord:
		return s.word(ctx, cmd.Args[0], cmd.Args[1])
	case CmdStats:
		stats, err := s.svc.Statistics(ctx, statsDays)
		if err != nil {
			return "Statistics unavailable: " + err.Error()
		}
		return formatStats(stats)
	case CmdOverlay:
		return s.overlay(ctx, cmd.Args)
	}
	return "unsupported command"
}

// ========== Command Handlers ==========

func (s *FeishuServer) send(ctx context.Context, cmd *Command, userID int64) string {
	id, err := s.svc.Send(ctx, usecase.EnqueueRequest{
		Text:     cmd.Text,
		UserID:   userID,
		Priority: cmd.Priority,
		Delay:    cmd.Delay,
		Style:    cmd.Style,
	})
	var rejected *usecase.ContentRejectedError
	switch {
	case errors.As(err, &rejected):
		if errors.Is(err, usecase.ErrNeedsReview) {
			return "Not sent, needs manual review: " + rejected.Error()
		}
		return "Not sent: " + rejected.Error()
	case errors.Is(err, usecase.ErrQueueFull):
		return "Not sent: the queue is full, try again later"
	case err != nil:
		return "Not sent: " + err.Error()
	}

	reply := fmt.Sprintf("Queued %s (priority %d", id, cmd.Priority)
	if cmd.Delay > 0 {
		reply += ", delay " + cmd.Delay.String()
	}
	reply += ")"
	if m, err := s.svc.Message(id); err == nil && m.Text != cmd.Text {
		reply += "\nFiltered text: " + m.Text
	}
	return reply
}

func (s *FeishuServer) mine(userID int64) string {
	msgs := s.svc.Messages(usecase.MessageFilter{UserID: &userID})
	if len(msgs) == 0 {
		return "You have no queued messages"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Your messages (%d):", len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(&b, "\n%s [%s] p%d %s", m.ID, m.Status, m.Priority, preview(m.Text))
		if m.ErrorMessage != "" {
			fmt.Fprintf(&b, " (last error: %s)", m.ErrorMessage)
		}
	}
	return b.String()
}

func (s *FeishuServer) rules(ctx context.Context) string {
	rules, err := s.svc.Rules(ctx, true)
	if err != nil {
		return "Rules unavailable: " + err.Error()
	}
	if len(rules) == 0 {
		return "No filter rules"
	}
	var b strings.Builder
	b.WriteString("Filter rules:")
	for _, r := range rules {
		state := "on"
		if !r.Enabled {
			state = "off"
		}
		fmt.Fprintf(&b, "\n[%s] %s %s/%s -> %s (%s, p%d)", state, r.ID, r.Type, preview(r.Pattern), r.Action, r.RiskLevel, r.Priority)
	}
	return b.String()
}

func (s *FeishuServer) word(ctx context.Context, op, word string) string {
	if op == "add" {
		if err := s.svc.AddSensitiveWord(ctx, word, "", 0); err != nil {
			return "Add failed: " + err.Error()
		}
		return "Added sensitive word: " + word
	}
	if err := s.svc.RemoveSensitiveWord(ctx, word); err != nil {
		if errors.Is(err, service.ErrWordNotFound) {
			return "Not a sensitive word: " + word
		}
		return "Remove failed: " + err.Error()
	}
	return "Removed sensitive word: " + word
}

func (s *FeishuServer) overlay(ctx context.Context, args []string) string {
	action := args[0]
	var settings map[string]any
	switch action {
	case "speed":
		if len(args) < 2 {
			return "usage: /overlay speed slow|normal|fast"
		}
		settings = map[string]any{"speed": args[1]}
	case "opacity":
		if len(args) < 2 {
			return "usage: /overlay opacity <0-1>"
		}
		v, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return "opacity must be a number between 0 and 1"
		}
		settings = map[string]any{"opacity": v}
	}

	result, err := s.svc.OverlayControl(ctx, action, settings)
	if err != nil {
		return "Overlay " + action + " failed: " + err.Error()
	}
	if !result.Success {
		return "Overlay refused " + action + ": " + result.Message
	}
	return "Overlay " + action + " done"
}

// ========== Formatting ==========

func formatQueueInfo(info *domain.QueueInfo) string {
	state := "stopped"
	if info.Processing {
		state = "running"
	}
	return fmt.Sprintf("Queue: %d/%d messages, delivery %s\npending %d, sending %d, sent %d, failed %d\nsent this session %d, failed this session %d, total sent %d",
		info.TotalMessages, info.MaxSize, state,
		info.StatusCounts[domain.StatusPending], info.StatusCounts[domain.StatusSending],
		info.StatusCounts[domain.StatusSuccess], info.StatusCounts[domain.StatusFailed],
		info.Stats.SessionSent, info.Stats.SessionFailed, info.Stats.TotalSent,
	)
}

func formatCheck(r *domain.FilterResult) string {
	var b strings.Builder
	verdict := "allowed"
	switch {
	case r.Action == domain.ActionReview:
		verdict = "needs review"
	case r.IsBlocked:
		verdict = "blocked"
	}
	fmt.Fprintf(&b, "Verdict: %s (action %s, risk %s)", verdict, r.Action, r.RiskLevel)
	if len(r.MatchedRules) > 0 {
		fmt.Fprintf(&b, "\nRules: %s", strings.Join(r.MatchedRules, ", "))
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "\n- %s", w)
	}
	if r.FilteredText != r.OriginalText {
		fmt.Fprintf(&b, "\nFiltered text: %s", r.FilteredText)
	}
	return b.String()
}

func formatStats(st *domain.FilterStatistics) string {
	return fmt.Sprintf("Last %d days: %d processed, %d blocked, %d warned, %d replaced, %d for review\nrisk low %d, medium %d, high %d, critical %d\n%d active rules, %d sensitive words",
		st.PeriodDays, st.TotalProcessed, st.Blocked, st.Warned, st.Replaced, st.NeedsReview,
		st.RiskDistribution[domain.RiskLow], st.RiskDistribution[domain.RiskMedium],
		st.RiskDistribution[domain.RiskHigh], st.RiskDistribution[domain.RiskCritical],
		st.ActiveRules, st.SensitiveWords,
	)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= 30 {
		return s
	}
	return string(r[:30]) + "..."
}

// markSeen records msgID and reports whether it was already seen
func (s *FeishuServer) markSeen(msgID string) bool {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := time.Now()
	if ts, ok := s.seenMsgs[msgID]; ok && now.Sub(ts) < seenTTL {
		return true
	}
	s.seenMsgs[msgID] = now

	// Clean up expired records when marking new messages
	cutoff := now.Add(-seenTTL)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}
	return false
}
