package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
)

const (
	// AuditStreamName is the JetStream stream holding filter decisions
	AuditStreamName = "DANMAKU_AUDIT"
	// AuditSubjectPrefix is followed by the decision's action, e.g. danmaku.audit.block
	AuditSubjectPrefix = "danmaku.audit."
)

// AuditPublisher publishes audit records to NATS JetStream
type AuditPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *zap.Logger
}

// NewAuditPublisher connects to NATS and makes sure the audit stream exists
func NewAuditPublisher(url string, logger *zap.Logger) (*AuditPublisher, error) {
	logger = logger.Named("nats")

	nc, err := nats.Connect(url, nats.RetryOnFailedConnect(true), nats.MaxReconnects(5), nats.ReconnectWait(time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     AuditStreamName,
		Subjects: []string{AuditSubjectPrefix + ">"},
		MaxAge:   30 * 24 * time.Hour,
	})
	if err != nil {
		// an existing stream with a different config is still usable
		logger.Warn("failed to create or update audit stream", zap.Error(err))
	}

	logger.Info("audit publisher connected", zap.String("url", url))
	return &AuditPublisher{nc: nc, js: js, logger: logger}, nil
}

// Publish sends rec on the subject for its action
func (p *AuditPublisher) Publish(ctx context.Context, rec *domain.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode audit record: %w", err)
	}
	if _, err := p.js.Publish(ctx, AuditSubject(rec.Action), data); err != nil {
		return fmt.Errorf("failed to publish audit record: %w", err)
	}
	return nil
}

// AuditSubject returns the subject a decision with action is published on
func AuditSubject(action domain.FilterAction) string {
	return AuditSubjectPrefix + string(action)
}

// Close drains pending publishes and closes the connection
func (p *AuditPublisher) Close() error {
	return p.nc.Drain()
}
