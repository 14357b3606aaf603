package data

import (
	"errors"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"
)

// Repositories contains all repositories
type Repositories struct {
	Rule  repo.RuleRepo
	Audit repo.AuditRepo
	Queue repo.QueueSnapshotRepo
	// Publisher is nil when no NATS URL is configured
	Publisher repo.AuditPublisher

	closers []func() error
}

// NewRepositories opens the sqlite stores under dataDir and, when natsURL is
// set, connects the audit publisher
func NewRepositories(dataDir, natsURL string, logger *zap.Logger) (*Repositories, error) {
	r := &Repositories{}

	ruleRepo, err := NewRuleRepo(filepath.Join(dataDir, "rules.db"))
	if err != nil {
		return nil, err
	}
	r.Rule = ruleRepo
	r.closers = append(r.closers, ruleRepo.Close)

	auditRepo, err := NewAuditRepo(filepath.Join(dataDir, "audit.db"))
	if err != nil {
		r.Close()
		return nil, err
	}
	r.Audit = auditRepo
	r.closers = append(r.closers, auditRepo.Close)

	queueRepo, err := NewQueueSnapshotRepo(filepath.Join(dataDir, "queue.db"))
	if err != nil {
		r.Close()
		return nil, err
	}
	r.Queue = queueRepo
	r.closers = append(r.closers, queueRepo.Close)

	if natsURL != "" {
		pub, err := NewAuditPublisher(natsURL, logger)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.Publisher = pub
		r.closers = append(r.closers, pub.Close)
	}

	return r, nil
}

// Close closes every repository, newest first
func (r *Repositories) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
