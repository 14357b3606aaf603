package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"
)

// auditRepo implements the append-only audit log
type auditRepo struct {
	db *sql.DB
}

// NewAuditRepo creates a new audit repository
func NewAuditRepo(dbPath string) (repo.AuditRepo, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			original_text TEXT NOT NULL,
			filtered_text TEXT,
			action TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			matched_rules TEXT,
			warnings TEXT,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit_records table: %w", err)
	}

	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_records_user ON audit_records(user_id)`)
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_records_date ON audit_records(created_at)`)

	return &auditRepo{db: db}, nil
}

// Append stores a record and sets its ID
func (r *auditRepo) Append(ctx context.Context, rec *domain.AuditRecord) error {
	matched, err := json.Marshal(nonNil(rec.MatchedRules))
	if err != nil {
		return fmt.Errorf("failed to encode matched rules: %w", err)
	}
	warnings, err := json.Marshal(nonNil(rec.Warnings))
	if err != nil {
		return fmt.Errorf("failed to encode warnings: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_records (user_id, original_text, filtered_text, action, risk_level, matched_rules, warnings, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.UserID, rec.OriginalText, rec.FilteredText, string(rec.Action), string(rec.RiskLevel),
		string(matched), string(warnings), rec.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read audit record id: %w", err)
	}
	rec.ID = id
	return nil
}

// Query returns records newest first
func (r *auditRepo) Query(ctx context.Context, q domain.AuditQuery) ([]*domain.AuditRecord, error) {
	var (
		where []string
		args  []any
	)
	if q.UserID != nil {
		where = append(where, "user_id = ?")
		args = append(args, *q.UserID)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, q.Since.Unix())
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, q.Until.Unix())
	}

	query := `SELECT id, user_id, original_text, filtered_text, action, risk_level, matched_rules, warnings, created_at
		FROM audit_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*domain.AuditRecord
	for rows.Next() {
		var (
			rec               domain.AuditRecord
			action, risk      string
			filtered          sql.NullString
			matched, warnings sql.NullString
			createdAt         int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.OriginalText, &filtered, &action, &risk,
			&matched, &warnings, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		rec.FilteredText = filtered.String
		rec.Action = domain.FilterAction(action)
		rec.RiskLevel = domain.RiskLevel(risk)
		rec.MatchedRules = decodeStrings(matched.String)
		rec.Warnings = decodeStrings(warnings.String)
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Statistics aggregates records created at or after since
func (r *auditRepo) Statistics(ctx context.Context, since time.Time) (*domain.FilterStatistics, error) {
	stats := &domain.FilterStatistics{RiskDistribution: map[domain.RiskLevel]int{}}

	rows, err := r.db.QueryContext(ctx, `
		SELECT action, COUNT(*) FROM audit_records WHERE created_at >= ? GROUP BY action
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query action counts: %w", err)
	}
	for rows.Next() {
		var (
			action string
			n      int
		)
		if err := rows.Scan(&action, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan action count: %w", err)
		}
		stats.TotalProcessed += n
		switch domain.FilterAction(action) {
		case domain.ActionBlock:
			stats.Blocked += n
		case domain.ActionWarning:
			stats.Warned += n
		case domain.ActionReplace:
			stats.Replaced += n
		case domain.ActionReview:
			stats.NeedsReview += n
		}
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx, `
		SELECT risk_level, COUNT(*) FROM audit_records WHERE created_at >= ? GROUP BY risk_level
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query risk distribution: %w", err)
	}
	for rows.Next() {
		var (
			risk string
			n    int
		)
		if err := rows.Scan(&risk, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan risk count: %w", err)
		}
		stats.RiskDistribution[domain.RiskLevel(risk)] = n
	}
	rows.Close()

	rows, err = r.db.QueryContext(ctx, `
		SELECT user_id, COUNT(*) AS n FROM audit_records
		WHERE created_at >= ?
		GROUP BY user_id
		ORDER BY n DESC, user_id ASC
		LIMIT 10
	`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query top users: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var uc domain.UserCount
		if err := rows.Scan(&uc.UserID, &uc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan user count: %w", err)
		}
		stats.TopUsers = append(stats.TopUsers, uc)
	}
	return stats, rows.Err()
}

// Close closes the database connection
func (r *auditRepo) Close() error {
	return r.db.Close()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func decodeStrings(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}
