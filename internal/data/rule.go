package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"

	_ "modernc.org/sqlite"
)

// ruleRepo implements the filter rule repository
type ruleRepo struct {
	db *sql.DB
}

// openDB opens a sqlite database, creating its directory first
func openDB(dbPath string) (*sql.DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; serialise on our side instead of hitting SQLITE_BUSY
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewRuleRepo creates a new filter rule repository
func NewRuleRepo(dbPath string) (repo.RuleRepo, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS filter_rules (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			filter_type TEXT NOT NULL,
			pattern TEXT NOT NULL,
			action TEXT NOT NULL,
			risk_level TEXT NOT NULL,
			replacement TEXT DEFAULT '',
			enabled INTEGER DEFAULT 1,
			priority INTEGER DEFAULT 1,
			description TEXT DEFAULT '',
			created_by INTEGER DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create filter_rules table: %w", err)
	}
	_, _ = db.Exec(`CREATE INDEX IF NOT EXISTS idx_filter_rules_enabled ON filter_rules(enabled, priority)`)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS sensitive_words (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			word TEXT UNIQUE NOT NULL,
			category TEXT NOT NULL,
			severity INTEGER DEFAULT 1,
			enabled INTEGER DEFAULT 1,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sensitive_words table: %w", err)
	}

	return &ruleRepo{db: db}, nil
}

// ========== Rule Operations ==========

// Upsert inserts a rule or updates it in place. Updating keeps the row, so
// insertion order (rowid) survives edits.
func (r *ruleRepo) Upsert(ctx context.Context, rule *domain.FilterRule) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO filter_rules (
			id, name, filter_type, pattern, action, risk_level, replacement,
			enabled, priority, description, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			filter_type = excluded.filter_type,
			pattern = excluded.pattern,
			action = excluded.action,
			risk_level = excluded.risk_level,
			replacement = excluded.replacement,
			enabled = excluded.enabled,
			priority = excluded.priority,
			description = excluded.description,
			created_by = excluded.created_by,
			updated_at = excluded.updated_at
	`, rule.ID, rule.Name, string(rule.Type), rule.Pattern, string(rule.Action), string(rule.RiskLevel),
		rule.Replacement, boolToInt(rule.Enabled), rule.Priority, rule.Description, rule.CreatedBy,
		rule.CreatedAt.Unix(), rule.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert rule: %w", err)
	}
	return nil
}

// Delete removes a rule permanently
func (r *ruleRepo) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM filter_rules WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

const ruleColumns = `id, name, filter_type, pattern, action, risk_level, replacement,
	enabled, priority, description, created_by, created_at, updated_at`

// Get returns the rule with id, or nil if there is none
func (r *ruleRepo) Get(ctx context.Context, id string) (*domain.FilterRule, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM filter_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// ListEnabled returns enabled rules, highest priority first
func (r *ruleRepo) ListEnabled(ctx context.Context) ([]*domain.FilterRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM filter_rules WHERE enabled = 1 ORDER BY priority DESC, rowid ASC`)
}

// ListAll returns every rule including disabled ones
func (r *ruleRepo) ListAll(ctx context.Context) ([]*domain.FilterRule, error) {
	return r.list(ctx, `SELECT `+ruleColumns+` FROM filter_rules ORDER BY priority DESC, rowid ASC`)
}

func (r *ruleRepo) list(ctx context.Context, query string) ([]*domain.FilterRule, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*domain.FilterRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Count returns the number of stored rules, enabled or not
func (r *ruleRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM filter_rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(s rowScanner) (*domain.FilterRule, error) {
	var (
		rule                     domain.FilterRule
		typ, action, risk        string
		enabled                  int
		createdAt, updatedAt     int64
		replacement, description sql.NullString
	)
	err := s.Scan(&rule.ID, &rule.Name, &typ, &rule.Pattern, &action, &risk, &replacement,
		&enabled, &rule.Priority, &description, &rule.CreatedBy, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	rule.Type = domain.FilterType(typ)
	rule.Action = domain.FilterAction(action)
	rule.RiskLevel = domain.RiskLevel(risk)
	rule.Replacement = replacement.String
	rule.Description = description.String
	rule.Enabled = enabled != 0
	rule.CreatedAt = time.Unix(createdAt, 0)
	rule.UpdatedAt = time.Unix(updatedAt, 0)
	return &rule, nil
}

// ========== Sensitive Word Operations ==========

// AddSensitiveWord stores a word, re-enabling it if it already exists
func (r *ruleRepo) AddSensitiveWord(ctx context.Context, word *domain.SensitiveWord) error {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO sensitive_words (word, category, severity, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(word) DO UPDATE SET
			category = excluded.category,
			severity = excluded.severity,
			enabled = excluded.enabled
	`, word.Word, word.Category, word.Severity, boolToInt(word.Enabled), word.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to add sensitive word: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		word.ID = id
	}
	return nil
}

// RemoveSensitiveWord deletes a word
func (r *ruleRepo) RemoveSensitiveWord(ctx context.Context, word string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sensitive_words WHERE word = ?`, word)
	if err != nil {
		return false, fmt.Errorf("failed to remove sensitive word: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// ListSensitiveWords returns enabled words
func (r *ruleRepo) ListSensitiveWords(ctx context.Context) ([]*domain.SensitiveWord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, word, category, severity, enabled, created_at
		FROM sensitive_words
		WHERE enabled = 1
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sensitive words: %w", err)
	}
	defer rows.Close()

	var words []*domain.SensitiveWord
	for rows.Next() {
		var (
			w         domain.SensitiveWord
			enabled   int
			createdAt int64
		)
		if err := rows.Scan(&w.ID, &w.Word, &w.Category, &w.Severity, &enabled, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan sensitive word: %w", err)
		}
		w.Enabled = enabled != 0
		w.CreatedAt = time.Unix(createdAt, 0)
		words = append(words, &w)
	}
	return words, rows.Err()
}

// Close closes the database connection
func (r *ruleRepo) Close() error {
	return r.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
