package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/danmakubot/danmaku-bridge/internal/biz/domain"
	"github.com/danmakubot/danmaku-bridge/internal/biz/repo"
)

// queueSnapshotRepo stores the delivery queue as rows ordered by queue position
type queueSnapshotRepo struct {
	db *sql.DB
}

// NewQueueSnapshotRepo creates a new queue snapshot repository
func NewQueueSnapshotRepo(dbPath string) (repo.QueueSnapshotRepo, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_messages (
			seq INTEGER PRIMARY KEY,
			id TEXT UNIQUE NOT NULL,
			text TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			color TEXT,
			position TEXT,
			font_size INTEGER,
			duration INTEGER,
			priority INTEGER NOT NULL,
			delay_ms INTEGER DEFAULT 0,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			sent_at INTEGER,
			error_message TEXT,
			retry_count INTEGER DEFAULT 0,
			max_retries INTEGER DEFAULT 3
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue_messages table: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_stats (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			total_sent INTEGER DEFAULT 0,
			total_failed INTEGER DEFAULT 0,
			total_cancelled INTEGER DEFAULT 0,
			total_evicted INTEGER DEFAULT 0,
			session_sent INTEGER DEFAULT 0,
			session_failed INTEGER DEFAULT 0
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue_stats table: %w", err)
	}

	return &queueSnapshotRepo{db: db}, nil
}

// Save replaces the stored queue with messages and stats in one transaction
func (r *queueSnapshotRepo) Save(ctx context.Context, messages []*domain.QueuedMessage, stats domain.QueueStats) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM queue_messages`); err != nil {
		return fmt.Errorf("failed to clear queue snapshot: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO queue_messages (
			seq, id, text, user_id, color, position, font_size, duration, priority,
			delay_ms, status, created_at, sent_at, error_message, retry_count, max_retries
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for i, m := range messages {
		var sentAt sql.NullInt64
		if m.SentAt != nil {
			sentAt = sql.NullInt64{Int64: m.SentAt.UnixMilli(), Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			i, m.ID, m.Text, m.UserID, m.Style.Color, m.Style.Position, m.Style.FontSize, m.Style.Duration,
			m.Priority, m.Delay.Milliseconds(), string(m.Status), m.CreatedAt.UnixMilli(), sentAt,
			m.ErrorMessage, m.RetryCount, m.MaxRetries,
		)
		if err != nil {
			return fmt.Errorf("failed to save queued message %s: %w", m.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO queue_stats (id, total_sent, total_failed, total_cancelled, total_evicted, session_sent, session_failed)
		VALUES (1, ?, ?, ?, ?, ?, ?)
	`, stats.TotalSent, stats.TotalFailed, stats.TotalCancelled, stats.TotalEvicted, stats.SessionSent, stats.SessionFailed)
	if err != nil {
		return fmt.Errorf("failed to save queue stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load returns the stored queue in its saved order
func (r *queueSnapshotRepo) Load(ctx context.Context) ([]*domain.QueuedMessage, domain.QueueStats, error) {
	var stats domain.QueueStats

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, text, user_id, color, position, font_size, duration, priority,
			delay_ms, status, created_at, sent_at, error_message, retry_count, max_retries
		FROM queue_messages
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, stats, fmt.Errorf("failed to query queue snapshot: %w", err)
	}

	var messages []*domain.QueuedMessage
	for rows.Next() {
		var (
			m                domain.QueuedMessage
			color, position  sql.NullString
			fontSize, dur    sql.NullInt64
			delayMs, created int64
			sentAt           sql.NullInt64
			status           string
			errMsg           sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Text, &m.UserID, &color, &position, &fontSize, &dur, &m.Priority,
			&delayMs, &status, &created, &sentAt, &errMsg, &m.RetryCount, &m.MaxRetries); err != nil {
			rows.Close()
			return nil, stats, fmt.Errorf("failed to scan queued message: %w", err)
		}
		m.Style = domain.Style{
			Color:    color.String,
			Position: position.String,
			FontSize: int(fontSize.Int64),
			Duration: int(dur.Int64),
		}
		m.Delay = time.Duration(delayMs) * time.Millisecond
		m.Status = domain.MessageStatus(status)
		m.CreatedAt = time.UnixMilli(created)
		if sentAt.Valid {
			t := time.UnixMilli(sentAt.Int64)
			m.SentAt = &t
		}
		m.ErrorMessage = errMsg.String
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, stats, fmt.Errorf("failed to read queue snapshot: %w", err)
	}
	rows.Close()

	err = r.db.QueryRowContext(ctx, `
		SELECT total_sent, total_failed, total_cancelled, total_evicted, session_sent, session_failed
		FROM queue_stats WHERE id = 1
	`).Scan(&stats.TotalSent, &stats.TotalFailed, &stats.TotalCancelled, &stats.TotalEvicted,
		&stats.SessionSent, &stats.SessionFailed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, stats, fmt.Errorf("failed to load queue stats: %w", err)
	}

	return messages, stats, nil
}

// Close closes the database connection
func (r *queueSnapshotRepo) Close() error {
	return r.db.Close()
}
