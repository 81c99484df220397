package delivery

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// Row statuses for the persistent queue state machine.
const (
	// StatusQueued rows are eligible for pickup once scheduled_at passes.
	StatusQueued = "queued"

	// StatusProcessing rows are claimed by a worker but not acknowledged.
	StatusProcessing = "processing"

	// StatusFailed rows exhausted max_retries; terminal, excluded from
	// pickup.
	StatusFailed = "failed"
)

// rowBackoffCap bounds the per-row reschedule delay in seconds.
const rowBackoffCap = 300

// Item is one persisted queue row.
type Item struct {
	ID          int64
	Payload     []byte
	Status      string
	RetryCount  int
	ScheduledAt float64
	CreatedAt   float64
	UpdatedAt   float64
}

// Store is the durable delivery queue backed by SQLite in WAL mode.
// One process opens the store with a single writer connection; the only
// reader is that process's worker.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens (creating if needed) the queue database at path.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("queue db path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory %s: %w", dir, err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	return s, nil
}

// initSchema creates the queue table if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL,
		status TEXT NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		scheduled_at REAL NOT NULL,
		created_at REAL NOT NULL,
		updated_at REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_pickup ON queue(status, scheduled_at, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Enqueue inserts a new queued row and returns its id.
func (s *Store) Enqueue(ctx context.Context, payload []byte) (int64, error) {
	now := nowEpoch()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO queue (payload, status, retry_count, scheduled_at, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?)`,
		string(payload), StatusQueued, now, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read row id: %w", err)
	}
	return id, nil
}

// Pick claims up to limit eligible rows: status queued with scheduled_at
// in the past, ordered by id. Claimed rows transition to processing in
// the same transaction, so a crash cannot double-claim.
func (s *Store) Pick(ctx context.Context, limit int) ([]Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin pickup: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, payload, status, retry_count, scheduled_at, created_at, updated_at
		FROM queue
		WHERE status = ? AND scheduled_at <= ?
		ORDER BY id ASC
		LIMIT ?`,
		StatusQueued, nowEpoch(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}

	var items []Item
	for rows.Next() {
		var it Item
		var payload string
		if err := rows.Scan(&it.ID, &payload, &it.Status, &it.RetryCount,
			&it.ScheduledAt, &it.CreatedAt, &it.UpdatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		it.Payload = []byte(payload)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read queue rows: %w", err)
	}
	rows.Close()

	if len(items) == 0 {
		return nil, nil
	}

	now := nowEpoch()
	for i := range items {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue SET status = ?, updated_at = ? WHERE id = ?`,
			StatusProcessing, now, items[i].ID,
		); err != nil {
			return nil, fmt.Errorf("failed to claim row %d: %w", items[i].ID, err)
		}
		items[i].Status = StatusProcessing
		items[i].UpdatedAt = now
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit pickup: %w", err)
	}
	return items, nil
}

// Ack deletes delivered rows in a single transaction.
func (s *Store) Ack(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin ack: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM queue WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete row %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ack: %w", err)
	}
	return nil
}

// Reschedule records a failed attempt: the row returns to queued with
// exponential backoff, or becomes terminally failed once retries are
// exhausted. It returns the row's new status.
func (s *Store) Reschedule(ctx context.Context, it Item, maxRetries int) (string, error) {
	retry := it.RetryCount + 1
	now := nowEpoch()

	status := StatusQueued
	scheduled := now + float64(min(1<<retry, rowBackoffCap))
	if retry >= maxRetries {
		status = StatusFailed
		scheduled = now
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE queue SET status = ?, retry_count = ?, scheduled_at = ?, updated_at = ?
		WHERE id = ?`,
		status, retry, scheduled, now, it.ID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to reschedule row %d: %w", it.ID, err)
	}
	return status, nil
}

// MarkFailed terminally fails a row, e.g. an unreadable payload.
func (s *Store) MarkFailed(ctx context.Context, id int64) error {
	now := nowEpoch()
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue SET status = ?, scheduled_at = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark row %d failed: %w", id, err)
	}
	return nil
}

// Reclaim demotes processing rows older than threshold back to queued
// with immediate eligibility. A crash between pickup commit and ack
// leaves such orphans; reclaiming them yields at-least-once delivery.
func (s *Store) Reclaim(ctx context.Context, threshold time.Duration) (int64, error) {
	now := nowEpoch()
	cutoff := now - threshold.Seconds()
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue SET status = ?, scheduled_at = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		StatusQueued, now, now, StatusProcessing, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim orphaned rows: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// CountByStatus returns the row counts per status.
func (s *Store) CountByStatus(ctx context.Context) (queued, processing, failed int, err error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM queue GROUP BY status`)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to count queue rows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return 0, 0, 0, fmt.Errorf("failed to scan status count: %w", err)
		}
		switch status {
		case StatusQueued:
			queued = count
		case StatusProcessing:
			processing = count
		case StatusFailed:
			failed = count
		}
	}
	return queued, processing, failed, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// nowEpoch returns wall-clock seconds since epoch with sub-second
// precision, matching the schema's REAL columns.
func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}
