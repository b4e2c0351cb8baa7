package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/attendly/internal/model"
)

const eventColumns = `id, title, COALESCE(description, ''), start_time, end_time, is_active,
	COALESCE(channel_id, ''), COALESCE(created_by::text, ''), announced_at, created_at, updated_at`

func scanEvent(row rowScanner) (*model.Event, error) {
	event := &model.Event{}
	var announcedAt sql.NullTime
	err := row.Scan(
		&event.ID, &event.Title, &event.Description, &event.StartTime, &event.EndTime, &event.IsActive,
		&event.ChannelID, &event.CreatedBy, &announcedAt, &event.CreatedAt, &event.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if announcedAt.Valid {
		event.AnnouncedAt = &announcedAt.Time
	}
	return event, nil
}

func collectEvents(rows *sql.Rows) ([]*model.Event, error) {
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// PostgresEventRepo はPostgreSQLを使用したイベントリポジトリ。
type PostgresEventRepo struct {
	db *sql.DB
}

// NewPostgresEventRepo はPostgresEventRepoを生成する。
func NewPostgresEventRepo(db *sql.DB) *PostgresEventRepo {
	return &PostgresEventRepo{db: db}
}

// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
func (r *PostgresEventRepo) FindByID(ctx context.Context, id string) (*model.Event, error) {
	if !validID(id) {
		return nil, nil
	}
	event, err := scanEvent(r.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find event by ID: %w", err)
	}
	return event, nil
}

// Create はイベントを作成する。
func (r *PostgresEventRepo) Create(ctx context.Context, event *model.Event) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO events (id, title, description, start_time, end_time, is_active,
		                     channel_id, created_by, created_at, updated_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, NULLIF($7, ''), NULLIF($8, '')::uuid, $9, $10)`,
		event.ID, event.Title, event.Description, event.StartTime, event.EndTime, event.IsActive,
		event.ChannelID, event.CreatedBy, event.CreatedAt, event.UpdatedAt,
	)
	if err != nil {
		if mapped := translateConstraintError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// Update はイベントを更新する。作成者と通知済み日時は変更しない。
func (r *PostgresEventRepo) Update(ctx context.Context, event *model.Event) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE events
		 SET title = $2, description = NULLIF($3, ''), start_time = $4, end_time = $5,
		     is_active = $6, channel_id = NULLIF($7, ''), updated_at = $8
		 WHERE id = $1`,
		event.ID, event.Title, event.Description, event.StartTime, event.EndTime,
		event.IsActive, event.ChannelID, event.UpdatedAt,
	)
	if err != nil {
		if mapped := translateConstraintError(err); mapped != err {
			return mapped
		}
		return fmt.Errorf("failed to update event: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("event not found: %s", event.ID)
	}
	return nil
}

// List は開始日時の降順でイベント一覧を取得する。
func (r *PostgresEventRepo) List(ctx context.Context, offset, limit int, activeOnly bool) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE ($3 = false OR is_active)
		 ORDER BY start_time DESC, id
		 OFFSET $1 LIMIT $2`,
		offset, limit, activeOnly,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return collectEvents(rows)
}

// ListOngoing は時刻nowに開催中のアクティブなイベントを取得する。
// 開始・終了時刻ちょうどの瞬間も開催中に含む。
func (r *PostgresEventRepo) ListOngoing(ctx context.Context, now time.Time) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE is_active AND start_time <= $1 AND end_time >= $1
		 ORDER BY start_time, id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list ongoing events: %w", err)
	}
	return collectEvents(rows)
}

// ListUpcoming は未開始のアクティブなイベントを開始日時の昇順で取得する。
func (r *PostgresEventRepo) ListUpcoming(ctx context.Context, now time.Time, limit int) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE is_active AND start_time > $1
		 ORDER BY start_time, id
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}
	return collectEvents(rows)
}

// ListByChannel は指定チャンネルに紐付いたアクティブなイベントを取得する。
func (r *PostgresEventRepo) ListByChannel(ctx context.Context, channelID string) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE channel_id = $1 AND is_active
		 ORDER BY start_time DESC, id`,
		channelID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by channel: %w", err)
	}
	return collectEvents(rows)
}

// ListUnannounced は開催中かつ開始通知が未送信のイベントを取得する。
func (r *PostgresEventRepo) ListUnannounced(ctx context.Context, now time.Time) ([]*model.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE is_active AND announced_at IS NULL AND start_time <= $1 AND end_time >= $1
		 ORDER BY start_time, id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unannounced events: %w", err)
	}
	return collectEvents(rows)
}

// ClaimAnnouncement はannounced_atが未設定の場合のみ設定し、設定できたかを返す。
func (r *PostgresEventRepo) ClaimAnnouncement(ctx context.Context, eventID string, at time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE events SET announced_at = $2 WHERE id = $1 AND announced_at IS NULL`,
		eventID, at,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim announcement: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// compile-time interface check
var _ EventRepository = (*PostgresEventRepo)(nil)
