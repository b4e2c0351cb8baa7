package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/attendly/internal/model"
)

// PostgresAttendanceRepo はPostgreSQLを使用した出席記録リポジトリ。
type PostgresAttendanceRepo struct {
	db *sql.DB
}

// NewPostgresAttendanceRepo はPostgresAttendanceRepoを生成する。
func NewPostgresAttendanceRepo(db *sql.DB) *PostgresAttendanceRepo {
	return &PostgresAttendanceRepo{db: db}
}

// Exists は出席記録が存在するかを返す。
func (r *PostgresAttendanceRepo) Exists(ctx context.Context, userID, eventID string) (bool, error) {
	if !validID(userID) || !validID(eventID) {
		return false, nil
	}
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM event_attendance WHERE user_id = $1 AND event_id = $2)`,
		userID, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check attendance: %w", err)
	}
	return exists, nil
}

// Insert は出席記録を作成する。
// 主キー(user_id, event_id)に対するON CONFLICT DO NOTHINGにより、
// 同時実行された重複記録は1件のみ成功し、残りはfalseを返す。
func (r *PostgresAttendanceRepo) Insert(ctx context.Context, attendance *model.Attendance) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO event_attendance (user_id, event_id, attended_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, event_id) DO NOTHING`,
		attendance.UserID, attendance.EventID, attendance.AttendedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert attendance: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// ListAttendees はイベントの出席者を出席日時順に取得する。
func (r *PostgresAttendanceRepo) ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	if !validID(eventID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT u.id, u.name, COALESCE(u.external_id, ''), COALESCE(u.external_name, ''), a.attended_at
		 FROM event_attendance a
		 JOIN users u ON u.id = a.user_id
		 WHERE a.event_id = $1
		 ORDER BY a.attended_at, u.id`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendees: %w", err)
	}
	defer rows.Close()

	var attendees []model.Attendee
	for rows.Next() {
		var a model.Attendee
		if err := rows.Scan(&a.UserID, &a.Name, &a.ExternalID, &a.ExternalName, &a.AttendedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attendee: %w", err)
		}
		attendees = append(attendees, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attendees: %w", err)
	}
	return attendees, nil
}

// ListEventsByUser はユーザーが出席したイベントを開始日時の降順で取得する。
func (r *PostgresAttendanceRepo) ListEventsByUser(ctx context.Context, userID string) ([]*model.Event, error) {
	if !validID(userID) {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT e.id, e.title, COALESCE(e.description, ''), e.start_time, e.end_time, e.is_active,
		        COALESCE(e.channel_id, ''), COALESCE(e.created_by::text, ''), e.announced_at, e.created_at, e.updated_at
		 FROM event_attendance a
		 JOIN events e ON e.id = a.event_id
		 WHERE a.user_id = $1
		 ORDER BY e.start_time DESC, e.id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list attended events: %w", err)
	}
	return collectEvents(rows)
}

// compile-time interface check
var _ AttendanceRepository = (*PostgresAttendanceRepo)(nil)
