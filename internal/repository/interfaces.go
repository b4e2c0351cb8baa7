// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/attendly/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByExternalID は外部ID（DiscordユーザーID）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// FindByLogin は名前（大文字小文字を区別しない）またはメールアドレスでユーザーを検索する。
	// 名前の一致をメールアドレスの一致より優先する。見つからない場合はnilを返す。
	FindByLogin(ctx context.Context, handle string) (*model.User, error)

	// FindByName は名前（大文字小文字を区別しない完全一致）でユーザーを検索する。
	// 見つからない場合はnilを返す。
	FindByName(ctx context.Context, name string) (*model.User, error)

	// EmailTaken はメールアドレスが登録済みかを返す。
	EmailTaken(ctx context.Context, email string) (bool, error)

	// NameTaken は名前が大文字小文字を区別せず使用済みかを返す。
	// excludeUserIDが空でなければそのユーザーを判定から除外する。
	NameTaken(ctx context.Context, name, excludeUserID string) (bool, error)

	// Create はユーザーを作成する。
	// 一意制約違反はErrDuplicateName、ErrDuplicateEmail、ErrDuplicateExternalIDに変換される。
	Create(ctx context.Context, user *model.User) error

	// Update はユーザーの全カラムを更新する。一意制約違反はCreateと同様に変換される。
	Update(ctx context.Context, user *model.User) error

	// List は作成日時順にユーザー一覧を取得する。
	List(ctx context.Context, offset, limit int) ([]*model.User, error)

	// Count はユーザー総数を返す。
	Count(ctx context.Context) (int, error)
}

// EventRepository はイベントデータの永続化インターフェース。
type EventRepository interface {
	// FindByID は指定IDのイベントを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Event, error)

	// Create はイベントを作成する。時間枠が不正な場合はErrInvalidWindowを返す。
	Create(ctx context.Context, event *model.Event) error

	// Update はイベントを更新する。時間枠が不正な場合はErrInvalidWindowを返す。
	Update(ctx context.Context, event *model.Event) error

	// List は開始日時の降順でイベント一覧を取得する。
	List(ctx context.Context, offset, limit int, activeOnly bool) ([]*model.Event, error)

	// ListOngoing はis_activeかつ start_time <= now <= end_time のイベントを開始日時順に取得する。
	ListOngoing(ctx context.Context, now time.Time) ([]*model.Event, error)

	// ListUpcoming はis_activeかつ未開始のイベントを開始日時の昇順で最大limit件取得する。
	ListUpcoming(ctx context.Context, now time.Time, limit int) ([]*model.Event, error)

	// ListByChannel は指定チャンネルに紐付いたアクティブなイベントを取得する。
	ListByChannel(ctx context.Context, channelID string) ([]*model.Event, error)

	// ListUnannounced は開催中かつ開始通知が未送信のイベントを取得する。
	ListUnannounced(ctx context.Context, now time.Time) ([]*model.Event, error)

	// ClaimAnnouncement は開始通知の送信権を取得する。
	// 他のワーカーが先に取得済みの場合はfalseを返す。
	ClaimAnnouncement(ctx context.Context, eventID string, at time.Time) (bool, error)
}

// AttendanceRepository は出席記録の永続化インターフェース。
type AttendanceRepository interface {
	// Exists は出席記録が存在するかを返す。
	Exists(ctx context.Context, userID, eventID string) (bool, error)

	// Insert は出席記録を作成する。
	// (user_id, event_id) が既に存在する場合は何もせずfalseを返す。
	Insert(ctx context.Context, attendance *model.Attendance) (bool, error)

	// ListAttendees はイベントの出席者を出席日時順に取得する。
	ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error)

	// ListEventsByUser はユーザーが出席したイベントを開始日時の降順で取得する。
	ListEventsByUser(ctx context.Context, userID string) ([]*model.Event, error)
}
