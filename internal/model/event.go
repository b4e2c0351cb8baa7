package model

import "time"

// Event は出欠対象となる時間枠付きのイベントを表す。
// 出席可能な期間は[StartTime, EndTime]の閉区間で、EndTimeは常にStartTimeより後。
type Event struct {
	ID          string
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	IsActive    bool   // falseの場合、時間帯に関わらず出席できない
	ChannelID   string // 通知先のDiscordチャンネル。空文字列は未指定
	CreatedBy   string // 作成者のユーザーID。空文字列は不明
	AnnouncedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Attendees は詳細取得時のみ設定される。
	Attendees []Attendee
}

// Attendance はユーザーとイベントの出席関係を表す。
// (UserID, EventID) の組は一意。
type Attendance struct {
	UserID     string
	EventID    string
	AttendedAt time.Time
}
