// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// User は出欠を記録する参加者を表す。
// 直接登録ユーザーはEmailとパスワードを持ち、Discord経由のユーザーはExternalIDを持つ。
// 両方を持つユーザーも存在する。
type User struct {
	ID           string
	Email        string // 空文字列は未設定
	Name         string // 大文字小文字を区別せず一意。ログインハンドルを兼ねる
	ExternalID   string // DiscordユーザーID。空文字列は未連携
	ExternalName string // Discord上の表示名
	PasswordHash string
	IsAdmin      bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasExternalIdentity は外部アカウントと紐付いているかを返す。
func (u *User) HasExternalIdentity() bool {
	return u.ExternalID != ""
}

// NormalizeName は名前の一意性判定に使うキーを返す。
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Attendee はイベントの出席者一覧の1行を表す。
type Attendee struct {
	UserID       string
	Name         string
	ExternalID   string
	ExternalName string
	AttendedAt   time.Time
}
