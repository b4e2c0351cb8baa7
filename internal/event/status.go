// Package event はイベントの時間帯判定とイベント管理を提供する。
package event

import (
	"fmt"
	"time"

	"github.com/hitoshi/attendly/internal/model"
)

// Status はイベントの時間帯による状態を表す。
type Status string

const (
	// StatusUpcoming は開始前であることを示す。
	StatusUpcoming Status = "upcoming"
	// StatusActive は開催中（開始・終了時刻ちょうどを含む）であることを示す。
	StatusActive Status = "active"
	// StatusEnded は終了後であることを示す。
	StatusEnded Status = "ended"
)

// StatusReport は時刻nowにおけるイベントの状態判定結果。
type StatusReport struct {
	EventID     string
	Title       string
	Status      Status
	CanAttend   bool
	StartTime   time.Time
	EndTime     time.Time
	CurrentTime time.Time
	Reason      string // 出席できない場合の理由。出席可能なら空

	// SecondsUntilStart は開始前の場合のみ設定される。
	SecondsUntilStart *int64
	// SecondsUntilEnd は開催中の場合のみ設定される。
	SecondsUntilEnd *int64
}

// StatusAt はnowにおける時間帯の状態を返す。is_activeは考慮しない。
func StatusAt(e *model.Event, now time.Time) Status {
	switch {
	case now.Before(e.StartTime):
		return StatusUpcoming
	case now.After(e.EndTime):
		return StatusEnded
	default:
		return StatusActive
	}
}

// Evaluate はnowにおけるイベントの状態と出席可否を判定する。
// 出席可能なのは時間帯がactiveかつis_activeの場合のみ。
// 呼び出し側がnowを与えるため、同じ入力には常に同じ結果を返す。
func Evaluate(e *model.Event, now time.Time) StatusReport {
	status := StatusAt(e, now)
	report := StatusReport{
		EventID:     e.ID,
		Title:       e.Title,
		Status:      status,
		CanAttend:   status == StatusActive && e.IsActive,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		CurrentTime: now,
	}

	switch status {
	case StatusUpcoming:
		secs := int64(e.StartTime.Sub(now) / time.Second)
		report.SecondsUntilStart = &secs
	case StatusActive:
		secs := int64(e.EndTime.Sub(now) / time.Second)
		report.SecondsUntilEnd = &secs
	}

	if !report.CanAttend {
		report.Reason = refusalReason(e, status, now)
	}
	return report
}

// refusalReason は出席できない理由のメッセージを組み立てる。
func refusalReason(e *model.Event, status Status, now time.Time) string {
	if !e.IsActive {
		return "Event is not active"
	}
	switch status {
	case StatusUpcoming:
		secs := int64(e.StartTime.Sub(now) / time.Second)
		return fmt.Sprintf("Event hasn't started yet. Starts in %d minutes", secs/60)
	case StatusEnded:
		return "Event has already ended"
	}
	return ""
}
