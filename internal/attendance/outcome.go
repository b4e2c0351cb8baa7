// Package attendance は出席記録の業務ルールを提供する。
// 業務上の拒否はエラーではなくOutcomeとして返し、ストア障害のみをエラーとして返す。
package attendance

import (
	"github.com/hitoshi/attendly/internal/event"
	"github.com/hitoshi/attendly/internal/model"
)

// Kind は出席記録の結果種別。
type Kind string

const (
	// KindMarked は出席を新たに記録したことを示す。
	KindMarked Kind = "marked"
	// KindAlreadyMarked は記録済みで何も変更しなかったことを示す。
	KindAlreadyMarked Kind = "already_marked"
	// KindRejected は業務ルールにより拒否したことを示す。
	KindRejected Kind = "rejected"
	// KindNotFound はユーザーまたはイベントが存在しないことを示す。
	KindNotFound Kind = "not_found"
)

// Reason は拒否・未検出の理由コード。
type Reason string

const (
	ReasonEventNotFound  Reason = "event_not_found"
	ReasonEventInactive  Reason = "event_inactive"
	ReasonNotStarted     Reason = "not_started"
	ReasonEnded          Reason = "ended"
	ReasonUserNotFound   Reason = "user_not_found"
	ReasonNotRegistered  Reason = "not_registered"
	ReasonAdminNotFound  Reason = "admin_not_found"
	ReasonNotAdmin       Reason = "not_admin"
	ReasonTargetNotFound Reason = "target_not_found"
	ReasonSelfTarget     Reason = "self_target"
)

// Outcome は出席記録操作の結果。
type Outcome struct {
	Kind    Kind
	Reason  Reason // Marked/AlreadyMarkedでは空
	Message string

	Event  *model.Event
	User   *model.User // 出席者
	Admin  *model.User // 代理記録の場合のみ
	Status *event.StatusReport
}

// Success は出席済みの状態になっているかを返す。AlreadyMarkedも成功として扱う。
func (o *Outcome) Success() bool {
	return o.Kind == KindMarked || o.Kind == KindAlreadyMarked
}

func rejected(reason Reason, message string) *Outcome {
	return &Outcome{Kind: KindRejected, Reason: reason, Message: message}
}

func notFound(reason Reason, message string) *Outcome {
	return &Outcome{Kind: KindNotFound, Reason: reason, Message: message}
}
