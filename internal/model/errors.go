package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// 呼び出し元に表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, event, attendance, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound          = "USER_NOT_FOUND"
	ErrCodeNotRegistered         = "NOT_REGISTERED"
	ErrCodeEventNotFound         = "EVENT_NOT_FOUND"
	ErrCodeEventInactive         = "EVENT_INACTIVE"
	ErrCodeNoOngoingEvent        = "NO_ONGOING_EVENT"
	ErrCodeMultipleOngoingEvents = "MULTIPLE_ONGOING_EVENTS"
	ErrCodeDuplicateName         = "DUPLICATE_NAME"
	ErrCodeDuplicateEmail        = "DUPLICATE_EMAIL"
	ErrCodeInvalidEventWindow    = "INVALID_EVENT_WINDOW"
	ErrCodeInvalidInput          = "INVALID_INPUT"
	ErrCodeForbidden             = "FORBIDDEN"
	ErrCodeInvalidCredentials    = "INVALID_CREDENTIALS"
	ErrCodeUserInactive          = "USER_INACTIVE"
	ErrCodeUnauthorized          = "UNAUTHORIZED"
	ErrCodeRateLimitExceeded     = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal              = "INTERNAL_ERROR"
)

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "User not found",
		Category: "auth",
		Action:   "Check the user identifier and try again.",
	}
}

// NewNotRegisteredError は外部IDに対応するユーザーが未登録の場合のエラーを生成する。
func NewNotRegisteredError() *APIError {
	return &APIError{
		Code:     ErrCodeNotRegistered,
		Message:  "User not registered. Please register first.",
		Category: "auth",
		Action:   "Run the register command before using this feature.",
	}
}

// NewEventNotFoundError はイベント未検出エラーを生成する。
func NewEventNotFoundError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventNotFound,
		Message:  fmt.Sprintf("Event not found: %s", eventID),
		Category: "event",
		Action:   "Check the event ID.",
	}
}

// NewEventInactiveError は非アクティブなイベントを参照した場合のエラーを生成する。
// 時間帯による状態とは区別して扱う。
func NewEventInactiveError(eventID string) *APIError {
	return &APIError{
		Code:     ErrCodeEventInactive,
		Message:  fmt.Sprintf("Event not found or inactive: %s", eventID),
		Category: "event",
		Action:   "Ask an administrator to reactivate the event.",
	}
}

// NewNoOngoingEventError は開催中のイベントがない場合のエラーを生成する。
func NewNoOngoingEventError() *APIError {
	return &APIError{
		Code:     ErrCodeNoOngoingEvent,
		Message:  "No event is currently active",
		Category: "attendance",
		Action:   "Wait until an event starts, or specify the event explicitly.",
	}
}

// NewMultipleOngoingEventsError は開催中のイベントが複数あり対象を特定できない場合のエラーを生成する。
func NewMultipleOngoingEventsError(count int) *APIError {
	return &APIError{
		Code:     ErrCodeMultipleOngoingEvents,
		Message:  fmt.Sprintf("Multiple events are currently active (%d). Please specify the event ID", count),
		Category: "attendance",
		Action:   "Specify the event ID explicitly.",
	}
}

// NewDuplicateNameError は名前が他のユーザーに使用されている場合のエラーを生成する。
func NewDuplicateNameError(name string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateName,
		Message:  fmt.Sprintf("Name '%s' is already taken", name),
		Category: "validation",
		Action:   "Choose a different name.",
	}
}

// NewDuplicateEmailError はメールアドレスが登録済みの場合のエラーを生成する。
func NewDuplicateEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateEmail,
		Message:  "Email already registered",
		Category: "validation",
		Action:   "Log in with the existing account or use a different email.",
	}
}

// NewInvalidEventWindowError は開始・終了時刻の組が不正な場合のエラーを生成する。
func NewInvalidEventWindowError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEventWindow,
		Message:  "end_time must be after start_time",
		Category: "validation",
		Action:   "Set an end time later than the start time.",
	}
}

// NewInvalidInputError は入力値の検証エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  reason,
		Category: "validation",
		Action:   "Fix the request and try again.",
	}
}

// NewForbiddenError は管理者権限が必要な操作を一般ユーザーが実行した場合のエラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
		Action:   "Ask an administrator to perform this operation.",
	}
}

// NewInvalidCredentialsError はログイン失敗時のエラーを生成する。
// 名前とパスワードのどちらが誤っているかは区別しない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Incorrect username or password",
		Category: "auth",
		Action:   "Check your credentials and try again.",
	}
}

// NewUserInactiveError は無効化されたユーザーの場合のエラーを生成する。
func NewUserInactiveError() *APIError {
	return &APIError{
		Code:     ErrCodeUserInactive,
		Message:  "Inactive user",
		Category: "auth",
		Action:   "Contact an administrator.",
	}
}

// NewRateLimitError はリクエスト数が上限を超えた場合のエラーを生成する。
func NewRateLimitError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Wait for the number of seconds in Retry-After before retrying.",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred.",
		Category: "system",
		Action:   "Please wait a moment and try again.",
	}
}
