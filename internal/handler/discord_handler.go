package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/attendly/internal/attendance"
	"github.com/hitoshi/attendly/internal/identity"
	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/user"
)

// IdentityServiceInterface はDiscordアカウントの登録・同期を行うサービスインターフェース。
type IdentityServiceInterface interface {
	Upsert(ctx context.Context, in identity.UpsertInput) (*identity.Result, error)
}

// RegistryServiceInterface はDiscord経由の名前・管理者権限の操作を行うサービスインターフェース。
type RegistryServiceInterface interface {
	GetByExternalID(ctx context.Context, externalID string) (*model.User, error)
	ListForAdmin(ctx context.Context, externalID string, offset, limit int) (*user.Page, error)
	SetName(ctx context.Context, externalID, name string) (*user.Result, error)
	IsNameAvailableForExternal(ctx context.Context, name, externalID string) (bool, error)
	Promote(ctx context.Context, externalID, secret string) (*user.Result, error)
	CheckAdmin(ctx context.Context, externalID string) (*model.User, error)
}

// DiscordHandler はDiscordボット向けのHTTPハンドラー。
// 呼び出し元のユーザーはDiscordユーザーIDで識別する。
type DiscordHandler struct {
	identity   IdentityServiceInterface
	registry   RegistryServiceInterface
	events     EventServiceInterface
	attendance AttendanceServiceInterface
}

// NewDiscordHandler はDiscordHandlerを生成する。
func NewDiscordHandler(
	identity IdentityServiceInterface,
	registry RegistryServiceInterface,
	events EventServiceInterface,
	attendance AttendanceServiceInterface,
) *DiscordHandler {
	return &DiscordHandler{
		identity:   identity,
		registry:   registry,
		events:     events,
		attendance: attendance,
	}
}

// discordRegisterRequest はDiscordアカウント登録リクエストのボディ。
type discordRegisterRequest struct {
	DiscordUserID   string `json:"discord_user_id"`
	DiscordUsername string `json:"discord_username"`
	Name            string `json:"name,omitempty"`
	Email           string `json:"email,omitempty"`
}

// discordRegisterResponse はDiscordアカウント登録のレスポンス。
type discordRegisterResponse struct {
	User      *userResponse `json:"user"`
	IsNewUser bool          `json:"is_new_user"`
	Message   string        `json:"message"`
	Changes   []string      `json:"changes,omitempty"`
}

// setNameRequest は名前変更リクエストのボディ。
type setNameRequest struct {
	Name string `json:"name"`
}

// nameAvailabilityResponse は名前の使用可否のレスポンス。
type nameAvailabilityResponse struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// makeAdminRequest は管理者昇格リクエストのボディ。
type makeAdminRequest struct {
	DiscordUserID string `json:"discord_user_id"`
	Password      string `json:"password"`
}

// registryResponse は名前変更・管理者昇格の結果レスポンス。
type registryResponse struct {
	Success bool          `json:"success"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message"`
	User    *userResponse `json:"user,omitempty"`
}

// adminStatusResponse は管理者確認のレスポンス。
type adminStatusResponse struct {
	IsAdmin         bool   `json:"is_admin"`
	UserName        string `json:"user_name"`
	DiscordUsername string `json:"discord_username,omitempty"`
}

// adminAttendRequest は代理出席リクエストのボディ。event_idを省略すると開催中のイベントを対象にする。
type adminAttendRequest struct {
	TargetName string `json:"target_name"`
	EventID    string `json:"event_id,omitempty"`
}

// attendanceHistoryResponse は出席履歴のレスポンス。
type attendanceHistoryResponse struct {
	User           *userResponse   `json:"user"`
	AttendedEvents []eventResponse `json:"attended_events"`
	TotalAttended  int             `json:"total_attended"`
}

// eventAttendeesResponse はイベントの出席者一覧のレスポンス。
type eventAttendeesResponse struct {
	Event          *eventResponse     `json:"event"`
	Attendees      []attendeeResponse `json:"attendees"`
	TotalAttendees int                `json:"total_attendees"`
}

// Register はDiscordアカウントを登録または同期する。
// POST /discord/users/register
func (h *DiscordHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req discordRegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.identity.Upsert(r.Context(), identity.UpsertInput{
		ExternalID:   req.DiscordUserID,
		ExternalName: req.DiscordUsername,
		Name:         req.Name,
		Email:        req.Email,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.IsNew {
		status = http.StatusCreated
	}
	writeJSON(w, status, discordRegisterResponse{
		User:      toUserResponse(result.User),
		IsNewUser: result.IsNew,
		Message:   result.Message(),
		Changes:   result.ChangedFields,
	})
}

// GetUser はDiscordユーザーIDでユーザーを返す。
// GET /discord/users/{discord_user_id}
func (h *DiscordHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.registry.GetByExternalID(r.Context(), chi.URLParam(r, "discord_user_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// ListUsers は管理者に対してユーザー一覧を返す。
// GET /discord/users/list?discord_user_id=xxx
func (h *DiscordHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	externalID, ok := requireDiscordUserID(w, r, "discord_user_id")
	if !ok {
		return
	}

	offset, limit := parsePagination(r)
	page, err := h.registry.ListForAdmin(r.Context(), externalID, offset, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userListResponse{
		Users: toUserResponses(page.Users),
		Total: page.Total,
	})
}

// SetName はユーザーの名前を変更する。
// PUT /discord/users/{discord_user_id}/name
func (h *DiscordHandler) SetName(w http.ResponseWriter, r *http.Request) {
	var req setNameRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.registry.SetName(r.Context(), chi.URLParam(r, "discord_user_id"), req.Name)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeRegistryResult(w, result)
}

// NameAvailable は名前が使用可能かを返す。discord_user_idを指定すると本人の現在の名前は除外する。
// GET /discord/users/name-available?name=xxx&discord_user_id=yyy
func (h *DiscordHandler) NameAvailable(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		handleServiceError(w, model.NewInvalidInputError("name is required"))
		return
	}

	available, err := h.registry.IsNameAvailableForExternal(r.Context(), name, r.URL.Query().Get("discord_user_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nameAvailabilityResponse{Name: name, Available: available})
}

// CreateEvent は管理者のDiscordユーザーとしてイベントを作成する。
// POST /discord/events/create?discord_user_id=xxx
func (h *DiscordHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	externalID, ok := requireDiscordUserID(w, r, "discord_user_id")
	if !ok {
		return
	}

	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := h.events.CreateAsExternal(r.Context(), externalID, req.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventResponse(ev))
}

// ActiveEvents は開催中のイベントを返す。
// GET /discord/events/active
func (h *DiscordHandler) ActiveEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListOngoing(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// UpcomingEvents は開催予定のイベントを返す。
// GET /discord/events/upcoming
func (h *DiscordHandler) UpcomingEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListUpcoming(r.Context(), 0)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// ChannelEvents はチャンネルに紐付いたイベントを返す。
// GET /discord/events/channel/{channel_id}
func (h *DiscordHandler) ChannelEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListByChannel(r.Context(), chi.URLParam(r, "channel_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// AttendAuto は開催中の唯一のイベントに出席を記録する。
// POST /discord/attend/auto?discord_user_id=xxx
func (h *DiscordHandler) AttendAuto(w http.ResponseWriter, r *http.Request) {
	externalID, ok := requireDiscordUserID(w, r, "discord_user_id")
	if !ok {
		return
	}

	outcome, err := h.attendance.MarkCurrent(r.Context(), attendance.UserRef{ExternalID: externalID})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, botAttendanceStatusCode(outcome), toAttendanceResponse(outcome))
}

// Attend は指定イベントに出席を記録する。
// POST /discord/attend/{event_id}?discord_user_id=xxx
func (h *DiscordHandler) Attend(w http.ResponseWriter, r *http.Request) {
	externalID, ok := requireDiscordUserID(w, r, "discord_user_id")
	if !ok {
		return
	}

	outcome, err := h.attendance.MarkAttendance(r.Context(), attendance.UserRef{ExternalID: externalID}, chi.URLParam(r, "event_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, botAttendanceStatusCode(outcome), toAttendanceResponse(outcome))
}

// AttendanceHistory はDiscordユーザーの出席履歴を返す。
// GET /discord/attendance/{discord_user_id}
func (h *DiscordHandler) AttendanceHistory(w http.ResponseWriter, r *http.Request) {
	u, events, err := h.events.AttendedEventsByExternalID(r.Context(), chi.URLParam(r, "discord_user_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attendanceHistoryResponse{
		User:           toUserResponse(u),
		AttendedEvents: toEventResponses(events),
		TotalAttended:  len(events),
	})
}

// EventStatus はイベントの状態を返す。
// GET /discord/event/{event_id}/status
func (h *DiscordHandler) EventStatus(w http.ResponseWriter, r *http.Request) {
	report, err := h.events.Status(r.Context(), chi.URLParam(r, "event_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(report))
}

// EventAttendees はイベントのDiscord連携済み出席者を返す。
// GET /discord/event/{event_id}/attendees
func (h *DiscordHandler) EventAttendees(w http.ResponseWriter, r *http.Request) {
	ev, err := h.events.Get(r.Context(), chi.URLParam(r, "event_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	linked := make([]model.Attendee, 0, len(ev.Attendees))
	for _, a := range ev.Attendees {
		if a.ExternalID != "" {
			linked = append(linked, a)
		}
	}
	ev.Attendees = nil

	writeJSON(w, http.StatusOK, eventAttendeesResponse{
		Event:          toEventResponse(ev),
		Attendees:      toAttendeeResponses(linked),
		TotalAttendees: len(linked),
	})
}

// MakeAdmin は管理者用シークレットを検証してユーザーを管理者にする。
// POST /discord/admin/make-admin
func (h *DiscordHandler) MakeAdmin(w http.ResponseWriter, r *http.Request) {
	var req makeAdminRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.registry.Promote(r.Context(), req.DiscordUserID, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeRegistryResult(w, result)
}

// CheckAdmin はDiscordユーザーが管理者かを返す。
// POST /discord/admin/check-admin?discord_user_id=xxx
func (h *DiscordHandler) CheckAdmin(w http.ResponseWriter, r *http.Request) {
	externalID, ok := requireDiscordUserID(w, r, "discord_user_id")
	if !ok {
		return
	}

	u, err := h.registry.CheckAdmin(r.Context(), externalID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, adminStatusResponse{
		IsAdmin:         u.IsAdmin,
		UserName:        u.Name,
		DiscordUsername: u.ExternalName,
	})
}

// AttendForUser は管理者が名前で指定した他のユーザーの出席を記録する。
// 権限や対象ユーザーによる拒否はsuccess=falseの200で返す。
// イベント未指定で開催中イベントが0件または複数件の場合は409を返す。
// POST /discord/admin/attend-for-user?admin_discord_user_id=xxx
func (h *DiscordHandler) AttendForUser(w http.ResponseWriter, r *http.Request) {
	adminID, ok := requireDiscordUserID(w, r, "admin_discord_user_id")
	if !ok {
		return
	}

	var req adminAttendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	outcome, err := h.attendance.MarkForUser(r.Context(), adminID, req.TargetName, req.EventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceResponse(outcome))
}

// requireDiscordUserID はクエリパラメータからDiscordユーザーIDを取得する。
// 未指定の場合は400を書き込みfalseを返す。
func requireDiscordUserID(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	id := strings.TrimSpace(r.URL.Query().Get(param))
	if id == "" {
		handleServiceError(w, model.NewInvalidInputError(param+" is required"))
		return "", false
	}
	return id, true
}

// writeRegistryResult は名前変更・管理者昇格の結果を書き込む。
// 拒否コードがある場合はそのコードに対応するHTTPステータスを使う。
func writeRegistryResult(w http.ResponseWriter, result *user.Result) {
	status := http.StatusOK
	if result.Code != "" {
		status = mapAPIErrorToHTTPStatus(&model.APIError{Code: result.Code})
	}
	writeJSON(w, status, registryResponse{
		Success: result.Success,
		Code:    result.Code,
		Message: result.Message,
		User:    toUserResponse(result.User),
	})
}

// botAttendanceStatusCode はボット向けAPIにおける出席記録結果のHTTPステータスを返す。
// ユーザーまたはイベントが存在しない場合のみ404とし、それ以外の拒否はsuccess=falseの200で返す。
func botAttendanceStatusCode(o *attendance.Outcome) int {
	if o.Kind == attendance.KindNotFound {
		return http.StatusNotFound
	}
	return http.StatusOK
}
