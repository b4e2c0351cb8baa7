package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/attendly/internal/attendance"
	"github.com/hitoshi/attendly/internal/event"
	"github.com/hitoshi/attendly/internal/middleware"
	"github.com/hitoshi/attendly/internal/model"
)

// EventServiceInterface はイベントハンドラーが必要とするサービスインターフェース。
type EventServiceInterface interface {
	Create(ctx context.Context, actorID string, in event.Input) (*model.Event, error)
	CreateAsExternal(ctx context.Context, externalID string, in event.Input) (*model.Event, error)
	Update(ctx context.Context, actorID, eventID string, patch event.Patch) (*model.Event, error)
	Get(ctx context.Context, eventID string) (*model.Event, error)
	List(ctx context.Context, offset, limit int, activeOnly bool) ([]*model.Event, error)
	ListOngoing(ctx context.Context) ([]*model.Event, error)
	ListUpcoming(ctx context.Context, limit int) ([]*model.Event, error)
	ListByChannel(ctx context.Context, channelID string) ([]*model.Event, error)
	Status(ctx context.Context, eventID string) (*event.StatusReport, error)
	Attendees(ctx context.Context, eventID string) ([]model.Attendee, error)
	HasAttended(ctx context.Context, userID, eventID string) (bool, error)
	AttendedEvents(ctx context.Context, userID string) ([]*model.Event, error)
	AttendedEventsByExternalID(ctx context.Context, externalID string) (*model.User, []*model.Event, error)
}

// AttendanceServiceInterface は出席記録ハンドラーが必要とするサービスインターフェース。
// 業務上の拒否はOutcomeで返り、errorはストア障害または対象イベントの特定失敗のみ。
type AttendanceServiceInterface interface {
	MarkAttendance(ctx context.Context, ref attendance.UserRef, eventID string) (*attendance.Outcome, error)
	MarkCurrent(ctx context.Context, ref attendance.UserRef) (*attendance.Outcome, error)
	MarkForUser(ctx context.Context, adminExternalID, targetName, eventID string) (*attendance.Outcome, error)
}

// EventHandler はイベント管理と出席記録のHTTPハンドラー。
type EventHandler struct {
	service    EventServiceInterface
	attendance AttendanceServiceInterface
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(service EventServiceInterface, attendance AttendanceServiceInterface) *EventHandler {
	return &EventHandler{
		service:    service,
		attendance: attendance,
	}
}

// eventRequest はイベント作成リクエストのボディ。
type eventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	IsActive    *bool     `json:"is_active,omitempty"`
	ChannelID   string    `json:"discord_channel_id,omitempty"`
}

func (req eventRequest) toInput() event.Input {
	return event.Input{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		IsActive:    req.IsActive,
		ChannelID:   req.ChannelID,
	}
}

// eventPatchRequest はイベント更新リクエストのボディ。省略したフィールドは変更しない。
type eventPatchRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	IsActive    *bool      `json:"is_active,omitempty"`
	ChannelID   *string    `json:"discord_channel_id,omitempty"`
}

// checkAttendanceResponse は出席確認のレスポンス。
type checkAttendanceResponse struct {
	Attended bool   `json:"attended"`
	UserID   string `json:"user_id"`
	EventID  string `json:"event_id"`
}

// Create はイベントを作成する。管理者のみ。
// POST /api/events
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req eventRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := h.service.Create(r.Context(), userID, req.toInput())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEventResponse(ev))
}

// List はイベント一覧を返す。
// GET /api/events?skip=0&limit=100&active_only=true
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	offset, limit := parsePagination(r)
	activeOnly := true
	if v, err := strconv.ParseBool(r.URL.Query().Get("active_only")); err == nil {
		activeOnly = v
	}

	events, err := h.service.List(r.Context(), offset, limit, activeOnly)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// Upcoming は開催予定のイベントを返す。
// GET /api/events/upcoming?limit=5
func (h *EventHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	events, err := h.service.ListUpcoming(r.Context(), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// Ongoing は現在開催中のイベントを返す。
// GET /api/events/ongoing
func (h *EventHandler) Ongoing(w http.ResponseWriter, r *http.Request) {
	events, err := h.service.ListOngoing(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// Get は出席者一覧付きでイベントを返す。
// GET /api/events/{id}
func (h *EventHandler) Get(w http.ResponseWriter, r *http.Request) {
	ev, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDetailResponse(ev))
}

// Update はイベントを部分更新する。管理者のみ。
// PUT /api/events/{id}
func (h *EventHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req eventPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ev, err := h.service.Update(r.Context(), userID, chi.URLParam(r, "id"), event.Patch{
		Title:       req.Title,
		Description: req.Description,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		IsActive:    req.IsActive,
		ChannelID:   req.ChannelID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponse(ev))
}

// Status は現在時刻におけるイベントの状態を返す。
// GET /api/events/{id}/status
func (h *EventHandler) Status(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusResponse(report))
}

// Attend はログインユーザーの出席を記録する。
// POST /api/events/{id}/attend
func (h *EventHandler) Attend(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	outcome, err := h.attendance.MarkAttendance(r.Context(), attendance.UserRef{ID: userID}, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, attendanceStatusCode(outcome), toAttendanceResponse(outcome))
}

// Attendees はイベントの出席者一覧を返す。
// GET /api/events/{id}/attendees
func (h *EventHandler) Attendees(w http.ResponseWriter, r *http.Request) {
	attendees, err := h.service.Attendees(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendeeResponses(attendees))
}

// CheckAttendance はログインユーザーがイベントに出席済みかを返す。
// GET /api/events/{id}/check-attendance
func (h *EventHandler) CheckAttendance(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	eventID := chi.URLParam(r, "id")
	attended, err := h.service.HasAttended(r.Context(), userID, eventID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkAttendanceResponse{
		Attended: attended,
		UserID:   userID,
		EventID:  eventID,
	})
}

// attendanceStatusCode はトークン認証APIにおける出席記録結果のHTTPステータスを返す。
func attendanceStatusCode(o *attendance.Outcome) int {
	switch o.Kind {
	case attendance.KindRejected:
		return http.StatusBadRequest
	case attendance.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusOK
	}
}
