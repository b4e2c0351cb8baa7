package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/attendly/internal/middleware"
	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/user"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	Me(ctx context.Context, userID string) (*model.User, error)
	UpdateProfile(ctx context.Context, userID string, patch user.ProfilePatch) (*model.User, error)
	Get(ctx context.Context, userID string) (*model.User, error)
	List(ctx context.Context, offset, limit int) (*user.Page, error)
}

// AttendedEventsLister はユーザーの出席履歴を取得するインターフェース。
type AttendedEventsLister interface {
	AttendedEvents(ctx context.Context, userID string) ([]*model.Event, error)
}

// UserHandler はユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
	history AttendedEventsLister
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, history AttendedEventsLister) *UserHandler {
	return &UserHandler{
		service: service,
		history: history,
	}
}

// updateProfileRequest はプロフィール更新リクエストのボディ。省略したフィールドは変更しない。
type updateProfileRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// userListResponse はユーザー一覧のレスポンス。
type userListResponse struct {
	Users []userResponse `json:"users"`
	Total int            `json:"total"`
}

// Me はログインユーザーの情報を返す。
// GET /api/users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	u, err := h.service.Me(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// UpdateMe はログインユーザーのプロフィールを更新する。
// PUT /api/users/me
func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.service.UpdateProfile(r.Context(), userID, user.ProfilePatch{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// MyEvents はログインユーザーが出席したイベント一覧を返す。
// GET /api/users/me/events
func (h *UserHandler) MyEvents(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	events, err := h.history.AttendedEvents(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventResponses(events))
}

// Get は指定ユーザーの情報を返す。
// GET /api/users/{id}
func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// List はユーザー一覧を返す。管理者のみ。
// GET /api/users?skip=0&limit=100
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}
	if !caller.IsAdmin {
		handleServiceError(w, model.NewForbiddenError("Only admins can list users."))
		return
	}

	offset, limit := parsePagination(r)
	page, err := h.service.List(r.Context(), offset, limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userListResponse{
		Users: toUserResponses(page.Users),
		Total: page.Total,
	})
}
