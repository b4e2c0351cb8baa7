package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/attendly/internal/attendance"
	"github.com/hitoshi/attendly/internal/auth"
	"github.com/hitoshi/attendly/internal/event"
	"github.com/hitoshi/attendly/internal/identity"
	"github.com/hitoshi/attendly/internal/middleware"
	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/user"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	registerFn func(ctx context.Context, in auth.RegisterInput) (*model.User, error)
	loginFn    func(ctx context.Context, handle, password string) (*auth.LoginResult, error)
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegisterInput) (*model.User, error) {
	return m.registerFn(ctx, in)
}

func (m *mockAuthService) Login(ctx context.Context, handle, password string) (*auth.LoginResult, error) {
	return m.loginFn(ctx, handle, password)
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	meFn            func(ctx context.Context, userID string) (*model.User, error)
	updateProfileFn func(ctx context.Context, userID string, patch user.ProfilePatch) (*model.User, error)
	getFn           func(ctx context.Context, userID string) (*model.User, error)
	listFn          func(ctx context.Context, offset, limit int) (*user.Page, error)
}

func (m *mockUserService) Me(ctx context.Context, userID string) (*model.User, error) {
	return m.meFn(ctx, userID)
}

func (m *mockUserService) UpdateProfile(ctx context.Context, userID string, patch user.ProfilePatch) (*model.User, error) {
	return m.updateProfileFn(ctx, userID, patch)
}

func (m *mockUserService) Get(ctx context.Context, userID string) (*model.User, error) {
	return m.getFn(ctx, userID)
}

func (m *mockUserService) List(ctx context.Context, offset, limit int) (*user.Page, error) {
	return m.listFn(ctx, offset, limit)
}

// mockEventService はEventServiceInterfaceのモック実装。
// 未設定のメソッドを呼ぶとpanicするため、テストで使うメソッドのみ設定する。
type mockEventService struct {
	createFn                     func(ctx context.Context, actorID string, in event.Input) (*model.Event, error)
	createAsExternalFn           func(ctx context.Context, externalID string, in event.Input) (*model.Event, error)
	updateFn                     func(ctx context.Context, actorID, eventID string, patch event.Patch) (*model.Event, error)
	getFn                        func(ctx context.Context, eventID string) (*model.Event, error)
	listFn                       func(ctx context.Context, offset, limit int, activeOnly bool) ([]*model.Event, error)
	listOngoingFn                func(ctx context.Context) ([]*model.Event, error)
	listUpcomingFn               func(ctx context.Context, limit int) ([]*model.Event, error)
	listByChannelFn              func(ctx context.Context, channelID string) ([]*model.Event, error)
	statusFn                     func(ctx context.Context, eventID string) (*event.StatusReport, error)
	attendeesFn                  func(ctx context.Context, eventID string) ([]model.Attendee, error)
	hasAttendedFn                func(ctx context.Context, userID, eventID string) (bool, error)
	attendedEventsFn             func(ctx context.Context, userID string) ([]*model.Event, error)
	attendedEventsByExternalIDFn func(ctx context.Context, externalID string) (*model.User, []*model.Event, error)
}

func (m *mockEventService) Create(ctx context.Context, actorID string, in event.Input) (*model.Event, error) {
	return m.createFn(ctx, actorID, in)
}

func (m *mockEventService) CreateAsExternal(ctx context.Context, externalID string, in event.Input) (*model.Event, error) {
	return m.createAsExternalFn(ctx, externalID, in)
}

func (m *mockEventService) Update(ctx context.Context, actorID, eventID string, patch event.Patch) (*model.Event, error) {
	return m.updateFn(ctx, actorID, eventID, patch)
}

func (m *mockEventService) Get(ctx context.Context, eventID string) (*model.Event, error) {
	return m.getFn(ctx, eventID)
}

func (m *mockEventService) List(ctx context.Context, offset, limit int, activeOnly bool) ([]*model.Event, error) {
	return m.listFn(ctx, offset, limit, activeOnly)
}

func (m *mockEventService) ListOngoing(ctx context.Context) ([]*model.Event, error) {
	return m.listOngoingFn(ctx)
}

func (m *mockEventService) ListUpcoming(ctx context.Context, limit int) ([]*model.Event, error) {
	return m.listUpcomingFn(ctx, limit)
}

func (m *mockEventService) ListByChannel(ctx context.Context, channelID string) ([]*model.Event, error) {
	return m.listByChannelFn(ctx, channelID)
}

func (m *mockEventService) Status(ctx context.Context, eventID string) (*event.StatusReport, error) {
	return m.statusFn(ctx, eventID)
}

func (m *mockEventService) Attendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	return m.attendeesFn(ctx, eventID)
}

func (m *mockEventService) HasAttended(ctx context.Context, userID, eventID string) (bool, error) {
	return m.hasAttendedFn(ctx, userID, eventID)
}

func (m *mockEventService) AttendedEvents(ctx context.Context, userID string) ([]*model.Event, error) {
	return m.attendedEventsFn(ctx, userID)
}

func (m *mockEventService) AttendedEventsByExternalID(ctx context.Context, externalID string) (*model.User, []*model.Event, error) {
	return m.attendedEventsByExternalIDFn(ctx, externalID)
}

// mockAttendanceService はAttendanceServiceInterfaceのモック実装。
type mockAttendanceService struct {
	markAttendanceFn func(ctx context.Context, ref attendance.UserRef, eventID string) (*attendance.Outcome, error)
	markCurrentFn    func(ctx context.Context, ref attendance.UserRef) (*attendance.Outcome, error)
	markForUserFn    func(ctx context.Context, adminExternalID, targetName, eventID string) (*attendance.Outcome, error)
}

func (m *mockAttendanceService) MarkAttendance(ctx context.Context, ref attendance.UserRef, eventID string) (*attendance.Outcome, error) {
	return m.markAttendanceFn(ctx, ref, eventID)
}

func (m *mockAttendanceService) MarkCurrent(ctx context.Context, ref attendance.UserRef) (*attendance.Outcome, error) {
	return m.markCurrentFn(ctx, ref)
}

func (m *mockAttendanceService) MarkForUser(ctx context.Context, adminExternalID, targetName, eventID string) (*attendance.Outcome, error) {
	return m.markForUserFn(ctx, adminExternalID, targetName, eventID)
}

// mockIdentityService はIdentityServiceInterfaceのモック実装。
type mockIdentityService struct {
	upsertFn func(ctx context.Context, in identity.UpsertInput) (*identity.Result, error)
}

func (m *mockIdentityService) Upsert(ctx context.Context, in identity.UpsertInput) (*identity.Result, error) {
	return m.upsertFn(ctx, in)
}

// mockRegistryService はRegistryServiceInterfaceのモック実装。
type mockRegistryService struct {
	getByExternalIDFn func(ctx context.Context, externalID string) (*model.User, error)
	listForAdminFn    func(ctx context.Context, externalID string, offset, limit int) (*user.Page, error)
	setNameFn         func(ctx context.Context, externalID, name string) (*user.Result, error)
	isNameAvailableFn func(ctx context.Context, name, externalID string) (bool, error)
	promoteFn         func(ctx context.Context, externalID, secret string) (*user.Result, error)
	checkAdminFn      func(ctx context.Context, externalID string) (*model.User, error)
}

func (m *mockRegistryService) GetByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	return m.getByExternalIDFn(ctx, externalID)
}

func (m *mockRegistryService) ListForAdmin(ctx context.Context, externalID string, offset, limit int) (*user.Page, error) {
	return m.listForAdminFn(ctx, externalID, offset, limit)
}

func (m *mockRegistryService) SetName(ctx context.Context, externalID, name string) (*user.Result, error) {
	return m.setNameFn(ctx, externalID, name)
}

func (m *mockRegistryService) IsNameAvailableForExternal(ctx context.Context, name, externalID string) (bool, error) {
	return m.isNameAvailableFn(ctx, name, externalID)
}

func (m *mockRegistryService) Promote(ctx context.Context, externalID, secret string) (*user.Result, error) {
	return m.promoteFn(ctx, externalID, secret)
}

func (m *mockRegistryService) CheckAdmin(ctx context.Context, externalID string) (*model.User, error) {
	return m.checkAdminFn(ctx, externalID)
}

// --- テストヘルパー ---

// withUser はテスト用にリクエストコンテキストに認証済みユーザーを注入するヘルパー。
func withUser(r *http.Request, u *model.User) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), u))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest はJSONボディ付きのリクエストを生成する。
func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeBody はレスポンスボディをJSONとしてデコードする。
func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v\nraw: %s", err, w.Body.String())
	}
	return v
}

// apiErrorBody は統一エラーフォーマットのレスポンスボディ。
type apiErrorBody = middleware.ErrorResponseBody
