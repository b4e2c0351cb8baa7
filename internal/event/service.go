package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/repository"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
	// DefaultUpcomingLimit は開催予定一覧の既定件数。
	DefaultUpcomingLimit = 5
)

// TextSanitizer はユーザー入力のテキストを無害化するインターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// Input はイベント作成時の入力値。
type Input struct {
	Title       string
	Description string
	StartTime   time.Time
	EndTime     time.Time
	IsActive    *bool // nilの場合はtrue
	ChannelID   string
}

// Patch はイベント更新時の入力値。nilのフィールドは変更しない。
type Patch struct {
	Title       *string
	Description *string
	StartTime   *time.Time
	EndTime     *time.Time
	IsActive    *bool
	ChannelID   *string
}

// Service はイベントの作成・更新・参照を提供する。
type Service struct {
	events     repository.EventRepository
	attendance repository.AttendanceRepository
	users      repository.UserRepository
	sanitizer  TextSanitizer
	now        func() time.Time
	logger     *slog.Logger
}

// NewService はServiceを生成する。nowがnilの場合はtime.Nowを使用する。
func NewService(
	events repository.EventRepository,
	attendance repository.AttendanceRepository,
	users repository.UserRepository,
	sanitizer TextSanitizer,
	now func() time.Time,
	logger *slog.Logger,
) *Service {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		events:     events,
		attendance: attendance,
		users:      users,
		sanitizer:  sanitizer,
		now:        now,
		logger:     logger,
	}
}

// Create は管理者ユーザーactorIDとしてイベントを作成する。
func (s *Service) Create(ctx context.Context, actorID string, in Input) (*model.Event, error) {
	actor, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find actor: %w", err)
	}
	if actor == nil {
		return nil, model.NewUserNotFoundError()
	}
	if !actor.IsAdmin {
		return nil, model.NewForbiddenError("Only admins can create events")
	}
	return s.create(ctx, actor, in)
}

// CreateAsExternal は外部ID（Discord）で識別される管理者としてイベントを作成する。
func (s *Service) CreateAsExternal(ctx context.Context, externalID string, in Input) (*model.Event, error) {
	actor, err := s.users.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find actor: %w", err)
	}
	if actor == nil {
		return nil, model.NewNotRegisteredError()
	}
	if !actor.IsAdmin {
		return nil, model.NewForbiddenError("Only admins can create events")
	}
	return s.create(ctx, actor, in)
}

func (s *Service) create(ctx context.Context, actor *model.User, in Input) (*model.Event, error) {
	now := s.now().UTC()
	event := &model.Event{
		ID:          uuid.New().String(),
		Title:       s.sanitizer.Sanitize(in.Title),
		Description: s.sanitizer.Sanitize(in.Description),
		StartTime:   in.StartTime.UTC(),
		EndTime:     in.EndTime.UTC(),
		IsActive:    true,
		ChannelID:   strings.TrimSpace(in.ChannelID),
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.IsActive != nil {
		event.IsActive = *in.IsActive
	}

	if err := validate(event); err != nil {
		return nil, err
	}

	if err := s.events.Create(ctx, event); err != nil {
		if errors.Is(err, repository.ErrInvalidWindow) {
			return nil, model.NewInvalidEventWindowError()
		}
		return nil, fmt.Errorf("failed to create event: %w", err)
	}

	s.logger.Info("event created",
		slog.String("event_id", event.ID),
		slog.String("created_by", actor.ID),
		slog.Time("start_time", event.StartTime),
		slog.Time("end_time", event.EndTime),
	)
	return event, nil
}

// Update は管理者ユーザーactorIDとしてイベントを部分更新する。
// 更新後の時間枠も作成時と同じ検証を行う。
func (s *Service) Update(ctx context.Context, actorID, eventID string, patch Patch) (*model.Event, error) {
	actor, err := s.users.FindByID(ctx, actorID)
	if err != nil {
		return nil, fmt.Errorf("failed to find actor: %w", err)
	}
	if actor == nil {
		return nil, model.NewUserNotFoundError()
	}
	if !actor.IsAdmin {
		return nil, model.NewForbiddenError("Only admins can update events")
	}

	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}

	if patch.Title != nil {
		event.Title = s.sanitizer.Sanitize(*patch.Title)
	}
	if patch.Description != nil {
		event.Description = s.sanitizer.Sanitize(*patch.Description)
	}
	if patch.StartTime != nil {
		event.StartTime = patch.StartTime.UTC()
	}
	if patch.EndTime != nil {
		event.EndTime = patch.EndTime.UTC()
	}
	if patch.IsActive != nil {
		event.IsActive = *patch.IsActive
	}
	if patch.ChannelID != nil {
		event.ChannelID = strings.TrimSpace(*patch.ChannelID)
	}
	event.UpdatedAt = s.now().UTC()

	if err := validate(event); err != nil {
		return nil, err
	}

	if err := s.events.Update(ctx, event); err != nil {
		if errors.Is(err, repository.ErrInvalidWindow) {
			return nil, model.NewInvalidEventWindowError()
		}
		return nil, fmt.Errorf("failed to update event: %w", err)
	}

	s.logger.Info("event updated",
		slog.String("event_id", event.ID),
		slog.String("updated_by", actor.ID),
	)
	return event, nil
}

// validate はイベントの入力値を検証する。
func validate(e *model.Event) error {
	if e.Title == "" {
		return model.NewInvalidInputError("title must not be empty")
	}
	if utf8.RuneCountInString(e.Title) > maxTitleLength {
		return model.NewInvalidInputError(fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}
	if utf8.RuneCountInString(e.Description) > maxDescriptionLength {
		return model.NewInvalidInputError(fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}
	if e.StartTime.IsZero() || e.EndTime.IsZero() {
		return model.NewInvalidInputError("start_time and end_time are required")
	}
	if !e.EndTime.After(e.StartTime) {
		return model.NewInvalidEventWindowError()
	}
	return nil
}

// Get は出席者一覧付きでイベントを取得する。
func (s *Service) Get(ctx context.Context, eventID string) (*model.Event, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}

	attendees, err := s.attendance.ListAttendees(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendees: %w", err)
	}
	event.Attendees = attendees
	return event, nil
}

// List はイベント一覧を取得する。
func (s *Service) List(ctx context.Context, offset, limit int, activeOnly bool) ([]*model.Event, error) {
	events, err := s.events.List(ctx, offset, limit, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return events, nil
}

// ListOngoing は現在開催中のアクティブなイベントを取得する。
func (s *Service) ListOngoing(ctx context.Context) ([]*model.Event, error) {
	events, err := s.events.ListOngoing(ctx, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list ongoing events: %w", err)
	}
	return events, nil
}

// ListUpcoming は開催予定のイベントを開始が近い順に取得する。
func (s *Service) ListUpcoming(ctx context.Context, limit int) ([]*model.Event, error) {
	if limit <= 0 {
		limit = DefaultUpcomingLimit
	}
	events, err := s.events.ListUpcoming(ctx, s.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming events: %w", err)
	}
	return events, nil
}

// ListByChannel はチャンネルに紐付いたイベントを取得する。
func (s *Service) ListByChannel(ctx context.Context, channelID string) ([]*model.Event, error) {
	events, err := s.events.ListByChannel(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by channel: %w", err)
	}
	return events, nil
}

// Status は現在時刻におけるイベントの状態を返す。
// 存在しない場合はEVENT_NOT_FOUND、非アクティブな場合はEVENT_INACTIVEを返す。
func (s *Service) Status(ctx context.Context, eventID string) (*StatusReport, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}
	if !event.IsActive {
		return nil, model.NewEventInactiveError(eventID)
	}

	report := Evaluate(event, s.now().UTC())
	return &report, nil
}

// Attendees はイベントの出席者一覧を取得する。
func (s *Service) Attendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if event == nil {
		return nil, model.NewEventNotFoundError(eventID)
	}

	attendees, err := s.attendance.ListAttendees(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attendees: %w", err)
	}
	return attendees, nil
}

// AttendedEvents はユーザーが出席したイベント一覧を取得する。
func (s *Service) AttendedEvents(ctx context.Context, userID string) ([]*model.Event, error) {
	events, err := s.attendance.ListEventsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attended events: %w", err)
	}
	return events, nil
}

// AttendedEventsByExternalID は外部IDで識別されるユーザーの出席履歴を取得する。
func (s *Service) AttendedEventsByExternalID(ctx context.Context, externalID string) (*model.User, []*model.Event, error) {
	user, err := s.users.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, nil, model.NewNotRegisteredError()
	}

	events, err := s.AttendedEvents(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, events, nil
}

// HasAttended はユーザーがイベントに出席済みかを返す。
func (s *Service) HasAttended(ctx context.Context, userID, eventID string) (bool, error) {
	attended, err := s.attendance.Exists(ctx, userID, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to check attendance: %w", err)
	}
	return attended, nil
}
