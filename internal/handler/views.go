package handler

import (
	"time"

	"github.com/hitoshi/attendly/internal/attendance"
	"github.com/hitoshi/attendly/internal/event"
	"github.com/hitoshi/attendly/internal/model"
)

// userResponse はユーザー情報のAPIレスポンス。パスワードハッシュは含めない。
type userResponse struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Email           string    `json:"email,omitempty"`
	DiscordUserID   string    `json:"discord_user_id,omitempty"`
	DiscordUsername string    `json:"discord_username,omitempty"`
	IsAdmin         bool      `json:"is_admin"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
}

func toUserResponse(u *model.User) *userResponse {
	if u == nil {
		return nil
	}
	return &userResponse{
		ID:              u.ID,
		Name:            u.Name,
		Email:           u.Email,
		DiscordUserID:   u.ExternalID,
		DiscordUsername: u.ExternalName,
		IsAdmin:         u.IsAdmin,
		IsActive:        u.IsActive,
		CreatedAt:       u.CreatedAt,
	}
}

func toUserResponses(users []*model.User) []userResponse {
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, *toUserResponse(u))
	}
	return out
}

// attendeeResponse は出席者一覧の1行。
type attendeeResponse struct {
	UserID          string    `json:"user_id"`
	Name            string    `json:"name"`
	DiscordUserID   string    `json:"discord_user_id,omitempty"`
	DiscordUsername string    `json:"discord_username,omitempty"`
	AttendedAt      time.Time `json:"attended_at"`
}

func toAttendeeResponses(attendees []model.Attendee) []attendeeResponse {
	out := make([]attendeeResponse, 0, len(attendees))
	for _, a := range attendees {
		out = append(out, attendeeResponse{
			UserID:          a.UserID,
			Name:            a.Name,
			DiscordUserID:   a.ExternalID,
			DiscordUsername: a.ExternalName,
			AttendedAt:      a.AttendedAt,
		})
	}
	return out
}

// eventResponse はイベント情報のAPIレスポンス。
type eventResponse struct {
	ID          string             `json:"id"`
	Title       string             `json:"title"`
	Description string             `json:"description,omitempty"`
	StartTime   time.Time          `json:"start_time"`
	EndTime     time.Time          `json:"end_time"`
	IsActive    bool               `json:"is_active"`
	ChannelID   string             `json:"discord_channel_id,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	Attendees   []attendeeResponse `json:"attendees,omitempty"`
}

func toEventResponse(e *model.Event) *eventResponse {
	if e == nil {
		return nil
	}
	resp := &eventResponse{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		StartTime:   e.StartTime,
		EndTime:     e.EndTime,
		IsActive:    e.IsActive,
		ChannelID:   e.ChannelID,
		CreatedAt:   e.CreatedAt,
	}
	if e.Attendees != nil {
		resp.Attendees = toAttendeeResponses(e.Attendees)
	}
	return resp
}

// eventDetailResponse は出席者一覧を必ず含むイベント詳細のレスポンス。
type eventDetailResponse struct {
	*eventResponse
	Attendees []attendeeResponse `json:"attendees"`
}

func toEventDetailResponse(e *model.Event) eventDetailResponse {
	return eventDetailResponse{
		eventResponse: toEventResponse(e),
		Attendees:     toAttendeeResponses(e.Attendees),
	}
}

func toEventResponses(events []*model.Event) []eventResponse {
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, *toEventResponse(e))
	}
	return out
}

// statusResponse はイベント状態判定のAPIレスポンス。
type statusResponse struct {
	EventID           string    `json:"event_id"`
	Title             string    `json:"title"`
	Status            string    `json:"status"`
	CanAttend         bool      `json:"can_attend"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	CurrentTime       time.Time `json:"current_time"`
	Reason            string    `json:"reason,omitempty"`
	SecondsUntilStart *int64    `json:"seconds_until_start,omitempty"`
	SecondsUntilEnd   *int64    `json:"seconds_until_end,omitempty"`
}

func toStatusResponse(r *event.StatusReport) *statusResponse {
	if r == nil {
		return nil
	}
	return &statusResponse{
		EventID:           r.EventID,
		Title:             r.Title,
		Status:            string(r.Status),
		CanAttend:         r.CanAttend,
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		CurrentTime:       r.CurrentTime,
		Reason:            r.Reason,
		SecondsUntilStart: r.SecondsUntilStart,
		SecondsUntilEnd:   r.SecondsUntilEnd,
	}
}

// attendanceResponse は出席記録操作のAPIレスポンス。
type attendanceResponse struct {
	Success     bool            `json:"success"`
	Outcome     string          `json:"outcome"`
	Reason      string          `json:"reason,omitempty"`
	Message     string          `json:"message"`
	Event       *eventResponse  `json:"event,omitempty"`
	User        *userResponse   `json:"user,omitempty"`
	AdminUser   *userResponse   `json:"admin_user,omitempty"`
	EventStatus *statusResponse `json:"event_status,omitempty"`
}

func toAttendanceResponse(o *attendance.Outcome) attendanceResponse {
	return attendanceResponse{
		Success:     o.Success(),
		Outcome:     string(o.Kind),
		Reason:      string(o.Reason),
		Message:     o.Message,
		Event:       toEventResponse(o.Event),
		User:        toUserResponse(o.User),
		AdminUser:   toUserResponse(o.Admin),
		EventStatus: toStatusResponse(o.Status),
	}
}
