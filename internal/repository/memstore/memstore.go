// Package memstore はrepositoryインターフェースのインメモリ実装を提供する。
// サービス層のテストで使用する。一意制約はPostgreSQLのスキーマと同じ規則で検証する。
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/repository"
)

type attendanceKey struct {
	userID  string
	eventID string
}

// Store はユーザー・イベント・出席記録を保持する。
type Store struct {
	mu         sync.Mutex
	users      map[string]model.User
	events     map[string]model.Event
	attendance map[attendanceKey]time.Time
}

// New は空のStoreを生成する。
func New() *Store {
	return &Store{
		users:      make(map[string]model.User),
		events:     make(map[string]model.Event),
		attendance: make(map[attendanceKey]time.Time),
	}
}

// Users はUserRepositoryを返す。
func (s *Store) Users() *UserRepo { return &UserRepo{s: s} }

// Events はEventRepositoryを返す。
func (s *Store) Events() *EventRepo { return &EventRepo{s: s} }

// Attendance はAttendanceRepositoryを返す。
func (s *Store) Attendance() *AttendanceRepo { return &AttendanceRepo{s: s} }

// AttendanceCount は出席記録の総数を返す。
func (s *Store) AttendanceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attendance)
}

// UserRepo はrepository.UserRepositoryのインメモリ実装。
type UserRepo struct{ s *Store }

func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if u, ok := r.s.users[id]; ok {
		return &u, nil
	}
	return nil, nil
}

func (r *UserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	if externalID == "" {
		return nil, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.ExternalID == externalID {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *UserRepo) FindByLogin(ctx context.Context, handle string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var byEmail *model.User
	for _, u := range r.s.users {
		if strings.EqualFold(u.Name, handle) {
			return &u, nil
		}
		if u.Email != "" && strings.EqualFold(u.Email, handle) {
			found := u
			byEmail = &found
		}
	}
	return byEmail, nil
}

func (r *UserRepo) FindByName(ctx context.Context, name string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if strings.EqualFold(u.Name, name) {
			return &u, nil
		}
	}
	return nil, nil
}

func (r *UserRepo) EmailTaken(ctx context.Context, email string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email != "" && u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (r *UserRepo) NameTaken(ctx context.Context, name, excludeUserID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.nameTakenLocked(name, excludeUserID), nil
}

func (s *Store) nameTakenLocked(name, excludeUserID string) bool {
	for id, u := range s.users {
		if id != excludeUserID && strings.EqualFold(u.Name, name) {
			return true
		}
	}
	return false
}

// checkUniqueLocked はスキーマの一意制約と同じ検証を行う。
func (s *Store) checkUniqueLocked(user *model.User) error {
	for id, u := range s.users {
		if id != user.ID && user.ExternalID != "" && u.ExternalID == user.ExternalID {
			return repository.ErrDuplicateExternalID
		}
	}
	if s.nameTakenLocked(user.Name, user.ID) {
		return repository.ErrDuplicateName
	}
	for id, u := range s.users {
		if id != user.ID && user.Email != "" && u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	return nil
}

func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.checkUniqueLocked(user); err != nil {
		return err
	}
	r.s.users[user.ID] = *user
	return nil
}

func (r *UserRepo) Update(ctx context.Context, user *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.users[user.ID]; !ok {
		return fmt.Errorf("user not found: %s", user.ID)
	}
	if err := r.s.checkUniqueLocked(user); err != nil {
		return err
	}
	r.s.users[user.ID] = *user
	return nil
}

func (r *UserRepo) List(ctx context.Context, offset, limit int) ([]*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	all := make([]*model.User, 0, len(r.s.users))
	for _, u := range r.s.users {
		u := u
		all = append(all, &u)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return page(all, offset, limit), nil
}

func (r *UserRepo) Count(ctx context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.users), nil
}

// EventRepo はrepository.EventRepositoryのインメモリ実装。
type EventRepo struct{ s *Store }

func (r *EventRepo) FindByID(ctx context.Context, id string) (*model.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if e, ok := r.s.events[id]; ok {
		return &e, nil
	}
	return nil, nil
}

func (r *EventRepo) Create(ctx context.Context, event *model.Event) error {
	if !event.EndTime.After(event.StartTime) {
		return repository.ErrInvalidWindow
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *event
	stored.Attendees = nil
	r.s.events[event.ID] = stored
	return nil
}

func (r *EventRepo) Update(ctx context.Context, event *model.Event) error {
	if !event.EndTime.After(event.StartTime) {
		return repository.ErrInvalidWindow
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	prev, ok := r.s.events[event.ID]
	if !ok {
		return fmt.Errorf("event not found: %s", event.ID)
	}
	stored := *event
	stored.Attendees = nil
	stored.CreatedBy = prev.CreatedBy
	stored.AnnouncedAt = prev.AnnouncedAt
	r.s.events[event.ID] = stored
	return nil
}

func (r *EventRepo) filter(keep func(e model.Event) bool) []*model.Event {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Event
	for _, e := range r.s.events {
		if keep(e) {
			e := e
			out = append(out, &e)
		}
	}
	return out
}

func sortByStart(events []*model.Event, desc bool) {
	sort.Slice(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if a.StartTime.Equal(b.StartTime) {
			return a.ID < b.ID
		}
		if desc {
			return a.StartTime.After(b.StartTime)
		}
		return a.StartTime.Before(b.StartTime)
	})
}

func ongoingAt(e model.Event, now time.Time) bool {
	return e.IsActive && !now.Before(e.StartTime) && !now.After(e.EndTime)
}

func (r *EventRepo) List(ctx context.Context, offset, limit int, activeOnly bool) ([]*model.Event, error) {
	out := r.filter(func(e model.Event) bool { return !activeOnly || e.IsActive })
	sortByStart(out, true)
	return page(out, offset, limit), nil
}

func (r *EventRepo) ListOngoing(ctx context.Context, now time.Time) ([]*model.Event, error) {
	out := r.filter(func(e model.Event) bool { return ongoingAt(e, now) })
	sortByStart(out, false)
	return out, nil
}

func (r *EventRepo) ListUpcoming(ctx context.Context, now time.Time, limit int) ([]*model.Event, error) {
	out := r.filter(func(e model.Event) bool { return e.IsActive && e.StartTime.After(now) })
	sortByStart(out, false)
	return page(out, 0, limit), nil
}

func (r *EventRepo) ListByChannel(ctx context.Context, channelID string) ([]*model.Event, error) {
	out := r.filter(func(e model.Event) bool { return e.IsActive && e.ChannelID == channelID })
	sortByStart(out, true)
	return out, nil
}

func (r *EventRepo) ListUnannounced(ctx context.Context, now time.Time) ([]*model.Event, error) {
	out := r.filter(func(e model.Event) bool { return e.AnnouncedAt == nil && ongoingAt(e, now) })
	sortByStart(out, false)
	return out, nil
}

func (r *EventRepo) ClaimAnnouncement(ctx context.Context, eventID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.events[eventID]
	if !ok || e.AnnouncedAt != nil {
		return false, nil
	}
	e.AnnouncedAt = &at
	r.s.events[eventID] = e
	return true, nil
}

// AttendanceRepo はrepository.AttendanceRepositoryのインメモリ実装。
type AttendanceRepo struct{ s *Store }

func (r *AttendanceRepo) Exists(ctx context.Context, userID, eventID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.attendance[attendanceKey{userID, eventID}]
	return ok, nil
}

func (r *AttendanceRepo) Insert(ctx context.Context, a *model.Attendance) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := attendanceKey{a.UserID, a.EventID}
	if _, ok := r.s.attendance[key]; ok {
		return false, nil
	}
	r.s.attendance[key] = a.AttendedAt
	return true, nil
}

func (r *AttendanceRepo) ListAttendees(ctx context.Context, eventID string) ([]model.Attendee, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []model.Attendee
	for key, at := range r.s.attendance {
		if key.eventID != eventID {
			continue
		}
		u := r.s.users[key.userID]
		out = append(out, model.Attendee{
			UserID:       u.ID,
			Name:         u.Name,
			ExternalID:   u.ExternalID,
			ExternalName: u.ExternalName,
			AttendedAt:   at,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AttendedAt.Equal(out[j].AttendedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].AttendedAt.Before(out[j].AttendedAt)
	})
	return out, nil
}

func (r *AttendanceRepo) ListEventsByUser(ctx context.Context, userID string) ([]*model.Event, error) {
	r.s.mu.Lock()
	var out []*model.Event
	for key := range r.s.attendance {
		if key.userID != userID {
			continue
		}
		if e, ok := r.s.events[key.eventID]; ok {
			e := e
			out = append(out, &e)
		}
	}
	r.s.mu.Unlock()
	sortByStart(out, true)
	return out, nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// compile-time interface check
var (
	_ repository.UserRepository       = (*UserRepo)(nil)
	_ repository.EventRepository      = (*EventRepo)(nil)
	_ repository.AttendanceRepository = (*AttendanceRepo)(nil)
)
