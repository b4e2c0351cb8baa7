package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/attendly/internal/event"
	"github.com/hitoshi/attendly/internal/metrics"
	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/notify"
	"github.com/hitoshi/attendly/internal/repository"
)

const (
	pathSelf  = "self"
	pathAdmin = "admin"

	defaultNotifyTimeout = 10 * time.Second
)

// Notifier は代理出席の通知インターフェース。
type Notifier interface {
	AttendanceMarkedForUser(ctx context.Context, notice notify.AttendanceNotice) error
}

// UserRef は出席者の指定方法。IDとExternalIDのどちらか一方を設定する。
type UserRef struct {
	ID         string
	ExternalID string
}

// Config はCoordinatorの設定。
type Config struct {
	NotifyTimeout time.Duration
	Now           func() time.Time // nilの場合はtime.Now
}

// Coordinator は出席記録の判定と記録を行う。
// 状態はストアにのみ保持し、リクエストをまたいだキャッシュは持たない。
type Coordinator struct {
	events     repository.EventRepository
	attendance repository.AttendanceRepository
	users      repository.UserRepository
	notifier   Notifier
	metrics    metrics.MetricsCollector
	logger     *slog.Logger

	now           func() time.Time
	notifyTimeout time.Duration
	inflight      sync.WaitGroup
}

// NewCoordinator はCoordinatorを生成する。notifierがnilの場合は通知しない。
func NewCoordinator(
	events repository.EventRepository,
	attendance repository.AttendanceRepository,
	users repository.UserRepository,
	notifier Notifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	cfg Config,
) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaultNotifyTimeout
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		events:        events,
		attendance:    attendance,
		users:         users,
		notifier:      notifier,
		metrics:       collector,
		logger:        logger,
		now:           cfg.Now,
		notifyTimeout: cfg.NotifyTimeout,
	}
}

// SingleOngoingEvent は現在開催中のイベントがちょうど1件の場合にそれを返す。
// 0件ならNO_ONGOING_EVENT、複数件ならMULTIPLE_ONGOING_EVENTSを返し、任意の1件を選ぶことはしない。
func (c *Coordinator) SingleOngoingEvent(ctx context.Context) (*model.Event, error) {
	ongoing, err := c.events.ListOngoing(ctx, c.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list ongoing events: %w", err)
	}
	switch len(ongoing) {
	case 0:
		return nil, model.NewNoOngoingEventError()
	case 1:
		return ongoing[0], nil
	default:
		return nil, model.NewMultipleOngoingEventsError(len(ongoing))
	}
}

// MarkAttendance は指定ユーザーの出席をイベントに記録する。
// 判定順序はイベント、時間帯、ユーザー、既存記録の順。
func (c *Coordinator) MarkAttendance(ctx context.Context, ref UserRef, eventID string) (*Outcome, error) {
	ev, err := c.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to find event: %w", err)
	}
	if ev == nil {
		return c.finish(pathSelf, notFound(ReasonEventNotFound, "Event not found")), nil
	}

	report, refusal := c.evaluate(ev)
	if refusal != nil {
		return c.finish(pathSelf, refusal), nil
	}

	user, missing, err := c.resolveUser(ctx, ref)
	if err != nil {
		return nil, err
	}
	if missing != nil {
		missing.Event = ev
		missing.Status = report
		return c.finish(pathSelf, missing), nil
	}

	out, err := c.record(ctx, user, ev, report)
	if err != nil {
		return nil, err
	}
	return c.finish(pathSelf, out), nil
}

// MarkCurrent は開催中の唯一のイベントに出席を記録する。
// 開催中のイベントが0件または複数件の場合はSingleOngoingEventのエラーをそのまま返す。
func (c *Coordinator) MarkCurrent(ctx context.Context, ref UserRef) (*Outcome, error) {
	_, missing, err := c.resolveUser(ctx, ref)
	if err != nil {
		return nil, err
	}
	if missing != nil {
		return c.finish(pathSelf, missing), nil
	}

	ev, err := c.SingleOngoingEvent(ctx)
	if err != nil {
		return nil, err
	}
	return c.MarkAttendance(ctx, ref, ev.ID)
}

// MarkForUser は管理者adminExternalIDが名前targetNameのユーザーの出席を代理で記録する。
// eventIDが空の場合は開催中の唯一のイベントを対象とする。
// 記録に成功した場合はコミット後に通知を非同期で送信し、通知の失敗は結果に影響しない。
func (c *Coordinator) MarkForUser(ctx context.Context, adminExternalID, targetName, eventID string) (*Outcome, error) {
	admin, err := c.users.FindByExternalID(ctx, adminExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find admin: %w", err)
	}
	if admin == nil {
		return c.finish(pathAdmin, rejected(ReasonAdminNotFound, "Admin user not found. Please register first.")), nil
	}
	if !admin.IsAdmin {
		out := rejected(ReasonNotAdmin, "Only admins can mark attendance for other users")
		out.Admin = admin
		return c.finish(pathAdmin, out), nil
	}

	targetName = strings.TrimSpace(targetName)
	target, err := c.users.FindByName(ctx, targetName)
	if err != nil {
		return nil, fmt.Errorf("failed to find target user: %w", err)
	}
	if target == nil {
		out := rejected(ReasonTargetNotFound, fmt.Sprintf("User '%s' not found", targetName))
		out.Admin = admin
		return c.finish(pathAdmin, out), nil
	}
	if target.ID == admin.ID {
		out := rejected(ReasonSelfTarget, "Use the regular attend command to mark your own attendance")
		out.Admin = admin
		out.User = target
		return c.finish(pathAdmin, out), nil
	}

	var ev *model.Event
	if eventID == "" {
		ev, err = c.SingleOngoingEvent(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		ev, err = c.events.FindByID(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("failed to find event: %w", err)
		}
		if ev == nil {
			out := notFound(ReasonEventNotFound, "Event not found")
			out.Admin = admin
			out.User = target
			return c.finish(pathAdmin, out), nil
		}
	}

	var out *Outcome
	report, refusal := c.evaluate(ev)
	if refusal != nil {
		out = refusal
		out.User = target
	} else {
		out, err = c.record(ctx, target, ev, report)
		if err != nil {
			return nil, err
		}
	}
	out.Admin = admin

	if out.Kind == KindMarked {
		out.Message = fmt.Sprintf("Marked attendance for %s at '%s'", target.Name, ev.Title)
		c.notifyAsync(ctx, notify.AttendanceNotice{Admin: admin, Target: target, Event: out.Event})
	} else if out.Kind == KindAlreadyMarked {
		out.Message = fmt.Sprintf("%s is already marked as attended for '%s'", target.Name, ev.Title)
	}
	return c.finish(pathAdmin, out), nil
}

// Wait は送信中の通知が完了するまで待機する。シャットダウン時に使用する。
func (c *Coordinator) Wait() {
	c.inflight.Wait()
}

// evaluate はイベントの状態を判定し、出席できない場合は拒否結果を返す。
func (c *Coordinator) evaluate(ev *model.Event) (*event.StatusReport, *Outcome) {
	report := event.Evaluate(ev, c.now().UTC())
	if report.CanAttend {
		return &report, nil
	}

	var reason Reason
	switch {
	case !ev.IsActive:
		reason = ReasonEventInactive
	case report.Status == event.StatusUpcoming:
		reason = ReasonNotStarted
	default:
		reason = ReasonEnded
	}
	out := rejected(reason, report.Reason)
	out.Event = ev
	out.Status = &report
	return &report, out
}

// resolveUser は出席者を解決する。存在しない場合は2番目の戻り値に未検出結果を返す。
func (c *Coordinator) resolveUser(ctx context.Context, ref UserRef) (*model.User, *Outcome, error) {
	if ref.ExternalID != "" {
		user, err := c.users.FindByExternalID(ctx, ref.ExternalID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to find user by external ID: %w", err)
		}
		if user == nil {
			return nil, notFound(ReasonNotRegistered, "User not registered. Please register first."), nil
		}
		return user, nil, nil
	}

	user, err := c.users.FindByID(ctx, ref.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, notFound(ReasonUserNotFound, "User not found"), nil
	}
	return user, nil, nil
}

// record は出席記録を作成する。既存チェックと挿入の間に競合した場合も、
// 主キー制約により1件のみ記録され、負けた側はAlreadyMarkedになる。
func (c *Coordinator) record(ctx context.Context, user *model.User, ev *model.Event, report *event.StatusReport) (*Outcome, error) {
	exists, err := c.attendance.Exists(ctx, user.ID, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to check attendance: %w", err)
	}

	inserted := false
	if !exists {
		inserted, err = c.attendance.Insert(ctx, &model.Attendance{
			UserID:     user.ID,
			EventID:    ev.ID,
			AttendedAt: c.now().UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to insert attendance: %w", err)
		}
	}

	if !inserted {
		return &Outcome{
			Kind:    KindAlreadyMarked,
			Message: "Already marked as attended",
			Event:   ev,
			User:    user,
			Status:  report,
		}, nil
	}

	attendees, err := c.attendance.ListAttendees(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh attendees: %w", err)
	}
	ev.Attendees = attendees

	c.logger.Info("attendance marked",
		slog.String("user_id", user.ID),
		slog.String("event_id", ev.ID),
	)
	return &Outcome{
		Kind:    KindMarked,
		Message: fmt.Sprintf("Successfully attended '%s'!", ev.Title),
		Event:   ev,
		User:    user,
		Status:  report,
	}, nil
}

func (c *Coordinator) finish(path string, out *Outcome) *Outcome {
	c.metrics.RecordAttendance(path, string(out.Kind))
	return out
}

// notifyAsync は呼び出し元のキャンセルから切り離して通知を送信する。
func (c *Coordinator) notifyAsync(ctx context.Context, notice notify.AttendanceNotice) {
	if c.notifier == nil {
		return
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.notifyTimeout)
		defer cancel()

		if err := c.notifier.AttendanceMarkedForUser(nctx, notice); err != nil {
			c.logger.Warn("attendance notification failed",
				slog.String("admin_id", notice.Admin.ID),
				slog.String("target_id", notice.Target.ID),
				slog.String("event_id", notice.Event.ID),
				slog.String("error", err.Error()),
			)
		}
	}()
}
