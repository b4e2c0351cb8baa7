// Package announce は開催中になったイベントの開始通知ジョブを提供する。
// 複数のワーカーが同時に動いても、announced_atの条件付き更新で
// 1イベントにつき1回だけ通知する。
package announce

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/repository"
)

// EventNotifier はイベント開始通知の送信インターフェース。
type EventNotifier interface {
	// Enabled は通知の送信手段が設定されているかを返す。
	Enabled() bool
	// ChannelFor はイベントの通知先チャンネルを返す。送信先が無ければ空文字列。
	ChannelFor(event *model.Event) string
	EventStarted(ctx context.Context, event *model.Event) error
}

// Announcer は開始通知が未送信の開催中イベントを定期的に通知する。
type Announcer struct {
	events   repository.EventRepository
	notifier EventNotifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewAnnouncer はAnnouncerの新しいインスタンスを生成する。
// nowがnilの場合はtime.Nowを使用する。
func NewAnnouncer(
	events repository.EventRepository,
	notifier EventNotifier,
	logger *slog.Logger,
	now func() time.Time,
) *Announcer {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Announcer{
		events:   events,
		notifier: notifier,
		logger:   logger,
		now:      now,
	}
}

// Start はintervalごとのティッカーで通知サイクルを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (a *Announcer) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.logger.Info("announcer started", slog.Duration("interval", interval))

	// 起動直後に1回実行
	a.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("announcer stopped")
			return
		case <-ticker.C:
			a.runLogged(ctx)
		}
	}
}

func (a *Announcer) runLogged(ctx context.Context) {
	if _, err := a.RunOnce(ctx); err != nil {
		a.logger.Error("announce cycle failed", slog.String("error", err.Error()))
	}
}

// RunOnce は通知対象のイベントを1回取得し、順に通知する。通知した件数を返す。
// 通知先チャンネルの無いイベントは未通知のまま残し、チャンネルが設定された後の
// サイクルで通知する。送信に失敗したイベントは再送しない。
func (a *Announcer) RunOnce(ctx context.Context) (int, error) {
	if !a.notifier.Enabled() {
		return 0, nil
	}

	start := time.Now()
	now := a.now().UTC()

	events, err := a.events.ListUnannounced(ctx, now)
	if err != nil {
		return 0, err
	}

	announced := 0
	for _, ev := range events {
		if ctx.Err() != nil {
			return announced, ctx.Err()
		}
		if a.notifier.ChannelFor(ev) == "" {
			continue
		}

		claimed, err := a.events.ClaimAnnouncement(ctx, ev.ID, now)
		if err != nil {
			return announced, err
		}
		if !claimed {
			// 他のワーカーが先に通知した
			a.logger.Debug("announcement already claimed", slog.String("event_id", ev.ID))
			continue
		}

		if err := a.notifier.EventStarted(ctx, ev); err != nil {
			a.logger.Warn("failed to announce event",
				slog.String("event_id", ev.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		announced++
	}

	if len(events) > 0 {
		a.logger.Info("announce cycle completed",
			slog.Int("candidates", len(events)),
			slog.Int("announced", announced),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
	return announced, nil
}
