// Package notify はDiscordチャンネルへの通知送信を提供する。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/attendly/internal/metrics"
	"github.com/hitoshi/attendly/internal/model"
)

const (
	// DefaultAPIBase はDiscord REST APIのベースURL。
	DefaultAPIBase = "https://discord.com/api/v10"
	// maxContentLength はDiscordメッセージ本文の上限文字数。
	maxContentLength = 2000

	kindAttendanceMarked = "attendance_marked"
	kindEventStarted     = "event_started"
)

// AttendanceNotice は管理者による代理出席の通知内容。
type AttendanceNotice struct {
	Admin  *model.User
	Target *model.User
	Event  *model.Event
}

// Config はDiscordNotifierの設定。
type Config struct {
	BotToken         string
	APIBase          string
	DefaultChannelID string
}

// DiscordNotifier はDiscordのチャンネルにメッセージを投稿する。
// トークンまたは送信先チャンネルが無い場合は何もしない。
type DiscordNotifier struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
	token      string
	apiBase    string
	channelID  string
}

// NewDiscordNotifier はDiscordNotifierを生成する。
func NewDiscordNotifier(httpClient *http.Client, cfg Config, collector metrics.MetricsCollector, logger *slog.Logger) *DiscordNotifier {
	apiBase := strings.TrimRight(cfg.APIBase, "/")
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordNotifier{
		httpClient: httpClient,
		logger:     logger,
		metrics:    collector,
		token:      cfg.BotToken,
		apiBase:    apiBase,
		channelID:  cfg.DefaultChannelID,
	}
}

// Enabled はトークンが設定されているかを返す。
func (n *DiscordNotifier) Enabled() bool {
	return n.token != ""
}

// ChannelFor はイベントの通知先チャンネルを返す。
// イベントにチャンネルが紐付いていなければ既定チャンネルを使う。
func (n *DiscordNotifier) ChannelFor(event *model.Event) string {
	if event != nil && event.ChannelID != "" {
		return event.ChannelID
	}
	return n.channelID
}

// AttendanceMarkedForUser は管理者が代理で出席を記録したことを通知する。
func (n *DiscordNotifier) AttendanceMarkedForUser(ctx context.Context, notice AttendanceNotice) error {
	content := fmt.Sprintf("✅ %s marked attendance for **%s** at '%s'.",
		notice.Admin.Name, notice.Target.Name, notice.Event.Title)
	return n.send(ctx, kindAttendanceMarked, n.ChannelFor(notice.Event), content)
}

// EventStarted はイベントの開始を通知する。
func (n *DiscordNotifier) EventStarted(ctx context.Context, event *model.Event) error {
	content := fmt.Sprintf("📣 **%s** has started! Use /attend to mark your attendance before <t:%d:t>.",
		event.Title, event.EndTime.Unix())
	return n.send(ctx, kindEventStarted, n.ChannelFor(event), content)
}

type createMessageRequest struct {
	Content         string          `json:"content"`
	AllowedMentions allowedMentions `json:"allowed_mentions"`
}

type allowedMentions struct {
	Parse []string `json:"parse"`
}

func (n *DiscordNotifier) send(ctx context.Context, kind, channelID, content string) error {
	if n.token == "" || channelID == "" {
		n.metrics.RecordNotification(kind, "skipped")
		return nil
	}

	if r := []rune(content); len(r) > maxContentLength {
		content = string(r[:maxContentLength])
	}
	// メンションは展開しない
	body, err := json.Marshal(createMessageRequest{
		Content:         content,
		AllowedMentions: allowedMentions{Parse: []string{}},
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	endpoint := n.apiBase + "/channels/" + url.PathEscape(channelID) + "/messages"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+n.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "DiscordBot (https://github.com/hitoshi/attendly, 1.0)")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.metrics.RecordNotification(kind, "failed")
		n.logger.Error("failed to call discord API",
			slog.String("kind", kind),
			slog.String("channel_id", channelID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("failed to post discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		n.metrics.RecordNotification(kind, "failed")
		n.logger.Error("discord API returned error status",
			slog.String("kind", kind),
			slog.String("channel_id", channelID),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(snippet)),
		)
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	n.metrics.RecordNotification(kind, "sent")
	n.logger.Debug("discord message posted",
		slog.String("kind", kind),
		slog.String("channel_id", channelID),
	)
	return nil
}
