// Package identity はDiscordアカウントとローカルユーザーの同期を提供する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/attendly/internal/metrics"
	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/repository"
)

// 変更検出の対象フィールド名。ChangedFieldsに格納される。
const (
	FieldName         = "name"
	FieldExternalName = "external_name"
	FieldEmail        = "email"
)

// PasswordHasher はパスワードのハッシュ化インターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
}

// TextSanitizer は表示名からマークアップを取り除くインターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// UpsertInput はDiscordアカウントの登録・同期の入力値。
type UpsertInput struct {
	ExternalID   string
	ExternalName string
	Name         string
	Email        string // 空文字列は「変更しない」
}

// Result はUpsertの結果。
type Result struct {
	User          *model.User
	IsNew         bool
	ChangedFields []string
}

// Message は利用者向けの結果メッセージを返す。
func (r *Result) Message() string {
	switch {
	case r.IsNew:
		return fmt.Sprintf("Welcome %s! Your Discord account has been successfully registered.", r.User.Name)
	case len(r.ChangedFields) > 0:
		return fmt.Sprintf("Profile updated for %s! Changes: %s", r.User.Name, strings.Join(r.ChangedFields, ", "))
	default:
		return fmt.Sprintf("Welcome back %s! Your profile is already up to date.", r.User.Name)
	}
}

// Reconciler は外部IDをキーにユーザーを作成または更新する。
type Reconciler struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	sanitizer TextSanitizer
	metrics   metrics.MetricsCollector
	now       func() time.Time
	logger    *slog.Logger
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(
	users repository.UserRepository,
	hasher PasswordHasher,
	sanitizer TextSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Reconciler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		users:     users,
		hasher:    hasher,
		sanitizer: sanitizer,
		metrics:   collector,
		now:       time.Now,
		logger:    logger,
	}
}

// Upsert は外部IDでユーザーを検索し、存在すれば差分のあるフィールドのみ更新し、
// 存在しなければ新規作成する。同じ入力で繰り返し呼んでも2回目以降は何も変更しない。
// 同時実行で外部IDの一意制約に違反した場合は、先に作成されたユーザーを返す。
func (r *Reconciler) Upsert(ctx context.Context, in UpsertInput) (*Result, error) {
	in.ExternalID = strings.TrimSpace(in.ExternalID)
	in.ExternalName = r.sanitizer.Sanitize(in.ExternalName)
	rawName := strings.TrimSpace(in.Name)
	in.Name = r.sanitizer.Sanitize(in.Name)
	in.Email = strings.TrimSpace(in.Email)

	if in.ExternalID == "" {
		return nil, model.NewInvalidInputError("discord_user_id must not be empty")
	}
	if rawName != "" && in.Name == "" {
		return nil, model.NewInvalidInputError("name must contain plain text")
	}
	if in.Name == "" {
		in.Name = in.ExternalName
	}
	if in.Name == "" {
		return nil, model.NewInvalidInputError("name must not be empty")
	}

	existing, err := r.users.FindByExternalID(ctx, in.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	if existing != nil {
		return r.update(ctx, existing, in)
	}
	return r.create(ctx, in)
}

func (r *Reconciler) update(ctx context.Context, user *model.User, in UpsertInput) (*Result, error) {
	var changed []string
	if user.Name != in.Name {
		user.Name = in.Name
		changed = append(changed, FieldName)
	}
	if user.ExternalName != in.ExternalName {
		user.ExternalName = in.ExternalName
		changed = append(changed, FieldExternalName)
	}
	if in.Email != "" && user.Email != in.Email {
		user.Email = in.Email
		changed = append(changed, FieldEmail)
	}

	if len(changed) == 0 {
		r.metrics.RecordRegistration("unchanged")
		return &Result{User: user, ChangedFields: []string{}}, nil
	}

	user.UpdatedAt = r.now().UTC()
	if err := r.users.Update(ctx, user); err != nil {
		if apiErr := duplicateError(err, in); apiErr != nil {
			r.metrics.RecordRegistration("rejected")
			return nil, apiErr
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	r.metrics.RecordRegistration("updated")
	r.logger.Info("discord user updated",
		slog.String("user_id", user.ID),
		slog.Any("changed_fields", changed),
	)
	return &Result{User: user, ChangedFields: changed}, nil
}

func (r *Reconciler) create(ctx context.Context, in UpsertInput) (*Result, error) {
	// 外部ユーザーはパスワードでログインしないため、推測不能な値から資格情報を生成する。
	hash, err := r.hasher.Hash(uuid.New().String())
	if err != nil {
		return nil, fmt.Errorf("failed to hash synthesized credential: %w", err)
	}

	now := r.now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        in.Email,
		Name:         in.Name,
		ExternalID:   in.ExternalID,
		ExternalName: in.ExternalName,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if user.Email == "" {
		user.Email = in.ExternalID + "@discord.temp"
	}

	if err := r.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateExternalID) {
			return r.resolveRace(ctx, in)
		}
		// 同時登録では名前の一意制約が先に検出されることがある。
		if winner, findErr := r.users.FindByExternalID(ctx, in.ExternalID); findErr == nil && winner != nil {
			return r.update(ctx, winner, in)
		}
		if apiErr := duplicateError(err, in); apiErr != nil {
			r.metrics.RecordRegistration("rejected")
			return nil, apiErr
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	r.metrics.RecordRegistration("new")
	r.logger.Info("discord user registered",
		slog.String("user_id", user.ID),
		slog.String("external_id", user.ExternalID),
	)
	return &Result{User: user, IsNew: true, ChangedFields: []string{}}, nil
}

// resolveRace は同時登録に負けた場合に、勝った側のユーザーに対して同期をやり直す。
func (r *Reconciler) resolveRace(ctx context.Context, in UpsertInput) (*Result, error) {
	winner, err := r.users.FindByExternalID(ctx, in.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to re-read user by external ID: %w", err)
	}
	if winner == nil {
		return nil, fmt.Errorf("user with external ID %s vanished after conflict", in.ExternalID)
	}
	r.logger.Debug("concurrent registration resolved",
		slog.String("user_id", winner.ID),
		slog.String("external_id", in.ExternalID),
	)
	return r.update(ctx, winner, in)
}

func duplicateError(err error, in UpsertInput) *model.APIError {
	switch {
	case errors.Is(err, repository.ErrDuplicateName):
		return model.NewDuplicateNameError(in.Name)
	case errors.Is(err, repository.ErrDuplicateEmail):
		return model.NewDuplicateEmailError()
	}
	return nil
}
