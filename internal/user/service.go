// Package user はユーザー管理と名前・管理者権限の登録簿を提供する。
package user

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/attendly/internal/metrics"
	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/repository"
)

const maxNameLength = 50

// Result は名前変更・管理者昇格の結果。拒否はエラーではなくSuccess=falseで返す。
type Result struct {
	User    *model.User // 未登録の場合はnil
	Success bool
	Code    string // 拒否時のエラーコード（model.ErrCode*）
	Message string
}

// ProfilePatch はプロフィール更新の入力値。nilのフィールドは変更しない。
type ProfilePatch struct {
	Name  *string
	Email *string
}

// Page はユーザー一覧の1ページと総件数。
type Page struct {
	Users []*model.User
	Total int
}

// TextSanitizer は名前からマークアップを取り除くインターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// Service はユーザー管理のサービス層。
// 管理者判定は毎回ストアから読み直した値で行う。
type Service struct {
	users       repository.UserRepository
	adminSecret string
	sanitizer   TextSanitizer
	metrics     metrics.MetricsCollector
	now         func() time.Time
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	users repository.UserRepository,
	adminSecret string,
	sanitizer TextSanitizer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:       users,
		adminSecret: adminSecret,
		sanitizer:   sanitizer,
		metrics:     collector,
		now:         time.Now,
		logger:      logger,
	}
}

// IsNameAvailable は名前が大文字小文字を区別せず未使用かを返す。
// 名前は保存時と同じく無害化してから判定する。
// excludingUserIDが空でなければ、そのユーザー自身の現在の名前は除外して判定する。
func (s *Service) IsNameAvailable(ctx context.Context, name, excludingUserID string) (bool, error) {
	name = s.sanitizer.Sanitize(name)
	if name == "" {
		return false, nil
	}
	taken, err := s.users.NameTaken(ctx, name, excludingUserID)
	if err != nil {
		return false, fmt.Errorf("failed to check name availability: %w", err)
	}
	return !taken, nil
}

// IsNameAvailableForExternal は外部IDで識別されるユーザー自身を除外して名前の空きを判定する。
// 未登録の外部IDの場合は除外なしで判定する。
func (s *Service) IsNameAvailableForExternal(ctx context.Context, name, externalID string) (bool, error) {
	exclude := ""
	if externalID != "" {
		u, err := s.users.FindByExternalID(ctx, externalID)
		if err != nil {
			return false, fmt.Errorf("failed to find user by external ID: %w", err)
		}
		if u != nil {
			exclude = u.ID
		}
	}
	return s.IsNameAvailable(ctx, name, exclude)
}

// SetName は外部IDで識別されるユーザーの名前を変更する。名前は小文字化して保存する。
// 名前が使用済みの場合は何も変更せずにSuccess=falseを返す。
func (s *Service) SetName(ctx context.Context, externalID, name string) (*Result, error) {
	user, err := s.users.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	if user == nil {
		return refusal(nil, model.NewNotRegisteredError()), nil
	}

	normalized := model.NormalizeName(s.sanitizer.Sanitize(name))
	if apiErr := validateName(normalized); apiErr != nil {
		return refusal(user, apiErr), nil
	}

	available, err := s.IsNameAvailable(ctx, normalized, user.ID)
	if err != nil {
		return nil, err
	}
	if !available {
		return refusal(user, model.NewDuplicateNameError(normalized)), nil
	}

	previous := user.Name
	user.Name = normalized
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			user.Name = previous
			return refusal(user, model.NewDuplicateNameError(normalized)), nil
		}
		return nil, fmt.Errorf("failed to update name: %w", err)
	}

	s.logger.Info("user name changed",
		slog.String("user_id", user.ID),
		slog.String("name", normalized),
	)
	return &Result{
		User:    user,
		Success: true,
		Message: fmt.Sprintf("Your name is now '%s'", normalized),
	}, nil
}

// Promote は管理者用シークレットが一致した場合に外部IDのユーザーを管理者にする。
// 判定順序はシークレット、登録有無、既に管理者かどうかの順。
func (s *Service) Promote(ctx context.Context, externalID, secret string) (*Result, error) {
	if s.adminSecret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(s.adminSecret)) != 1 {
		s.metrics.RecordPromotion("denied")
		s.logger.Warn("admin promotion denied", slog.String("external_id", externalID))
		return refusal(nil, model.NewForbiddenError("Invalid admin password")), nil
	}

	user, err := s.users.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	if user == nil {
		s.metrics.RecordPromotion("not_registered")
		return refusal(nil, model.NewNotRegisteredError()), nil
	}
	if user.IsAdmin {
		s.metrics.RecordPromotion("already_admin")
		return &Result{
			User:    user,
			Success: false,
			Message: fmt.Sprintf("%s is already an admin", user.Name),
		}, nil
	}

	user.IsAdmin = true
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to promote user: %w", err)
	}

	s.metrics.RecordPromotion("promoted")
	s.logger.Info("user promoted to admin", slog.String("user_id", user.ID))
	return &Result{
		User:    user,
		Success: true,
		Message: fmt.Sprintf("%s is now an admin", user.Name),
	}, nil
}

// CheckAdmin は外部IDのユーザーを返す。管理者かどうかはUser.IsAdminで判定する。
func (s *Service) CheckAdmin(ctx context.Context, externalID string) (*model.User, error) {
	return s.GetByExternalID(ctx, externalID)
}

// GetByExternalID は外部IDでユーザーを取得する。未登録の場合はNOT_REGISTEREDを返す。
func (s *Service) GetByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	user, err := s.users.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	if user == nil {
		return nil, model.NewNotRegisteredError()
	}
	return user, nil
}

// Me は認証済みユーザー自身を返す。
func (s *Service) Me(ctx context.Context, userID string) (*model.User, error) {
	return s.Get(ctx, userID)
}

// Get は指定IDのユーザーを取得する。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

// UpdateProfile はユーザー自身の名前・メールアドレスを更新する。
// 名前の重複判定では自分自身を除外する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, patch ProfilePatch) (*model.User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := s.sanitizer.Sanitize(*patch.Name)
		if apiErr := validateName(name); apiErr != nil {
			return nil, apiErr
		}
		available, err := s.IsNameAvailable(ctx, name, user.ID)
		if err != nil {
			return nil, err
		}
		if !available {
			return nil, model.NewDuplicateNameError(name)
		}
		user.Name = name
	}

	if patch.Email != nil {
		email := strings.TrimSpace(*patch.Email)
		if email == "" || !strings.Contains(email, "@") {
			return nil, model.NewInvalidInputError("email is invalid")
		}
		if !strings.EqualFold(email, user.Email) {
			taken, err := s.users.EmailTaken(ctx, email)
			if err != nil {
				return nil, fmt.Errorf("failed to check email: %w", err)
			}
			if taken {
				return nil, model.NewDuplicateEmailError()
			}
		}
		user.Email = email
	}

	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateName):
			return nil, model.NewDuplicateNameError(user.Name)
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, model.NewDuplicateEmailError()
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

// List はユーザー一覧と総件数を返す。
func (s *Service) List(ctx context.Context, offset, limit int) (*Page, error) {
	users, err := s.users.List(ctx, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	return &Page{Users: users, Total: total}, nil
}

// ListForAdmin は外部IDで識別される管理者に対してユーザー一覧を返す。
func (s *Service) ListForAdmin(ctx context.Context, externalID string, offset, limit int) (*Page, error) {
	requester, err := s.GetByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if !requester.IsAdmin {
		return nil, model.NewForbiddenError("Only admins can list users.")
	}
	return s.List(ctx, offset, limit)
}

func validateName(name string) *model.APIError {
	if name == "" {
		return model.NewInvalidInputError("name must not be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return model.NewInvalidInputError(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	return nil
}

func refusal(user *model.User, apiErr *model.APIError) *Result {
	return &Result{
		User:    user,
		Success: false,
		Code:    apiErr.Code,
		Message: apiErr.Message,
	}
}
