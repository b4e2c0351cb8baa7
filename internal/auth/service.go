// Package auth は直接登録ユーザーの登録・ログイン・トークン認証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/repository"
)

const (
	minPasswordLength = 8
	maxNameLength     = 50
)

// ErrUnauthenticated はトークンが無効、またはユーザーが存在しない・無効化されている場合のエラー。
var ErrUnauthenticated = errors.New("unauthenticated")

// PasswordHasher はパスワードのハッシュ化と照合のインターフェース。
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) (bool, error)
}

// TokenIssuer はアクセストークンの発行と検証のインターフェース。
type TokenIssuer interface {
	Issue(userID string) (string, error)
	Parse(raw string) (string, error)
	TTL() time.Duration
}

// TextSanitizer は名前からマークアップを取り除くインターフェース。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// RegisterInput はユーザー登録の入力値。
type RegisterInput struct {
	Name         string
	Email        string
	Password     string
	ExternalID   string // 任意
	ExternalName string // 任意
}

// LoginResult はログイン成功時に返すトークン情報。
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresIn   time.Duration
	User        *model.User
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users     repository.UserRepository
	hasher    PasswordHasher
	tokens    TokenIssuer
	sanitizer TextSanitizer
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository, hasher PasswordHasher, tokens TokenIssuer, sanitizer TextSanitizer) *Service {
	return &Service{
		users:     users,
		hasher:    hasher,
		tokens:    tokens,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// Register はメールアドレスとパスワードでユーザーを登録する。
// 名前は大文字小文字を区別せず一意で、マークアップを除いた入力どおりに保存する。
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	name := s.sanitizer.Sanitize(in.Name)
	email := strings.TrimSpace(in.Email)

	if err := validateRegistration(name, email, in.Password); err != nil {
		return nil, err
	}

	taken, err := s.users.EmailTaken(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if taken {
		return nil, model.NewDuplicateEmailError()
	}

	taken, err = s.users.NameTaken(ctx, name, "")
	if err != nil {
		return nil, fmt.Errorf("failed to check name: %w", err)
	}
	if taken {
		return nil, model.NewDuplicateNameError(name)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &model.User{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		ExternalID:   strings.TrimSpace(in.ExternalID),
		ExternalName: s.sanitizer.Sanitize(in.ExternalName),
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, model.NewDuplicateEmailError()
		case errors.Is(err, repository.ErrDuplicateName):
			return nil, model.NewDuplicateNameError(name)
		case errors.Is(err, repository.ErrDuplicateExternalID):
			return nil, model.NewInvalidInputError("External account is already linked to another user")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.Bool("external", user.HasExternalIdentity()),
	)
	return user, nil
}

func validateRegistration(name, email, password string) error {
	if name == "" {
		return model.NewInvalidInputError("name must not be empty")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return model.NewInvalidInputError(fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.NewInvalidInputError("email is invalid")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return model.NewInvalidInputError(fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	}
	return nil
}

// Login は名前またはメールアドレスとパスワードで認証し、アクセストークンを発行する。
// 認証失敗の理由（ユーザー不在・パスワード不一致）は区別しない。
func (s *Service) Login(ctx context.Context, handle, password string) (*LoginResult, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || password == "" {
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.users.FindByLogin(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidCredentialsError()
	}

	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		slog.Warn("stored password hash is unreadable",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidCredentialsError()
	}
	if !ok {
		return nil, model.NewInvalidCredentialsError()
	}
	if !user.IsActive {
		return nil, model.NewUserInactiveError()
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	slog.Info("user logged in", slog.String("user_id", user.ID))
	return &LoginResult{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresIn:   s.tokens.TTL(),
		User:        user,
	}, nil
}

// Authenticate はトークンを検証し、対応するユーザーを返す。
// is_adminやis_activeの変更を即座に反映するため、ユーザーは毎回ストアから読み直す。
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	userID, err := s.tokens.Parse(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, ErrUnauthenticated
	}
	return user, nil
}
