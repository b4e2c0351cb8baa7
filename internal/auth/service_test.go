package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/attendly/internal/model"
	"github.com/hitoshi/attendly/internal/repository/memstore"
	"github.com/hitoshi/attendly/internal/security"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	svc := NewService(
		store.Users(),
		security.NewPasswordHasher(bcrypt.MinCost),
		security.NewTokenIssuer("test-secret", 30*time.Minute),
		security.NewTextSanitizer(),
	)
	return svc, store
}

func requireAPIError(t *testing.T, err error, code string) {
	t.Helper()
	var apiErr *model.APIError
	require.True(t, errors.As(err, &apiErr), "expected *model.APIError, got %v", err)
	assert.Equal(t, code, apiErr.Code)
}

func TestRegister_CreatesActiveNonAdminUser(t *testing.T) {
	svc, _ := newTestService(t)

	user, err := svc.Register(context.Background(), RegisterInput{
		Name:     "Alice",
		Email:    "alice@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "Alice", user.Name, "登録時の名前は入力どおりに保存する")
	assert.True(t, user.IsActive)
	assert.False(t, user.IsAdmin)
	assert.NotEqual(t, "password123", user.PasswordHash)
}

func TestRegister_SanitizesNames(t *testing.T) {
	ctx := context.Background()

	t.Run("タグを除去した名前で保存する", func(t *testing.T) {
		svc, store := newTestService(t)

		user, err := svc.Register(ctx, RegisterInput{
			Name:         "<b>dave</b>",
			Email:        "dave@example.com",
			Password:     "password123",
			ExternalID:   "d-1",
			ExternalName: "<i>dave#0001</i>",
		})
		require.NoError(t, err)
		assert.Equal(t, "dave", user.Name)
		assert.Equal(t, "dave#0001", user.ExternalName)

		stored, err := store.Users().FindByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, "dave", stored.Name)
	})

	t.Run("無害化後の名前で重複を判定する", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.Register(ctx, RegisterInput{Name: "erin", Email: "erin@example.com", Password: "password123"})
		require.NoError(t, err)

		_, err = svc.Register(ctx, RegisterInput{Name: "<u>ERIN</u>", Email: "erin2@example.com", Password: "password123"})
		requireAPIError(t, err, model.ErrCodeDuplicateName)
	})

	t.Run("マークアップだけの名前はINVALID_INPUT", func(t *testing.T) {
		svc, store := newTestService(t)

		_, err := svc.Register(ctx, RegisterInput{
			Name:     "<script>alert(1)</script>",
			Email:    "x@example.com",
			Password: "password123",
		})
		requireAPIError(t, err, model.ErrCodeInvalidInput)

		count, err := store.Users().Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestRegister_Rejections(t *testing.T) {
	ctx := context.Background()

	t.Run("メールアドレス重複はDUPLICATE_EMAIL", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.Register(ctx, RegisterInput{Name: "alice", Email: "a@example.com", Password: "password123"})
		require.NoError(t, err)

		_, err = svc.Register(ctx, RegisterInput{Name: "bob", Email: "a@example.com", Password: "password123"})
		requireAPIError(t, err, model.ErrCodeDuplicateEmail)
	})

	t.Run("名前は大文字小文字を区別せず重複とする", func(t *testing.T) {
		svc, _ := newTestService(t)
		_, err := svc.Register(ctx, RegisterInput{Name: "Alice", Email: "a@example.com", Password: "password123"})
		require.NoError(t, err)

		_, err = svc.Register(ctx, RegisterInput{Name: "ALICE", Email: "b@example.com", Password: "password123"})
		requireAPIError(t, err, model.ErrCodeDuplicateName)
	})

	t.Run("入力値の検証", func(t *testing.T) {
		svc, store := newTestService(t)
		cases := []RegisterInput{
			{Name: " ", Email: "a@example.com", Password: "password123"},
			{Name: "alice", Email: "not-an-email", Password: "password123"},
			{Name: "alice", Email: "a@example.com", Password: "short"},
		}
		for _, in := range cases {
			_, err := svc.Register(ctx, in)
			requireAPIError(t, err, model.ErrCodeInvalidInput)
		}
		n, err := store.Users().Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	registered, err := svc.Register(ctx, RegisterInput{Name: "Alice", Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	t.Run("名前（大文字小文字無視）でログインできる", func(t *testing.T) {
		res, err := svc.Login(ctx, "alice", "password123")
		require.NoError(t, err)
		assert.Equal(t, "bearer", res.TokenType)
		assert.NotEmpty(t, res.AccessToken)
		assert.Equal(t, 30*time.Minute, res.ExpiresIn)
		assert.Equal(t, registered.ID, res.User.ID)
	})

	t.Run("メールアドレスでログインできる", func(t *testing.T) {
		_, err := svc.Login(ctx, "alice@example.com", "password123")
		require.NoError(t, err)
	})

	t.Run("パスワード不一致はINVALID_CREDENTIALS", func(t *testing.T) {
		_, err := svc.Login(ctx, "alice", "wrong-password")
		requireAPIError(t, err, model.ErrCodeInvalidCredentials)
	})

	t.Run("存在しないユーザーはINVALID_CREDENTIALS", func(t *testing.T) {
		_, err := svc.Login(ctx, "nobody", "password123")
		requireAPIError(t, err, model.ErrCodeInvalidCredentials)
	})

	t.Run("無効化されたユーザーはUSER_INACTIVE", func(t *testing.T) {
		u, err := store.Users().FindByID(ctx, registered.ID)
		require.NoError(t, err)
		u.IsActive = false
		require.NoError(t, store.Users().Update(ctx, u))

		_, err = svc.Login(ctx, "alice", "password123")
		requireAPIError(t, err, model.ErrCodeUserInactive)
	})
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t)
	registered, err := svc.Register(ctx, RegisterInput{Name: "alice", Email: "alice@example.com", Password: "password123"})
	require.NoError(t, err)

	res, err := svc.Login(ctx, "alice", "password123")
	require.NoError(t, err)

	t.Run("有効なトークンでユーザーを返す", func(t *testing.T) {
		user, err := svc.Authenticate(ctx, res.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, registered.ID, user.ID)
	})

	t.Run("管理者フラグの変更を即座に反映する", func(t *testing.T) {
		u, err := store.Users().FindByID(ctx, registered.ID)
		require.NoError(t, err)
		u.IsAdmin = true
		require.NoError(t, store.Users().Update(ctx, u))

		user, err := svc.Authenticate(ctx, res.AccessToken)
		require.NoError(t, err)
		assert.True(t, user.IsAdmin)
	})

	t.Run("不正なトークンはErrUnauthenticated", func(t *testing.T) {
		_, err := svc.Authenticate(ctx, "garbage")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("無効化されたユーザーのトークンは拒否する", func(t *testing.T) {
		u, err := store.Users().FindByID(ctx, registered.ID)
		require.NoError(t, err)
		u.IsActive = false
		require.NoError(t, store.Users().Update(ctx, u))

		_, err = svc.Authenticate(ctx, res.AccessToken)
		assert.ErrorIs(t, err, ErrUnauthenticated)
	})
}
