package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"CRMProject/module/user"
	usermodel "CRMProject/module/user/model"
	"CRMProject/module/user/service"
	"CRMProject/tools/errs"
)

func newTestAuth(t *testing.T) *service.AuthService {
	t.Helper()
	dir := user.NewMemDirectory(
		usermodel.User{UserID: "u-alice", Name: "alice", Email: "alice@crm.local", Role: "user", Pole: "sales"},
	)
	return service.NewAuthService(dir, "test-secret", time.Hour)
}

func TestLoginAndResolveRoundTrip(t *testing.T) {
	auth := newTestAuth(t)
	ctx := context.Background()

	res, err := auth.Login(ctx, "alice@crm.local")
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	require.Equal(t, "u-alice", res.User.UserID)
	require.True(t, res.ExpireAt.After(time.Now()))

	p, err := auth.Resolve(ctx, res.Token)
	require.NoError(t, err)
	require.Equal(t, "u-alice", p.ID)
	require.Equal(t, "sales", p.Pole)
}

func TestLoginUnknownEmail(t *testing.T) {
	auth := newTestAuth(t)

	_, err := auth.Login(context.Background(), "ghost@crm.local")
	require.Equal(t, errs.RecordNotFoundError, errs.Code(err))

	_, err = auth.Login(context.Background(), "")
	require.Equal(t, errs.ArgsError, errs.Code(err))
}

func TestResolveRejectsBadToken(t *testing.T) {
	auth := newTestAuth(t)

	_, err := auth.Resolve(context.Background(), "garbage")
	require.Equal(t, errs.UnauthenticatedErr, errs.Code(err))
}

func TestResolveRejectsForeignSigner(t *testing.T) {
	ctx := context.Background()
	auth := newTestAuth(t)
	other := newTestAuth(t)
	other.Opts.Secret = []byte("another-secret")

	res, err := other.Login(ctx, "alice@crm.local")
	require.NoError(t, err)

	_, err = auth.Resolve(ctx, res.Token)
	require.Equal(t, errs.UnauthenticatedErr, errs.Code(err))
}

func TestResolveRejectsDeletedUser(t *testing.T) {
	ctx := context.Background()
	dir := user.NewMemDirectory(usermodel.User{UserID: "u-gone", Email: "gone@crm.local"})
	auth := service.NewAuthService(dir, "s", time.Hour)

	res, err := auth.Login(ctx, "gone@crm.local")
	require.NoError(t, err)

	// 令牌还有效，但主档已经没这个人：一律当未认证处理
	auth.Dir = user.NewMemDirectory()
	_, err = auth.Resolve(ctx, res.Token)
	require.Equal(t, errs.UnauthenticatedErr, errs.Code(err))
}
