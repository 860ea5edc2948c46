package api

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"label-settlement-go/internal/database"
	"label-settlement-go/internal/ledger"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticMirror struct {
	balance decimal.Decimal
	err     error
}

func (m staticMirror) GetUserBalance(context.Context, string, string) (decimal.Decimal, error) {
	return m.balance, m.err
}

func newService(t *testing.T, mirror BalanceMirror) (*LedgerService, *database.Service) {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "api.db"),
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
		PingTimeout:     5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	_, err = db.CreateUser(context.Background(), store.CreateUserParams{Id: "u1", Name: "Client", Email: "u1@example.com", Role: "client"})
	require.NoError(t, err)

	l := ledger.NewService(db, ledger.NewKeyedMutex(), nil, ledger.DefaultMaxRetries)
	return NewLedgerService(db, l, mirror), db
}

func TestAdjustBalance(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	res, err := svc.AdjustBalance(ctx, "u1", decimal.RequireFromString("100"), true, "wire")
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.True(t, res.NewBalance.Equal(decimal.RequireFromString("100")), res.NewBalance.String())

	res, err = svc.AdjustBalance(ctx, "u1", decimal.RequireFromString("12.50"), false, "chargeback")
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.True(t, res.NewBalance.Equal(decimal.RequireFromString("87.5")), res.NewBalance.String())

	bal, err := svc.GetUserBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, bal.Balance.Equal(decimal.RequireFromString("87.5")), bal.Balance.String())
	assert.True(t, bal.Deposit.Equal(decimal.RequireFromString("87.5")), bal.Deposit.String())

	history, err := svc.GetBillingHistory(ctx, "u1", 0, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.BillingTypeAdjustment, history[0].Type)
	assert.True(t, history[0].Total.Equal(decimal.RequireFromString("-12.5")), history[0].Total.String())
	assert.Equal(t, models.BillingTypeDeposit, history[1].Type)
}

func TestAdjustBalance_Rejections(t *testing.T) {
	svc, _ := newService(t, nil)

	res, err := svc.AdjustBalance(context.Background(), "u1", decimal.Zero, true, "")
	require.NoError(t, err)
	assert.False(t, res.Success)

	client := models.WithActor(context.Background(), models.Actor{UserId: "u1", Role: "client"})
	res, err = svc.AdjustBalance(client, "u1", decimal.NewFromInt(5), true, "")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not permitted")

	admin := models.WithActor(context.Background(), models.Actor{UserId: "ops", Role: "admin"})
	res, err = svc.AdjustBalance(admin, "u1", decimal.NewFromInt(5), true, "")
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
}

func TestGetUserBalance_Authorization(t *testing.T) {
	svc, _ := newService(t, nil)

	self := models.WithActor(context.Background(), models.Actor{UserId: "u1", Role: "client"})
	_, err := svc.GetUserBalance(self, "u1")
	require.NoError(t, err)

	other := models.WithActor(context.Background(), models.Actor{UserId: "u2", Role: "client"})
	_, err = svc.GetUserBalance(other, "u1")
	assert.ErrorIs(t, err, ErrForbidden)

	support := models.WithActor(context.Background(), models.Actor{UserId: "s1", Role: "support"})
	_, err = svc.GetUserBalance(support, "u1")
	require.NoError(t, err)

	_, err = svc.GetUserBalance(context.Background(), "missing")
	assert.Error(t, err)
}

func TestGetBillingHistory_OtherClientForbidden(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, nil)
	_, err := svc.AdjustBalance(ctx, "u1", decimal.NewFromInt(10), true, "")
	require.NoError(t, err)

	other := models.WithActor(ctx, models.Actor{UserId: "u2", Role: "client"})
	_, err = svc.GetBillingHistory(other, "u1", 10, 0)
	assert.ErrorIs(t, err, ErrForbidden)

	self := models.WithActor(ctx, models.Actor{UserId: "u1", Role: "client"})
	history, err := svc.GetBillingHistory(self, "u1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestReconcileUserBalance(t *testing.T) {
	ctx := context.Background()

	svc, _ := newService(t, staticMirror{balance: decimal.RequireFromString("40")})
	_, err := svc.AdjustBalance(ctx, "u1", decimal.NewFromInt(40), true, "")
	require.NoError(t, err)

	check, err := svc.ReconcileUserBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, check.Matches)
	require.NotNil(t, check.Mirrored)
	assert.Equal(t, "40.00", *check.Mirrored)

	drifted, _ := newService(t, staticMirror{balance: decimal.NewFromInt(39)})
	_, err = drifted.AdjustBalance(ctx, "u1", decimal.NewFromInt(40), true, "")
	require.NoError(t, err)
	check, err = drifted.ReconcileUserBalance(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, check.Matches)

	offline, _ := newService(t, staticMirror{err: errors.New("stack unreachable")})
	check, err = offline.ReconcileUserBalance(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, check.Matches)
	assert.Nil(t, check.Mirrored)
}
