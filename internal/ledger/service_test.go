package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"label-settlement-go/internal/database"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *database.Service {
	t.Helper()
	db, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
		PingTimeout:     5 * time.Second,
		BusyTimeout:     10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)
	return db
}

func newFundedUser(t *testing.T, db *database.Service, balance string) string {
	t.Helper()
	ctx := context.Background()
	id := uuid.New().String()
	_, err := db.CreateUser(ctx, store.CreateUserParams{Id: id, Name: "Ledger User", Email: id + "@example.com"})
	require.NoError(t, err)
	amount := decimal.RequireFromString(balance)
	_, err = db.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{
		UserId:       id,
		TotalDelta:   amount,
		DepositDelta: amount,
		Entry:        &models.BillingRecord{Type: models.BillingTypeDeposit, Description: "opening", Total: amount},
	})
	require.NoError(t, err)
	return id
}

func labelEntry(order string, total decimal.Decimal) *models.BillingRecord {
	return &models.BillingRecord{Type: models.BillingTypeLabel, Description: order, Total: total, Currency: "USD"}
}

func TestDebit_ConcurrentNeverOverdraws(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, NewKeyedMutex(), nil, 0)
	userId := newFundedUser(t, db, "50")

	var succeeded, rejected int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), userId, decimal.NewFromInt(5), labelEntry(uuid.NewString(), decimal.NewFromInt(5)))
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, ErrInsufficientBalance):
				atomic.AddInt32(&rejected, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10), succeeded)
	assert.Equal(t, int32(10), rejected)

	user, err := db.GetUserById(context.Background(), userId)
	require.NoError(t, err)
	assert.True(t, user.Balance.IsZero(), "expected zero balance, got %s", user.Balance)

	expected, actual, err := svc.Verify(context.Background(), userId)
	require.NoError(t, err)
	assert.True(t, expected.Equal(actual), "history %s vs balance %s", expected, actual)
}

// Two services with independent in-process locks model two processes. The
// version column alone must keep the balance from going negative.
func TestDebit_SeparateLockersStillConsistent(t *testing.T) {
	db := newTestDB(t)
	userId := newFundedUser(t, db, "30")
	a := NewService(db, NewKeyedMutex(), nil, 10)
	b := NewService(db, NewKeyedMutex(), nil, 10)

	var succeeded int32
	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		svc := a
		if i%2 == 1 {
			svc = b
		}
		wg.Add(1)
		go func(svc *Service) {
			defer wg.Done()
			_, err := svc.Debit(context.Background(), userId, decimal.NewFromInt(10), labelEntry(uuid.NewString(), decimal.NewFromInt(10)))
			if err == nil {
				atomic.AddInt32(&succeeded, 1)
			}
		}(svc)
	}
	wg.Wait()

	user, err := db.GetUserById(context.Background(), userId)
	require.NoError(t, err)
	assert.False(t, user.Balance.IsNegative(), "balance went negative: %s", user.Balance)
	assert.LessOrEqual(t, succeeded, int32(3))
	want := decimal.NewFromInt(30).Sub(decimal.NewFromInt(int64(succeeded) * 10))
	assert.True(t, user.Balance.Equal(want), "expected %s, got %s", want, user.Balance)
}

func TestDebit_Insufficient(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil, nil, 0)
	userId := newFundedUser(t, db, "10.00")

	_, err := svc.Debit(context.Background(), userId, decimal.RequireFromString("13.57"), labelEntry("UP1", decimal.RequireFromString("13.57")))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	_, err = db.GetBillingRecordByDescription(context.Background(), userId, "UP1", models.BillingTypeLabel)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.Debit(context.Background(), userId, decimal.Zero, labelEntry("UP2", decimal.Zero))
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAdjust(t *testing.T) {
	db := newTestDB(t)
	svc := NewService(db, nil, nil, 0)
	userId := newFundedUser(t, db, "10")
	ctx := models.WithActor(context.Background(), models.Actor{UserId: "admin-1", Source: "cli"})

	snap, record, err := svc.Adjust(ctx, userId, decimal.NewFromInt(40), true, "wire transfer")
	require.NoError(t, err)
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(50)))
	assert.True(t, snap.Deposit.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, models.BillingTypeDeposit, record.Type)
	assert.True(t, record.Balance.Equal(decimal.NewFromInt(50)))

	snap, record, err = svc.Adjust(ctx, userId, decimal.NewFromInt(15), false, "")
	require.NoError(t, err)
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(35)))
	assert.Equal(t, models.BillingTypeAdjustment, record.Type)
	assert.True(t, record.Total.Equal(decimal.NewFromInt(-15)))

	_, _, err = svc.Adjust(ctx, userId, decimal.NewFromInt(-1), true, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)

	expected, actual, err := svc.Verify(ctx, userId)
	require.NoError(t, err)
	assert.True(t, expected.Equal(actual))
}

// flakyStore fails the first n balance writes with a version conflict.
type flakyStore struct {
	Store
	conflicts int32
}

func (f *flakyStore) ApplyBalanceDelta(ctx context.Context, params store.BalanceDeltaParams) (*models.BalanceSnapshot, error) {
	if atomic.AddInt32(&f.conflicts, -1) >= 0 {
		return nil, store.ErrConcurrentModification
	}
	return f.Store.ApplyBalanceDelta(ctx, params)
}

func TestApplyDelta_RetriesVersionConflicts(t *testing.T) {
	db := newTestDB(t)
	userId := newFundedUser(t, db, "5")

	svc := NewService(&flakyStore{Store: db, conflicts: 2}, nil, nil, 3)
	snap, err := svc.ApplyDelta(context.Background(), userId, decimal.NewFromInt(1), decimal.Zero, nil, nil)
	require.NoError(t, err)
	assert.True(t, snap.Balance.Equal(decimal.NewFromInt(6)))

	svc = NewService(&flakyStore{Store: db, conflicts: 5}, nil, nil, 3)
	_, err = svc.ApplyDelta(context.Background(), userId, decimal.NewFromInt(1), decimal.Zero, nil, nil)
	assert.ErrorIs(t, err, store.ErrConcurrentModification)
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []JournalEntry
	err     error
}

func (r *recordingJournal) Record(_ context.Context, e JournalEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return r.err
}

func TestJournalMirrorsCommittedWrites(t *testing.T) {
	db := newTestDB(t)
	userId := newFundedUser(t, db, "20")
	journal := &recordingJournal{err: errors.New("mirror down")}
	svc := NewService(db, nil, journal, 0)

	entry := labelEntry("UP9", decimal.RequireFromString("4.50"))
	entry.Account = "acct-9"
	_, err := svc.Debit(context.Background(), userId, entry.Total, entry)
	require.NoError(t, err, "mirror failures must not fail the write")

	_, err = svc.Debit(context.Background(), userId, decimal.NewFromInt(100), labelEntry("UP10", decimal.NewFromInt(100)))
	require.ErrorIs(t, err, ErrInsufficientBalance)

	require.Len(t, journal.entries, 1)
	got := journal.entries[0]
	assert.Equal(t, JournalCharge, got.Kind)
	assert.Equal(t, entry.Id, got.Reference)
	assert.Equal(t, "acct-9", got.Account)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("4.50")))
}

func TestKeyedMutex(t *testing.T) {
	km := NewKeyedMutex()
	unlock, err := km.Lock(context.Background(), "u1")
	require.NoError(t, err)

	// Other keys are independent.
	unlockOther, err := km.Lock(context.Background(), "u2")
	require.NoError(t, err)
	unlockOther()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op

	again, err := km.Lock(context.Background(), "u1")
	require.NoError(t, err)
	again()

	km.mu.Lock()
	assert.Empty(t, km.keys, "idle keys should be dropped")
	km.mu.Unlock()
}
