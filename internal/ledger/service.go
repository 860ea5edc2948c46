// Package ledger is the single write path for user balances. Every movement
// is applied under the user's lock, guarded by the row version, and persisted
// together with the billing record that explains it.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

const DefaultMaxRetries = 3

// Store is the persistence the ledger needs.
type Store interface {
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	ApplyBalanceDelta(ctx context.Context, params store.BalanceDeltaParams) (*models.BalanceSnapshot, error)
	ListBillingRecords(ctx context.Context, userId string, limit, offset int) ([]models.BillingRecord, error)
}

type Service struct {
	store      Store
	locker     Locker
	journal    Journal
	maxRetries int
}

func NewService(st Store, locker Locker, journal Journal, maxRetries int) *Service {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if journal == nil {
		journal = NopJournal{}
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Service{store: st, locker: locker, journal: journal, maxRetries: maxRetries}
}

// Session is a handle on one user's funds, valid only inside WithUserLock.
type Session struct {
	svc    *Service
	userId string
}

// WithUserLock runs fn while holding the user's ledger lock. Everything fn
// does through the session is serialized against other writers for the user.
func (s *Service) WithUserLock(ctx context.Context, userId string, fn func(ctx context.Context, sess *Session) error) error {
	unlock, err := s.locker.Lock(ctx, userId)
	if err != nil {
		return fmt.Errorf("unable to lock ledger for user %s: %w", userId, err)
	}
	defer unlock()
	return fn(ctx, &Session{svc: s, userId: userId})
}

// User re-reads the user's current state.
func (sess *Session) User(ctx context.Context) (*models.User, error) {
	return sess.svc.store.GetUserById(ctx, sess.userId)
}

// ApplyDelta moves balance and deposit by the given deltas, writing entry in
// the same transaction. amend, when set, is rewritten in that transaction too.
func (sess *Session) ApplyDelta(ctx context.Context, totalDelta, depositDelta decimal.Decimal, entry, amend *models.BillingRecord) (*models.BalanceSnapshot, error) {
	return sess.apply(ctx, totalDelta, depositDelta, entry, amend, nil)
}

// Debit charges amount, refusing when the balance at write time is below it.
func (sess *Session) Debit(ctx context.Context, amount decimal.Decimal, entry *models.BillingRecord) (*models.BalanceSnapshot, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	guard := func(u *models.User) error {
		if u.Balance.LessThan(amount) {
			return fmt.Errorf("%w: balance %s, required %s", ErrInsufficientBalance, u.Balance.String(), amount.String())
		}
		return nil
	}
	return sess.apply(ctx, amount.Neg(), decimal.Zero, entry, nil, guard)
}

func (sess *Session) apply(ctx context.Context, totalDelta, depositDelta decimal.Decimal, entry, amend *models.BillingRecord, guard func(*models.User) error) (*models.BalanceSnapshot, error) {
	svc := sess.svc
	var lastErr error
	for attempt := 0; attempt < svc.maxRetries; attempt++ {
		user, err := svc.store.GetUserById(ctx, sess.userId)
		if err != nil {
			return nil, err
		}
		if guard != nil {
			if err := guard(user); err != nil {
				return nil, err
			}
		}

		snap, err := svc.store.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{
			UserId:          sess.userId,
			TotalDelta:      totalDelta,
			DepositDelta:    depositDelta,
			ExpectedVersion: user.Version,
			Entry:           entry,
			Amend:           amend,
		})
		if err == nil {
			svc.mirror(ctx, sess.userId, totalDelta, snap, entry, amend)
			return snap, nil
		}
		if !errors.Is(err, store.ErrConcurrentModification) {
			return nil, err
		}

		lastErr = err
		zap.L().Warn("Balance write raced, retrying",
			zap.String("user_id", sess.userId),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, fmt.Errorf("balance write for user %s gave up after %d attempts: %w", sess.userId, svc.maxRetries, lastErr)
}

// ApplyDelta is Session.ApplyDelta under the user's lock.
func (s *Service) ApplyDelta(ctx context.Context, userId string, totalDelta, depositDelta decimal.Decimal, entry, amend *models.BillingRecord) (*models.BalanceSnapshot, error) {
	var snap *models.BalanceSnapshot
	err := s.WithUserLock(ctx, userId, func(ctx context.Context, sess *Session) error {
		var err error
		snap, err = sess.ApplyDelta(ctx, totalDelta, depositDelta, entry, amend)
		return err
	})
	return snap, err
}

// Debit is Session.Debit under the user's lock.
func (s *Service) Debit(ctx context.Context, userId string, amount decimal.Decimal, entry *models.BillingRecord) (*models.BalanceSnapshot, error) {
	var snap *models.BalanceSnapshot
	err := s.WithUserLock(ctx, userId, func(ctx context.Context, sess *Session) error {
		var err error
		snap, err = sess.Debit(ctx, amount, entry)
		return err
	})
	return snap, err
}

// Adjust is an administrative deposit (addFund) or deduction. Both move the
// user's deposit by the same amount as the balance.
func (s *Service) Adjust(ctx context.Context, userId string, amount decimal.Decimal, addFund bool, description string) (*models.BalanceSnapshot, *models.BillingRecord, error) {
	if !amount.IsPositive() {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}

	delta := amount
	recordType := models.BillingTypeDeposit
	if !addFund {
		delta = amount.Neg()
		recordType = models.BillingTypeAdjustment
	}
	if description == "" {
		description = recordType
	}

	entry := &models.BillingRecord{
		Type:        recordType,
		Description: description,
		Total:       delta,
		Currency:    "USD",
	}

	var snap *models.BalanceSnapshot
	err := s.WithUserLock(ctx, userId, func(ctx context.Context, sess *Session) error {
		user, err := sess.User(ctx)
		if err != nil {
			return err
		}
		if user.Currency != "" {
			entry.Currency = user.Currency
		}
		snap, err = sess.ApplyDelta(ctx, delta, delta, entry, nil)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	zap.L().Info("Balance adjusted",
		zap.String("user_id", userId),
		zap.Bool("add_fund", addFund),
		zap.String("amount", amount.String()),
		zap.String("new_balance", snap.Balance.String()),
		zap.String("actor", models.ActorFrom(ctx).UserId))

	return snap, entry, nil
}

// Verify recomputes a user's balance from billing history and compares it
// with the stored balance. Label charges count against the user, everything
// else is a signed credit.
func (s *Service) Verify(ctx context.Context, userId string) (expected, actual decimal.Decimal, err error) {
	user, err := s.store.GetUserById(ctx, userId)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	records, err := s.store.ListBillingRecords(ctx, userId, 0, 0)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	expected = decimal.Zero
	for _, r := range records {
		if r.Type == models.BillingTypeLabel {
			expected = expected.Sub(r.Total)
		} else {
			expected = expected.Add(r.Total)
		}
	}

	if !expected.Equal(user.Balance) {
		zap.L().Warn("Balance does not match billing history",
			zap.String("user_id", userId),
			zap.String("expected", expected.String()),
			zap.String("actual", user.Balance.String()))
	}
	return expected, user.Balance, nil
}
