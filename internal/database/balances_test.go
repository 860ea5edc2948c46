package database

import (
	"context"
	"errors"
	"testing"

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/shopspring/decimal"
)

func TestApplyBalanceDelta_WritesEntry(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createFundedUser(t, service, "100.00")

	entry := &models.BillingRecord{
		Type:        models.BillingTypeLabel,
		Description: "UP1001",
		Account:     "acct-1",
		Total:       decimal.RequireFromString("13.57"),
		Currency:    "USD",
		Details: &models.CostDetails{
			ShippingCost: decimal.RequireFromString("12.34"),
			Fee:          decimal.RequireFromString("1.23"),
		},
	}
	snap, err := service.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{
		UserId:          user.Id,
		TotalDelta:      entry.Total.Neg(),
		ExpectedVersion: user.Version,
		Entry:           entry,
	})
	if err != nil {
		t.Fatalf("ApplyBalanceDelta failed: %v", err)
	}

	expected := decimal.RequireFromString("86.43")
	if !snap.Balance.Equal(expected) {
		t.Errorf("Expected balance %s, got %s", expected, snap.Balance)
	}
	if snap.Version != user.Version+1 {
		t.Errorf("Expected version %d, got %d", user.Version+1, snap.Version)
	}
	if !snap.Deposit.Equal(decimal.RequireFromString("100")) {
		t.Errorf("Expected deposit unchanged at 100, got %s", snap.Deposit)
	}

	record, err := service.GetBillingRecordByDescription(ctx, user.Id, "UP1001", models.BillingTypeLabel)
	if err != nil {
		t.Fatalf("GetBillingRecordByDescription failed: %v", err)
	}
	if !record.Total.Equal(entry.Total) || !record.Balance.Equal(expected) {
		t.Errorf("Expected record total 13.57 balance 86.43, got %s/%s", record.Total, record.Balance)
	}
	if record.Details == nil || !record.Details.Fee.Equal(decimal.RequireFromString("1.23")) {
		t.Errorf("Expected cost details to survive storage, got %+v", record.Details)
	}
	if record.Status != models.BillingStatusActive {
		t.Errorf("Expected status %s, got %s", models.BillingStatusActive, record.Status)
	}
}

func TestApplyBalanceDelta_VersionConflict(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createFundedUser(t, service, "50")

	_, err := service.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{
		UserId:          user.Id,
		TotalDelta:      decimal.NewFromInt(-5),
		ExpectedVersion: user.Version + 7,
		Entry:           &models.BillingRecord{Type: models.BillingTypeLabel, Description: "stale"},
	})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Fatalf("Expected ErrConcurrentModification, got %v", err)
	}

	reloaded, err := service.GetUserById(ctx, user.Id)
	if err != nil {
		t.Fatalf("GetUserById failed: %v", err)
	}
	if !reloaded.Balance.Equal(user.Balance) {
		t.Errorf("Expected balance unchanged at %s, got %s", user.Balance, reloaded.Balance)
	}
	if _, err := service.GetBillingRecordByDescription(ctx, user.Id, "stale", models.BillingTypeLabel); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected no billing record after rejected write, got %v", err)
	}
}

func TestApplyBalanceDelta_AmendRollsBackWithBalance(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createFundedUser(t, service, "20")

	_, err := service.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{
		UserId:     user.Id,
		TotalDelta: decimal.NewFromInt(1),
		Amend:      &models.BillingRecord{Id: "does-not-exist", Total: decimal.NewFromInt(3)},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound for missing amend target, got %v", err)
	}

	reloaded, err := service.GetUserById(ctx, user.Id)
	if err != nil {
		t.Fatalf("GetUserById failed: %v", err)
	}
	if !reloaded.Balance.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected balance 20 after rollback, got %s", reloaded.Balance)
	}
}

func TestApplyBalanceDelta_Amend(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createFundedUser(t, service, "30")

	charge := &models.BillingRecord{Type: models.BillingTypeLabel, Description: "UP7", Total: decimal.NewFromInt(10), Currency: "USD"}
	if _, err := service.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{UserId: user.Id, TotalDelta: decimal.NewFromInt(-10), Entry: charge}); err != nil {
		t.Fatalf("Charge failed: %v", err)
	}

	charge.Total = decimal.NewFromInt(12)
	charge.AccountingStatus = models.AccountingReconciled
	charge.AccountingDiff = decimal.NewFromInt(2)
	snap, err := service.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{UserId: user.Id, TotalDelta: decimal.NewFromInt(-2), Amend: charge})
	if err != nil {
		t.Fatalf("Amend failed: %v", err)
	}
	if !snap.Balance.Equal(decimal.NewFromInt(18)) {
		t.Errorf("Expected balance 18, got %s", snap.Balance)
	}

	record, err := service.GetBillingRecordByDescription(ctx, user.Id, "UP7", models.BillingTypeLabel)
	if err != nil {
		t.Fatalf("GetBillingRecordByDescription failed: %v", err)
	}
	if !record.Total.Equal(decimal.NewFromInt(12)) || record.AccountingStatus != models.AccountingReconciled {
		t.Errorf("Expected amended total 12 reconciled, got %s %s", record.Total, record.AccountingStatus)
	}
	// Balance snapshot stays as of the original charge.
	if !record.Balance.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected snapshot balance 20, got %s", record.Balance)
	}
}

func TestApplyBalanceDelta_AmendRequiresActiveRecord(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createFundedUser(t, service, "30")

	charge := &models.BillingRecord{Type: models.BillingTypeLabel, Description: "UP8", Total: decimal.NewFromInt(10), Currency: "USD"}
	if _, err := service.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{UserId: user.Id, TotalDelta: decimal.NewFromInt(-10), Entry: charge}); err != nil {
		t.Fatalf("Charge failed: %v", err)
	}
	stale := *charge

	deleted := *charge
	deleted.Status = models.BillingStatusDeleted
	refund := &models.BillingRecord{Type: models.BillingTypeRefund, Description: "UP8", Total: decimal.NewFromInt(10), Currency: "USD"}
	if _, err := service.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{UserId: user.Id, TotalDelta: decimal.NewFromInt(10), Entry: refund, Amend: &deleted}); err != nil {
		t.Fatalf("Refund failed: %v", err)
	}

	// A write prepared from the copy read before the refund.
	stale.Total = decimal.NewFromInt(12)
	_, err := service.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{UserId: user.Id, TotalDelta: decimal.NewFromInt(-2), Amend: &stale})
	if !errors.Is(err, store.ErrStaleRecord) {
		t.Fatalf("Expected ErrStaleRecord, got %v", err)
	}

	reloaded, err := service.GetUserById(ctx, user.Id)
	if err != nil {
		t.Fatalf("GetUserById failed: %v", err)
	}
	if !reloaded.Balance.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected balance 30 after rejected amend, got %s", reloaded.Balance)
	}
	record, err := service.GetBillingRecordByDescription(ctx, user.Id, "UP8", models.BillingTypeLabel)
	if err != nil {
		t.Fatalf("GetBillingRecordByDescription failed: %v", err)
	}
	if record.Status != models.BillingStatusDeleted || !record.Total.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected deleted record of 10, got %s %s", record.Status, record.Total)
	}
}

func TestApplyBalanceDelta_UnknownUser(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := service.ApplyBalanceDelta(context.Background(), store.BalanceDeltaParams{UserId: "ghost", TotalDelta: decimal.NewFromInt(1)})
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListBillingRecords_NewestFirst(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createFundedUser(t, service, "0")
	for _, desc := range []string{"first", "second", "third"} {
		_, err := service.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{
			UserId:       user.Id,
			TotalDelta:   decimal.NewFromInt(1),
			DepositDelta: decimal.NewFromInt(1),
			Entry:        &models.BillingRecord{Type: models.BillingTypeDeposit, Description: desc, Total: decimal.NewFromInt(1)},
		})
		if err != nil {
			t.Fatalf("Deposit %s failed: %v", desc, err)
		}
	}

	records, err := service.ListBillingRecords(ctx, user.Id, 2, 0)
	if err != nil {
		t.Fatalf("ListBillingRecords failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(records))
	}
	if records[0].Description != "third" {
		t.Errorf("Expected newest record first, got %s", records[0].Description)
	}

	all, err := service.ListBillingRecords(ctx, user.Id, 0, 0)
	if err != nil {
		t.Fatalf("ListBillingRecords failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 records with no limit, got %d", len(all))
	}
	if !all[0].Balance.Equal(decimal.NewFromInt(3)) {
		t.Errorf("Expected latest snapshot balance 3, got %s", all[0].Balance)
	}
}
