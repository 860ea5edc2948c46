package database

import (
	"context"
	"testing"
	"time"

	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

func TestGetOrCreateReconciliationRecord(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	first, err := service.GetOrCreateReconciliationRecord(ctx, "usps-2026-10.csv", time.Now())
	if err != nil {
		t.Fatalf("GetOrCreateReconciliationRecord failed: %v", err)
	}
	if first.Status != models.ReconciliationPending {
		t.Errorf("Expected pending, got %s", first.Status)
	}

	again, err := service.GetOrCreateReconciliationRecord(ctx, "usps-2026-10.csv", time.Now())
	if err != nil {
		t.Fatalf("GetOrCreateReconciliationRecord failed: %v", err)
	}
	if again.Id != first.Id {
		t.Errorf("Expected same record %s, got %s", first.Id, again.Id)
	}

	if err := service.FinishReconciliationRecord(ctx, first.Id); err != nil {
		t.Fatalf("FinishReconciliationRecord failed: %v", err)
	}
	finished, err := service.GetOrCreateReconciliationRecord(ctx, "usps-2026-10.csv", time.Now())
	if err != nil {
		t.Fatalf("GetOrCreateReconciliationRecord failed: %v", err)
	}
	if finished.Status != models.ReconciliationFinished {
		t.Errorf("Expected finished, got %s", finished.Status)
	}
}

func TestUpsertAccountingItem_KeyedByTrackingAndRecord(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	record, err := service.GetOrCreateReconciliationRecord(ctx, "invoice.csv", time.Now())
	if err != nil {
		t.Fatalf("GetOrCreateReconciliationRecord failed: %v", err)
	}

	item := &models.AccountingItem{
		RecordId:       record.Id,
		TrackingNumber: "1Z999",
		Status:         models.AccountingItemFailed,
		Remark:         "shipment not found",
	}
	if err := service.UpsertAccountingItem(ctx, item); err != nil {
		t.Fatalf("UpsertAccountingItem failed: %v", err)
	}
	firstId := item.Id

	retry := &models.AccountingItem{
		RecordId:       record.Id,
		TrackingNumber: "1Z999",
		Status:         models.AccountingItemSuccess,
		NewTotal:       decimal.RequireFromString("14.20"),
	}
	if err := service.UpsertAccountingItem(ctx, retry); err != nil {
		t.Fatalf("UpsertAccountingItem failed: %v", err)
	}
	if retry.Id != firstId {
		t.Errorf("Expected upsert to keep id %s, got %s", firstId, retry.Id)
	}

	items, err := service.ListAccountingItems(ctx, record.Id)
	if err != nil {
		t.Fatalf("ListAccountingItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("Expected 1 item, got %d", len(items))
	}
	if items[0].Status != models.AccountingItemSuccess || items[0].Remark != "" {
		t.Errorf("Expected overwritten success item, got %s %q", items[0].Status, items[0].Remark)
	}
	if !items[0].NewTotal.Equal(decimal.RequireFromString("14.20")) {
		t.Errorf("Expected new total 14.20, got %s", items[0].NewTotal)
	}
}
