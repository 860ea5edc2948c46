package database

import (
	"context"
	"errors"
	"testing"

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/shopspring/decimal"
)

func TestShipmentLifecycle(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createFundedUser(t, service, "0")

	sh := &models.Shipment{
		OrderId:        "UP1",
		UserId:         user.Id,
		Sender:         models.Address{Name: "Warehouse", Street1: "1 Dock Rd", City: "Newark", State: "NJ", Zip: "07102", Country: "US"},
		Recipient:      models.Address{Name: "Jane Doe", Street1: "9 Elm St", City: "Austin", State: "TX", Zip: "73301", Country: "US"},
		Packages:       []models.Package{{Weight: decimal.RequireFromString("2.5"), WeightUnit: "lb"}},
		Carrier:        "usps",
		Service:        "Priority",
		CarrierAccount: "acct-1",
	}
	if err := service.CreateShipment(ctx, sh); err != nil {
		t.Fatalf("CreateShipment failed: %v", err)
	}
	if sh.Status != models.ShipmentPending {
		t.Errorf("Expected default status PENDING, got %s", sh.Status)
	}

	loaded, err := service.GetShipment(ctx, sh.Id)
	if err != nil {
		t.Fatalf("GetShipment failed: %v", err)
	}
	if loaded.Recipient.City != "Austin" || len(loaded.Packages) != 1 || loaded.Rate != nil || loaded.Customs != nil {
		t.Errorf("Unexpected shipment after reload: %+v", loaded)
	}

	loaded.Status = models.ShipmentFulfilled
	loaded.TrackingId = "9400100000000000000001"
	loaded.Labels = []models.Label{{Format: "PDF", Data: "JVBERi0=", TrackingId: loaded.TrackingId}}
	loaded.Rate = &models.Money{Amount: decimal.RequireFromString("7.10"), Currency: "USD"}
	if err := service.UpdateShipment(ctx, loaded); err != nil {
		t.Fatalf("UpdateShipment failed: %v", err)
	}

	byTracking, err := service.GetShipmentByTracking(ctx, "9400100000000000000001")
	if err != nil {
		t.Fatalf("GetShipmentByTracking failed: %v", err)
	}
	if byTracking.Id != sh.Id || byTracking.Status != models.ShipmentFulfilled {
		t.Errorf("Expected fulfilled shipment %s, got %s %s", sh.Id, byTracking.Id, byTracking.Status)
	}
	if byTracking.Rate == nil || !byTracking.Rate.Amount.Equal(decimal.RequireFromString("7.10")) {
		t.Errorf("Expected rate 7.10, got %+v", byTracking.Rate)
	}

	fulfilled, err := service.ListShipments(ctx, user.Id, models.ShipmentFulfilled)
	if err != nil {
		t.Fatalf("ListShipments failed: %v", err)
	}
	if len(fulfilled) != 1 {
		t.Errorf("Expected 1 fulfilled shipment, got %d", len(fulfilled))
	}
	pending, err := service.ListShipments(ctx, user.Id, models.ShipmentPending)
	if err != nil {
		t.Fatalf("ListShipments failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("Expected no pending shipments, got %d", len(pending))
	}
	all, err := service.ListShipments(ctx, user.Id, "")
	if err != nil {
		t.Fatalf("ListShipments failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 shipment without filter, got %d", len(all))
	}
}

func TestShipmentNotFound(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	if _, err := service.GetShipment(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := service.UpdateShipment(ctx, &models.Shipment{Id: "nope"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on update, got %v", err)
	}
}

func TestCarrierAccountRoundTrip(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createFundedUser(t, service, "0")
	account := &models.CarrierAccount{
		UserId:    user.Id,
		Carrier:   "dhl_ecommerce",
		AccountId: "dhl-001",
		Name:      "DHL main",
		Active:    true,
		Fee:       models.FeeConfig{Basis: models.FeeBasisPercentage, Amount: decimal.NewFromInt(10)},
		Services:  []models.ServiceOverride{{Name: "Economy", CarrierService: "Parcel Plus Ground", CarrierCode: "PLY"}},
	}
	if err := service.CreateCarrierAccount(ctx, account); err != nil {
		t.Fatalf("CreateCarrierAccount failed: %v", err)
	}

	loaded, err := service.GetCarrierAccount(ctx, "dhl-001")
	if err != nil {
		t.Fatalf("GetCarrierAccount failed: %v", err)
	}
	if !loaded.Active || loaded.Fee.Basis != models.FeeBasisPercentage || !loaded.Fee.Amount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Unexpected account after reload: %+v", loaded)
	}
	if len(loaded.Services) != 1 || loaded.Services[0].CarrierCode != "PLY" {
		t.Errorf("Expected service override to survive storage, got %+v", loaded.Services)
	}

	accounts, err := service.ListCarrierAccounts(ctx, user.Id)
	if err != nil {
		t.Fatalf("ListCarrierAccounts failed: %v", err)
	}
	if len(accounts) != 1 {
		t.Errorf("Expected 1 account, got %d", len(accounts))
	}

	if _, err := service.GetCarrierAccount(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUpdateShipmentAccounting_LeavesDocumentAlone(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user := createFundedUser(t, service, "0")

	sh := &models.Shipment{
		OrderId:        "UP9",
		UserId:         user.Id,
		Recipient:      models.Address{Name: "Jane Doe", Street1: "9 Elm St", City: "Austin", Zip: "73301", Country: "US"},
		Carrier:        "ups",
		CarrierAccount: "acct-1",
		Status:         models.ShipmentFulfilled,
		TrackingId:     "1ZACC",
	}
	if err := service.CreateShipment(ctx, sh); err != nil {
		t.Fatalf("CreateShipment failed: %v", err)
	}

	// A cancellation lands after the caller read its copy.
	current, err := service.GetShipment(ctx, sh.Id)
	if err != nil {
		t.Fatalf("GetShipment failed: %v", err)
	}
	current.Status = models.ShipmentDeleted
	if err := service.UpdateShipment(ctx, current); err != nil {
		t.Fatalf("UpdateShipment failed: %v", err)
	}

	sh.AccountingStatus = models.AccountingReconciled
	sh.AccountingDiff = decimal.RequireFromString("2.93")
	sh.AccountingWeight = decimal.NewFromInt(3)
	sh.AccountingWeightUnit = "lb"
	if err := service.UpdateShipmentAccounting(ctx, sh); err != nil {
		t.Fatalf("UpdateShipmentAccounting failed: %v", err)
	}

	stored, err := service.GetShipment(ctx, sh.Id)
	if err != nil {
		t.Fatalf("GetShipment failed: %v", err)
	}
	if stored.Status != models.ShipmentDeleted {
		t.Errorf("Expected status to stay DELETED, got %s", stored.Status)
	}
	if stored.AccountingStatus != models.AccountingReconciled || !stored.AccountingDiff.Equal(decimal.RequireFromString("2.93")) {
		t.Errorf("Expected reconciled 2.93, got %s %s", stored.AccountingStatus, stored.AccountingDiff)
	}

	if err := service.UpdateShipmentAccounting(ctx, &models.Shipment{Id: "nope"}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown shipment, got %v", err)
	}
}
