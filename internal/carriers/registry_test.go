package carriers

import (
	"context"
	"errors"
	"testing"

	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	catalog, err := NewCatalog(
		CarrierSpec{
			Code: CarrierUSPS, Name: "USPS", Kind: KindSandbox, OrderPrefix: "US",
			Rates: []SandboxRate{{Service: "ground_advantage", Code: "GA", Base: "4.00", PerLb: "1.00"}},
		},
		CarrierSpec{
			Code: CarrierFedEx, Name: "FedEx", Kind: KindGateway,
			Rates: []SandboxRate{{Service: "ground", Code: "FG", Base: "9.00"}},
		},
		CarrierSpec{Code: CarrierUPS, Name: "UPS", Kind: KindGateway, ProductionURL: "https://ups.example.com"},
	)
	if err != nil {
		t.Fatalf("NewCatalog failed: %v", err)
	}
	return NewRegistry(catalog, DefaultTimeouts())
}

func TestRegistry_Resolve(t *testing.T) {
	reg := testRegistry(t)
	account := &models.CarrierAccount{UserId: "u1", AccountId: "usps-1", Carrier: CarrierUSPS, Active: true}

	a, ok := reg.Resolve(account, false, "")
	if !ok {
		t.Fatal("Expected sandbox adapter")
	}
	b, _ := reg.Resolve(account, false, "")
	if a != b {
		t.Error("Expected cached adapter")
	}
	if _, isSandbox := Unwrap(a).(*SandboxAdapter); !isSandbox {
		t.Errorf("Expected sandbox adapter, got %T", Unwrap(a))
	}

	c, _ := reg.Resolve(account, true, "")
	if c == a {
		t.Error("Test mode should have its own instance")
	}

	reg.Invalidate(account)
	d, _ := reg.Resolve(account, false, "")
	if d == a {
		t.Error("Expected a fresh adapter after Invalidate")
	}
}

func TestRegistry_ResolveRefusals(t *testing.T) {
	reg := testRegistry(t)

	tests := []struct {
		name    string
		account *models.CarrierAccount
		isTest  bool
	}{
		{"nil account", nil, false},
		{"inactive", &models.CarrierAccount{UserId: "u", AccountId: "a", Carrier: CarrierUSPS}, false},
		{"unsupported carrier", &models.CarrierAccount{UserId: "u", AccountId: "a", Carrier: "pony_express", Active: true}, false},
		{"missing credentials", &models.CarrierAccount{UserId: "u", AccountId: "b", Carrier: CarrierUPS, Active: true}, false},
		{"no test endpoint", &models.CarrierAccount{UserId: "u", AccountId: "c", Carrier: CarrierUPS, Active: true,
			Credentials: map[string]string{CredentialAPIKey: "k", CredentialAPISecret: "s"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := reg.Resolve(tt.account, tt.isTest, ""); ok {
				t.Error("Expected resolve to fail")
			}
		})
	}
}

func TestRegistry_TestModeFallsBackToSandbox(t *testing.T) {
	reg := testRegistry(t)
	account := &models.CarrierAccount{UserId: "u1", AccountId: "fx-1", Carrier: CarrierFedEx, Active: true}

	a, ok := reg.Resolve(account, true, "")
	if !ok {
		t.Fatal("Expected sandbox fallback in test mode")
	}
	if _, isSandbox := Unwrap(a).(*SandboxAdapter); !isSandbox {
		t.Errorf("Expected sandbox adapter, got %T", Unwrap(a))
	}
	if _, ok := reg.Resolve(account, false, ""); ok {
		t.Error("Production gateway without endpoint should not resolve")
	}
}

func TestRegistry_RegisterOverride(t *testing.T) {
	reg := testRegistry(t)
	calls := 0
	reg.Register(CarrierUPS, func(CarrierSpec, *models.CarrierAccount, bool, string) (Adapter, error) {
		calls++
		return &stubAdapter{}, nil
	})
	account := &models.CarrierAccount{UserId: "u1", AccountId: "ups-1", Carrier: CarrierUPS, Active: true}
	if _, ok := reg.Resolve(account, false, ""); !ok || calls != 1 {
		t.Fatalf("Expected override to be used, calls=%d", calls)
	}

	reg.Register(CarrierDHLeCommerce, func(CarrierSpec, *models.CarrierAccount, bool, string) (Adapter, error) {
		return nil, errors.New("never reached")
	})
	dhl := &models.CarrierAccount{UserId: "u1", AccountId: "dhl-1", Carrier: CarrierDHLeCommerce, Active: true}
	if _, ok := reg.Resolve(dhl, false, ""); ok {
		t.Error("Carrier missing from catalogue must not resolve")
	}
}

func TestSandbox_Deterministic(t *testing.T) {
	reg := testRegistry(t)
	account := &models.CarrierAccount{UserId: "u1", AccountId: "usps-1", Carrier: CarrierUSPS, Active: true}
	a, _ := reg.Resolve(account, false, "")
	ctx := context.Background()

	shipment := &models.Shipment{
		Id:        "s-1",
		Sender:    models.Address{Country: "US"},
		Recipient: models.Address{City: "Austin", State: "TX", Zip: "78701", Country: "US"},
		Packages:  []models.Package{{Weight: decimal.NewFromInt(32), WeightUnit: "oz"}},
	}
	products, err := a.Products(ctx, shipment)
	if err != nil {
		t.Fatalf("Products failed: %v", err)
	}
	if len(products) != 1 || !products[0].Rate.Equal(decimal.RequireFromString("6.00")) {
		t.Fatalf("Expected 4.00 + 2lb x 1.00, got %+v", products)
	}

	first, err := a.Label(ctx, shipment, products[0])
	if err != nil {
		t.Fatalf("Label failed: %v", err)
	}
	second, _ := a.Label(ctx, shipment, products[0])
	if first.TrackingId != second.TrackingId || first.TrackingId[:2] != "US" {
		t.Errorf("Tracking ids not deterministic: %s vs %s", first.TrackingId, second.TrackingId)
	}
	if first.Rate != nil {
		t.Error("Quoted purchase should not be re-priced")
	}

	unquoted, _ := a.Label(ctx, shipment, models.Product{Service: "ground_advantage"})
	if unquoted.Rate == nil || !unquoted.Rate.Amount.Equal(decimal.RequireFromString("6.00")) {
		t.Errorf("Expected sandbox to price unquoted label, got %+v", unquoted.Rate)
	}

	tracker, ok := AsTrackingProvider(a)
	if !ok {
		t.Fatal("Sandbox should provide tracking")
	}
	if info, err := tracker.GetTrackingInfo(ctx, first.TrackingId); err != nil || info.Status == "" {
		t.Errorf("Unexpected tracking %+v, %v", info, err)
	}
}
