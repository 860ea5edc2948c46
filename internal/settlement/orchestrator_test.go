package settlement

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"label-settlement-go/internal/carriers"
	"label-settlement-go/internal/database"
	"label-settlement-go/internal/ledger"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAdapter quotes a fixed ground rate and records every call.
type mockAdapter struct {
	mu          sync.Mutex
	calls       map[string]int
	rate        decimal.Decimal
	initErr     error
	productsErr error
	labelErr    error
}

func newMockAdapter(rate string) *mockAdapter {
	return &mockAdapter{calls: map[string]int{}, rate: decimal.RequireFromString(rate)}
}

func (m *mockAdapter) inc(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
}

func (m *mockAdapter) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *mockAdapter) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

func (m *mockAdapter) Init(context.Context) error {
	m.inc("init")
	return m.initErr
}

func (m *mockAdapter) Products(context.Context, *models.Shipment) ([]models.Product, error) {
	m.inc("products")
	if m.productsErr != nil {
		return nil, m.productsErr
	}
	return []models.Product{
		{Carrier: carriers.CarrierUPS, Service: "express", ServiceCode: "EXP", Rate: m.rate.Mul(decimal.NewFromInt(3)), Currency: "USD"},
		{Carrier: carriers.CarrierUPS, Service: "ground", ServiceCode: "GND", Rate: m.rate, Currency: "USD"},
	}, nil
}

func (m *mockAdapter) Label(_ context.Context, sh *models.Shipment, _ models.Product) (*carriers.LabelResult, error) {
	m.inc("label")
	if m.labelErr != nil {
		return nil, m.labelErr
	}
	return &carriers.LabelResult{
		TrackingId: "1Z" + sh.OrderId,
		Labels:     []models.Label{{Format: "PDF", Data: "JVBERi0=", TrackingId: "1Z" + sh.OrderId}},
	}, nil
}

type mockResolver struct {
	adapter  carriers.Adapter
	fail     bool
	resolves int32
	lastTest atomic.Bool
}

func (r *mockResolver) Resolve(_ *models.CarrierAccount, isTest bool, _ string) (carriers.Adapter, bool) {
	atomic.AddInt32(&r.resolves, 1)
	r.lastTest.Store(isTest)
	if r.fail {
		return nil, false
	}
	return r.adapter, true
}

type fixture struct {
	db       *database.Service
	store    Store
	ledger   *ledger.Service
	svc      *Service
	adapter  *mockAdapter
	resolver *mockResolver
	user     *models.User
	account  *models.CarrierAccount
	orders   int32
}

type fixtureOpts struct {
	balance    string
	minBalance string
	fee        models.FeeConfig
	payOffline bool
	services   []models.ServiceOverride
	wrap       func(Store) Store
}

func tenPercent() models.FeeConfig {
	return models.FeeConfig{Basis: models.FeeBasisPercentage, Amount: decimal.NewFromInt(10), Currency: "USD"}
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := database.NewService(ctx, models.DatabaseConfig{
		Path:            filepath.Join(t.TempDir(), "settlement.db"),
		MaxOpenConns:    8,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
		PingTimeout:     5 * time.Second,
		BusyTimeout:     10 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(db.Close)

	minBalance := decimal.Zero
	if opts.minBalance != "" {
		minBalance = decimal.RequireFromString(opts.minBalance)
	}
	userId := uuid.NewString()
	_, err = db.CreateUser(ctx, store.CreateUserParams{
		Id: userId, Name: "Shipper", Email: userId + "@example.com", MinBalance: minBalance, Currency: "USD",
	})
	require.NoError(t, err)
	if opts.balance != "" {
		amount := decimal.RequireFromString(opts.balance)
		_, err = db.ApplyBalanceDelta(ctx, store.BalanceDeltaParams{UserId: userId, TotalDelta: amount, DepositDelta: amount})
		require.NoError(t, err)
	}
	user, err := db.GetUserById(ctx, userId)
	require.NoError(t, err)

	account := &models.CarrierAccount{
		UserId:     userId,
		Carrier:    carriers.CarrierUPS,
		AccountId:  "ups-" + userId[:8],
		Name:       "UPS main",
		Active:     true,
		PayOffline: opts.payOffline,
		Fee:        opts.fee,
		Currency:   "USD",
		Services:   opts.services,
	}
	require.NoError(t, db.CreateCarrierAccount(ctx, account))

	var st Store = db
	if opts.wrap != nil {
		st = opts.wrap(db)
	}
	adapter := newMockAdapter("12.34")
	resolver := &mockResolver{adapter: adapter}
	l := ledger.NewService(db, nil, nil, 0)

	return &fixture{
		db:       db,
		store:    st,
		ledger:   l,
		svc:      NewService(st, l, resolver, nil, nil),
		adapter:  adapter,
		resolver: resolver,
		user:     user,
		account:  account,
	}
}

func (f *fixture) newShipment(t *testing.T, mutate ...func(*models.Shipment)) *models.Shipment {
	t.Helper()
	n := atomic.AddInt32(&f.orders, 1)
	sh := &models.Shipment{
		OrderId:        fmt.Sprintf("UP%d", n),
		UserId:         f.user.Id,
		Sender:         models.Address{Name: "Warehouse", Street1: "10 Dock Rd", City: "Reno", State: "NV", Zip: "89501", Country: "US"},
		Recipient:      models.Address{Name: "Ann", Street1: "1 Main St", City: "Austin", State: "TX", Zip: "78701", Country: "US"},
		Packages:       []models.Package{{Weight: decimal.NewFromInt(2), WeightUnit: "lb"}},
		Carrier:        carriers.CarrierUPS,
		Service:        "ground",
		CarrierAccount: f.account.AccountId,
	}
	for _, m := range mutate {
		m(sh)
	}
	require.NoError(t, f.db.CreateShipment(context.Background(), sh))
	return sh
}

func (f *fixture) balance(t *testing.T) decimal.Decimal {
	t.Helper()
	u, err := f.db.GetUserById(context.Background(), f.user.Id)
	require.NoError(t, err)
	return u.Balance
}

func (f *fixture) billing(t *testing.T) []models.BillingRecord {
	t.Helper()
	records, err := f.db.ListBillingRecords(context.Background(), f.user.Id, 0, 0)
	require.NoError(t, err)
	return records
}

func (f *fixture) purchase(shipmentId string) (*PurchaseResult, error) {
	return f.svc.Purchase(context.Background(), PurchaseRequest{UserId: f.user.Id, ShipmentId: shipmentId})
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPurchase_ChargesRateAndFee(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	sh := f.newShipment(t)

	result, err := f.purchase(sh.Id)
	require.NoError(t, err)

	assert.True(t, result.Charge.ShippingCost.Equal(dec("12.34")))
	assert.True(t, result.Charge.Fee.Equal(dec("1.23")), "fee %s", result.Charge.Fee)
	assert.True(t, result.Charge.Total.Equal(dec("13.57")), "total %s", result.Charge.Total)
	assert.True(t, result.Balance.Equal(dec("86.43")), "balance %s", result.Balance)
	assert.True(t, f.balance(t).Equal(dec("86.43")))

	records := f.billing(t)
	require.Len(t, records, 1)
	assert.Equal(t, models.BillingTypeLabel, records[0].Type)
	assert.Equal(t, sh.OrderId, records[0].Description)
	assert.Equal(t, f.account.AccountId, records[0].Account)
	assert.True(t, records[0].Total.Equal(dec("13.57")))
	assert.True(t, records[0].Balance.Equal(dec("86.43")))
	require.NotNil(t, records[0].Details)
	assert.True(t, records[0].Details.ShippingCost.Equal(dec("12.34")))
	assert.True(t, records[0].Details.Fee.Equal(dec("1.23")))

	stored, err := f.db.GetShipment(context.Background(), sh.Id)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentFulfilled, stored.Status)
	assert.Equal(t, "1Z"+sh.OrderId, stored.TrackingId)
	require.NotNil(t, stored.Rate)
	assert.True(t, stored.Rate.Amount.Equal(dec("12.34")))
	assert.Len(t, stored.Labels, 1)
}

func TestPurchase_InsufficientBalanceForTotal(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "10.00", fee: tenPercent()})
	sh := f.newShipment(t)

	_, err := f.purchase(sh.Id)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.True(t, f.balance(t).Equal(dec("10.00")))
	assert.Empty(t, f.billing(t))
	assert.Equal(t, 0, f.adapter.count("label"))
	assert.Equal(t, 1, f.adapter.count("products"))

	stored, err := f.db.GetShipment(context.Background(), sh.Id)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentPending, stored.Status)
	assert.Empty(t, stored.Labels)
}

func TestPurchase_BalanceGateBeforeAnyCarrierCall(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "5.00", minBalance: "5.00", fee: tenPercent()})
	sh := f.newShipment(t)

	_, err := f.purchase(sh.Id)
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, 0, f.adapter.total(), "adapter must not be called")
	assert.Equal(t, int32(0), atomic.LoadInt32(&f.resolver.resolves), "adapter must not be resolved")
	assert.True(t, f.balance(t).Equal(dec("5.00")))
}

func TestPurchase_NoDoubleCommit(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	sh := f.newShipment(t)

	_, err := f.purchase(sh.Id)
	require.NoError(t, err)

	_, err = f.purchase(sh.Id)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.adapter.count("label"))
	assert.Equal(t, 1, f.adapter.count("init"), "second attempt must fail before the carrier")
	assert.True(t, f.balance(t).Equal(dec("86.43")))
	assert.Len(t, f.billing(t), 1)
}

func TestPurchase_ConcurrentAttemptsOnOneShipment(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	sh := f.newShipment(t)

	var succeeded int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.purchase(sh.Id); err == nil {
				atomic.AddInt32(&succeeded, 1)
			} else if !errors.Is(err, ErrNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), succeeded)
	assert.Equal(t, 1, f.adapter.count("label"))
	assert.True(t, f.balance(t).Equal(dec("86.43")))
}

func TestPurchase_ConcurrentPurchasesNeverOverdraw(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "30.00", fee: tenPercent()})
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, f.newShipment(t).Id)
	}

	var succeeded, insufficient int32
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.purchase(id)
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, ErrInsufficientBalance):
				atomic.AddInt32(&insufficient, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, int32(2), succeeded)
	assert.Equal(t, int32(3), insufficient)
	assert.Equal(t, 2, f.adapter.count("label"))
	assert.True(t, f.balance(t).Equal(dec("2.86")), "balance %s", f.balance(t))
	assert.Len(t, f.billing(t), 2)
}

func TestPurchase_PayOfflineAccount(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "1.00", payOffline: true, fee: tenPercent()})
	sh := f.newShipment(t)

	result, err := f.purchase(sh.Id)
	require.NoError(t, err)

	assert.Equal(t, 0, f.adapter.count("products"), "pay-offline accounts are not quoted")
	assert.Equal(t, 1, f.adapter.count("label"))
	assert.True(t, result.Charge.Total.IsZero())
	assert.Nil(t, result.Billing)
	assert.Empty(t, f.billing(t))
	assert.True(t, f.balance(t).Equal(dec("1.00")))

	stored, err := f.db.GetShipment(context.Background(), sh.Id)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentFulfilled, stored.Status)
}

func TestPurchase_TestModeSkipsSettlement(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	sh := f.newShipment(t)

	result, err := f.svc.Purchase(context.Background(), PurchaseRequest{UserId: f.user.Id, ShipmentId: sh.Id, IsTest: true})
	require.NoError(t, err)

	assert.True(t, result.IsTest)
	assert.True(t, result.Charge.Total.Equal(dec("13.57")))
	assert.True(t, f.resolver.lastTest.Load())
	assert.Equal(t, 1, f.adapter.count("label"))
	assert.True(t, f.balance(t).Equal(dec("100.00")))
	assert.Empty(t, f.billing(t))

	stored, err := f.db.GetShipment(context.Background(), sh.Id)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentPending, stored.Status)
	assert.Empty(t, stored.Labels)
}

func TestPurchase_CarrierRejectionIsValidation(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	f.adapter.productsErr = carriers.Rejection("destination not serviceable")
	sh := f.newShipment(t)

	_, err := f.purchase(sh.Id)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, PublicMessage(err), "destination not serviceable")
	assert.Equal(t, 0, f.adapter.count("label"))
	assert.True(t, f.balance(t).Equal(dec("100.00")))
}

func TestPurchase_CarrierFaults(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fixture)
		wantErr error
	}{
		{"init fails", func(f *fixture) { f.adapter.initErr = errors.New("bad credentials") }, ErrAdapter},
		{"products fault", func(f *fixture) { f.adapter.productsErr = errors.New("connection reset") }, ErrAdapter},
		{"label fault", func(f *fixture) { f.adapter.labelErr = errors.New("502") }, ErrAdapter},
		{"no adapter", func(f *fixture) { f.resolver.fail = true }, ErrNoAdapter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
			tt.setup(f)
			sh := f.newShipment(t)

			_, err := f.purchase(sh.Id)
			require.ErrorIs(t, err, tt.wantErr)
			assert.NotContains(t, PublicMessage(err), "502")
			assert.True(t, f.balance(t).Equal(dec("100.00")))
			assert.Empty(t, f.billing(t))
		})
	}
}

func TestPurchase_LabelOutcomeUnknownFlagsShipment(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	f.adapter.labelErr = fmt.Errorf("%w after 45s", carriers.ErrOutcomeUnknown)
	sh := f.newShipment(t)

	_, err := f.purchase(sh.Id)
	require.ErrorIs(t, err, ErrAdapter)
	require.ErrorIs(t, err, carriers.ErrOutcomeUnknown)

	stored, err := f.db.GetShipment(context.Background(), sh.Id)
	require.NoError(t, err)
	assert.Equal(t, models.AccountingManualReview, stored.AccountingStatus)

	f.adapter.labelErr = nil
	_, err = f.purchase(sh.Id)
	require.ErrorIs(t, err, ErrValidation, "shipment under review must not be bought again")
	assert.Equal(t, 1, f.adapter.count("label"))
}

// slowLabel blocks in Label without watching its context, like a carrier
// that keeps processing after the client hangs up.
type slowLabel struct {
	*mockAdapter
	started chan struct{}
	delay   time.Duration
}

func (s *slowLabel) Label(ctx context.Context, sh *models.Shipment, p models.Product) (*carriers.LabelResult, error) {
	close(s.started)
	time.Sleep(s.delay)
	return s.mockAdapter.Label(ctx, sh, p)
}

func TestPurchase_CancelledDuringLabelFlagsShipment(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	slow := &slowLabel{mockAdapter: f.adapter, started: make(chan struct{}), delay: 200 * time.Millisecond}
	f.resolver.adapter = carriers.Guard(slow, carriers.Timeouts{Label: time.Second, Default: time.Second})
	sh := f.newShipment(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-slow.started
		cancel()
	}()

	_, err := f.svc.Purchase(ctx, PurchaseRequest{UserId: f.user.Id, ShipmentId: sh.Id})
	require.ErrorIs(t, err, carriers.ErrOutcomeUnknown)
	require.ErrorIs(t, err, context.Canceled)

	stored, err := f.db.GetShipment(context.Background(), sh.Id)
	require.NoError(t, err)
	assert.Equal(t, models.AccountingManualReview, stored.AccountingStatus)
	assert.Equal(t, models.ShipmentPending, stored.Status)
	assert.True(t, f.balance(t).Equal(dec("100.00")))
}

// editOnAccountLookup runs edit once, the first time the carrier account is
// read, to change the shipment between the unlocked checks and the lock.
type editOnAccountLookup struct {
	Store
	edit func(ctx context.Context)
}

func (s *editOnAccountLookup) GetCarrierAccount(ctx context.Context, accountId string) (*models.CarrierAccount, error) {
	if edit := s.edit; edit != nil {
		s.edit = nil
		edit(ctx)
	}
	return s.Store.GetCarrierAccount(ctx, accountId)
}

func TestPurchase_CommitKeepsConcurrentShipmentEdits(t *testing.T) {
	var wrapper *editOnAccountLookup
	f := newFixture(t, fixtureOpts{
		balance: "100.00",
		fee:     tenPercent(),
		wrap: func(st Store) Store {
			wrapper = &editOnAccountLookup{Store: st}
			return wrapper
		},
	})
	sh := f.newShipment(t)
	wrapper.edit = func(ctx context.Context) {
		current, err := f.db.GetShipment(ctx, sh.Id)
		require.NoError(t, err)
		current.Sender.Phone = "555-0100"
		require.NoError(t, f.db.UpdateShipment(ctx, current))
	}

	_, err := f.purchase(sh.Id)
	require.NoError(t, err)

	stored, err := f.db.GetShipment(context.Background(), sh.Id)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentFulfilled, stored.Status)
	assert.Equal(t, "555-0100", stored.Sender.Phone)
	assert.Equal(t, "1Z"+sh.OrderId, stored.TrackingId)
}

func TestPurchase_StructuralValidationBeforeCarrier(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.Shipment)
	}{
		{"zero weight", func(s *models.Shipment) { s.Packages[0].Weight = decimal.Zero }},
		{"no packages", func(s *models.Shipment) { s.Packages = nil }},
		{"bad unit", func(s *models.Shipment) { s.Packages[0].WeightUnit = "stone" }},
		{"missing zip", func(s *models.Shipment) { s.Recipient.Zip = "" }},
		{"international without customs", func(s *models.Shipment) { s.Recipient.Country = "CA" }},
		{"no service", func(s *models.Shipment) { s.Service = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
			sh := f.newShipment(t, tt.mutate)

			_, err := f.purchase(sh.Id)
			require.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, int32(0), atomic.LoadInt32(&f.resolver.resolves))
			assert.Equal(t, 0, f.adapter.total())
		})
	}
}

func TestPurchase_DimensionsRequiredByCatalogue(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	catalog, err := carriers.NewCatalog(carriers.CarrierSpec{Code: carriers.CarrierUPS, Name: "UPS", DimensionServices: []string{"ground"}})
	require.NoError(t, err)
	f.svc = NewService(f.store, f.ledger, f.resolver, catalog, nil)

	sh := f.newShipment(t)
	_, err = f.purchase(sh.Id)
	require.ErrorIs(t, err, ErrValidation)

	withDims := f.newShipment(t, func(s *models.Shipment) {
		s.Packages[0].Length = decimal.NewFromInt(10)
		s.Packages[0].Width = decimal.NewFromInt(8)
		s.Packages[0].Height = decimal.NewFromInt(4)
	})
	_, err = f.purchase(withDims.Id)
	require.NoError(t, err)
}

func TestPurchase_ServiceOverride(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		balance: "100.00",
		fee:     tenPercent(),
		services: []models.ServiceOverride{
			{Name: "economy", CarrierService: "ground", CarrierCode: "GND"},
			{Name: "vip"},
		},
	})

	sh := f.newShipment(t, func(s *models.Shipment) { s.Service = "economy" })
	result, err := f.purchase(sh.Id)
	require.NoError(t, err)
	assert.Equal(t, "ground", result.Shipment.Service)
	assert.True(t, result.Product.Rate.Equal(dec("12.34")))

	vip := f.newShipment(t, func(s *models.Shipment) { s.Service = "vip" })
	_, err = f.purchase(vip.Id)
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, PublicMessage(err), "not mapped")
}

func TestPurchase_UnknownServiceIsValidation(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	sh := f.newShipment(t, func(s *models.Shipment) { s.Service = "overnight" })

	_, err := f.purchase(sh.Id)
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.adapter.count("label"))
}

func TestPurchase_NotFoundAndInvalidAccount(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})

	_, err := f.purchase("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	sh := f.newShipment(t)
	_, err = f.svc.Purchase(context.Background(), PurchaseRequest{UserId: "someone-else", ShipmentId: sh.Id})
	assert.ErrorIs(t, err, ErrNotFound)

	orphan := f.newShipment(t, func(s *models.Shipment) { s.CarrierAccount = "deleted-account" })
	_, err = f.purchase(orphan.Id)
	assert.ErrorIs(t, err, ErrInvalidAccount)

	inactive := &models.CarrierAccount{UserId: f.user.Id, Carrier: carriers.CarrierUPS, AccountId: "ups-off", Active: false}
	require.NoError(t, f.db.CreateCarrierAccount(context.Background(), inactive))
	off := f.newShipment(t, func(s *models.Shipment) { s.CarrierAccount = "ups-off" })
	_, err = f.purchase(off.Id)
	assert.ErrorIs(t, err, ErrInvalidAccount)

	assert.Equal(t, 0, f.adapter.total())
}

// flakyUpdates fails the first n UpdateShipment calls.
type flakyUpdates struct {
	Store
	failures int32
}

func (s *flakyUpdates) UpdateShipment(ctx context.Context, sh *models.Shipment) error {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return errors.New("database is locked")
	}
	return s.Store.UpdateShipment(ctx, sh)
}

func TestPurchase_PartialCommit(t *testing.T) {
	f := newFixture(t, fixtureOpts{
		balance: "100.00",
		fee:     tenPercent(),
		wrap:    func(st Store) Store { return &flakyUpdates{Store: st, failures: 1} },
	})
	sh := f.newShipment(t)

	_, err := f.purchase(sh.Id)
	require.ErrorIs(t, err, ErrPartialCommit)
	assert.NotContains(t, PublicMessage(err), "database is locked")

	// The debit stands: the carrier has issued and billed the label.
	assert.True(t, f.balance(t).Equal(dec("86.43")))
	assert.Len(t, f.billing(t), 1)

	stored, err := f.db.GetShipment(context.Background(), sh.Id)
	require.NoError(t, err)
	assert.Equal(t, models.AccountingManualReview, stored.AccountingStatus)
	assert.Equal(t, "1Z"+sh.OrderId, stored.TrackingId)

	_, err = f.purchase(sh.Id)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 1, f.adapter.count("label"))
}

func TestPurchaseAndCancel_RestoresBalance(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	sh := f.newShipment(t)
	ctx := context.Background()

	_, err := f.purchase(sh.Id)
	require.NoError(t, err)
	require.True(t, f.balance(t).Equal(dec("86.43")))

	cancelled, err := f.svc.UpdateShippingRecordStatus(ctx, f.user.Id, sh.Id, models.ShipmentDeleted)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentDeleted, cancelled.Status)
	assert.True(t, f.balance(t).Equal(dec("100.00")), "balance %s", f.balance(t))

	label, err := f.db.GetBillingRecordByDescription(ctx, f.user.Id, sh.OrderId, models.BillingTypeLabel)
	require.NoError(t, err)
	assert.Equal(t, models.BillingStatusDeleted, label.Status)
	refund, err := f.db.GetBillingRecordByDescription(ctx, f.user.Id, sh.OrderId, models.BillingTypeRefund)
	require.NoError(t, err)
	assert.True(t, refund.Total.Equal(dec("13.57")))
	assert.True(t, refund.Balance.Equal(dec("100.00")))

	_, err = f.svc.UpdateShippingRecordStatus(ctx, f.user.Id, sh.Id, models.ShipmentDeleted)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.True(t, f.balance(t).Equal(dec("100.00")))
}

func TestCancel_RetryAfterShipmentWriteFailsDoesNotRefundTwice(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	sh := f.newShipment(t)
	ctx := context.Background()
	_, err := f.purchase(sh.Id)
	require.NoError(t, err)

	flaky := &flakyUpdates{Store: f.db, failures: 1}
	svc := NewService(flaky, f.ledger, f.resolver, nil, nil)
	_, err = svc.UpdateShippingRecordStatus(ctx, f.user.Id, sh.Id, models.ShipmentDeleted)
	require.Error(t, err)
	assert.True(t, f.balance(t).Equal(dec("100.00")))

	_, err = svc.UpdateShippingRecordStatus(ctx, f.user.Id, sh.Id, models.ShipmentDeleted)
	require.NoError(t, err)
	assert.True(t, f.balance(t).Equal(dec("100.00")), "refund applied twice")
}

func TestUpdateShippingRecordStatus_Transitions(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "100.00", fee: tenPercent()})
	ctx := context.Background()

	pending := f.newShipment(t)
	_, err := f.svc.UpdateShippingRecordStatus(ctx, f.user.Id, pending.Id, models.ShipmentDeleted)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = f.svc.UpdateShippingRecordStatus(ctx, f.user.Id, pending.Id, models.ShipmentFulfilled)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)

	sh := f.newShipment(t)
	_, err = f.purchase(sh.Id)
	require.NoError(t, err)

	updated, err := f.svc.UpdateShippingRecordStatus(ctx, f.user.Id, sh.Id, models.ShipmentDelPending)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentDelPending, updated.Status)
	updated, err = f.svc.UpdateShippingRecordStatus(ctx, f.user.Id, sh.Id, models.ShipmentFulfilled)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentFulfilled, updated.Status)
	assert.True(t, f.balance(t).Equal(dec("86.43")), "status toggles must not touch the ledger")

	_, err = f.svc.UpdateShippingRecordStatus(ctx, f.user.Id, sh.Id, models.ShipmentPending)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	_, err = f.svc.UpdateShippingRecordStatus(ctx, "someone-else", sh.Id, models.ShipmentDeleted)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateShippingRecordStatus(ctx, f.user.Id, sh.Id, models.ShipmentDelPending)
	require.NoError(t, err)
	_, err = f.svc.UpdateShippingRecordStatus(ctx, f.user.Id, sh.Id, models.ShipmentDeleted)
	require.NoError(t, err)
	assert.True(t, f.balance(t).Equal(dec("100.00")))
}

func TestCancel_PayOfflineShipmentChangesStatusOnly(t *testing.T) {
	f := newFixture(t, fixtureOpts{balance: "20.00", payOffline: true})
	sh := f.newShipment(t)
	_, err := f.purchase(sh.Id)
	require.NoError(t, err)

	cancelled, err := f.svc.UpdateShippingRecordStatus(context.Background(), f.user.Id, sh.Id, models.ShipmentDeleted)
	require.NoError(t, err)
	assert.Equal(t, models.ShipmentDeleted, cancelled.Status)
	assert.True(t, f.balance(t).Equal(dec("20.00")))
	assert.Empty(t, f.billing(t))
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{invalid("recipient", "missing zip"), "recipient: missing zip"},
		{fmt.Errorf("%w: x", ErrNotFound), "Shipment not found or already processed"},
		{fmt.Errorf("%w: x", ErrInsufficientBalance), "Insufficient balance"},
		{fmt.Errorf("%w: ups: secret upstream detail", ErrAdapter), "Unable to complete the request, please try again later"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PublicMessage(tt.err))
	}
}
