// Package settlement runs the label purchase pipeline: validate, rate, fee,
// balance check, label issuance and the billing entry that settles it.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"label-settlement-go/internal/carriers"
	"label-settlement-go/internal/fees"
	"label-settlement-go/internal/ledger"
	"label-settlement-go/internal/metrics"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the persistence the orchestrator reads and writes.
type Store interface {
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	store.AccountStore
	store.ShipmentStore
	store.BillingStore
}

// Resolver hands out initialised-on-demand carrier adapters.
type Resolver interface {
	Resolve(account *models.CarrierAccount, isTest bool, facility string) (carriers.Adapter, bool)
}

type Service struct {
	store    Store
	ledger   *ledger.Service
	resolver Resolver
	catalog  *carriers.Catalog
	metrics  *metrics.SettlementMetrics
}

// NewService wires the orchestrator. catalog and m may be nil.
func NewService(st Store, l *ledger.Service, resolver Resolver, catalog *carriers.Catalog, m *metrics.SettlementMetrics) *Service {
	return &Service{store: st, ledger: l, resolver: resolver, catalog: catalog, metrics: m}
}

type PurchaseRequest struct {
	UserId     string
	ShipmentId string
	IsTest     bool
}

type PurchaseResult struct {
	Shipment *models.Shipment
	Product  models.Product
	Charge   fees.Charge
	Billing  *models.BillingRecord
	Balance  decimal.Decimal
	IsTest   bool
}

// Quote is a priced product ready to be bought.
type Quote struct {
	Product models.Product
	Charge  fees.Charge
}

// Purchase buys a label for a pending shipment and settles it against the
// user's balance. Once the carrier has issued a label the purchase is
// committed; a failure after that point is returned as ErrPartialCommit and
// the shipment is flagged for manual review.
func (s *Service) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	sh, account, err := s.prepare(ctx, req.UserId, req.ShipmentId)
	if err != nil {
		return nil, err
	}

	if req.IsTest {
		result, err := s.purchaseTest(ctx, sh, account)
		s.record(account.Carrier, err, true)
		return result, err
	}

	var result *PurchaseResult
	err = s.ledger.WithUserLock(ctx, req.UserId, func(ctx context.Context, sess *ledger.Session) error {
		sh, err := s.recheck(ctx, sh.Id, account)
		if err != nil {
			return err
		}
		user, err := s.gate(ctx, sess, account)
		if err != nil {
			return err
		}
		adapter, err := s.Connect(ctx, account, false, facilityFor(sh, account))
		if err != nil {
			return err
		}
		q, err := s.Quote(ctx, adapter, sh, account)
		if err != nil {
			return err
		}
		if err := checkFunds(user, q.Charge); err != nil {
			return err
		}
		result, err = s.buy(ctx, sess, adapter, sh, account, q, false)
		return err
	})
	s.record(account.Carrier, err, false)
	return result, err
}

func (s *Service) purchaseTest(ctx context.Context, sh *models.Shipment, account *models.CarrierAccount) (*PurchaseResult, error) {
	adapter, err := s.Connect(ctx, account, true, facilityFor(sh, account))
	if err != nil {
		return nil, err
	}
	q, err := s.Quote(ctx, adapter, sh, account)
	if err != nil {
		return nil, err
	}
	return s.buy(ctx, nil, adapter, sh, account, q, true)
}

// Settle buys and settles a shipment the caller has already prepared, connected
// and quoted. Batch imports use it to run rows through the purchase commit path.
func (s *Service) Settle(ctx context.Context, adapter carriers.Adapter, sh *models.Shipment, account *models.CarrierAccount, q Quote, isTest bool) (*PurchaseResult, error) {
	if isTest {
		result, err := s.buy(ctx, nil, adapter, sh, account, q, true)
		s.record(account.Carrier, err, true)
		return result, err
	}

	var result *PurchaseResult
	err := s.ledger.WithUserLock(ctx, sh.UserId, func(ctx context.Context, sess *ledger.Session) error {
		current, err := s.recheck(ctx, sh.Id, account)
		if err != nil {
			return err
		}
		// The quote was made for the caller's copy.
		current.Recipient = sh.Recipient
		current.Carrier, current.Service, current.ServiceCode = sh.Carrier, sh.Service, sh.ServiceCode

		user, err := s.gate(ctx, sess, account)
		if err != nil {
			return err
		}
		if err := checkFunds(user, q.Charge); err != nil {
			return err
		}
		result, err = s.buy(ctx, sess, adapter, current, account, q, false)
		return err
	})
	s.record(account.Carrier, err, false)
	return result, err
}

// prepare runs the checks that need no lock and no carrier: ownership,
// status and account.
func (s *Service) prepare(ctx context.Context, userId, shipmentId string) (*models.Shipment, *models.CarrierAccount, error) {
	sh, err := s.store.GetShipment(ctx, shipmentId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, shipmentId)
		}
		return nil, nil, err
	}
	if sh.UserId != userId || sh.Status != models.ShipmentPending {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, shipmentId)
	}
	if sh.AccountingStatus == models.AccountingManualReview {
		return nil, nil, invalid("shipment", "order %s is awaiting manual review", sh.OrderId)
	}

	account, err := s.store.GetCarrierAccount(ctx, sh.CarrierAccount)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidAccount, sh.CarrierAccount)
		}
		return nil, nil, err
	}
	if !account.Active || account.UserId != userId {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidAccount, sh.CarrierAccount)
	}
	if err := s.PrepareShipment(sh, account); err != nil {
		return nil, nil, err
	}
	return sh, account, nil
}

// PrepareShipment applies the account's service overrides and checks the
// shipment is complete enough to rate.
func (s *Service) PrepareShipment(sh *models.Shipment, account *models.CarrierAccount) error {
	if sh.Carrier == "" {
		sh.Carrier = account.Carrier
	}
	if err := applyServiceOverride(sh, account); err != nil {
		return err
	}
	return ValidateShipment(sh, s.specFor(account.Carrier))
}

// recheck runs under the user lock so two purchases of one shipment cannot
// both pass. It returns the shipment as stored now, prepared for account;
// that copy is the one written back on commit.
func (s *Service) recheck(ctx context.Context, shipmentId string, account *models.CarrierAccount) (*models.Shipment, error) {
	current, err := s.store.GetShipment(ctx, shipmentId)
	if err != nil {
		return nil, err
	}
	if current.Status != models.ShipmentPending || current.AccountingStatus == models.AccountingManualReview {
		return nil, fmt.Errorf("%w: shipment %s is %s", ErrNotFound, shipmentId, current.Status)
	}
	if err := s.PrepareShipment(current, account); err != nil {
		return nil, err
	}
	return current, nil
}

// gate rejects fee-charging purchases when the balance is at or below the
// user's minimum. It returns nil user for pay-offline accounts.
func (s *Service) gate(ctx context.Context, sess *ledger.Session, account *models.CarrierAccount) (*models.User, error) {
	if !account.FeesApply() {
		return nil, nil
	}
	user, err := sess.User(ctx)
	if err != nil {
		return nil, err
	}
	if user.Balance.LessThanOrEqual(user.MinBalance) {
		return nil, fmt.Errorf("%w: balance %s is at or below minimum %s",
			ErrInsufficientBalance, user.Balance.String(), user.MinBalance.String())
	}
	return user, nil
}

func checkFunds(user *models.User, charge fees.Charge) error {
	if user != nil && user.Balance.LessThan(charge.Total) {
		return fmt.Errorf("%w: balance %s, required %s",
			ErrInsufficientBalance, user.Balance.String(), charge.Total.String())
	}
	return nil
}

func (s *Service) specFor(carrier string) *carriers.CarrierSpec {
	if s.catalog == nil {
		return nil
	}
	spec, ok := s.catalog.Lookup(carrier)
	if !ok {
		return nil
	}
	return &spec
}

func facilityFor(sh *models.Shipment, account *models.CarrierAccount) string {
	if sh.Facility != "" {
		return sh.Facility
	}
	return account.Facility
}

// Connect resolves the account's adapter and initialises it.
func (s *Service) Connect(ctx context.Context, account *models.CarrierAccount, isTest bool, facility string) (carriers.Adapter, error) {
	adapter, ok := s.resolver.Resolve(account, isTest, facility)
	if !ok {
		return nil, fmt.Errorf("%w: %s account %s", ErrNoAdapter, account.Carrier, account.AccountId)
	}
	start := time.Now()
	err := adapter.Init(ctx)
	s.metrics.ObserveCarrierCall(account.Carrier, "init", start)
	if err != nil {
		return nil, fmt.Errorf("%w: init %s: %w", ErrAdapter, account.Carrier, err)
	}
	return adapter, nil
}

// Quote validates the recipient with the carrier when it can, rates the
// shipment and adds the platform fee.
func (s *Service) Quote(ctx context.Context, adapter carriers.Adapter, sh *models.Shipment, account *models.CarrierAccount) (Quote, error) {
	if v, ok := carriers.AsAddressValidator(adapter); ok {
		normalised, err := v.ValidateAddress(ctx, sh.Recipient)
		if err != nil {
			return Quote{}, carrierError("recipient", account.Carrier, "address validation", err)
		}
		if normalised != nil {
			sh.Recipient = *normalised
		}
	}

	product, err := s.rate(ctx, adapter, sh, account)
	if err != nil {
		return Quote{}, err
	}

	currency := product.Currency
	if currency == "" {
		currency = account.Currency
	}
	charge := fees.Charge{Currency: currency, ShippingCost: product.Rate, Total: product.Rate}
	if account.FeesApply() {
		charge, err = fees.ComputeFee(sh, product.Rate, currency, account.Fee)
		if err != nil {
			return Quote{}, invalid("fee", "%s", err.Error())
		}
	}
	return Quote{Product: product, Charge: charge}, nil
}

// buy issues the label and, outside test mode, commits it. sess is nil for
// test purchases.
func (s *Service) buy(ctx context.Context, sess *ledger.Session, adapter carriers.Adapter, sh *models.Shipment, account *models.CarrierAccount, q Quote, isTest bool) (*PurchaseResult, error) {
	start := time.Now()
	label, err := adapter.Label(ctx, sh, q.Product)
	s.metrics.ObserveCarrierCall(account.Carrier, "label", start)
	if err != nil {
		if errors.Is(err, carriers.ErrOutcomeUnknown) && !isTest {
			s.flagForReview(ctx, sh, "label request timed out, carrier outcome unknown")
		}
		return nil, carrierError("label", account.Carrier, "label", err)
	}

	rate := models.Money{Amount: q.Charge.ShippingCost, Currency: q.Charge.Currency}
	if q.Product.Rate.IsZero() && label.Rate != nil {
		rate = *label.Rate
	}

	sh.Labels = append(sh.Labels, label.Labels...)
	sh.Forms = append(sh.Forms, label.Forms...)
	sh.TrackingId = label.TrackingId
	sh.Rate = &rate
	sh.Status = models.ShipmentFulfilled

	result := &PurchaseResult{Shipment: sh, Product: q.Product, Charge: q.Charge, IsTest: isTest}
	if isTest {
		return result, nil
	}
	return s.commit(ctx, sess, sh, account, result)
}

// rate picks the product to buy. Pay-offline accounts are not quoted; the
// label is bought at a zero pass-through rate in the account currency.
func (s *Service) rate(ctx context.Context, adapter carriers.Adapter, sh *models.Shipment, account *models.CarrierAccount) (models.Product, error) {
	if !account.FeesApply() {
		return models.Product{
			Carrier:     account.Carrier,
			Service:     sh.Service,
			ServiceCode: sh.ServiceCode,
			Rate:        decimal.Zero,
			Currency:    account.Currency,
		}, nil
	}

	start := time.Now()
	products, err := adapter.Products(ctx, sh)
	s.metrics.ObserveCarrierCall(account.Carrier, "products", start)
	if err != nil {
		return models.Product{}, carrierError("service", account.Carrier, "rating", err)
	}
	for _, p := range products {
		if p.Matches(sh.Service, sh.ServiceCode) {
			return p, nil
		}
	}
	return models.Product{}, invalid("service", "service %s is not available for this shipment", serviceName(sh))
}

// commit settles an issued label: billing entry and debit first, then the
// fulfilled shipment.
func (s *Service) commit(ctx context.Context, sess *ledger.Session, sh *models.Shipment, account *models.CarrierAccount, result *PurchaseResult) (*PurchaseResult, error) {
	if account.FeesApply() {
		entry := &models.BillingRecord{
			Type:        models.BillingTypeLabel,
			Description: sh.OrderId,
			Account:     account.AccountId,
			Total:       result.Charge.Total,
			Currency:    result.Charge.Currency,
			Details:     result.Charge.Details(),
		}
		var snap *models.BalanceSnapshot
		var err error
		if result.Charge.Total.IsPositive() {
			snap, err = sess.Debit(ctx, result.Charge.Total, entry)
		} else {
			snap, err = sess.ApplyDelta(ctx, decimal.Zero, decimal.Zero, entry, nil)
		}
		if err != nil {
			return nil, s.partialCommit(ctx, sh, account, result, "billing", err)
		}
		result.Billing = entry
		result.Balance = snap.Balance
	}

	if err := s.store.UpdateShipment(ctx, sh); err != nil {
		return nil, s.partialCommit(ctx, sh, account, result, "shipment", err)
	}

	zap.L().Info("Label purchased",
		zap.String("user_id", sh.UserId),
		zap.String("order_id", sh.OrderId),
		zap.String("carrier", account.Carrier),
		zap.String("tracking_id", sh.TrackingId),
		zap.String("total", result.Charge.Total.String()),
		zap.String("balance", result.Balance.String()))
	return result, nil
}

func (s *Service) partialCommit(ctx context.Context, sh *models.Shipment, account *models.CarrierAccount, result *PurchaseResult, stage string, cause error) error {
	zap.L().Error("Label issued but settlement failed, manual reconciliation required",
		zap.String("stage", stage),
		zap.String("user_id", sh.UserId),
		zap.String("shipment_id", sh.Id),
		zap.String("order_id", sh.OrderId),
		zap.String("carrier", account.Carrier),
		zap.String("account_id", account.AccountId),
		zap.String("tracking_id", sh.TrackingId),
		zap.String("total", result.Charge.Total.String()),
		zap.Bool("billed", result.Billing != nil),
		zap.Error(cause))
	s.metrics.PartialCommit()
	s.flagForReview(ctx, sh, fmt.Sprintf("%s write failed after label issuance", stage))
	return fmt.Errorf("%w: order %s tracking %s: %w", ErrPartialCommit, sh.OrderId, sh.TrackingId, cause)
}

// flagForReview marks the shipment for an operator. It is best effort: the
// write may fail for the same reason the purchase did.
func (s *Service) flagForReview(ctx context.Context, sh *models.Shipment, remark string) {
	sh.AccountingStatus = models.AccountingManualReview
	sh.Remark = remark
	if err := s.store.UpdateShipment(context.WithoutCancel(ctx), sh); err != nil {
		zap.L().Error("Failed to flag shipment for manual review",
			zap.String("shipment_id", sh.Id),
			zap.String("order_id", sh.OrderId),
			zap.Error(err))
	}
}

func (s *Service) record(carrier string, err error, isTest bool) {
	outcome := metrics.OutcomeSuccess
	switch {
	case err == nil && isTest:
		outcome = metrics.OutcomeTest
	case err == nil:
	case errors.Is(err, ErrPartialCommit):
		outcome = metrics.OutcomePartial
	case errors.Is(err, ErrInsufficientBalance):
		outcome = metrics.OutcomeInsufficient
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNotFound):
		outcome = metrics.OutcomeRejected
	case errors.Is(err, ErrAdapter), errors.Is(err, ErrNoAdapter):
		outcome = metrics.OutcomeAdapterError
	default:
		outcome = metrics.OutcomeError
	}
	s.metrics.Purchase(carrier, outcome)
}

// carrierError sorts a carrier failure into a user rejection or an adapter fault.
func carrierError(field, carrier, op string, err error) error {
	if r, ok := carriers.AsRejection(err); ok {
		return invalid(field, "%s", string(r))
	}
	return fmt.Errorf("%w: %s %s: %w", ErrAdapter, carrier, op, err)
}

func serviceName(sh *models.Shipment) string {
	if sh.Service != "" {
		return sh.Service
	}
	return sh.ServiceCode
}
