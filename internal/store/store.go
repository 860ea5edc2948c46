package store

import (
	"context"
	"errors"
	"time"

	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicate              = errors.New("duplicate record")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrUploadInProgress       = errors.New("an upload is already in progress for this user")
	ErrStaleRecord            = errors.New("record is no longer active")
)

// CreateUserParams contains the parameters for creating a user.
type CreateUserParams struct {
	Id         string
	Name       string
	Email      string
	Role       string
	MinBalance decimal.Decimal
	Currency   string
}

// BalanceDeltaParams describes one atomic balance write. The write only
// succeeds if the user's version still equals ExpectedVersion.
//
// Entry, when set, is inserted in the same transaction with its Balance set to
// the resulting balance. Amend, when set, is an existing billing record whose
// total, details, status and accounting fields are rewritten in the same
// transaction. Only an ACTIVE record can be amended; anything else fails the
// whole write with ErrStaleRecord.
type BalanceDeltaParams struct {
	UserId          string
	TotalDelta      decimal.Decimal
	DepositDelta    decimal.Decimal
	ExpectedVersion int64
	Entry           *models.BillingRecord
	Amend           *models.BillingRecord
}

type UserStore interface {
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error)
	// SetUploading flips the batch-import flag. Setting it when it is already
	// set fails with ErrUploadInProgress.
	SetUploading(ctx context.Context, userId string, uploading bool) error
}

type BalanceStore interface {
	ApplyBalanceDelta(ctx context.Context, params BalanceDeltaParams) (*models.BalanceSnapshot, error)
}

type AccountStore interface {
	CreateCarrierAccount(ctx context.Context, account *models.CarrierAccount) error
	GetCarrierAccount(ctx context.Context, accountId string) (*models.CarrierAccount, error)
	ListCarrierAccounts(ctx context.Context, userId string) ([]models.CarrierAccount, error)
}

type ShipmentStore interface {
	CreateShipment(ctx context.Context, shipment *models.Shipment) error
	GetShipment(ctx context.Context, shipmentId string) (*models.Shipment, error)
	GetShipmentByTracking(ctx context.Context, trackingId string) (*models.Shipment, error)
	UpdateShipment(ctx context.Context, shipment *models.Shipment) error
	// UpdateShipmentAccounting writes only the accounting columns, leaving
	// status, labels and the rest of the document as they are.
	UpdateShipmentAccounting(ctx context.Context, shipment *models.Shipment) error
	ListShipments(ctx context.Context, userId string, status models.ShipmentStatus) ([]models.Shipment, error)
}

type BillingStore interface {
	// GetBillingRecordByDescription returns the most recent record of the given
	// type whose description matches, typically a shipment order id.
	GetBillingRecordByDescription(ctx context.Context, userId, description, recordType string) (*models.BillingRecord, error)
	ListBillingRecords(ctx context.Context, userId string, limit, offset int) ([]models.BillingRecord, error)
}

type ReconciliationStore interface {
	GetOrCreateReconciliationRecord(ctx context.Context, name string, date time.Time) (*models.ReconciliationRecord, error)
	FinishReconciliationRecord(ctx context.Context, recordId string) error
	UpsertAccountingItem(ctx context.Context, item *models.AccountingItem) error
	ListAccountingItems(ctx context.Context, recordId string) ([]models.AccountingItem, error)
}

type SequenceStore interface {
	// ReserveSequence advances the namespace counter by step and returns the
	// new high-water mark. Values (last-step, last] belong to the caller.
	ReserveSequence(ctx context.Context, namespace string, step int64) (int64, error)
}

// Store is the full persistence contract used by the settlement backend.
type Store interface {
	UserStore
	BalanceStore
	AccountStore
	ShipmentStore
	BillingStore
	ReconciliationStore
	SequenceStore

	Close()
}
