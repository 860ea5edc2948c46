package settlement

import (
	"context"
	"errors"
	"fmt"

	"label-settlement-go/internal/ledger"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UpdateShippingRecordStatus moves a fulfilled shipment between FULFILLED and
// DEL_PENDING, or cancels it. Cancelling refunds the billed total and marks
// the billing record deleted in the same write.
func (s *Service) UpdateShippingRecordStatus(ctx context.Context, userId, shipmentId string, status models.ShipmentStatus) (*models.Shipment, error) {
	sh, err := s.store.GetShipment(ctx, shipmentId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, shipmentId)
		}
		return nil, err
	}
	if sh.UserId != userId {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, shipmentId)
	}

	from := sh.Status
	switch {
	case from == models.ShipmentFulfilled && status == models.ShipmentDelPending,
		from == models.ShipmentDelPending && status == models.ShipmentFulfilled:
		sh.Status = status
		if err := s.store.UpdateShipment(ctx, sh); err != nil {
			return nil, err
		}
		return sh, nil

	case status == models.ShipmentDeleted && (from == models.ShipmentFulfilled || from == models.ShipmentDelPending):
		err := s.ledger.WithUserLock(ctx, userId, func(ctx context.Context, sess *ledger.Session) error {
			current, err := s.store.GetShipment(ctx, shipmentId)
			if err != nil {
				return err
			}
			sh = current
			if sh.Status == models.ShipmentDeleted {
				return nil
			}
			if sh.Status != models.ShipmentFulfilled && sh.Status != models.ShipmentDelPending {
				return fmt.Errorf("%w: %s to %s", ErrUnsupportedOperation, sh.Status, status)
			}
			if err := s.refund(ctx, sess, sh); err != nil {
				return err
			}
			sh.Status = models.ShipmentDeleted
			return s.store.UpdateShipment(ctx, sh)
		})
		if err != nil {
			return nil, err
		}
		zap.L().Info("Shipment cancelled",
			zap.String("user_id", userId),
			zap.String("order_id", sh.OrderId),
			zap.String("from", string(from)))
		return sh, nil

	default:
		return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedOperation, from, status)
	}
}

// refund credits the user for the shipment's label charge. Shipments bought
// on pay-offline accounts have no billing record and refund nothing. A record
// that is already deleted was refunded by an earlier attempt.
func (s *Service) refund(ctx context.Context, sess *ledger.Session, sh *models.Shipment) error {
	billing, err := s.store.GetBillingRecordByDescription(ctx, sh.UserId, sh.OrderId, models.BillingTypeLabel)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			zap.L().Debug("No billing record for cancelled shipment",
				zap.String("order_id", sh.OrderId))
			return nil
		}
		return err
	}
	if billing.Status == models.BillingStatusDeleted {
		return nil
	}

	amend := *billing
	amend.Status = models.BillingStatusDeleted
	refund := &models.BillingRecord{
		Type:        models.BillingTypeRefund,
		Description: sh.OrderId,
		Account:     billing.Account,
		Total:       billing.Total,
		Currency:    billing.Currency,
		Details:     billing.Details,
	}
	if _, err := sess.ApplyDelta(ctx, billing.Total, decimal.Zero, refund, &amend); err != nil {
		return fmt.Errorf("unable to refund order %s: %w", sh.OrderId, err)
	}
	return nil
}
