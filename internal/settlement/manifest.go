package settlement

import (
	"context"
	"errors"
	"fmt"

	"label-settlement-go/internal/carriers"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"go.uber.org/zap"
)

// Manifest closes out the given fulfilled shipments of one carrier account
// with the carrier and marks them manifested.
func (s *Service) Manifest(ctx context.Context, userId, accountId string, shipmentIds []string) (*carriers.Manifest, error) {
	if len(shipmentIds) == 0 {
		return nil, invalid("shipments", "at least one shipment is required")
	}
	account, adapter, err := s.accountAdapter(ctx, userId, accountId)
	if err != nil {
		return nil, err
	}
	creator, ok := carriers.AsManifestCreator(adapter)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not support manifests", ErrUnsupportedOperation, account.Carrier)
	}

	shipments := make([]models.Shipment, 0, len(shipmentIds))
	for _, id := range shipmentIds {
		sh, err := s.store.GetShipment(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
			}
			return nil, err
		}
		if sh.UserId != userId || sh.CarrierAccount != accountId {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if sh.Status != models.ShipmentFulfilled {
			return nil, invalid("shipments", "order %s is %s and cannot be manifested", sh.OrderId, sh.Status)
		}
		if sh.Manifested {
			return nil, invalid("shipments", "order %s is already manifested", sh.OrderId)
		}
		shipments = append(shipments, *sh)
	}

	manifest, err := creator.CreateManifest(ctx, shipments)
	if err != nil {
		return nil, carrierError("shipments", account.Carrier, "manifest", err)
	}

	for i := range shipments {
		shipments[i].Manifested = true
		if err := s.store.UpdateShipment(ctx, &shipments[i]); err != nil {
			zap.L().Error("Manifest created but shipment not marked",
				zap.String("manifest_id", manifest.Id),
				zap.String("order_id", shipments[i].OrderId),
				zap.Error(err))
			return manifest, fmt.Errorf("manifest %s created but order %s not marked: %w", manifest.Id, shipments[i].OrderId, err)
		}
	}

	zap.L().Info("Manifest created",
		zap.String("user_id", userId),
		zap.String("account_id", accountId),
		zap.String("manifest_id", manifest.Id),
		zap.Int("shipments", len(shipments)))
	return manifest, nil
}

// Track asks the carrier for the shipment's tracking history.
func (s *Service) Track(ctx context.Context, userId, shipmentId string) (*carriers.TrackingInfo, error) {
	sh, err := s.store.GetShipment(ctx, shipmentId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, shipmentId)
		}
		return nil, err
	}
	if sh.UserId != userId || sh.TrackingId == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, shipmentId)
	}

	account, adapter, err := s.accountAdapter(ctx, userId, sh.CarrierAccount)
	if err != nil {
		return nil, err
	}
	tracker, ok := carriers.AsTrackingProvider(adapter)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not support tracking", ErrUnsupportedOperation, account.Carrier)
	}
	info, err := tracker.GetTrackingInfo(ctx, sh.TrackingId)
	if err != nil {
		return nil, carrierError("tracking", account.Carrier, "tracking", err)
	}
	return info, nil
}

func (s *Service) accountAdapter(ctx context.Context, userId, accountId string) (*models.CarrierAccount, carriers.Adapter, error) {
	account, err := s.store.GetCarrierAccount(ctx, accountId)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrInvalidAccount, accountId)
		}
		return nil, nil, err
	}
	if !account.Active || account.UserId != userId {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidAccount, accountId)
	}
	adapter, err := s.Connect(ctx, account, false, account.Facility)
	if err != nil {
		return nil, nil, err
	}
	return account, adapter, nil
}
