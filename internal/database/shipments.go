package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// encodedShipment holds the JSON text of a shipment's nested documents.
type encodedShipment struct {
	sender, recipient, ret, packages, customs, labels, forms, rate string
}

func encodeShipment(sh *models.Shipment) (encodedShipment, error) {
	var enc encodedShipment
	var err error
	fields := []struct {
		dst *string
		v   any
	}{
		{&enc.sender, sh.Sender},
		{&enc.recipient, sh.Recipient},
		{&enc.ret, sh.Return},
		{&enc.packages, sh.Packages},
		{&enc.customs, sh.Customs},
		{&enc.labels, sh.Labels},
		{&enc.forms, sh.Forms},
		{&enc.rate, sh.Rate},
	}
	for _, f := range fields {
		if *f.dst, err = toJSON(f.v); err != nil {
			return enc, err
		}
	}
	return enc, nil
}

func scanShipment(row scanner) (*models.Shipment, error) {
	var sh models.Shipment
	var enc encodedShipment
	err := row.Scan(&sh.Id, &sh.OrderId, &sh.UserId, &enc.sender, &enc.recipient, &enc.ret, &enc.packages,
		&sh.Carrier, &sh.Service, &sh.ServiceCode, &sh.CarrierAccount, &sh.Facility, &enc.customs, &sh.Status,
		&enc.labels, &enc.forms, &sh.TrackingId, &enc.rate, &sh.Manifested, &sh.AccountingStatus,
		&sh.AccountingDiff, &sh.AccountingWeight, &sh.AccountingWeightUnit, &sh.Remark, &sh.CreatedAt, &sh.UpdatedAt)
	if err != nil {
		return nil, err
	}

	decode := []struct {
		raw string
		v   any
	}{
		{enc.sender, &sh.Sender},
		{enc.recipient, &sh.Recipient},
		{enc.ret, &sh.Return},
		{enc.packages, &sh.Packages},
		{enc.customs, &sh.Customs},
		{enc.labels, &sh.Labels},
		{enc.forms, &sh.Forms},
		{enc.rate, &sh.Rate},
	}
	for _, d := range decode {
		if err := fromJSON(d.raw, d.v); err != nil {
			return nil, err
		}
	}
	return &sh, nil
}

func (s *Service) CreateShipment(ctx context.Context, sh *models.Shipment) error {
	if sh.Id == "" {
		sh.Id = uuid.New().String()
	}
	if sh.Status == "" {
		sh.Status = models.ShipmentPending
	}
	now := time.Now().UTC()
	sh.CreatedAt, sh.UpdatedAt = now, now

	enc, err := encodeShipment(sh)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, queryInsertShipment,
		sh.Id, sh.OrderId, sh.UserId, enc.sender, enc.recipient, enc.ret, enc.packages, sh.Carrier, sh.Service,
		sh.ServiceCode, sh.CarrierAccount, sh.Facility, enc.customs, string(sh.Status), enc.labels, enc.forms,
		sh.TrackingId, enc.rate, sh.Manifested, sh.AccountingStatus, sh.AccountingDiff.String(),
		sh.AccountingWeight.String(), sh.AccountingWeightUnit, sh.Remark, sh.CreatedAt, sh.UpdatedAt)
	if err != nil {
		return fmt.Errorf("unable to insert shipment: %w", err)
	}

	zap.L().Debug("Shipment created",
		zap.String("shipment_id", sh.Id),
		zap.String("order_id", sh.OrderId),
		zap.String("user_id", sh.UserId))
	return nil
}

func (s *Service) GetShipment(ctx context.Context, shipmentId string) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRowContext(ctx, queryGetShipment, shipmentId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("shipment %s: %w", shipmentId, store.ErrNotFound)
		}
		return nil, fmt.Errorf("unable to query shipment: %w", err)
	}
	return sh, nil
}

func (s *Service) GetShipmentByTracking(ctx context.Context, trackingId string) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRowContext(ctx, queryGetShipmentByTracking, trackingId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("shipment with tracking %s: %w", trackingId, store.ErrNotFound)
		}
		return nil, fmt.Errorf("unable to query shipment by tracking: %w", err)
	}
	return sh, nil
}

// UpdateShipment rewrites every mutable column of the shipment.
func (s *Service) UpdateShipment(ctx context.Context, sh *models.Shipment) error {
	sh.UpdatedAt = time.Now().UTC()
	enc, err := encodeShipment(sh)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, queryUpdateShipment,
		enc.sender, enc.recipient, enc.ret, enc.packages, sh.Carrier, sh.Service, sh.ServiceCode,
		sh.CarrierAccount, sh.Facility, enc.customs, string(sh.Status), enc.labels, enc.forms, sh.TrackingId,
		enc.rate, sh.Manifested, sh.AccountingStatus, sh.AccountingDiff.String(), sh.AccountingWeight.String(),
		sh.AccountingWeightUnit, sh.Remark, sh.UpdatedAt, sh.Id)
	if err != nil {
		return fmt.Errorf("unable to update shipment: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("shipment %s: %w", sh.Id, store.ErrNotFound)
	}
	return nil
}

func (s *Service) UpdateShipmentAccounting(ctx context.Context, sh *models.Shipment) error {
	sh.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, queryUpdateShipmentAccounting,
		sh.AccountingStatus, sh.AccountingDiff.String(), sh.AccountingWeight.String(), sh.AccountingWeightUnit,
		sh.UpdatedAt, sh.Id)
	if err != nil {
		return fmt.Errorf("unable to update shipment accounting: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("shipment %s: %w", sh.Id, store.ErrNotFound)
	}
	return nil
}

// ListShipments returns a user's shipments, optionally filtered by status.
func (s *Service) ListShipments(ctx context.Context, userId string, status models.ShipmentStatus) ([]models.Shipment, error) {
	rows, err := s.db.QueryContext(ctx, queryListShipments, userId, string(status), string(status))
	if err != nil {
		return nil, fmt.Errorf("unable to query shipments: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			zap.L().Warn("Failed to close rows", zap.Error(err))
		}
	}(rows)

	var shipments []models.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			return nil, fmt.Errorf("unable to scan shipment: %w", err)
		}
		shipments = append(shipments, *sh)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating shipment rows: %w", err)
	}
	return shipments, nil
}
