package carriers

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"label-settlement-go/internal/fees"
	"label-settlement-go/internal/models"
)

// SandboxAdapter quotes from the catalogue's canned rates and issues
// placeholder labels. Output depends only on its input, so it is used for test
// purchases and carriers without a live gateway.
type SandboxAdapter struct {
	spec     CarrierSpec
	facility string
}

func NewSandboxAdapter(spec CarrierSpec, _ *models.CarrierAccount, _ bool, facility string) (Adapter, error) {
	if len(spec.Rates) == 0 {
		return nil, fmt.Errorf("carrier %s has no sandbox rates", spec.Code)
	}
	return &SandboxAdapter{spec: spec, facility: facility}, nil
}

func (s *SandboxAdapter) Init(context.Context) error { return nil }

func (s *SandboxAdapter) Products(_ context.Context, shipment *models.Shipment) ([]models.Product, error) {
	if !s.spec.Serves(shipment.Recipient.Country) {
		return nil, Rejection(fmt.Sprintf("%s does not ship to %s", s.spec.Name, shipment.Recipient.Country))
	}
	lbs, err := fees.ShipmentWeight(shipment, "lb")
	if err != nil {
		return nil, Rejection(err.Error())
	}

	products := make([]models.Product, 0, len(s.spec.Rates))
	for _, r := range s.spec.Rates {
		products = append(products, models.Product{
			Carrier:     s.spec.Code,
			Service:     r.Service,
			ServiceCode: r.Code,
			Rate:        r.base.Add(r.perLb.Mul(lbs)).Round(2),
			Currency:    s.spec.Currency,
			TransitDays: r.TransitDays,
		})
	}
	return products, nil
}

func (s *SandboxAdapter) Label(ctx context.Context, shipment *models.Shipment, product models.Product) (*LabelResult, error) {
	tracking := s.trackingId(shipment.Id, product.ServiceCode)
	body := fmt.Sprintf("^XA^FO50,50^FD%s %s^FS^FO50,100^FD%s^FS^FO50,150^FD%s, %s %s^FS^XZ",
		s.spec.Name, product.Service, tracking, shipment.Recipient.City, shipment.Recipient.State, shipment.Recipient.Zip)

	result := &LabelResult{
		TrackingId: tracking,
		Labels: []models.Label{{
			Format:     "ZPL",
			Data:       base64.StdEncoding.EncodeToString([]byte(body)),
			TrackingId: tracking,
		}},
	}
	if shipment.Customs != nil && shipment.IsInternational() {
		var lines []string
		for _, item := range shipment.Customs.Items {
			lines = append(lines, fmt.Sprintf("%d x %s @ %s", item.Quantity, item.Description, item.Value.StringFixed(2)))
		}
		result.Forms = append(result.Forms, models.Form{
			Name:   "CN22",
			Format: "TXT",
			Data:   base64.StdEncoding.EncodeToString([]byte(strings.Join(lines, "\n"))),
		})
	}
	// Labels bought without a quote are priced here.
	if product.Rate.IsZero() {
		quotes, err := s.Products(ctx, shipment)
		if err != nil {
			return nil, err
		}
		for _, q := range quotes {
			if q.Matches(product.Service, product.ServiceCode) {
				result.Rate = &models.Money{Amount: q.Rate, Currency: q.Currency}
				break
			}
		}
	}
	return result, nil
}

func (s *SandboxAdapter) GetTrackingInfo(_ context.Context, trackingId string) (*TrackingInfo, error) {
	return &TrackingInfo{
		TrackingId: trackingId,
		Status:     "PRE_TRANSIT",
		Events: []TrackingEvent{{
			Status:      "PRE_TRANSIT",
			Description: "Label created",
			Location:    s.facility,
		}},
	}, nil
}

func (s *SandboxAdapter) CreateManifest(_ context.Context, shipments []models.Shipment) (*Manifest, error) {
	m := &Manifest{Carrier: s.spec.Code, CreatedAt: time.Now().UTC()}
	for _, sh := range shipments {
		m.TrackingIds = append(m.TrackingIds, sh.TrackingId)
	}
	m.Id = "MF" + s.trackingId(strings.Join(m.TrackingIds, ","), "")[len(s.prefix()):]
	m.Document = &models.Form{
		Name:   "SCAN-FORM",
		Format: "TXT",
		Data:   base64.StdEncoding.EncodeToString([]byte(strings.Join(m.TrackingIds, "\n"))),
	}
	return m, nil
}

func (s *SandboxAdapter) prefix() string {
	if s.spec.OrderPrefix != "" {
		return strings.ToUpper(s.spec.OrderPrefix)
	}
	return "SB"
}

func (s *SandboxAdapter) trackingId(seed, code string) string {
	sum := sha1.Sum([]byte(s.spec.Code + "|" + seed + "|" + code))
	return s.prefix() + strings.ToUpper(hex.EncodeToString(sum[:9]))
}
