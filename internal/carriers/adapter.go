// Package carriers defines the contract every carrier integration fulfils and
// the registry that hands out configured adapter instances per account.
package carriers

import (
	"context"
	"errors"
	"time"

	"label-settlement-go/internal/models"
)

// Carrier codes
const (
	CarrierDHLeCommerce = "dhl_ecommerce"
	CarrierPitneyBowes  = "pitney_bowes"
	CarrierUSPS         = "usps"
	CarrierUPS          = "ups"
	CarrierFedEx        = "fedex"
)

// Rejection is a refusal the carrier intends for the client, such as an
// unserviceable destination. Any other error from an adapter is a fault.
type Rejection string

func (r Rejection) Error() string { return string(r) }

// AsRejection reports whether err carries a client-facing rejection.
func AsRejection(err error) (Rejection, bool) {
	var r Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return "", false
}

// LabelResult is what a successful Label call issues. Rate is set when the
// carrier priced the label itself.
type LabelResult struct {
	Labels     []models.Label `json:"labels"`
	Forms      []models.Form  `json:"forms,omitempty"`
	TrackingId string         `json:"trackingId"`
	Rate       *models.Money  `json:"rate,omitempty"`
}

// Adapter is one configured carrier account. Init must succeed before
// Products or Label are called.
type Adapter interface {
	Init(ctx context.Context) error
	Products(ctx context.Context, shipment *models.Shipment) ([]models.Product, error)
	Label(ctx context.Context, shipment *models.Shipment, product models.Product) (*LabelResult, error)
}

// AddressValidator is implemented by carriers that can check and normalise
// an address. An invalid address is reported as a Rejection.
type AddressValidator interface {
	ValidateAddress(ctx context.Context, address models.Address) (*models.Address, error)
}

type Manifest struct {
	Id          string       `json:"id"`
	Carrier     string       `json:"carrier"`
	TrackingIds []string     `json:"trackingIds"`
	Document    *models.Form `json:"document,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
}

type ManifestCreator interface {
	CreateManifest(ctx context.Context, shipments []models.Shipment) (*Manifest, error)
}

type ManifestGetter interface {
	GetManifest(ctx context.Context, manifestId string) (*Manifest, error)
}

type TrackingEvent struct {
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
	Time        time.Time `json:"time"`
}

type TrackingInfo struct {
	TrackingId string          `json:"trackingId"`
	Status     string          `json:"status"`
	Events     []TrackingEvent `json:"events"`
}

type TrackingProvider interface {
	GetTrackingInfo(ctx context.Context, trackingId string) (*TrackingInfo, error)
}
