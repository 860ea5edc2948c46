package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ShipmentStatus is the lifecycle state of a shipment.
type ShipmentStatus string

const (
	ShipmentPending    ShipmentStatus = "PENDING"
	ShipmentFulfilled  ShipmentStatus = "FULFILLED"
	ShipmentDelPending ShipmentStatus = "DEL_PENDING"
	ShipmentDeleted    ShipmentStatus = "DELETED"
)

// Money is an amount in a given currency.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type Address struct {
	Name    string `json:"name"`
	Company string `json:"company,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type Package struct {
	Weight        decimal.Decimal `json:"weight"`
	WeightUnit    string          `json:"weightUnit"`
	Length        decimal.Decimal `json:"length"`
	Width         decimal.Decimal `json:"width"`
	Height        decimal.Decimal `json:"height"`
	DimensionUnit string          `json:"dimensionUnit,omitempty"`
}

// HasDimensions reports whether all three dimensions are positive.
func (p Package) HasDimensions() bool {
	return p.Length.IsPositive() && p.Width.IsPositive() && p.Height.IsPositive()
}

type CustomsItem struct {
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	Value       decimal.Decimal `json:"value"`
	Weight      decimal.Decimal `json:"weight"`
	HsCode      string          `json:"hsCode,omitempty"`
	Origin      string          `json:"origin,omitempty"`
}

type Customs struct {
	ContentType string        `json:"contentType"`
	Items       []CustomsItem `json:"items"`
}

// Label is a printable artifact issued by a carrier. Data is base64 encoded.
type Label struct {
	Format     string `json:"format"`
	Data       string `json:"data"`
	TrackingId string `json:"trackingId,omitempty"`
}

// Form is a customs or commercial document issued together with a label.
type Form struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Data   string `json:"data"`
}

// Shipment is the user's request to ship packages. It is never physically
// deleted; cancellation moves it to DELETED.
type Shipment struct {
	Id                   string          `db:"id"`
	OrderId              string          `db:"order_id"`
	UserId               string          `db:"user_id"`
	Sender               Address         `db:"sender"`
	Recipient            Address         `db:"recipient"`
	Return               *Address        `db:"return_address"`
	Packages             []Package       `db:"packages"`
	Carrier              string          `db:"carrier"`
	Service              string          `db:"service"`
	ServiceCode          string          `db:"service_code"`
	CarrierAccount       string          `db:"carrier_account"`
	Facility             string          `db:"facility"`
	Customs              *Customs        `db:"customs"`
	Status               ShipmentStatus  `db:"status"`
	Labels               []Label         `db:"labels"`
	Forms                []Form          `db:"forms"`
	TrackingId           string          `db:"tracking_id"`
	Rate                 *Money          `db:"rate"`
	Manifested           bool            `db:"manifested"`
	AccountingStatus     string          `db:"accounting_status"`
	AccountingDiff       decimal.Decimal `db:"accounting_diff"`
	AccountingWeight     decimal.Decimal `db:"accounting_weight"`
	AccountingWeightUnit string          `db:"accounting_weight_unit"`
	Remark               string          `db:"remark"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
}

// IsInternational reports whether sender and recipient are in different countries.
func (s *Shipment) IsInternational() bool {
	from := strings.ToUpper(strings.TrimSpace(s.Sender.Country))
	to := strings.ToUpper(strings.TrimSpace(s.Recipient.Country))
	return from != "" && to != "" && from != to
}

// Product is a rate quote returned by a carrier for a shipment.
type Product struct {
	Carrier     string          `json:"carrier"`
	Service     string          `json:"service"`
	ServiceCode string          `json:"serviceCode"`
	Rate        decimal.Decimal `json:"rate"`
	Currency    string          `json:"currency"`
	TransitDays int             `json:"transitDays,omitempty"`
}

// Matches reports whether the product is the one requested by service name or code.
func (p Product) Matches(service, code string) bool {
	if code != "" && strings.EqualFold(p.ServiceCode, code) {
		return true
	}
	return service != "" && strings.EqualFold(p.Service, service)
}
