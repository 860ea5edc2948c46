// Package fees derives the platform fee charged on top of a carrier rate.
// All functions are pure.
package fees

import (
	"errors"
	"fmt"
	"strings"

	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

var (
	ErrUnknownBasis      = errors.New("unknown fee basis")
	ErrUnknownWeightUnit = errors.New("unknown weight unit")
	ErrCurrencyMismatch  = errors.New("fee currency does not match rate currency")
	ErrNegativeAmount    = errors.New("amount cannot be negative")
)

var hundred = decimal.NewFromInt(100)

// gramsPer maps a weight unit to its size in grams.
var gramsPer = map[string]decimal.Decimal{
	"g":  decimal.NewFromInt(1),
	"kg": decimal.NewFromInt(1000),
	"lb": decimal.RequireFromString("453.59237"),
	"oz": decimal.RequireFromString("28.349523125"),
}

// Charge is the priced outcome of a purchase: the carrier cost, the platform
// fee and what the user pays. Fee and Total are rounded to cents.
type Charge struct {
	ShippingCost decimal.Decimal
	Fee          decimal.Decimal
	Total        decimal.Decimal
	Currency     string
}

// Details returns the cost breakdown stored on billing records.
func (c Charge) Details() *models.CostDetails {
	return &models.CostDetails{ShippingCost: c.ShippingCost, Fee: c.Fee}
}

// ComputeFee prices a shipment's carrier rate under cfg. Weight-based fees use
// the sum of the shipment's package weights.
func ComputeFee(shipment *models.Shipment, rate decimal.Decimal, currency string, cfg models.FeeConfig) (Charge, error) {
	weight := decimal.Zero
	unit := weightUnitOf(cfg)
	if normalizeBasis(cfg.Basis) == models.FeeBasisWeight {
		var err error
		weight, err = ShipmentWeight(shipment, unit)
		if err != nil {
			return Charge{}, err
		}
	}
	return ComputeFeeWithAmount(rate, currency, weight, unit, cfg)
}

// ComputeFeeWithAmount prices an arbitrary amount with a reported weight. It is
// used where no shipment is at hand, such as settlement lines.
func ComputeFeeWithAmount(amount decimal.Decimal, currency string, weight decimal.Decimal, weightUnit string, cfg models.FeeConfig) (Charge, error) {
	if amount.IsNegative() {
		return Charge{}, fmt.Errorf("%w: %s", ErrNegativeAmount, amount.String())
	}
	feeCurrency := cfg.Currency
	if feeCurrency == "" {
		feeCurrency = DefaultCurrency
	}
	if currency == "" {
		currency = feeCurrency
	}
	if !strings.EqualFold(currency, feeCurrency) {
		return Charge{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, currency, feeCurrency)
	}

	raw, err := rawFee(amount, weight, weightUnit, cfg)
	if err != nil {
		return Charge{}, err
	}

	return Charge{
		ShippingCost: amount,
		Fee:          raw.Round(2),
		Total:        amount.Add(raw).Round(2),
		Currency:     strings.ToUpper(currency),
	}, nil
}

// rawFee is the unrounded fee component.
func rawFee(amount, weight decimal.Decimal, weightUnit string, cfg models.FeeConfig) (decimal.Decimal, error) {
	switch normalizeBasis(cfg.Basis) {
	case "":
		return decimal.Zero, nil
	case models.FeeBasisFlat:
		return cfg.Amount, nil
	case models.FeeBasisPercentage:
		return amount.Mul(cfg.Amount).Div(hundred), nil
	case models.FeeBasisWeight:
		w, err := ConvertWeight(weight, weightUnit, weightUnitOf(cfg))
		if err != nil {
			return decimal.Zero, err
		}
		return w.Mul(cfg.Amount), nil
	default:
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownBasis, cfg.Basis)
	}
}

// ShipmentWeight sums package weights in the requested unit.
func ShipmentWeight(shipment *models.Shipment, unit string) (decimal.Decimal, error) {
	total := decimal.Zero
	if shipment == nil {
		return total, nil
	}
	for _, p := range shipment.Packages {
		w, err := ConvertWeight(p.Weight, p.WeightUnit, unit)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(w)
	}
	return total, nil
}

// ConvertWeight converts w from one unit to another. An empty source unit is
// taken to already be in the target unit.
func ConvertWeight(w decimal.Decimal, from, to string) (decimal.Decimal, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	if from == "" || from == to {
		return w, nil
	}
	f, ok := gramsPer[normalizeUnit(from)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownWeightUnit, from)
	}
	t, ok := gramsPer[normalizeUnit(to)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownWeightUnit, to)
	}
	return w.Mul(f).Div(t), nil
}

// ValidWeightUnit reports whether unit is recognised.
func ValidWeightUnit(unit string) bool {
	_, ok := gramsPer[normalizeUnit(strings.ToLower(strings.TrimSpace(unit)))]
	return ok
}

func weightUnitOf(cfg models.FeeConfig) string {
	if cfg.WeightUnit == "" {
		return "lb"
	}
	return normalizeUnit(strings.ToLower(cfg.WeightUnit))
}

func normalizeUnit(u string) string {
	switch u {
	case "lbs", "pound", "pounds":
		return "lb"
	case "ounce", "ounces":
		return "oz"
	case "kgs", "kilogram", "kilograms":
		return "kg"
	case "gram", "grams":
		return "g"
	}
	return u
}

func normalizeBasis(b string) string {
	switch strings.ToLower(strings.TrimSpace(b)) {
	case "":
		return ""
	case "flat", "order":
		return models.FeeBasisFlat
	case "percentage", "percent", "proportion":
		return models.FeeBasisPercentage
	case "weight":
		return models.FeeBasisWeight
	}
	return b
}
