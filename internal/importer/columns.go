package importer

import (
	"fmt"
	"strings"

	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

// Column names understood by a ColumnMap.
const (
	ColOrderRef      = "orderRef"
	ColName          = "name"
	ColCompany       = "company"
	ColPhone         = "phone"
	ColEmail         = "email"
	ColStreet1       = "street1"
	ColStreet2       = "street2"
	ColCity          = "city"
	ColState         = "state"
	ColZip           = "zip"
	ColCountry       = "country"
	ColWeight        = "weight"
	ColWeightUnit    = "weightUnit"
	ColLength        = "length"
	ColWidth         = "width"
	ColHeight        = "height"
	ColDimensionUnit = "dimensionUnit"
	ColService       = "service"
	ColAccount       = "account"
)

var knownColumns = []string{
	ColOrderRef, ColName, ColCompany, ColPhone, ColEmail, ColStreet1, ColStreet2,
	ColCity, ColState, ColZip, ColCountry, ColWeight, ColWeightUnit, ColLength,
	ColWidth, ColHeight, ColDimensionUnit, ColService, ColAccount,
}

var requiredColumns = []string{ColStreet1, ColCity, ColZip, ColCountry, ColWeight}

// ColumnMap maps a field name to its zero-based column index in the file.
type ColumnMap map[string]int

// HeaderColumns builds a ColumnMap from a header row whose cells are the
// field names. Unknown headers are ignored.
func HeaderColumns(header []string) ColumnMap {
	m := ColumnMap{}
	for i, cell := range header {
		cell = strings.TrimSpace(cell)
		for _, name := range knownColumns {
			if strings.EqualFold(cell, name) {
				m[name] = i
			}
		}
	}
	return m
}

func (m ColumnMap) Validate() error {
	if len(m) == 0 {
		return fmt.Errorf("column map is empty")
	}
	for name, idx := range m {
		if idx < 0 {
			return fmt.Errorf("column %s has negative index %d", name, idx)
		}
	}
	var missing []string
	for _, name := range requiredColumns {
		if _, ok := m[name]; !ok {
			missing = append(missing, name)
		}
	}
	if _, ok := m[ColName]; !ok {
		if _, ok := m[ColCompany]; !ok {
			missing = append(missing, ColName+" or "+ColCompany)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("column map is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (m ColumnMap) get(record []string, name string) string {
	idx, ok := m[name]
	if !ok || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

// parsedRow is a file row mapped onto shipment fields. The carrier account is
// resolved separately.
type parsedRow struct {
	orderRef string
	account  string
	shipment *models.Shipment
}

func (m ColumnMap) parse(record []string, sender models.Address) (*parsedRow, error) {
	weight, err := parseDecimal(m.get(record, ColWeight))
	if err != nil {
		return nil, fmt.Errorf("invalid weight: %w", err)
	}
	pkg := models.Package{
		Weight:        weight,
		WeightUnit:    strings.ToLower(m.get(record, ColWeightUnit)),
		DimensionUnit: strings.ToLower(m.get(record, ColDimensionUnit)),
	}
	if pkg.WeightUnit == "" {
		pkg.WeightUnit = "lb"
	}
	for _, dim := range []struct {
		col string
		dst *decimal.Decimal
	}{{ColLength, &pkg.Length}, {ColWidth, &pkg.Width}, {ColHeight, &pkg.Height}} {
		raw := m.get(record, dim.col)
		if raw == "" {
			continue
		}
		if *dim.dst, err = parseDecimal(raw); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", dim.col, err)
		}
	}

	sh := &models.Shipment{
		Sender: sender,
		Recipient: models.Address{
			Name:    m.get(record, ColName),
			Company: m.get(record, ColCompany),
			Phone:   m.get(record, ColPhone),
			Email:   m.get(record, ColEmail),
			Street1: m.get(record, ColStreet1),
			Street2: m.get(record, ColStreet2),
			City:    m.get(record, ColCity),
			State:   m.get(record, ColState),
			Zip:     m.get(record, ColZip),
			Country: strings.ToUpper(m.get(record, ColCountry)),
		},
		Packages: []models.Package{pkg},
		Service:  m.get(record, ColService),
		Status:   models.ShipmentPending,
	}
	return &parsedRow{
		orderRef: m.get(record, ColOrderRef),
		account:  m.get(record, ColAccount),
		shipment: sh,
	}, nil
}

func parseDecimal(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, fmt.Errorf("value is empty")
	}
	return decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
}
