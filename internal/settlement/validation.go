package settlement

import (
	"fmt"
	"strings"

	"label-settlement-go/internal/carriers"
	"label-settlement-go/internal/fees"
	"label-settlement-go/internal/models"
)

// applyServiceOverride swaps a custom service name for the carrier service it
// maps to. A matching override without a carrier service is a user error.
func applyServiceOverride(sh *models.Shipment, account *models.CarrierAccount) error {
	for _, o := range account.Services {
		nameMatch := o.Name != "" && strings.EqualFold(o.Name, sh.Service)
		codeMatch := o.Code != "" && strings.EqualFold(o.Code, sh.ServiceCode)
		if !nameMatch && !codeMatch {
			continue
		}
		if o.CarrierService == "" && o.CarrierCode == "" {
			return invalid("service", "custom service %q is not mapped to a %s service", o.Name, account.Carrier)
		}
		sh.Service = o.CarrierService
		sh.ServiceCode = o.CarrierCode
		return nil
	}
	return nil
}

// ValidateShipment checks the fields a carrier needs before it can rate and
// label the shipment. spec may be nil when the carrier has no catalogue entry.
func ValidateShipment(sh *models.Shipment, spec *carriers.CarrierSpec) error {
	if sh.Service == "" && sh.ServiceCode == "" {
		return invalid("service", "a shipping service is required")
	}
	if err := validateAddress("recipient", sh.Recipient); err != nil {
		return err
	}
	if spec != nil && !spec.Serves(sh.Recipient.Country) {
		return invalid("recipient.country", "%s does not ship to %s", spec.Name, sh.Recipient.Country)
	}

	if len(sh.Packages) == 0 {
		return invalid("packages", "at least one package is required")
	}
	needsDims := spec != nil && spec.RequiresDimensions(sh.Service, sh.ServiceCode)
	for i, p := range sh.Packages {
		field := fmt.Sprintf("packages[%d]", i)
		if !p.Weight.IsPositive() {
			return invalid(field+".weight", "weight must be greater than zero")
		}
		if p.WeightUnit != "" && !fees.ValidWeightUnit(p.WeightUnit) {
			return invalid(field+".weightUnit", "unknown weight unit %q", p.WeightUnit)
		}
		if needsDims && !p.HasDimensions() {
			return invalid(field, "length, width and height are required for %s", sh.Service)
		}
	}

	if sh.IsInternational() {
		if sh.Customs == nil || len(sh.Customs.Items) == 0 {
			return invalid("customs", "customs items are required for international shipments")
		}
		for i, item := range sh.Customs.Items {
			if item.Description == "" || item.Quantity <= 0 || !item.Value.IsPositive() {
				return invalid(fmt.Sprintf("customs.items[%d]", i), "description, quantity and value are required")
			}
		}
	}
	return nil
}

func validateAddress(field string, a models.Address) error {
	missing := []string{}
	if strings.TrimSpace(a.Name) == "" && strings.TrimSpace(a.Company) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(a.Street1) == "" {
		missing = append(missing, "street1")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.Zip) == "" {
		missing = append(missing, "zip")
	}
	if strings.TrimSpace(a.Country) == "" {
		missing = append(missing, "country")
	}
	if len(missing) > 0 {
		return invalid(field, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}
