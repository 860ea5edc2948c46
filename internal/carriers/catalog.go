package carriers

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Adapter kinds
const (
	KindGateway = "gateway"
	KindSandbox = "sandbox"
)

// SandboxRate is a canned quote served by the sandbox adapter. The quoted
// rate is Base plus PerLb for every pound shipped.
type SandboxRate struct {
	Service     string `yaml:"service"`
	Code        string `yaml:"code"`
	Base        string `yaml:"base"`
	PerLb       string `yaml:"per_lb"`
	TransitDays int    `yaml:"transit_days"`

	base  decimal.Decimal
	perLb decimal.Decimal
}

// CarrierSpec is the static description of a supported carrier.
type CarrierSpec struct {
	Code              string        `yaml:"code"`
	Name              string        `yaml:"name"`
	Kind              string        `yaml:"kind"`
	OrderPrefix       string        `yaml:"order_prefix"`
	TestURL           string        `yaml:"test_url"`
	ProductionURL     string        `yaml:"production_url"`
	Currency          string        `yaml:"currency"`
	DimensionServices []string      `yaml:"dimension_services"`
	Countries         []string      `yaml:"countries"`
	Rates             []SandboxRate `yaml:"sandbox_rates"`
}

// RequiresDimensions reports whether the carrier needs package dimensions for
// the given service name or code.
func (c CarrierSpec) RequiresDimensions(service, code string) bool {
	for _, s := range c.DimensionServices {
		if s == "*" || strings.EqualFold(s, service) || (code != "" && strings.EqualFold(s, code)) {
			return true
		}
	}
	return false
}

// Serves reports whether the carrier ships to country. An empty list means anywhere.
func (c CarrierSpec) Serves(country string) bool {
	if len(c.Countries) == 0 {
		return true
	}
	for _, cc := range c.Countries {
		if strings.EqualFold(cc, country) {
			return true
		}
	}
	return false
}

func (c CarrierSpec) baseURL(isTest bool) string {
	if isTest {
		return c.TestURL
	}
	return c.ProductionURL
}

type catalogFile struct {
	Carriers []CarrierSpec `yaml:"carriers"`
}

// Catalog is the set of carriers this deployment supports, keyed by code.
type Catalog struct {
	specs map[string]CarrierSpec
	order []string
}

func NewCatalog(specs ...CarrierSpec) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]CarrierSpec, len(specs))}
	for i, spec := range specs {
		if spec.Code == "" {
			return nil, fmt.Errorf("carrier at index %d missing code", i)
		}
		if _, dup := c.specs[spec.Code]; dup {
			return nil, fmt.Errorf("carrier %s declared twice", spec.Code)
		}
		if spec.Kind == "" {
			spec.Kind = KindGateway
		}
		if spec.Kind != KindGateway && spec.Kind != KindSandbox {
			return nil, fmt.Errorf("carrier %s has unknown kind %q", spec.Code, spec.Kind)
		}
		if spec.OrderPrefix != "" && len(spec.OrderPrefix) != 2 {
			return nil, fmt.Errorf("carrier %s order prefix must be two characters", spec.Code)
		}
		if spec.Currency == "" {
			spec.Currency = "USD"
		}
		for j := range spec.Rates {
			r := &spec.Rates[j]
			var err error
			if r.base, err = parseOptionalDecimal(r.Base); err != nil {
				return nil, fmt.Errorf("carrier %s rate %s: invalid base: %w", spec.Code, r.Service, err)
			}
			if r.perLb, err = parseOptionalDecimal(r.PerLb); err != nil {
				return nil, fmt.Errorf("carrier %s rate %s: invalid per_lb: %w", spec.Code, r.Service, err)
			}
		}
		c.specs[spec.Code] = spec
		c.order = append(c.order, spec.Code)
	}
	return c, nil
}

// LoadCatalog reads the carrier catalogue from a YAML file. Relative paths are
// resolved against the working directory.
func LoadCatalog(path string) (*Catalog, error) {
	var catalogPath string
	if filepath.IsAbs(path) {
		catalogPath = path
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		catalogPath = filepath.Join(wd, path)
	}

	data, err := os.ReadFile(catalogPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", path, err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", path, err)
	}

	return NewCatalog(file.Carriers...)
}

func (c *Catalog) Lookup(code string) (CarrierSpec, bool) {
	spec, ok := c.specs[strings.ToLower(strings.TrimSpace(code))]
	return spec, ok
}

// Codes lists carrier codes in declaration order.
func (c *Catalog) Codes() []string {
	return append([]string(nil), c.order...)
}

func parseOptionalDecimal(s string) (decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSpace(s))
}
