package carriers

import (
	"fmt"
	"strings"
	"sync"

	"label-settlement-go/internal/models"

	"go.uber.org/zap"
)

// Constructor builds an adapter for one account. An error means the account
// or carrier is misconfigured.
type Constructor func(spec CarrierSpec, account *models.CarrierAccount, isTest bool, facility string) (Adapter, error)

// Registry creates carrier adapters from account configuration and caches
// them per user, account, mode and facility. Cached adapters are guarded.
type Registry struct {
	catalog  *Catalog
	timeouts Timeouts

	mu           sync.RWMutex
	constructors map[string]Constructor
	adapters     map[string]Adapter
}

func NewRegistry(catalog *Catalog, timeouts Timeouts) *Registry {
	return &Registry{
		catalog:  catalog,
		timeouts: timeouts,
		constructors: map[string]Constructor{
			KindGateway: NewGatewayAdapter,
			KindSandbox: NewSandboxAdapter,
		},
		adapters: make(map[string]Adapter),
	}
}

// Register overrides the constructor for a carrier code or adapter kind.
func (r *Registry) Register(name string, c Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[name] = c
}

func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

func cacheKey(account *models.CarrierAccount, isTest bool, facility string) string {
	return fmt.Sprintf("%s_%s_%t_%s", account.UserId, account.AccountId, isTest, facility)
}

// Resolve returns a ready-to-init adapter for account. It reports false when
// the carrier is unsupported, the account inactive, or construction fails.
// Callers should treat false as terminal for the request.
func (r *Registry) Resolve(account *models.CarrierAccount, isTest bool, facility string) (Adapter, bool) {
	if account == nil || !account.Active {
		return nil, false
	}
	if facility == "" {
		facility = account.Facility
	}
	key := cacheKey(account, isTest, facility)

	r.mu.RLock()
	if a, ok := r.adapters[key]; ok {
		r.mu.RUnlock()
		return a, true
	}
	construct, spec, ok := r.constructorFor(account.Carrier, isTest)
	r.mu.RUnlock()
	if !ok {
		zap.L().Warn("Unsupported carrier",
			zap.String("carrier", account.Carrier),
			zap.String("account_id", account.AccountId))
		return nil, false
	}

	adapter, err := construct(spec, account, isTest, facility)
	if err != nil {
		zap.L().Error("Failed to create carrier adapter",
			zap.String("carrier", account.Carrier),
			zap.String("account_id", account.AccountId),
			zap.Bool("is_test", isTest),
			zap.Error(err))
		return nil, false
	}
	adapter = Guard(adapter, r.timeouts)

	r.mu.Lock()
	if existing, ok := r.adapters[key]; ok {
		adapter = existing
	} else {
		r.adapters[key] = adapter
	}
	r.mu.Unlock()
	return adapter, true
}

// constructorFor picks the constructor for a carrier. A constructor
// registered under the carrier code wins over the catalogue kind; test mode
// falls back to the sandbox when the carrier has no test endpoint.
// Callers hold r.mu.
func (r *Registry) constructorFor(carrier string, isTest bool) (Constructor, CarrierSpec, bool) {
	spec, ok := r.catalog.Lookup(carrier)
	if !ok {
		return nil, CarrierSpec{}, false
	}
	if c, ok := r.constructors[spec.Code]; ok {
		return c, spec, true
	}
	kind := spec.Kind
	if isTest && kind == KindGateway && spec.TestURL == "" && len(spec.Rates) > 0 {
		kind = KindSandbox
	}
	c, ok := r.constructors[kind]
	return c, spec, ok
}

// Invalidate drops every cached adapter for the account, for example after
// its credentials change.
func (r *Registry) Invalidate(account *models.CarrierAccount) {
	prefix := account.UserId + "_" + account.AccountId + "_"
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.adapters {
		if strings.HasPrefix(key, prefix) {
			delete(r.adapters, key)
		}
	}
}
