package importer

import (
	"sort"
	"sync"

	"label-settlement-go/internal/models"
	"label-settlement-go/internal/notify"

	"github.com/shopspring/decimal"
)

// run is the state of one import. The user's balance is read once at the
// start and tracked here; the ledger stays authoritative for every debit.
type run struct {
	id   string
	req  ImportRequest
	user *models.User

	mu             sync.Mutex
	available      decimal.Decimal
	accountsLoaded bool
	accounts       map[string]*models.CarrierAccount
	active         []*models.CarrierAccount
	adapters       map[string]connection

	rows      int
	success   int
	dropped   int
	failures  []notify.RowFailure
	shipments []string
}

// reserve deducts amount unless the balance left would be at or below the
// user's minimum.
func (r *run) reserve(amount decimal.Decimal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.available.Sub(amount).LessThanOrEqual(r.user.MinBalance) {
		return false
	}
	r.available = r.available.Sub(amount)
	return true
}

func (r *run) release(amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	r.mu.Lock()
	r.available = r.available.Add(amount)
	r.mu.Unlock()
}

func (r *run) speculative() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.available
}

func (r *run) total(n int) {
	r.mu.Lock()
	r.rows += n
	r.mu.Unlock()
}

func (r *run) drop() {
	r.mu.Lock()
	r.dropped++
	r.mu.Unlock()
}

func (r *run) fail(f notify.RowFailure) {
	r.mu.Lock()
	r.failures = append(r.failures, f)
	r.mu.Unlock()
}

func (r *run) succeed(shipmentId string) {
	r.mu.Lock()
	r.success++
	r.shipments = append(r.shipments, shipmentId)
	r.mu.Unlock()
}

func (r *run) summary() *ImportSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	failures := append([]notify.RowFailure(nil), r.failures...)
	sort.Slice(failures, func(i, j int) bool { return failures[i].Row < failures[j].Row })
	return &ImportSummary{
		RunId:     r.id,
		Total:     r.rows,
		Success:   r.success,
		Dropped:   r.dropped,
		Failed:    len(failures),
		Failures:  failures,
		Shipments: append([]string(nil), r.shipments...),
	}
}
