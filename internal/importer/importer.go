// Package importer buys labels for every row of an uploaded shipment file.
//
// A run streams rows through four stages joined by bounded channels: parse,
// shipment, pricing and purchase. Each row succeeds, is dropped for lack of
// balance, or fails on its own without stopping the others.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"label-settlement-go/internal/carriers"
	"label-settlement-go/internal/metrics"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/notify"
	"label-settlement-go/internal/settlement"
	"label-settlement-go/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultBufferSize = 16

var ErrImportInProgress = errors.New("an import is already running for this user")

type Store interface {
	GetUserById(ctx context.Context, userId string) (*models.User, error)
	SetUploading(ctx context.Context, userId string, uploading bool) error
	ListCarrierAccounts(ctx context.Context, userId string) ([]models.CarrierAccount, error)
	CreateShipment(ctx context.Context, shipment *models.Shipment) error
}

// Purchaser is the slice of the settlement service a run drives per row.
type Purchaser interface {
	PrepareShipment(sh *models.Shipment, account *models.CarrierAccount) error
	Connect(ctx context.Context, account *models.CarrierAccount, isTest bool, facility string) (carriers.Adapter, error)
	Quote(ctx context.Context, adapter carriers.Adapter, sh *models.Shipment, account *models.CarrierAccount) (settlement.Quote, error)
	Settle(ctx context.Context, adapter carriers.Adapter, sh *models.Shipment, account *models.CarrierAccount, q settlement.Quote, isTest bool) (*settlement.PurchaseResult, error)
}

type IdGenerator interface {
	OrderId(ctx context.Context, prefix string) (string, error)
	RunId() string
}

type ImportRequest struct {
	UserId   string
	FileName string
	Source   io.Reader
	Columns  ColumnMap
	Sender   models.Address
	IsTest   bool
}

type ImportSummary struct {
	RunId        string
	Total        int
	Success      int
	Dropped      int
	Failed       int
	Failures     []notify.RowFailure
	Shipments    []string
	FinalBalance decimal.Decimal
}

type Importer struct {
	store     Store
	purchaser Purchaser
	ids       IdGenerator
	catalog   *carriers.Catalog
	notifier  notify.Notifier
	metrics   *metrics.SettlementMetrics
	cfg       models.ImportConfig
}

// NewImporter wires a batch importer. catalog, n and m may be nil.
func NewImporter(st Store, p Purchaser, ids IdGenerator, catalog *carriers.Catalog, n notify.Notifier, m *metrics.SettlementMetrics, cfg models.ImportConfig) *Importer {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if n == nil {
		n = notify.LogNotifier{}
	}
	return &Importer{store: st, purchaser: p, ids: ids, catalog: catalog, notifier: n, metrics: m, cfg: cfg}
}

// Run imports one file. Only one run per user may be in flight. The returned
// summary is valid even when err is not nil.
func (im *Importer) Run(ctx context.Context, req ImportRequest) (*ImportSummary, error) {
	if req.Source == nil {
		return nil, fmt.Errorf("import source is required")
	}
	if err := req.Columns.Validate(); err != nil {
		return nil, err
	}
	user, err := im.store.GetUserById(ctx, req.UserId)
	if err != nil {
		return nil, fmt.Errorf("unable to load user %s: %w", req.UserId, err)
	}
	if err := im.store.SetUploading(ctx, user.Id, true); err != nil {
		if errors.Is(err, store.ErrUploadInProgress) {
			return nil, ErrImportInProgress
		}
		return nil, err
	}

	r := &run{
		id:        im.ids.RunId(),
		req:       req,
		user:      user,
		available: user.Balance,
		accounts:  map[string]*models.CarrierAccount{},
		adapters:  map[string]connection{},
	}
	zap.L().Info("Import started",
		zap.String("run_id", r.id),
		zap.String("user_id", user.Id),
		zap.String("file", req.FileName),
		zap.Bool("is_test", req.IsTest),
		zap.String("balance", user.Balance.String()))

	runErr := im.stream(ctx, r)
	return im.finish(ctx, r, runErr), runErr
}

type rawRow struct {
	row    int
	record []string
}

type shipmentRow struct {
	row      int
	orderRef string
	shipment *models.Shipment
	account  *models.CarrierAccount
}

type pricedRow struct {
	shipmentRow
	adapter  carriers.Adapter
	quote    settlement.Quote
	reserved decimal.Decimal
}

func (im *Importer) stream(ctx context.Context, r *run) error {
	g, gctx := errgroup.WithContext(ctx)
	rows := make(chan rawRow, im.cfg.BufferSize)
	shipments := make(chan shipmentRow, im.cfg.BufferSize)
	priced := make(chan pricedRow, im.cfg.BufferSize)

	g.Go(func() error {
		defer close(rows)
		return im.parse(gctx, r, rows)
	})
	g.Go(func() error {
		defer close(shipments)
		for raw := range rows {
			row, ok := im.toShipment(gctx, r, raw)
			if !ok {
				continue
			}
			if err := send(gctx, shipments, row); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(priced)
		for row := range shipments {
			p, ok := im.toPriced(gctx, r, row)
			if !ok {
				continue
			}
			if err := send(gctx, priced, p); err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		for p := range priced {
			im.purchase(gctx, r, p)
		}
		return gctx.Err()
	})
	return g.Wait()
}

func send[T any](ctx context.Context, ch chan<- T, v T) error {
	select {
	case ch <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parse emits data rows. The first record is the header and blank lines are
// skipped.
func (im *Importer) parse(ctx context.Context, r *run, out chan<- rawRow) error {
	reader := csv.NewReader(r.req.Source)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header := true
	row := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if header {
			header = false
			if err != nil {
				return fmt.Errorf("unable to read header: %w", err)
			}
			continue
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			row++
			r.total(1)
			im.fail(r, row, "", fmt.Sprintf("malformed line %d: %v", parseErr.Line, parseErr.Err))
			continue
		}
		if err != nil {
			return fmt.Errorf("unable to read %s: %w", r.req.FileName, err)
		}
		if blank(record) {
			continue
		}
		row++
		r.total(1)
		if err := send(ctx, out, rawRow{row: row, record: record}); err != nil {
			return err
		}
	}
}

func (im *Importer) toShipment(ctx context.Context, r *run, raw rawRow) (shipmentRow, bool) {
	parsed, err := r.req.Columns.parse(raw.record, r.req.Sender)
	if err != nil {
		im.fail(r, raw.row, "", err.Error())
		return shipmentRow{}, false
	}
	account, err := im.account(ctx, r, parsed.account)
	if err != nil {
		im.fail(r, raw.row, parsed.orderRef, err.Error())
		return shipmentRow{}, false
	}

	sh := parsed.shipment
	sh.UserId = r.user.Id
	sh.CarrierAccount = account.AccountId
	sh.Facility = account.Facility
	if err := im.purchaser.PrepareShipment(sh, account); err != nil {
		im.fail(r, raw.row, parsed.orderRef, settlement.PublicMessage(err))
		return shipmentRow{}, false
	}

	if sh.OrderId, err = im.ids.OrderId(ctx, im.prefixFor(account.Carrier)); err != nil {
		zap.L().Error("Unable to allocate order id", zap.String("run_id", r.id), zap.Error(err))
		im.fail(r, raw.row, parsed.orderRef, "unable to allocate an order id")
		return shipmentRow{}, false
	}
	if err := im.store.CreateShipment(ctx, sh); err != nil {
		zap.L().Error("Unable to persist imported shipment",
			zap.String("run_id", r.id),
			zap.Int("row", raw.row),
			zap.Error(err))
		im.fail(r, raw.row, parsed.orderRef, "unable to save shipment")
		return shipmentRow{}, false
	}
	return shipmentRow{row: raw.row, orderRef: parsed.orderRef, shipment: sh, account: account}, true
}

// toPriced rates the row and reserves its total against the in-memory balance.
func (im *Importer) toPriced(ctx context.Context, r *run, row shipmentRow) (pricedRow, bool) {
	adapter, err := im.connect(ctx, r, row.account)
	if err != nil {
		im.fail(r, row.row, row.orderRef, settlement.PublicMessage(err))
		return pricedRow{}, false
	}
	q, err := im.purchaser.Quote(ctx, adapter, row.shipment, row.account)
	if err != nil {
		if !errors.Is(err, settlement.ErrValidation) {
			zap.L().Warn("Import row could not be rated",
				zap.String("run_id", r.id),
				zap.Int("row", row.row),
				zap.String("order_id", row.shipment.OrderId),
				zap.Error(err))
		}
		im.fail(r, row.row, row.orderRef, settlement.PublicMessage(err))
		return pricedRow{}, false
	}

	p := pricedRow{shipmentRow: row, adapter: adapter, quote: q, reserved: decimal.Zero}
	if row.account.FeesApply() && !r.req.IsTest {
		if !r.reserve(q.Charge.Total) {
			zap.L().Info("Import row dropped for balance",
				zap.String("run_id", r.id),
				zap.Int("row", row.row),
				zap.String("order_id", row.shipment.OrderId),
				zap.String("total", q.Charge.Total.String()))
			r.drop()
			im.metrics.ImportRow(metrics.RowDropped)
			return pricedRow{}, false
		}
		p.reserved = q.Charge.Total
	}
	return p, true
}

func (im *Importer) purchase(ctx context.Context, r *run, p pricedRow) {
	result, err := im.purchaser.Settle(ctx, p.adapter, p.shipment, p.account, p.quote, r.req.IsTest)
	if err != nil {
		// A partial commit may already have debited the ledger.
		if !errors.Is(err, settlement.ErrPartialCommit) {
			r.release(p.reserved)
		}
		zap.L().Warn("Import row purchase failed",
			zap.String("run_id", r.id),
			zap.Int("row", p.row),
			zap.String("order_id", p.shipment.OrderId),
			zap.Error(err))
		im.fail(r, p.row, p.orderRef, settlement.PublicMessage(err))
		return
	}
	r.succeed(result.Shipment.Id)
	im.metrics.ImportRow(metrics.RowSuccess)
}

// account resolves a row's carrier account by account id or name. An empty
// reference is accepted when the user has exactly one active account.
func (im *Importer) account(ctx context.Context, r *run, ref string) (*models.CarrierAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.accountsLoaded {
		accounts, err := im.store.ListCarrierAccounts(ctx, r.user.Id)
		if err != nil {
			return nil, fmt.Errorf("unable to load carrier accounts")
		}
		for i := range accounts {
			a := &accounts[i]
			if !a.Active {
				continue
			}
			r.accounts[strings.ToLower(a.AccountId)] = a
			if a.Name != "" {
				r.accounts[strings.ToLower(a.Name)] = a
			}
			r.active = append(r.active, a)
		}
		r.accountsLoaded = true
	}

	if ref == "" {
		if len(r.active) == 1 {
			return r.active[0], nil
		}
		return nil, fmt.Errorf("carrier account is required")
	}
	a, ok := r.accounts[strings.ToLower(ref)]
	if !ok {
		return nil, fmt.Errorf("unknown carrier account %q", ref)
	}
	return a, nil
}

type connection struct {
	adapter carriers.Adapter
	err     error
}

// connect initialises each account's adapter once per run. A failed
// connection fails every row of that account without retrying.
func (im *Importer) connect(ctx context.Context, r *run, account *models.CarrierAccount) (carriers.Adapter, error) {
	r.mu.Lock()
	c, ok := r.adapters[account.AccountId]
	r.mu.Unlock()
	if ok {
		return c.adapter, c.err
	}

	adapter, err := im.purchaser.Connect(ctx, account, r.req.IsTest, account.Facility)
	if err != nil {
		zap.L().Warn("Carrier connection failed for import",
			zap.String("run_id", r.id),
			zap.String("account_id", account.AccountId),
			zap.Error(err))
	}
	r.mu.Lock()
	r.adapters[account.AccountId] = connection{adapter: adapter, err: err}
	r.mu.Unlock()
	return adapter, err
}

func (im *Importer) prefixFor(carrier string) string {
	if im.catalog != nil {
		if spec, ok := im.catalog.Lookup(carrier); ok && spec.OrderPrefix != "" {
			return spec.OrderPrefix
		}
	}
	return im.cfg.OrderPrefix
}

func (im *Importer) fail(r *run, row int, orderRef, reason string) {
	r.fail(notify.RowFailure{Row: row, OrderRef: orderRef, Reason: reason})
	im.metrics.ImportRow(metrics.RowFailed)
}

// finish always runs: it clears the upload flag, reports the persisted
// balance and sends the notification.
func (im *Importer) finish(ctx context.Context, r *run, runErr error) *ImportSummary {
	ctx = context.WithoutCancel(ctx)
	if err := im.store.SetUploading(ctx, r.user.Id, false); err != nil {
		zap.L().Error("Failed to clear uploading flag",
			zap.String("run_id", r.id),
			zap.String("user_id", r.user.Id),
			zap.Error(err))
	}

	summary := r.summary()
	summary.FinalBalance = r.speculative()
	if u, err := im.store.GetUserById(ctx, r.user.Id); err == nil {
		summary.FinalBalance = u.Balance
	} else {
		zap.L().Warn("Unable to read final balance", zap.String("run_id", r.id), zap.Error(err))
	}

	fields := []zap.Field{
		zap.String("run_id", r.id),
		zap.String("user_id", r.user.Id),
		zap.String("file", r.req.FileName),
		zap.Int("total", summary.Total),
		zap.Int("success", summary.Success),
		zap.Int("dropped", summary.Dropped),
		zap.Int("failed", summary.Failed),
		zap.String("final_balance", summary.FinalBalance.String()),
	}
	if runErr != nil {
		zap.L().Error("Import stopped early", append(fields, zap.Error(runErr))...)
	} else {
		zap.L().Info("Import completed", fields...)
	}

	report := notify.ImportReport{
		RunId:        summary.RunId,
		UserId:       r.user.Id,
		Name:         r.user.Name,
		Email:        r.user.Email,
		FileName:     r.req.FileName,
		Total:        summary.Total,
		Success:      summary.Success,
		Dropped:      summary.Dropped,
		Failed:       summary.Failed,
		FinalBalance: summary.FinalBalance,
		Failures:     summary.Failures,
	}
	if err := im.notifier.ImportFinished(ctx, report); err != nil {
		zap.L().Warn("Failed to send import notification",
			zap.String("run_id", r.id),
			zap.String("email", r.user.Email),
			zap.Error(err))
	}
	return summary
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
