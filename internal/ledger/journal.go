package ledger

import (
	"context"
	"fmt"

	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Journal kinds
const (
	JournalCharge     = "charge"
	JournalCredit     = "credit"
	JournalDeposit    = "deposit"
	JournalWithdrawal = "withdrawal"
	JournalCorrection = "correction"
)

// JournalEntry is one balance movement mirrored to an external ledger.
// Amount is always positive; Kind carries the direction. Reference is stable
// for a given movement so replays are idempotent.
type JournalEntry struct {
	Reference string
	UserId    string
	Kind      string
	Amount    decimal.Decimal
	Currency  string
	Account   string
	Metadata  map[string]string
}

// Journal receives every committed movement. It is a mirror: failures are
// logged by the ledger and never undo the committed write.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}

type NopJournal struct{}

func (NopJournal) Record(context.Context, JournalEntry) error { return nil }

func (s *Service) mirror(ctx context.Context, userId string, totalDelta decimal.Decimal, snap *models.BalanceSnapshot, entry, amend *models.BillingRecord) {
	if totalDelta.IsZero() {
		return
	}

	je := JournalEntry{
		UserId:   userId,
		Amount:   totalDelta.Abs(),
		Currency: "USD",
		Metadata: map[string]string{
			"balance_after": snap.Balance.String(),
			"version":       fmt.Sprintf("%d", snap.Version),
		},
	}
	if actor := models.ActorFrom(ctx); actor.Source != "" {
		je.Metadata["source"] = actor.Source
	}

	switch {
	case entry != nil:
		je.Reference = entry.Id
		je.Account = entry.Account
		if entry.Currency != "" {
			je.Currency = entry.Currency
		}
		je.Metadata["description"] = entry.Description
		switch entry.Type {
		case models.BillingTypeLabel:
			je.Kind = JournalCharge
		case models.BillingTypeRefund:
			je.Kind = JournalCredit
		default:
			je.Kind = directionKind(totalDelta)
		}
	case amend != nil:
		je.Reference = fmt.Sprintf("%s:v%d", amend.Id, snap.Version)
		je.Account = amend.Account
		je.Kind = JournalCorrection
		je.Metadata["description"] = amend.Description
		je.Metadata["direction"] = directionKind(totalDelta)
	default:
		je.Reference = fmt.Sprintf("%s:v%d", userId, snap.Version)
		je.Kind = directionKind(totalDelta)
	}

	if err := s.journal.Record(ctx, je); err != nil {
		zap.L().Error("Failed to mirror balance movement",
			zap.String("user_id", userId),
			zap.String("reference", je.Reference),
			zap.String("kind", je.Kind),
			zap.String("amount", je.Amount.String()),
			zap.Error(err))
	}
}

func directionKind(delta decimal.Decimal) string {
	if delta.IsNegative() {
		return JournalWithdrawal
	}
	return JournalDeposit
}
