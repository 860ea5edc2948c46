package formance

import (
	"context"
	"fmt"
	"strings"

	"label-settlement-go/internal/ledger"

	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Every movement is one send between a user account and a platform account.
// Platform accounts may overdraw; user accounts mirror the local balance,
// which reconciliation corrections can push below zero.
const numscriptMovement = `vars {
  asset $asset
  number $amount
  account $source
  account $destination
  string $event_type
  string $user_id
  string $carrier_account
  string $amount_human
}

send [$asset $amount] (
  source = $source allowing unbounded overdraft
  destination = $destination
)

set_tx_meta("event_type", $event_type)
set_tx_meta("user_id", $user_id)
set_tx_meta("carrier_account", $carrier_account)
set_tx_meta("amount_human", $amount_human)
`

const (
	accountLabels      = "platform:labels"
	accountFunding     = "platform:funding"
	accountCorrections = "platform:corrections"
)

func userAccount(userId string) string { return "users:" + userId }

// route returns the source and destination accounts for an entry.
func route(entry ledger.JournalEntry) (string, string, error) {
	user := userAccount(entry.UserId)
	switch entry.Kind {
	case ledger.JournalCharge:
		return user, accountLabels, nil
	case ledger.JournalCredit:
		return accountLabels, user, nil
	case ledger.JournalDeposit:
		return accountFunding, user, nil
	case ledger.JournalWithdrawal:
		return user, accountFunding, nil
	case ledger.JournalCorrection:
		if entry.Metadata["direction"] == ledger.JournalWithdrawal {
			return user, accountCorrections, nil
		}
		return accountCorrections, user, nil
	default:
		return "", "", fmt.Errorf("unknown journal kind %q", entry.Kind)
	}
}

// movement builds the transaction for an entry.
func movement(entry ledger.JournalEntry) (shared.V2PostTransaction, error) {
	if entry.Reference == "" {
		return shared.V2PostTransaction{}, fmt.Errorf("journal entry for user %s has no reference", entry.UserId)
	}
	if !entry.Amount.IsPositive() {
		return shared.V2PostTransaction{}, fmt.Errorf("journal entry %s amount must be positive", entry.Reference)
	}
	source, destination, err := route(entry)
	if err != nil {
		return shared.V2PostTransaction{}, err
	}

	currency := strings.ToUpper(entry.Currency)
	if currency == "" {
		currency = "USD"
	}
	smallAmt := entry.Amount.Shift(int32(precisionFor(currency))).BigInt().String()

	meta := make(map[string]string, len(entry.Metadata))
	for k, v := range entry.Metadata {
		meta[k] = v
	}

	return shared.V2PostTransaction{
		Reference: strPtr(entry.Reference),
		Metadata:  meta,
		Script: &shared.V2PostTransactionScript{
			Plain: numscriptMovement,
			Vars: map[string]string{
				"asset":           formanceAsset(currency),
				"amount":          smallAmt,
				"source":          source,
				"destination":     destination,
				"event_type":      entry.Kind,
				"user_id":         entry.UserId,
				"carrier_account": entry.Account,
				"amount_human":    entry.Amount.String(),
			},
		},
	}, nil
}

// Record posts a movement. Replaying a reference that is already in the
// ledger succeeds without a second posting.
func (s *Service) Record(ctx context.Context, entry ledger.JournalEntry) error {
	postTx, err := movement(entry)
	if err != nil {
		return err
	}

	_, err = s.client.Ledger.V2.CreateTransaction(ctx, operations.V2CreateTransactionRequest{
		Ledger:            s.ledger,
		V2PostTransaction: postTx,
	})
	if err != nil {
		if isConflictError(err) {
			zap.L().Debug("Journal entry already recorded", zap.String("reference", entry.Reference))
			return nil
		}
		return fmt.Errorf("error recording %s for user %s: %w", entry.Kind, entry.UserId, err)
	}

	zap.L().Info("Movement recorded in Formance",
		zap.String("user_id", entry.UserId),
		zap.String("kind", entry.Kind),
		zap.String("amount", entry.Amount.String()),
		zap.String("reference", entry.Reference))
	return nil
}
