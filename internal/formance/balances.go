package formance

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// GetUserBalance returns the mirrored balance of users:{userId}. A user the
// ledger has never seen has a zero balance.
func (s *Service) GetUserBalance(ctx context.Context, userId, currency string) (decimal.Decimal, error) {
	zap.L().Debug("Getting mirrored balance from Formance",
		zap.String("user_id", userId), zap.String("currency", currency))

	currency = strings.ToUpper(currency)
	vols, err := s.getAccountVolumes(ctx, userAccount(userId))
	if err != nil {
		return decimal.Zero, err
	}
	if bal := volumeBalance(vols, formanceAsset(currency)); bal != nil {
		return bigIntToDecimal(bal, currency), nil
	}
	return decimal.Zero, nil
}

func (s *Service) getAccountVolumes(ctx context.Context, address string) (map[string]shared.V2Volume, error) {
	resp, err := s.client.Ledger.V2.GetAccount(ctx, operations.V2GetAccountRequest{
		Ledger:  s.ledger,
		Address: address,
		Expand:  v3.Pointer("volumes"),
	})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get account %s: %w", address, err)
	}
	return resp.V2AccountResponse.Data.Volumes, nil
}

// volumeBalance extracts the balance for a specific asset from volumes.
func volumeBalance(vols map[string]shared.V2Volume, fAsset string) *big.Int {
	vol, ok := vols[fAsset]
	if !ok {
		return nil
	}
	if vol.Balance != nil {
		return vol.Balance
	}
	if vol.Input == nil {
		return nil
	}
	result := new(big.Int).Set(vol.Input)
	if vol.Output != nil {
		result.Sub(result, vol.Output)
	}
	return result
}

// bigIntToDecimal converts a minor-unit amount to a decimal.
func bigIntToDecimal(raw *big.Int, currency string) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(precisionFor(currency)))
}
