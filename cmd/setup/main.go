package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"label-settlement-go/internal/common"
	"label-settlement-go/internal/config"
	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ensureCarrierAccounts gives a user one active account per catalogue carrier
// that they do not already have.
func ensureCarrierAccounts(ctx context.Context, services *common.Services, user models.User, fee models.FeeConfig) (int, error) {
	existing, err := services.DbService.ListCarrierAccounts(ctx, user.Id)
	if err != nil {
		return 0, fmt.Errorf("error listing carrier accounts: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, a := range existing {
		have[a.Carrier] = true
	}

	created := 0
	for _, code := range services.Catalog.Codes() {
		if have[code] {
			zap.L().Debug("User already has carrier account",
				zap.String("user_id", user.Id),
				zap.String("carrier", code))
			continue
		}
		spec, _ := services.Catalog.Lookup(code)
		account := &models.CarrierAccount{
			UserId:    user.Id,
			Carrier:   code,
			AccountId: fmt.Sprintf("%s-%s", code, shortId(user.Id)),
			Name:      spec.Name,
			Active:    true,
			Fee:       fee,
			Currency:  spec.Currency,
		}
		if err := services.DbService.CreateCarrierAccount(ctx, account); err != nil {
			zap.L().Error("Error creating carrier account",
				zap.String("user_id", user.Id),
				zap.String("carrier", code),
				zap.Error(err))
			return created, err
		}
		zap.L().Info("Created carrier account",
			zap.String("user_id", user.Id),
			zap.String("carrier", code),
			zap.String("account_id", account.AccountId))
		created++
	}
	return created, nil
}

func shortId(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func provisionAccounts(ctx context.Context, services *common.Services, fee models.FeeConfig) {
	users, err := services.DbService.GetUsers(ctx)
	if err != nil {
		zap.L().Fatal("Failed to read users from database", zap.Error(err))
	}

	var totalAccounts int
	var failedUsers []string

	for _, user := range users {
		zap.L().Info("Processing user",
			zap.String("id", user.Id),
			zap.String("name", user.Name),
			zap.String("email", user.Email))

		created, err := ensureCarrierAccounts(ctx, services, user, fee)
		totalAccounts += created
		if err != nil {
			failedUsers = append(failedUsers, user.Email)
		}
	}

	if len(failedUsers) > 0 {
		zap.L().Warn("Account provisioning completed with some failures",
			zap.Int("total_accounts_created", totalAccounts),
			zap.Strings("failed_users", failedUsers))
	} else {
		zap.L().Info("Account provisioning completed successfully",
			zap.Int("total_accounts_created", totalAccounts))
	}
}

func parseFee(basis, amount string) (models.FeeConfig, error) {
	basis = strings.ToLower(strings.TrimSpace(basis))
	switch basis {
	case models.FeeBasisFlat, models.FeeBasisPercentage, models.FeeBasisWeight:
	default:
		return models.FeeConfig{}, fmt.Errorf("unknown fee basis %q", basis)
	}
	a, err := decimal.NewFromString(amount)
	if err != nil {
		return models.FeeConfig{}, fmt.Errorf("invalid fee amount %q: %w", amount, err)
	}
	fee := models.FeeConfig{Basis: basis, Amount: a, Currency: "USD"}
	if basis == models.FeeBasisWeight {
		fee.WeightUnit = "lb"
	}
	return fee, nil
}

func main() {
	ctx := context.Background()

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	initFlag := flag.Bool("init", false, "Initialize the database and seed demo users")
	feeBasis := flag.String("fee-basis", models.FeeBasisPercentage, "Fee basis for new accounts (flat, percentage, weight)")
	feeAmount := flag.String("fee-amount", "10", "Fee amount for new accounts")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		zap.L().Fatal("Failed to load config", zap.Error(err))
	}
	if *initFlag {
		cfg.Database.CreateDummyUsers = true
	}

	fee, err := parseFee(*feeBasis, *feeAmount)
	if err != nil {
		zap.L().Fatal("Invalid fee", zap.Error(err))
	}

	// Opening the database applies the schema.
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	provisionAccounts(ctx, services, fee)
	zap.L().Info("Setup complete")
}
