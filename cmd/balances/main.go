package main

import (
	"context"
	"flag"
	"fmt"

	"label-settlement-go/internal/api"
	"label-settlement-go/internal/common"
	"label-settlement-go/internal/config"
	"label-settlement-go/internal/ledger"
	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type balanceStats struct {
	totalUsers int
	mismatched int
}

func printUser(user models.User, history []models.BillingEntry, check *models.BalanceCheck) {
	fmt.Printf("\n┌─ User: %s (%s)\n", user.Name, user.Email)
	fmt.Printf("│  ID: %s  Role: %s\n", user.Id, user.Role)
	fmt.Printf("│  Balance: %s  Deposit: %s  Min: %s\n",
		common.FormatMoney(user.Balance, user.Currency),
		common.FormatMoney(user.Deposit, user.Currency),
		common.FormatMoney(user.MinBalance, user.Currency))
	if check != nil {
		status := "ok"
		if !check.Matches {
			status = "MISMATCH (history " + check.Expected.StringFixed(2) + ")"
		}
		if check.Mirrored != nil {
			status += ", mirror " + *check.Mirrored
		}
		fmt.Printf("│  Check: %s\n", status)
	}
	common.PrintBoxSeparator(78)

	for i, e := range history {
		fmt.Printf("%s %-10s %-24s %16s  bal %12s  %s\n",
			common.BoxPrefix(i == len(history)-1),
			e.Type,
			common.Truncate(e.Description, 24),
			common.FormatSigned(signed(e), user.Currency),
			e.Balance.StringFixed(2),
			e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

// signed shows label charges as debits.
func signed(e models.BillingEntry) decimal.Decimal {
	if e.Type == models.BillingTypeLabel {
		return e.Total.Neg()
	}
	return e.Total
}

func main() {
	ctx := models.WithActor(context.Background(), models.Actor{Source: "cli"})

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	emailFlag := flag.String("email", "", "Filter by specific user email (optional)")
	limitFlag := flag.Int("history", 10, "Billing records to show per user")
	verifyFlag := flag.Bool("verify", false, "Recompute each balance from billing history")
	flag.Parse()

	logger.Info("Starting balance query")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Read-only: no carriers needed
	logger.Info("Connecting to database", zap.String("path", cfg.Database.Path))
	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	apiService := api.NewLedgerService(dbService, ledger.NewService(dbService, nil, nil, cfg.Ledger.MaxRetries), nil)

	users, err := common.InitializeUsers(ctx, dbService, *emailFlag, logger)
	if err != nil {
		logger.Fatal("Failed to initialize users", zap.Error(err))
	}

	common.PrintHeader("USER BALANCE REPORT", common.DefaultWidth)

	stats := balanceStats{}
	for _, user := range users {
		stats.totalUsers++

		history, err := apiService.GetBillingHistory(ctx, user.Id, *limitFlag, 0)
		if err != nil {
			logger.Error("Failed to load billing history", zap.String("user_id", user.Id), zap.Error(err))
			continue
		}

		var check *models.BalanceCheck
		if *verifyFlag {
			if check, err = apiService.ReconcileUserBalance(ctx, user.Id); err != nil {
				logger.Error("Failed to verify balance", zap.String("user_id", user.Id), zap.Error(err))
			} else if !check.Matches {
				stats.mismatched++
			}
		}
		printUser(user, history, check)
	}

	summary := fmt.Sprintf("SUMMARY: %d users queried", stats.totalUsers)
	if *verifyFlag {
		summary += fmt.Sprintf(", %d balance mismatches", stats.mismatched)
	}
	common.PrintFooter(summary, common.DefaultWidth)

	logger.Info("Balance query completed",
		zap.Int("users_queried", stats.totalUsers),
		zap.Int("mismatched", stats.mismatched))
}
