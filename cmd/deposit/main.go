package main

import (
	"context"
	"flag"
	"fmt"

	"label-settlement-go/internal/common"
	"label-settlement-go/internal/config"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/roles"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type adjustmentRequest struct {
	user        string
	actor       string
	amount      decimal.Decimal
	addFund     bool
	description string
}

func parseAndValidateFlags() (*adjustmentRequest, error) {
	userFlag := flag.String("user", "", "User id or email to adjust (required)")
	actorFlag := flag.String("actor", "", "Email of the admin making the adjustment (required)")
	amountFlag := flag.String("amount", "", "Amount, e.g. 100.00 (required)")
	deductFlag := flag.Bool("deduct", false, "Deduct the amount instead of depositing it")
	descFlag := flag.String("description", "", "Reference shown in billing history")
	flag.Parse()

	if *userFlag == "" || *actorFlag == "" || *amountFlag == "" {
		return nil, fmt.Errorf("-user, -actor and -amount are required")
	}
	amount, err := decimal.NewFromString(*amountFlag)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", *amountFlag, err)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("amount must be positive")
	}
	return &adjustmentRequest{
		user:        *userFlag,
		actor:       *actorFlag,
		amount:      amount.Round(2),
		addFund:     !*deductFlag,
		description: *descFlag,
	}, nil
}

func printAdjustmentSummary(user *models.User, req *adjustmentRequest, result *models.AdjustmentResult) {
	action := "DEPOSIT"
	delta := req.amount
	if !req.addFund {
		action = "DEDUCTION"
		delta = delta.Neg()
	}
	common.PrintHeader(action+" APPLIED", common.DefaultWidth)
	fmt.Printf("User:        %s (%s)\n", user.Name, user.Email)
	fmt.Printf("Amount:      %s\n", common.FormatSigned(delta, user.Currency))
	fmt.Printf("Previous:    %s\n", common.FormatMoney(user.Balance, user.Currency))
	fmt.Printf("New balance: %s\n", common.FormatMoney(result.NewBalance, user.Currency))
	common.PrintFooter("Adjustment recorded", common.DefaultWidth)
}

func main() {
	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	req, err := parseAndValidateFlags()
	if err != nil {
		logger.Fatal("Invalid arguments", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	services, err := common.InitializeServices(context.Background(), cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	ctx := context.Background()
	actor, err := services.DbService.GetUserByEmail(ctx, req.actor)
	if err != nil {
		logger.Fatal("Actor not found", zap.String("email", req.actor), zap.Error(err))
	}
	if !roles.NameAtLeast(actor.Role, roles.Admin) {
		logger.Fatal("Adjustments require an admin", zap.String("email", actor.Email), zap.String("role", actor.Role))
	}
	ctx = models.WithActor(ctx, models.Actor{UserId: actor.Id, Role: actor.Role, Source: "cli"})

	user, err := common.ResolveUser(ctx, services.DbService, req.user)
	if err != nil {
		logger.Fatal("Failed to resolve user", zap.Error(err))
	}

	result, err := services.ApiService.AdjustBalance(ctx, user.Id, req.amount, req.addFund, req.description)
	if err != nil {
		logger.Fatal("Adjustment failed", zap.Error(err))
	}
	if !result.Success {
		logger.Fatal("Adjustment rejected", zap.String("user_id", user.Id), zap.String("error", result.Error))
	}

	printAdjustmentSummary(user, req, result)
}
