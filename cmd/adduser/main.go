package main

import (
	"context"
	"flag"
	"fmt"
	"regexp"

	"label-settlement-go/internal/common"
	"label-settlement-go/internal/config"
	"label-settlement-go/internal/roles"
	"label-settlement-go/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

func validateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email cannot be empty")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if len(name) < 2 {
		return fmt.Errorf("name must be at least 2 characters")
	}
	return nil
}

func main() {
	ctx := context.Background()

	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	nameFlag := flag.String("name", "", "User's full name (required)")
	emailFlag := flag.String("email", "", "User's email address (required)")
	roleFlag := flag.String("role", roles.Client.String(), "Role: client, support, admin, super_admin")
	minBalanceFlag := flag.String("min-balance", "", "Minimum balance kept back from purchases (default from DEFAULT_MIN_BALANCE)")
	flag.Parse()

	if err := validateName(*nameFlag); err != nil {
		logger.Fatal("Invalid name", zap.Error(err))
	}
	if err := validateEmail(*emailFlag); err != nil {
		logger.Fatal("Invalid email", zap.Error(err))
	}
	role, err := roles.Parse(*roleFlag)
	if err != nil {
		logger.Fatal("Invalid role", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	minBalance := cfg.Ledger.DefaultMinBalance
	if *minBalanceFlag != "" {
		if minBalance, err = decimal.NewFromString(*minBalanceFlag); err != nil {
			logger.Fatal("Invalid minimum balance", zap.String("value", *minBalanceFlag), zap.Error(err))
		}
	}

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	if existing, err := dbService.GetUserByEmail(ctx, *emailFlag); err == nil {
		logger.Fatal("User already exists",
			zap.String("email", *emailFlag),
			zap.String("user_id", existing.Id))
	}

	user, err := dbService.CreateUser(ctx, store.CreateUserParams{
		Id:         uuid.New().String(),
		Name:       *nameFlag,
		Email:      *emailFlag,
		Role:       role.String(),
		MinBalance: minBalance,
		Currency:   "USD",
	})
	if err != nil {
		logger.Fatal("Failed to create user", zap.Error(err))
	}

	common.PrintHeader("USER CREATED", common.DefaultWidth)
	fmt.Printf("ID:          %s\n", user.Id)
	fmt.Printf("Name:        %s\n", user.Name)
	fmt.Printf("Email:       %s\n", user.Email)
	fmt.Printf("Role:        %s\n", user.Role)
	fmt.Printf("Min balance: %s\n", common.FormatMoney(user.MinBalance, user.Currency))
	common.PrintFooter("Run `setup` to provision carrier accounts for the new user", common.DefaultWidth)
}
