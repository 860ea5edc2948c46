package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"label-settlement-go/internal/common"
	"label-settlement-go/internal/config"
	"label-settlement-go/internal/ledger"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/settlement"

	"go.uber.org/zap"
)

func printResult(res *settlement.PurchaseResult) {
	sh := res.Shipment
	title := "LABEL PURCHASED"
	if res.IsTest {
		title = "TEST LABEL (not billed)"
	}
	common.PrintHeader(title, common.DefaultWidth)
	fmt.Printf("Order:     %s\n", sh.OrderId)
	fmt.Printf("Carrier:   %s / %s\n", sh.Carrier, res.Product.Service)
	fmt.Printf("Tracking:  %s\n", sh.TrackingId)
	fmt.Printf("Shipping:  %s\n", common.FormatMoney(res.Charge.ShippingCost, res.Charge.Currency))
	fmt.Printf("Fee:       %s\n", common.FormatMoney(res.Charge.Fee, res.Charge.Currency))
	fmt.Printf("Total:     %s\n", common.FormatMoney(res.Charge.Total, res.Charge.Currency))
	if res.Billing != nil {
		fmt.Printf("Balance:   %s\n", common.FormatMoney(res.Balance, res.Charge.Currency))
	}
	for _, l := range sh.Labels {
		fmt.Printf("Label:     %s (%s)\n", l.TrackingId, l.Format)
	}
	common.PrintFooter("Shipment "+string(sh.Status), common.DefaultWidth)
}

func main() {
	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User id or email (required)")
	shipmentFlag := flag.String("shipment", "", "Shipment id to purchase (required)")
	testFlag := flag.Bool("test", false, "Buy a sandbox label without billing")
	flag.Parse()

	if *userFlag == "" || *shipmentFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := context.Background()
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	user, err := common.ResolveUser(ctx, services.DbService, *userFlag)
	if err != nil {
		logger.Fatal("Failed to resolve user", zap.Error(err))
	}
	ctx = models.WithActor(ctx, models.Actor{UserId: user.Id, Role: user.Role, Source: "cli"})

	res, err := services.Settlement.Purchase(ctx, settlement.PurchaseRequest{
		UserId:     user.Id,
		ShipmentId: *shipmentFlag,
		IsTest:     *testFlag,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			fmt.Printf("Insufficient balance: %s available\n", common.FormatMoney(user.Balance, user.Currency))
		case errors.Is(err, settlement.ErrPartialCommit):
			fmt.Println("Label bought but billing incomplete; shipment flagged for review")
		default:
			fmt.Printf("Purchase failed: %s\n", settlement.PublicMessage(err))
		}
		logger.Fatal("Purchase failed", zap.String("shipment_id", *shipmentFlag), zap.Error(err))
	}

	printResult(res)
}
