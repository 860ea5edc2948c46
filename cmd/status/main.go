package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"label-settlement-go/internal/common"
	"label-settlement-go/internal/config"
	"label-settlement-go/internal/models"

	"go.uber.org/zap"
)

var statuses = map[string]models.ShipmentStatus{
	"fulfilled":   models.ShipmentFulfilled,
	"del_pending": models.ShipmentDelPending,
	"deleted":     models.ShipmentDeleted,
	"cancel":      models.ShipmentDeleted,
}

func main() {
	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User id or email (required)")
	shipmentFlag := flag.String("shipment", "", "Shipment id (required)")
	statusFlag := flag.String("status", "", "New status: fulfilled, del_pending, deleted (cancel and refund)")
	flag.Parse()

	status, ok := statuses[strings.ToLower(*statusFlag)]
	if *userFlag == "" || *shipmentFlag == "" || !ok {
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

	sh, err := services.Settlement.UpdateShippingRecordStatus(ctx, user.Id, *shipmentFlag, status)
	if err != nil {
		logger.Fatal("Status change failed",
			zap.String("shipment_id", *shipmentFlag),
			zap.String("status", string(status)),
			zap.Error(err))
	}

	after, err := services.DbService.GetUserById(ctx, user.Id)
	if err != nil {
		logger.Fatal("Failed to reload user", zap.Error(err))
	}
	fmt.Printf("Shipment %s (%s) is now %s; balance %s\n",
		sh.Id, sh.OrderId, sh.Status, common.FormatMoney(after.Balance, after.Currency))
}
