package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"label-settlement-go/internal/common"
	"label-settlement-go/internal/config"
	"label-settlement-go/internal/models"
	"label-settlement-go/internal/reconcile"

	"go.uber.org/zap"
)

func main() {
	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	fileFlag := flag.String("file", "", "Carrier settlement file, .csv or .xlsx (required). The file is removed once processed")
	nameFlag := flag.String("name", "", "Reconciliation name (default: file name)")
	flag.Parse()

	if *fileFlag == "" {
		flag.Usage()
		os.Exit(2)
	}
	if !reconcile.Supported(*fileFlag) {
		logger.Fatal("Unsupported settlement file", zap.String("file", *fileFlag))
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx := models.WithActor(context.Background(), models.Actor{Source: "reconcile"})
	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	name := *nameFlag
	if name == "" {
		name = filepath.Base(*fileFlag)
	}

	result, err := services.Reconciler.Process(ctx, reconcile.Job{FileName: name, Path: *fileFlag})
	if result != nil {
		common.PrintHeader("RECONCILIATION "+result.RecordId, common.DefaultWidth)
		fmt.Printf("Rows:       %d\n", result.Rows)
		fmt.Printf("Reconciled: %d\n", result.Succeeded)
		fmt.Printf("Failed:     %d\n", result.Failed)
		fmt.Printf("Skipped:    %d\n", result.Skipped)
		common.PrintFooter("Net adjustment: "+common.FormatSigned(result.Adjusted, "USD"), common.DefaultWidth)
	}
	if err != nil {
		logger.Fatal("Reconciliation failed", zap.String("file", *fileFlag), zap.Error(err))
	}
}
