package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"label-settlement-go/internal/common"
	"label-settlement-go/internal/config"
	"label-settlement-go/internal/importer"
	"label-settlement-go/internal/models"

	"go.uber.org/zap"
)

// readHeader maps the file's header row and rewinds it for the importer,
// which skips the header itself.
func readHeader(f *os.File) (importer.ColumnMap, error) {
	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("unable to read header: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return importer.HeaderColumns(header), nil
}

func printSummary(s *importer.ImportSummary, currency string) {
	common.PrintHeader("IMPORT "+s.RunId, common.DefaultWidth)
	fmt.Printf("Rows: %d  Purchased: %d  Dropped: %d  Failed: %d\n", s.Total, s.Success, s.Dropped, s.Failed)
	for i, f := range s.Failures {
		fmt.Printf("%s row %-5d %-16s %s\n", common.BoxPrefix(i == len(s.Failures)-1), f.Row, f.OrderRef, f.Reason)
	}
	common.PrintFooter("Final balance: "+common.FormatMoney(s.FinalBalance, currency), common.DefaultWidth)
}

func main() {
	logger, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	userFlag := flag.String("user", "", "User id or email (required)")
	fileFlag := flag.String("file", "", "CSV file of shipments (required)")
	testFlag := flag.Bool("test", false, "Buy sandbox labels without billing")
	senderName := flag.String("sender-name", "", "Sender name")
	senderStreet := flag.String("sender-street", "", "Sender street")
	senderCity := flag.String("sender-city", "", "Sender city")
	senderState := flag.String("sender-state", "", "Sender state")
	senderZip := flag.String("sender-zip", "", "Sender postal code")
	senderCountry := flag.String("sender-country", "US", "Sender country")
	flag.Parse()

	if *userFlag == "" || *fileFlag == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	user, err := common.ResolveUser(ctx, services.DbService, *userFlag)
	if err != nil {
		logger.Fatal("Failed to resolve user", zap.Error(err))
	}
	ctx = models.WithActor(ctx, models.Actor{UserId: user.Id, Role: user.Role, Source: "import"})

	f, err := os.Open(*fileFlag)
	if err != nil {
		logger.Fatal("Failed to open import file", zap.Error(err))
	}
	defer f.Close()

	cols, err := readHeader(f)
	if err != nil {
		logger.Fatal("Invalid import file", zap.String("file", *fileFlag), zap.Error(err))
	}

	summary, err := services.Importer.Run(ctx, importer.ImportRequest{
		UserId:   user.Id,
		FileName: filepath.Base(*fileFlag),
		Source:   f,
		Columns:  cols,
		IsTest:   *testFlag,
		Sender: models.Address{
			Name:    *senderName,
			Street1: *senderStreet,
			City:    *senderCity,
			State:   *senderState,
			Zip:     *senderZip,
			Country: *senderCountry,
		},
	})
	if errors.Is(err, importer.ErrImportInProgress) {
		logger.Fatal("Another import is running for this user", zap.String("user_id", user.Id))
	}
	if summary != nil {
		printSummary(summary, user.Currency)
	}
	if err != nil {
		logger.Fatal("Import failed", zap.Error(err))
	}
}
