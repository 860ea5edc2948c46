// Package notify tells users about the outcome of long-running jobs. Delivery
// is best effort: callers log a failed notification and carry on.
package notify

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RowFailure struct {
	Row      int
	OrderRef string
	Reason   string
}

// ImportReport summarises one batch import run.
type ImportReport struct {
	RunId        string
	UserId       string
	Name         string
	Email        string
	FileName     string
	Total        int
	Success      int
	Dropped      int
	Failed       int
	FinalBalance decimal.Decimal
	Failures     []RowFailure
}

type Notifier interface {
	ImportFinished(ctx context.Context, report ImportReport) error
}

// LogNotifier writes notifications to the log instead of delivering them.
type LogNotifier struct{}

func (LogNotifier) ImportFinished(_ context.Context, r ImportReport) error {
	zap.L().Info("Import finished",
		zap.String("run_id", r.RunId),
		zap.String("user_id", r.UserId),
		zap.String("file", r.FileName),
		zap.Int("total", r.Total),
		zap.Int("success", r.Success),
		zap.Int("dropped", r.Dropped),
		zap.Int("failed", r.Failed),
		zap.String("final_balance", r.FinalBalance.StringFixed(2)))
	return nil
}
