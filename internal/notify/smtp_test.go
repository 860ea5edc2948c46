package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"label-settlement-go/internal/models"

	"github.com/shopspring/decimal"
)

func TestSMTPNotifier_ImportFinished(t *testing.T) {
	n, err := NewSMTPNotifier(models.NotifyConfig{SMTPHost: "mail.example.com", From: "noreply@example.com"})
	if err != nil {
		t.Fatalf("NewSMTPNotifier failed: %v", err)
	}

	var gotAddr string
	var gotTo []string
	var gotMsg string
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		if a != nil {
			t.Error("Expected no auth without username")
		}
		return nil
	}

	err = n.ImportFinished(context.Background(), ImportReport{
		UserId:       "u1",
		Name:         "Ann <admin>",
		Email:        "ann@example.com",
		FileName:     "batch.csv",
		Total:        3,
		Success:      2,
		Failed:       1,
		FinalBalance: decimal.RequireFromString("86.4"),
		Failures:     []RowFailure{{Row: 2, OrderRef: "R-2", Reason: "carrier unavailable"}},
	})
	if err != nil {
		t.Fatalf("ImportFinished failed: %v", err)
	}

	if gotAddr != "mail.example.com:587" {
		t.Errorf("Expected default port, got %s", gotAddr)
	}
	if len(gotTo) != 1 || gotTo[0] != "ann@example.com" {
		t.Errorf("Unexpected recipients %v", gotTo)
	}
	for _, want := range []string{"Subject: Upload batch.csv: 2 of 3 labels purchased", "86.40", "Row 2 (R-2): carrier unavailable", "Ann &lt;admin&gt;"} {
		if !strings.Contains(gotMsg, want) {
			t.Errorf("Message missing %q", want)
		}
	}
}

func TestSMTPNotifier_Errors(t *testing.T) {
	if _, err := NewSMTPNotifier(models.NotifyConfig{}); err == nil {
		t.Fatal("Expected error for empty config")
	}

	n, _ := NewSMTPNotifier(models.NotifyConfig{SMTPHost: "mail.example.com", From: "noreply@example.com", Username: "u", Password: "p"})
	boom := errors.New("connection refused")
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return boom }

	if err := n.ImportFinished(context.Background(), ImportReport{UserId: "u1"}); err == nil {
		t.Error("Expected error for missing email")
	}
	if err := n.ImportFinished(context.Background(), ImportReport{UserId: "u1", Email: "a@example.com"}); !errors.Is(err, boom) {
		t.Errorf("Expected send error, got %v", err)
	}
}
