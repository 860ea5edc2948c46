package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"label-settlement-go/internal/models"
)

var importTemplate = template.Must(template.New("import").Parse(`<html><body>
<p>Hi {{.Name}},</p>
<p>Your upload <b>{{.FileName}}</b> has finished processing.</p>
<table>
<tr><td>Rows</td><td>{{.Total}}</td></tr>
<tr><td>Labels purchased</td><td>{{.Success}}</td></tr>
<tr><td>Skipped (insufficient balance)</td><td>{{.Dropped}}</td></tr>
<tr><td>Failed</td><td>{{.Failed}}</td></tr>
<tr><td>Balance</td><td>{{.FinalBalance.StringFixed 2}}</td></tr>
</table>
{{if .Failures}}<p>Failed rows:</p><ul>
{{range .Failures}}<li>Row {{.Row}}{{if .OrderRef}} ({{.OrderRef}}){{end}}: {{.Reason}}</li>
{{end}}</ul>{{end}}
</body></html>`))

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPNotifier struct {
	cfg      models.NotifyConfig
	sendMail sendFunc
}

func NewSMTPNotifier(cfg models.NotifyConfig) (*SMTPNotifier, error) {
	if cfg.SMTPHost == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp host and from address are required")
	}
	if cfg.SMTPPort <= 0 {
		cfg.SMTPPort = 587
	}
	return &SMTPNotifier{cfg: cfg, sendMail: smtp.SendMail}, nil
}

func (n *SMTPNotifier) ImportFinished(ctx context.Context, r ImportReport) error {
	if r.Email == "" {
		return fmt.Errorf("user %s has no email address", r.UserId)
	}
	var body bytes.Buffer
	if err := importTemplate.Execute(&body, r); err != nil {
		return fmt.Errorf("failed to render import notification: %w", err)
	}
	subject := fmt.Sprintf("Upload %s: %d of %d labels purchased", r.FileName, r.Success, r.Total)
	return n.send(ctx, r.Email, subject, body.String())
}

func (n *SMTPNotifier) send(ctx context.Context, to, subject, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.SMTPHost)
	}
	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)

	mime := "MIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n"
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n%s\r\n%s", n.cfg.From, to, subject, mime, htmlBody))

	if err := n.sendMail(addr, auth, n.cfg.From, []string{to}, msg); err != nil {
		return fmt.Errorf("failed to send mail to %s: %w", to, err)
	}
	return nil
}
