package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/username/coinfolio/backend/src/accounting"
	"github.com/username/coinfolio/backend/src/config"
	"github.com/username/coinfolio/backend/src/logger"
)

func NewEmailService() EmailService {
	if config.Cfg == nil || config.Cfg.MailgunDomain == "" || config.Cfg.MailgunPrivateAPIKey == "" {
		logger.L.Info("Mailgun not configured, report notifications will only be logged.")
		return &MockEmailService{}
	}
	mg := mailgun.NewMailgun(config.Cfg.MailgunDomain, config.Cfg.MailgunPrivateAPIKey)
	logger.L.Info("Mailgun client initialized", "domain", config.Cfg.MailgunDomain)
	return &MailgunEmailService{
		mg:          mg,
		senderEmail: config.Cfg.SenderEmail,
		senderName:  config.Cfg.SenderName,
	}
}

type MailgunEmailService struct {
	mg          mailgun.Mailgun
	senderEmail string
	senderName  string
}

func (s *MailgunEmailService) SendReportReadyEmail(toEmail, username string, report *accounting.Report) error {
	from := fmt.Sprintf("%s <%s>", s.senderName, s.senderEmail)
	subject := "Your Coinfolio tax report is ready"

	plainTextBody := fmt.Sprintf(`Hi %s,

Your tax report for the period %d to %d has been computed.

Total profit/loss: %s
Total taxable profit/loss: %s

Log in to see the full breakdown.

Thanks,
The Coinfolio Team`, username, report.StartTs, report.EndTs,
		report.Overview.TotalProfitLoss.String(),
		report.Overview.TotalTaxableProfitLoss.String())

	message := s.mg.NewMessage(from, subject, plainTextBody, toEmail)
	message.AddTag("report-ready")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*20)
	defer cancel()
	resp, id, err := s.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send report notification via Mailgun", "error", err, "to", toEmail, "mailgunResp", resp, "mailgunId", id)
		return fmt.Errorf("mailgun send failed: %w", err)
	}
	logger.L.Info("Report notification sent via Mailgun", "to", toEmail, "id", id)
	return nil
}

type MockEmailService struct{}

func (m *MockEmailService) SendReportReadyEmail(toEmail, username string, report *accounting.Report) error {
	logger.L.Info("MockEmailService: would send report-ready email.",
		"to", toEmail,
		"username", username,
		"totalProfitLoss", report.Overview.TotalProfitLoss)
	return nil
}
