// Package email renders and delivers routing notifications.
package email

import (
	"context"

	"estate_crm_backend/platform/config"
)

type Sender interface {
	SendLeadAssignedEmail(ctx context.Context, toEmail string, msg LeadAssignedEmail) error
	SendLeadUnreachableEmail(ctx context.Context, toEmail string, msg LeadUnreachableEmail) error
	SendAssignmentStalledEmail(ctx context.Context, toEmail string, msg AssignmentStalledEmail) error
}

type NoopSender struct{}

func (NoopSender) SendLeadAssignedEmail(ctx context.Context, toEmail string, msg LeadAssignedEmail) error {
	return nil
}

func (NoopSender) SendLeadUnreachableEmail(ctx context.Context, toEmail string, msg LeadUnreachableEmail) error {
	return nil
}

func (NoopSender) SendAssignmentStalledEmail(ctx context.Context, toEmail string, msg AssignmentStalledEmail) error {
	return nil
}

// NewSender returns an SMTP sender, or a no-op sender when e-mail is disabled.
func NewSender(cfg config.SMTPConfig) (Sender, error) {
	if !cfg.IsEmailEnabled() {
		return NoopSender{}, nil
	}
	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	), nil
}
