// Package notification provides event handlers for sending notifications
// in response to routing events.
// This module subscribes to events and inverts the dependency: the leads
// module never needs to know about e-mail providers or templates.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"estate_crm_backend/internal/email"
	"estate_crm_backend/internal/events"
	"estate_crm_backend/internal/leads"
	notificationoutbox "estate_crm_backend/internal/notification/outbox"
	"estate_crm_backend/platform/config"
	"estate_crm_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	kindEmail = "email"

	templateLeadAssigned      = "lead_assigned"
	templateLeadUnreachable   = "lead_unreachable"
	templateAssignmentStalled = "assignment_stalled"

	invalidOutboxPayloadPrefix = "invalid payload: "
	maxOutboxRetryAttempts     = 5
	outboxRetryBaseDelay       = time.Minute
	outboxRetryMaxDelay        = 60 * time.Minute
)

// Outbox is the persistence the module needs for deferred delivery.
type Outbox interface {
	Insert(ctx context.Context, p notificationoutbox.InsertParams) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (notificationoutbox.Record, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkSucceeded(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error
	ScheduleRetry(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error
}

// Module handles all notification-related event subscriptions.
type Module struct {
	sender    email.Sender
	directory leads.Directory
	cfg       config.NotificationConfig
	log       *logger.Logger
	outbox    Outbox
	now       func() time.Time
}

// New creates the notification module. Without an outbox, messages are sent
// inline from the event handler.
func New(sender email.Sender, directory leads.Directory, cfg config.NotificationConfig, log *logger.Logger) *Module {
	if log == nil {
		log = logger.Discard()
	}
	return &Module{
		sender:    sender,
		directory: directory,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// SetNotificationOutbox injects the notification outbox repository.
func (m *Module) SetNotificationOutbox(outbox Outbox) {
	m.outbox = outbox
}

// RegisterHandlers subscribes the module to the routing events.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.LeadAssigned{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadAssigned)
		if !ok {
			return nil
		}
		return m.handleLeadAssigned(ctx, e)
	}))
	bus.Subscribe(events.LeadMarkedUnreachable{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadMarkedUnreachable)
		if !ok {
			return nil
		}
		return m.handleLeadUnreachable(ctx, e)
	}))
	bus.Subscribe(events.LeadAssignmentStalled{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.LeadAssignmentStalled)
		if !ok {
			return nil
		}
		return m.handleAssignmentStalled(ctx, e)
	}))
	bus.Subscribe(events.NotificationOutboxDue{}.EventName(), events.HandlerFunc(func(ctx context.Context, event events.Event) error {
		e, ok := event.(events.NotificationOutboxDue)
		if !ok {
			return nil
		}
		return m.HandleOutboxDue(ctx, e.OutboxID)
	}))
}

func (m *Module) leadURL(leadID uuid.UUID) string {
	base := strings.TrimRight(m.cfg.GetAppBaseURL(), "/")
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s/leads/%s", base, leadID)
}

func (m *Module) handleLeadAssigned(ctx context.Context, e events.LeadAssigned) error {
	agent, err := m.directory.AgentContact(ctx, e.NewAgentID)
	if err != nil {
		return fmt.Errorf("resolve agent %s: %w", e.NewAgentID, err)
	}
	if agent.Email == "" {
		m.log.Debug("agent has no e-mail; assignment notification skipped", "agentId", agent.ID)
		return nil
	}
	lead, err := m.directory.LeadSummary(ctx, e.LeadID)
	if err != nil {
		return fmt.Errorf("resolve lead %s: %w", e.LeadID, err)
	}

	return m.dispatch(ctx, templateLeadAssigned, agent.Email, email.LeadAssignedEmail{
		AgentName:     agent.Name,
		ConsumerName:  lead.ConsumerName,
		ConsumerPhone: lead.ConsumerPhone,
		Reason:        e.Reason,
		LeadURL:       m.leadURL(e.LeadID),
	})
}

func (m *Module) handleLeadUnreachable(ctx context.Context, e events.LeadMarkedUnreachable) error {
	recipient := m.cfg.GetOpsAlertEmail()
	if recipient == "" {
		m.log.Warn("lead marked unreachable; OPS_ALERT_EMAIL not set, no alert sent", "leadId", e.LeadID)
		return nil
	}
	lead, err := m.directory.LeadSummary(ctx, e.LeadID)
	if err != nil {
		return fmt.Errorf("resolve lead %s: %w", e.LeadID, err)
	}

	return m.dispatch(ctx, templateLeadUnreachable, recipient, email.LeadUnreachableEmail{
		ConsumerName:      lead.ConsumerName,
		ConsumerPhone:     lead.ConsumerPhone,
		ReassignmentCount: e.ReassignmentCount,
		LeadURL:           m.leadURL(e.LeadID),
	})
}

func (m *Module) handleAssignmentStalled(ctx context.Context, e events.LeadAssignmentStalled) error {
	recipient := m.cfg.GetOpsAlertEmail()
	if recipient == "" {
		return nil
	}
	return m.dispatch(ctx, templateAssignmentStalled, recipient, email.AssignmentStalledEmail{
		LeadID:  e.LeadID.String(),
		Cause:   e.AttemptedCause,
		LeadURL: m.leadURL(e.LeadID),
	})
}

func (m *Module) dispatch(ctx context.Context, template, recipient string, payload any) error {
	if m.outbox == nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", template, err)
		}
		return m.deliver(ctx, template, recipient, raw)
	}

	id, err := m.outbox.Insert(ctx, notificationoutbox.InsertParams{
		Kind:      kindEmail,
		Template:  template,
		Recipient: recipient,
		Payload:   payload,
		RunAt:     m.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("enqueue %s notification: %w", template, err)
	}
	m.log.Info("outbox message enqueued", "outboxId", id.String(), "kind", kindEmail, "template", template)
	return nil
}

var errUnsupportedTemplate = errors.New("unsupported notification template")

func (m *Module) deliver(ctx context.Context, template, recipient string, raw json.RawMessage) error {
	switch template {
	case templateLeadAssigned:
		var msg email.LeadAssignedEmail
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("%s%w", invalidOutboxPayloadPrefix, err)
		}
		return m.sender.SendLeadAssignedEmail(ctx, recipient, msg)
	case templateLeadUnreachable:
		var msg email.LeadUnreachableEmail
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("%s%w", invalidOutboxPayloadPrefix, err)
		}
		return m.sender.SendLeadUnreachableEmail(ctx, recipient, msg)
	case templateAssignmentStalled:
		var msg email.AssignmentStalledEmail
		if err := json.Unmarshal(raw, &msg); err != nil {
			return fmt.Errorf("%s%w", invalidOutboxPayloadPrefix, err)
		}
		return m.sender.SendAssignmentStalledEmail(ctx, recipient, msg)
	default:
		return fmt.Errorf("%w: %s", errUnsupportedTemplate, template)
	}
}

// HandleOutboxDue delivers one outbox record. Delivery errors reschedule the
// record with exponential backoff until maxOutboxRetryAttempts.
func (m *Module) HandleOutboxDue(ctx context.Context, outboxID uuid.UUID) error {
	if m.outbox == nil {
		m.log.Debug("notification outbox repository not configured; skipping outbox due event", "outboxId", outboxID)
		return nil
	}

	rec, process, err := m.prepareOutboxRecord(ctx, outboxID)
	if err != nil || !process {
		if err != nil {
			m.log.Error("failed to prepare outbox record", "outboxId", outboxID, "error", err)
		}
		return err
	}

	if rec.Kind != kindEmail {
		_ = m.outbox.MarkFailed(ctx, rec.ID, "unsupported kind: "+rec.Kind)
		return nil
	}

	if err := m.deliver(ctx, rec.Template, rec.Recipient, rec.Payload); err != nil {
		if errors.Is(err, errUnsupportedTemplate) || strings.HasPrefix(err.Error(), invalidOutboxPayloadPrefix) {
			_ = m.outbox.MarkFailed(ctx, rec.ID, err.Error())
			m.log.Warn("outbox record cannot be delivered", "outboxId", rec.ID.String(), "template", rec.Template, "error", err)
			return nil
		}
		m.handleOutboxDeliveryError(ctx, rec, err)
		return err
	}

	if err := m.outbox.MarkSucceeded(ctx, rec.ID); err != nil {
		return err
	}
	m.log.Info("outbox record processed successfully", "outboxId", rec.ID.String(), "kind", rec.Kind, "template", rec.Template)
	return nil
}

func (m *Module) prepareOutboxRecord(ctx context.Context, outboxID uuid.UUID) (notificationoutbox.Record, bool, error) {
	rec, err := m.outbox.GetByID(ctx, outboxID)
	if err != nil {
		return notificationoutbox.Record{}, false, err
	}
	if rec.Status == notificationoutbox.StatusSucceeded || rec.Status == notificationoutbox.StatusFailed {
		m.log.Debug("outbox record already settled; skipping", "outboxId", rec.ID.String(), "status", rec.Status)
		return rec, false, nil
	}
	if err := m.outbox.MarkProcessing(ctx, rec.ID); err != nil {
		return notificationoutbox.Record{}, false, err
	}
	return rec, true, nil
}

func (m *Module) handleOutboxDeliveryError(ctx context.Context, rec notificationoutbox.Record, deliveryErr error) {
	attempt := rec.Attempts + 1
	if attempt >= maxOutboxRetryAttempts {
		_ = m.outbox.MarkFailed(ctx, rec.ID, deliveryErr.Error())
		m.log.Warn("notification outbox exhausted retries",
			"outboxId", rec.ID.String(),
			"template", rec.Template,
			"attempt", attempt,
			"maxAttempts", maxOutboxRetryAttempts,
			"error", deliveryErr,
		)
		return
	}

	retryAt := m.now().UTC().Add(computeOutboxRetryDelay(attempt))
	if err := m.outbox.ScheduleRetry(ctx, rec.ID, retryAt, deliveryErr.Error()); err != nil {
		_ = m.outbox.MarkFailed(ctx, rec.ID, deliveryErr.Error())
		m.log.Error("notification outbox retry scheduling failed; marked failed",
			"outboxId", rec.ID.String(),
			"attempt", attempt,
			"error", err,
		)
		return
	}

	m.log.Warn("notification outbox scheduled retry",
		"outboxId", rec.ID.String(),
		"template", rec.Template,
		"attempt", attempt,
		"retryAt", retryAt,
		"error", deliveryErr,
	)
}

func computeOutboxRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := outboxRetryBaseDelay << (attempt - 1)
	if delay > outboxRetryMaxDelay {
		return outboxRetryMaxDelay
	}
	return delay
}
