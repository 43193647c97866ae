package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
}

// LeadAssignedEmail tells an agent a lead is now theirs.
type LeadAssignedEmail struct {
	AgentName     string `json:"agentName"`
	ConsumerName  string `json:"consumerName"`
	ConsumerPhone string `json:"consumerPhone"`
	Reason        string `json:"reason"`
	LeadURL       string `json:"leadUrl"`
}

// LeadUnreachableEmail asks operations to review a lead that ran out of rotations.
type LeadUnreachableEmail struct {
	ConsumerName      string `json:"consumerName"`
	ConsumerPhone     string `json:"consumerPhone"`
	ReassignmentCount int    `json:"reassignmentCount"`
	LeadURL           string `json:"leadUrl"`
}

// AssignmentStalledEmail alerts operations that no active agent could take a lead.
type AssignmentStalledEmail struct {
	LeadID  string `json:"leadId"`
	Cause   string `json:"cause"`
	LeadURL string `json:"leadUrl"`
}

type leadAssignedEmailData struct {
	baseEmailData
	LeadAssignedEmail
}

type leadUnreachableEmailData struct {
	baseEmailData
	LeadUnreachableEmail
}

type assignmentStalledEmailData struct {
	baseEmailData
	AssignmentStalledEmail
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

func renderLeadAssigned(msg LeadAssignedEmail) (string, error) {
	heading := "A new lead is waiting for you"
	if msg.Reason != "initial" {
		heading = "A lead was reassigned to you"
	}
	return renderEmailTemplate("lead_assigned.html", leadAssignedEmailData{
		baseEmailData: baseEmailData{
			Title:      heading,
			Heading:    heading,
			Subheading: "Please contact the consumer within 30 minutes.",
			CTALabel:   "Open lead",
			CTAURL:     msg.LeadURL,
		},
		LeadAssignedEmail: msg,
	})
}

func renderLeadUnreachable(msg LeadUnreachableEmail) (string, error) {
	return renderEmailTemplate("lead_unreachable.html", leadUnreachableEmailData{
		baseEmailData: baseEmailData{
			Title:    "Lead marked unreachable",
			Heading:  "Lead marked unreachable",
			CTALabel: "Review lead",
			CTAURL:   msg.LeadURL,
		},
		LeadUnreachableEmail: msg,
	})
}

func renderAssignmentStalled(msg AssignmentStalledEmail) (string, error) {
	return renderEmailTemplate("assignment_stalled.html", assignmentStalledEmailData{
		baseEmailData: baseEmailData{
			Title:    "Lead could not be assigned",
			Heading:  "Lead could not be assigned",
			CTALabel: "Open lead",
			CTAURL:   msg.LeadURL,
		},
		AssignmentStalledEmail: msg,
	})
}
