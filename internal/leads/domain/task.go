package domain

import (
	"time"

	"github.com/google/uuid"
)

// TaskStatus is Open until completion; Completed is final.
type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "open"
	TaskStatusCompleted TaskStatus = "completed"
)

// TaskOrigin records who created a task.
type TaskOrigin string

const (
	TaskOriginManual       TaskOrigin = "manual"
	TaskOriginAutoFollowUp TaskOrigin = "auto_followup"
)

// ImpliesContactOutcome reports whether completing a task of this origin
// counts as a logged contact with the consumer. Both origins are follow-up
// calls in this system.
func (o TaskOrigin) ImpliesContactOutcome() bool {
	switch o {
	case TaskOriginAutoFollowUp, TaskOriginManual:
		return true
	}
	return false
}

// Task is a follow-up owned by a lead.
type Task struct {
	ID          uuid.UUID
	LeadID      uuid.UUID
	Title       string
	Status      TaskStatus
	Origin      TaskOrigin
	DueAt       time.Time
	CreatedBy   *uuid.UUID
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// IsOpen reports whether the task still awaits completion.
func (t Task) IsOpen() bool {
	return t.Status == TaskStatusOpen
}

// IsOpenAutoFollowUp reports whether the task occupies the lead's single
// automatic follow-up slot.
func (t Task) IsOpenAutoFollowUp() bool {
	return t.IsOpen() && t.Origin == TaskOriginAutoFollowUp
}
