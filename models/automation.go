package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Sequence trigger types. V1 has exactly one trigger.
const (
	TriggerNewLeadAdded = "new_lead_added"
)

// Step types for automation steps.
const (
	StepSendEmail = "send_email"
	StepSendSMS   = "send_sms"
	StepWait      = "wait"
)

// Enrollment statuses.
const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentCanceled  = "canceled"
)

// StepOrderNone is the CurrentStepOrder sentinel for an enrollment that has
// not executed any step yet. Step orders start at 0.
const StepOrderNone = -1

// AutomationSequence represents a multi-step drip sequence. Mutated through
// the API only; the engine treats it as read-only.
type AutomationSequence struct {
	gorm.Model
	UserID uint `gorm:"not null;index" json:"user_id"`

	Name        string `gorm:"not null" json:"name"`
	TriggerType string `gorm:"not null;default:'new_lead_added';index" json:"trigger_type"`
	IsActive    bool   `gorm:"default:false;index" json:"is_active"`

	// Relations
	Steps       []AutomationStep `gorm:"foreignKey:SequenceID" json:"steps,omitempty"`
	Enrollments []Enrollment     `gorm:"foreignKey:SequenceID" json:"enrollments,omitempty"`
}

// AutomationStep is one step of a sequence. The payload is a tagged union on
// StepType: send steps carry Subject/Body, wait steps carry WaitDays.
type AutomationStep struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index:idx_step_sequence_order,unique" json:"sequence_id"`

	// StepOrder values are unique and contiguous within a sequence, starting
	// at 0. The engine executes steps strictly in ascending order.
	StepOrder int    `gorm:"not null;index:idx_step_sequence_order,unique" json:"step_order"`
	StepType  string `gorm:"not null" json:"step_type"`

	// send_email / send_sms payload. Body supports contact variables like
	// {{.FirstName}} and {{.Email}}.
	Subject string `json:"subject"`
	Body    string `gorm:"type:text" json:"body"`

	// wait payload, whole days, minimum 1 (enforced at authoring time).
	WaitDays int `json:"wait_days"`
}

// Validate enforces the authoring-time payload rules for a single step.
func (s *AutomationStep) Validate() error {
	switch s.StepType {
	case StepSendEmail:
		if s.Subject == "" || s.Body == "" {
			return fmt.Errorf("send_email step requires subject and body")
		}
	case StepSendSMS:
		if s.Body == "" {
			return fmt.Errorf("send_sms step requires body")
		}
	case StepWait:
		if s.WaitDays < 1 {
			return fmt.Errorf("wait step requires wait_days >= 1")
		}
	default:
		return fmt.Errorf("unknown step type %q", s.StepType)
	}
	return nil
}

// Enrollment tracks one contact's progress through one sequence. This is the
// engine's only mutable state: CurrentStepOrder and NextStepAt are owned
// exclusively by the automation engine and every write goes through a
// conditional update keyed on the previously read CurrentStepOrder.
type Enrollment struct {
	gorm.Model
	SequenceID uint `gorm:"not null;index:idx_enrollment_seq_contact" json:"sequence_id"`
	ContactID  uint `gorm:"not null;index:idx_enrollment_seq_contact" json:"contact_id"`
	UserID     uint `gorm:"not null;index" json:"user_id"`

	// CurrentStepOrder is the last completed step's order, or StepOrderNone
	// when the enrollment has not started.
	CurrentStepOrder int `gorm:"not null;default:-1" json:"current_step_order"`

	// NextStepAt is when the next step becomes due. Nil means due immediately.
	NextStepAt *time.Time `gorm:"index" json:"next_step_at"`

	Status string `gorm:"not null;default:'active';index" json:"status"`

	// Dispatch retry bookkeeping: consecutive failures on the current step.
	// Reset on any successful advance; the engine cancels the enrollment once
	// the cap is reached.
	FailCount int    `gorm:"default:0" json:"fail_count"`
	LastError string `json:"last_error,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
