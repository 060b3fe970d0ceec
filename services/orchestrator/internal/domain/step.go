package domain

import (
	"time"

	"github.com/ali449/saga-orchestrator/pkg/contract"
)

// StepStatus is the state of one step instance.
type StepStatus string

// Step instance status constants.
const (
	StepInProgress  StepStatus = "IN_PROGRESS"
	StepCompleted   StepStatus = "COMPLETED"
	StepFailed      StepStatus = "FAILED"
	StepCompensated StepStatus = "COMPENSATED"
)

// StepInstance tracks the execution of one step for one saga instance.
type StepInstance struct {
	ID                  string               `json:"id"`
	StepID              int64                `json:"step_id"`
	StepOrder           int                  `json:"step_order"`
	Name                string               `json:"name"`
	CommandType         contract.CommandType `json:"command_type"`
	EventReceived       contract.EventType   `json:"event_received,omitempty"`
	EventID             string               `json:"event_id,omitempty"`
	Status              StepStatus           `json:"status"`
	RetryCount          int                  `json:"retry_count"`
	ErrorDetail         string               `json:"error_detail,omitempty"`
	CompensationCommand contract.CommandType `json:"compensation_command,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
	UpdatedAt           time.Time            `json:"updated_at"`
}

// Complete marks the step as successfully completed by the given event.
func (s *StepInstance) Complete(eventType contract.EventType, eventID string, now time.Time) {
	s.Status = StepCompleted
	s.EventReceived = eventType
	s.EventID = eventID
	s.RetryCount++
	s.UpdatedAt = now
}

// Fail marks the step as failed with the given error message.
func (s *StepInstance) Fail(detail string, now time.Time) {
	s.Status = StepFailed
	s.ErrorDetail = detail
	s.UpdatedAt = now
}

// Compensate marks the step as compensated (rolled back).
func (s *StepInstance) Compensate(now time.Time) {
	s.Status = StepCompensated
	s.UpdatedAt = now
}

// AwaitsCompensation reports whether a compensating command was issued for
// the step and not yet confirmed.
func (s *StepInstance) AwaitsCompensation() bool {
	return s.CompensationCommand != "" && s.Status != StepCompensated
}
