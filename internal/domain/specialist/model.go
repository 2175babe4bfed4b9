package specialist

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
)

const (
	EventTaskCreated    = "specialist.task_created"
	EventPatientArrived = "specialist.patient_arrived"
)

const (
	RoleSonographer  = "sonographer"
	RoleNurse        = "nurse"
	RoleCardiologist = "cardiologist"
	RoleRadiologist  = "radiologist"
	RolePhysician    = "physician"
	RoleOther        = "other"
)

var roles = map[string]bool{
	RoleSonographer:  true,
	RoleNurse:        true,
	RoleCardiologist: true,
	RoleRadiologist:  true,
	RolePhysician:    true,
	RoleOther:        true,
}

func validRole(r string) bool { return roles[r] }

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusCancelled  = "cancelled"
)

var (
	ErrTaskNotFound      = apperr.NotFound("task")
	ErrServiceNotFound   = apperr.NotFound("service")
	ErrInvalidTransition = apperr.Conflict("invalid task status transition")
	ErrNoService         = apperr.Conflict("task has no service configured")
	ErrServiceInactive   = apperr.Conflict("service is not active")
	ErrAlreadyBilled     = apperr.Conflict("task is already billed")
)

// CatalogEntry is a billable service offered by a specialist role.
type CatalogEntry struct {
	ID          uuid.UUID       `json:"id"`
	ClinicID    uuid.UUID       `json:"clinic_id"`
	Name        string          `json:"name"`
	Role        string          `json:"role"`
	Description *string         `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Task struct {
	ID             uuid.UUID  `json:"id"`
	ClinicID       uuid.UUID  `json:"clinic_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	ConsultationID *uuid.UUID `json:"consultation_id,omitempty"`
	AssignedTo     *string    `json:"assigned_to,omitempty"`
	Role           string     `json:"role"`
	ServiceID      *uuid.UUID `json:"service_id,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	Status         string     `json:"status"`
	BillID         *uuid.UUID `json:"bill_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type CreateTaskRequest struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	ConsultationID *uuid.UUID `json:"consultation_id"`
	AssignedTo     *string    `json:"assigned_to"`
	Role           string     `json:"role"`
	ServiceID      *uuid.UUID `json:"service_id"`
	Notes          *string    `json:"notes"`
}

type TaskFilter struct {
	Role       string
	Status     string
	AssignedTo string
}

// TaskCreated is the payload of EventTaskCreated.
type TaskCreated struct {
	Task        *Task
	PatientName string
}

// PatientArrived is the payload of EventPatientArrived, one per waiting task.
type PatientArrived struct {
	Task        *Task
	PatientName string
}

var transitions = map[string][]string{
	StatusWaiting:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusDone, StatusCancelled},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sources lists the states a task may leave to reach to.
func sources(to string) []string {
	var out []string
	for from, targets := range transitions {
		for _, t := range targets {
			if t == to {
				out = append(out, from)
			}
		}
	}
	return out
}
