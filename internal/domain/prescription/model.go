package prescription

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
)

const EventPrescribed = "prescription.prescribed"

var (
	ErrPrescriptionNotFound = apperr.NotFound("prescription")
	ErrAlreadyDispensed     = apperr.Conflict("prescription is already dispensed")
)

// Prescription is an item prescribed during a consultation. Stock leaves
// the shelf and the charge lands on the encounter bill when it is written.
type Prescription struct {
	ID             uuid.UUID  `json:"id"`
	ClinicID       uuid.UUID  `json:"clinic_id"`
	ConsultationID uuid.UUID  `json:"consultation_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	ItemID         uuid.UUID  `json:"item_id"`
	ItemName       string     `json:"item_name,omitempty"`
	Quantity       int        `json:"quantity"`
	Instructions   *string    `json:"instructions,omitempty"`
	PrescribedBy   *string    `json:"prescribed_by,omitempty"`
	MovementID     uuid.UUID  `json:"movement_id"`
	BillID         uuid.UUID  `json:"bill_id"`
	BillItemID     *uuid.UUID `json:"bill_item_id,omitempty"`
	Dispensed      bool       `json:"dispensed"`
	DispensedAt    *time.Time `json:"dispensed_at,omitempty"`
	PrescribedAt   time.Time  `json:"prescribed_at"`
}

// Line is one item of a prescription request. LocationID picks the shelf;
// when empty the location holding the most stock is used.
type Line struct {
	ItemID       uuid.UUID  `json:"item_id"`
	Quantity     int        `json:"quantity"`
	LocationID   *uuid.UUID `json:"location_id"`
	Instructions *string    `json:"instructions"`
}

func (l Line) validate() error {
	if l.ItemID == uuid.Nil {
		return apperr.Invalid("item_id is required")
	}
	if l.Quantity <= 0 {
		return apperr.Invalid("quantity must be positive")
	}
	return nil
}

type Filter struct {
	ConsultationID *uuid.UUID
	PatientID      *uuid.UUID
	Dispensed      *bool
}

// Prescribed is the payload of EventPrescribed, one per request.
type Prescribed struct {
	ConsultationID uuid.UUID
	PatientID      uuid.UUID
	Prescriptions  []*Prescription
}
