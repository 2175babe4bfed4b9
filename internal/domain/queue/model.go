package queue

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
)

const EventEntryCreated = "queue.entry_created"

const (
	TargetDoctor = "doctor"
	TargetLab    = "lab"
)

const (
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusSkipped    = "skipped"
)

var (
	ErrEntryNotFound     = apperr.NotFound("queue entry")
	ErrInvalidTransition = apperr.Conflict("invalid queue status transition")
	ErrSkipNotAllowed    = apperr.Conflict("only lab queue entries can be skipped")
)

// Entry is a patient's ticket in one doctor's or lab's waiting line.
type Entry struct {
	ID             uuid.UUID  `json:"id"`
	ClinicID       uuid.UUID  `json:"clinic_id"`
	TargetType     string     `json:"target_type"`
	TargetID       uuid.UUID  `json:"target_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	ConsultationID *uuid.UUID `json:"consultation_id,omitempty"`
	Position       int        `json:"position"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

type EnqueueRequest struct {
	TargetType     string     `json:"target_type"`
	TargetID       uuid.UUID  `json:"target_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	ConsultationID *uuid.UUID `json:"consultation_id"`
}

// Target identifies one waiting line.
type Target struct {
	Type string
	ID   uuid.UUID
}

// EntryCreated is the payload of EventEntryCreated.
type EntryCreated struct {
	Entry       *Entry
	PatientName string
}

// transitions lists the allowed next states; lab-only moves are checked separately.
var transitions = map[string][]string{
	StatusWaiting:    {StatusInProgress, StatusSkipped},
	StatusInProgress: {StatusCompleted},
}

func canTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func validTarget(t string) bool {
	return t == TargetDoctor || t == TargetLab
}

// PositionReport summarises the positions handed out on one line.
type PositionReport struct {
	Count       int   `json:"count"`
	MaxPosition int   `json:"max_position"`
	Duplicates  []int `json:"duplicates"`
	Gaps        []int `json:"gaps"`
}

// Healthy reports a line numbered exactly 1..Count.
func (r PositionReport) Healthy() bool {
	return len(r.Duplicates) == 0 && len(r.Gaps) == 0
}

// AuditPositions finds positions assigned twice and numbers skipped
// between 1 and the highest position.
func AuditPositions(positions []int) PositionReport {
	r := PositionReport{Count: len(positions), Duplicates: []int{}, Gaps: []int{}}
	seen := make(map[int]int, len(positions))
	for _, p := range positions {
		seen[p]++
		if p > r.MaxPosition {
			r.MaxPosition = p
		}
	}
	for p, n := range seen {
		if n > 1 {
			r.Duplicates = append(r.Duplicates, p)
		}
	}
	sort.Ints(r.Duplicates)
	for p := 1; p <= r.MaxPosition; p++ {
		if seen[p] == 0 {
			r.Gaps = append(r.Gaps, p)
		}
	}
	return r
}
