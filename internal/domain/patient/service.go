package patient

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clinicmanager/clinic/internal/platform/apperr"
)

type Service struct {
	doctors       DoctorRepository
	patients      PatientRepository
	consultations ConsultationRepository
}

func NewService(doctors DoctorRepository, patients PatientRepository, consultations ConsultationRepository) *Service {
	return &Service{doctors: doctors, patients: patients, consultations: consultations}
}

// -- Doctors --

func (s *Service) CreateDoctor(ctx context.Context, clinicID uuid.UUID, d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperr.Invalid("name is required")
	}
	d.ClinicID = clinicID
	return s.doctors.Create(ctx, d)
}

func (s *Service) GetDoctor(ctx context.Context, clinicID, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, clinicID, id)
}

func (s *Service) ListDoctors(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, clinicID, limit, offset)
}

// -- Patients --

func (s *Service) CreatePatient(ctx context.Context, clinicID uuid.UUID, in PatientInput) (*Patient, error) {
	p := &Patient{ClinicID: clinicID}
	if err := s.apply(ctx, clinicID, p, in); err != nil {
		return nil, err
	}
	if err := s.patients.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) UpdatePatient(ctx context.Context, clinicID, id uuid.UUID, in PatientInput) (*Patient, error) {
	p, err := s.patients.GetByID(ctx, clinicID, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, clinicID, p, in); err != nil {
		return nil, err
	}
	if err := s.patients.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// apply validates in and copies it onto p.
func (s *Service) apply(ctx context.Context, clinicID uuid.UUID, p *Patient, in PatientInput) error {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return apperr.Invalid("name is required")
	}
	gender := strings.ToUpper(strings.TrimSpace(in.Gender))
	if !validGenders[gender] {
		return apperr.Invalid("gender must be one of M, F, O")
	}

	var dob *time.Time
	if in.DateOfBirth != "" {
		t, err := time.Parse(dateLayout, in.DateOfBirth)
		if err != nil {
			return apperr.Invalid("date_of_birth must be YYYY-MM-DD")
		}
		if t.After(time.Now()) {
			return apperr.Invalid("date_of_birth is in the future")
		}
		dob = &t
	}

	if in.DoctorID != nil {
		if _, err := s.doctors.GetByID(ctx, clinicID, *in.DoctorID); err != nil {
			return err
		}
	}

	p.Name = name
	p.Gender = gender
	p.DateOfBirth = dob
	p.Phone = strings.TrimSpace(in.Phone)
	p.Email = in.Email
	p.Address = in.Address
	p.DoctorID = in.DoctorID
	return nil
}

func (s *Service) GetPatient(ctx context.Context, clinicID, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, clinicID, id)
}

func (s *Service) ListPatients(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.List(ctx, clinicID, strings.TrimSpace(search), limit, offset)
}

// -- Consultations --

func (s *Service) CreateConsultation(ctx context.Context, clinicID uuid.UUID, c *Consultation) error {
	if c.PatientID == uuid.Nil {
		return apperr.Invalid("patient_id is required")
	}
	if _, err := s.patients.GetByID(ctx, clinicID, c.PatientID); err != nil {
		return err
	}
	if c.DoctorID != nil {
		if _, err := s.doctors.GetByID(ctx, clinicID, *c.DoctorID); err != nil {
			return err
		}
	}
	c.ClinicID = clinicID
	return s.consultations.Create(ctx, c)
}

func (s *Service) GetConsultation(ctx context.Context, clinicID, id uuid.UUID) (*Consultation, error) {
	return s.consultations.GetByID(ctx, clinicID, id)
}

func (s *Service) ListConsultations(ctx context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	return s.consultations.ListByPatient(ctx, clinicID, patientID, limit, offset)
}
