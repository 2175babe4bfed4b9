package patient

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicmanager/clinic/internal/platform/db"
)

// -- Doctor --

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

const doctorCols = `id, clinic_id, user_id, name, specialization, phone, email, created_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.ClinicID, &d.UserID, &d.Name, &d.Specialization, &d.Phone, &d.Email, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	return &d, err
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctors (id, clinic_id, user_id, name, specialization, phone, email)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`,
		d.ID, d.ClinicID, d.UserID, d.Name, d.Specialization, d.Phone, d.Email).Scan(&d.CreatedAt)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+doctorCols+` FROM doctors WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *doctorRepoPG) List(ctx context.Context, clinicID uuid.UUID, limit, offset int) ([]*Doctor, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM doctors WHERE clinic_id = $1`, clinicID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+doctorCols+` FROM doctors WHERE clinic_id = $1 ORDER BY name LIMIT $2 OFFSET $3`,
		clinicID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// -- Patient --

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

const patientCols = `id, clinic_id, name, date_of_birth, gender, phone, email, address, doctor_id, registered_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.ClinicID, &p.Name, &p.DateOfBirth, &p.Gender, &p.Phone,
		&p.Email, &p.Address, &p.DoctorID, &p.RegisteredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	return &p, err
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patients (id, clinic_id, name, date_of_birth, gender, phone, email, address, doctor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING registered_at`,
		p.ID, p.ClinicID, p.Name, p.DateOfBirth, p.Gender, p.Phone, p.Email, p.Address, p.DoctorID).Scan(&p.RegisteredAt)
}

func (r *patientRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE patients SET name = $3, date_of_birth = $4, gender = $5, phone = $6,
			email = $7, address = $8, doctor_id = $9
		WHERE clinic_id = $1 AND id = $2`,
		p.ClinicID, p.ID, p.Name, p.DateOfBirth, p.Gender, p.Phone, p.Email, p.Address, p.DoctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *patientRepoPG) List(ctx context.Context, clinicID uuid.UUID, search string, limit, offset int) ([]*Patient, int, error) {
	q := db.Conn(ctx, r.pool)
	const where = ` FROM patients WHERE clinic_id = $1 AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR phone LIKE '%' || $2 || '%')`

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*)`+where, clinicID, search).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+patientCols+where+` ORDER BY registered_at DESC LIMIT $3 OFFSET $4`,
		clinicID, search, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

// -- Consultation --

type consultationRepoPG struct{ pool *pgxpool.Pool }

func NewConsultationRepoPG(pool *pgxpool.Pool) ConsultationRepository {
	return &consultationRepoPG{pool: pool}
}

const consultationCols = `id, clinic_id, patient_id, doctor_id, notes, created_at`

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation
	err := row.Scan(&c.ID, &c.ClinicID, &c.PatientID, &c.DoctorID, &c.Notes, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConsultationNotFound
	}
	return &c, err
}

func (r *consultationRepoPG) Create(ctx context.Context, c *Consultation) error {
	c.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO consultations (id, clinic_id, patient_id, doctor_id, notes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		c.ID, c.ClinicID, c.PatientID, c.DoctorID, c.Notes).Scan(&c.CreatedAt)
}

func (r *consultationRepoPG) GetByID(ctx context.Context, clinicID, id uuid.UUID) (*Consultation, error) {
	return scanConsultation(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+consultationCols+` FROM consultations WHERE clinic_id = $1 AND id = $2`, clinicID, id))
}

func (r *consultationRepoPG) ListByPatient(ctx context.Context, clinicID, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	q := db.Conn(ctx, r.pool)
	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM consultations WHERE clinic_id = $1 AND patient_id = $2`,
		clinicID, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := q.Query(ctx, `SELECT `+consultationCols+` FROM consultations
		WHERE clinic_id = $1 AND patient_id = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		clinicID, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Consultation
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}
