package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"sehat-saathi/internal/models"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Fixed width and always UTC, so ORDER BY on the text column is chronological.
const timeFormat = "2006-01-02T15:04:05.000000Z"

var ErrNotFound = errors.New("not found")

type Repository struct {
	db *sql.DB
}

// Open connects to sqlite3 or postgres and makes sure the schema exists.
// Every statement uses $n placeholders, which both drivers accept.
func Open(ctx context.Context, driver, dsn string) (*Repository, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		// sqlite allows one writer at a time
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := NewRepository(db)
	if err := repo.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return repo, nil
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) initSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS emergencies (
            id TEXT PRIMARY KEY,
            type TEXT NOT NULL,
            name TEXT NOT NULL,
            message TEXT,
            lat DOUBLE PRECISION,
            lng DOUBLE PRECISION,
            created_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS doctors (
            id TEXT PRIMARY KEY,
            hospital_name TEXT NOT NULL,
            contact TEXT,
            loc_lat DOUBLE PRECISION,
            loc_long DOUBLE PRECISION
        )`,
		`CREATE TABLE IF NOT EXISTS hospital_responses (
            id TEXT PRIMARY KEY,
            emergency_id TEXT NOT NULL,
            doctor_id TEXT,
            hospital_name TEXT NOT NULL,
            status TEXT,
            bed_availability BOOLEAN,
            medical_advice TEXT,
            eta TEXT,
            responded_at TEXT NOT NULL
        )`,
		`CREATE INDEX IF NOT EXISTS idx_hospital_responses_emergency ON hospital_responses (emergency_id, responded_at)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) SaveEmergency(ctx context.Context, ev models.EmergencyEvent) error {
	var lat, lng sql.NullFloat64
	if ev.Location != nil {
		lat = sql.NullFloat64{Float64: ev.Location.Lat, Valid: true}
		lng = sql.NullFloat64{Float64: ev.Location.Lng, Valid: true}
	}
	query := `INSERT INTO emergencies (id, type, name, message, lat, lng, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, ev.ID, ev.Type, ev.ReporterName, ev.Message, lat, lng, formatTime(ev.CreatedAt))
	return err
}

func (r *Repository) GetEmergency(ctx context.Context, id string) (models.EmergencyEvent, error) {
	query := `SELECT id, type, name, message, lat, lng, created_at FROM emergencies WHERE id = $1`
	var (
		ev           models.EmergencyEvent
		message      sql.NullString
		lat, lng     sql.NullFloat64
		createdAtStr string
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&ev.ID, &ev.Type, &ev.ReporterName, &message, &lat, &lng, &createdAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return ev, ErrNotFound
	}
	if err != nil {
		return ev, err
	}
	ev.Message = message.String
	if lat.Valid && lng.Valid {
		ev.Location = &models.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	if ev.CreatedAt, err = parseTime(createdAtStr); err != nil {
		return ev, fmt.Errorf("emergency %s has bad created_at: %w", id, err)
	}
	return ev, nil
}

func (r *Repository) UpsertDoctor(ctx context.Context, d models.Doctor) error {
	query := `INSERT INTO doctors (id, hospital_name, contact, loc_lat, loc_long) VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (id) DO UPDATE SET hospital_name = EXCLUDED.hospital_name, contact = EXCLUDED.contact,
        loc_lat = EXCLUDED.loc_lat, loc_long = EXCLUDED.loc_long`
	_, err := r.db.ExecContext(ctx, query, d.ID, d.HospitalName, d.Contact, nullFloat(d.Lat), nullFloat(d.Lng))
	return err
}

// InsertResponse stores a hospital reply. It reports false when the id was already present.
func (r *Repository) InsertResponse(ctx context.Context, resp models.HospitalResponse, doctorID string) (bool, error) {
	var bed sql.NullBool
	if resp.BedAvailable != nil {
		bed = sql.NullBool{Bool: *resp.BedAvailable, Valid: true}
	}
	var doctor sql.NullString
	if doctorID != "" {
		doctor = sql.NullString{String: doctorID, Valid: true}
	}
	query := `INSERT INTO hospital_responses (id, emergency_id, doctor_id, hospital_name, status, bed_availability, medical_advice, eta, responded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) ON CONFLICT (id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		resp.ID, resp.EmergencyID, doctor, resp.HospitalName, resp.LegacyStatus, bed,
		resp.MedicalAdvice, resp.ETA, formatTime(resp.RespondedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FetchResponses returns every reply for the emergency, newest first, with the doctor record joined in.
func (r *Repository) FetchResponses(ctx context.Context, emergencyID string) ([]models.HospitalResponse, error) {
	query := `SELECT r.id, r.emergency_id, r.hospital_name, r.status, r.bed_availability, r.medical_advice, r.eta, r.responded_at,
            d.id, d.contact, d.loc_lat, d.loc_long
        FROM hospital_responses r
        LEFT JOIN doctors d ON d.id = r.doctor_id
        WHERE r.emergency_id = $1
        ORDER BY r.responded_at DESC`
	rows, err := r.db.QueryContext(ctx, query, emergencyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responses := make([]models.HospitalResponse, 0)
	for rows.Next() {
		var (
			resp                models.HospitalResponse
			status, advice, eta sql.NullString
			bed                 sql.NullBool
			respondedAtStr      string
			doctorID, contact   sql.NullString
			docLat, docLng      sql.NullFloat64
		)
		if err := rows.Scan(
			&resp.ID,
			&resp.EmergencyID,
			&resp.HospitalName,
			&status,
			&bed,
			&advice,
			&eta,
			&respondedAtStr,
			&doctorID,
			&contact,
			&docLat,
			&docLng,
		); err != nil {
			return nil, err
		}
		respondedAt, err := parseTime(respondedAtStr)
		if err != nil {
			return nil, fmt.Errorf("response %s has bad responded_at: %w", resp.ID, err)
		}
		resp.RespondedAt = respondedAt
		resp.LegacyStatus = status.String
		resp.MedicalAdvice = advice.String
		resp.ETA = eta.String
		if bed.Valid {
			b := bed.Bool
			resp.BedAvailable = &b
		}
		if doctorID.Valid {
			resp.Contact = &models.DoctorContact{
				Contact: contact.String,
				Lat:     floatPtr(docLat),
				Lng:     floatPtr(docLng),
			}
		}
		responses = append(responses, resp)
	}
	return responses, rows.Err()
}

// PurgeEmergencies removes emergencies created before the cutoff together with their replies.
func (r *Repository) PurgeEmergencies(ctx context.Context, before time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	cutoff := formatTime(before)
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM hospital_responses WHERE emergency_id IN (SELECT id FROM emergencies WHERE created_at < $1)`, cutoff); err != nil {
		tx.Rollback()
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM emergencies WHERE created_at < $1`, cutoff)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	return n, tx.Commit()
}

// CountOpenEmergencies counts emergencies that no hospital has replied to yet.
func (r *Repository) CountOpenEmergencies(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM emergencies e WHERE NOT EXISTS (SELECT 1 FROM hospital_responses r WHERE r.emergency_id = e.id)`
	var n int
	err := r.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.ParseInLocation(timeFormat, s, time.UTC)
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}
