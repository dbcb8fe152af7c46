package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/lib/pq"
)

var (
	ErrCheckInNotFound            = errors.New("check-in record not found")
	ErrCheckInTournamentInvalid   = errors.New("check-in tournament conflict or invalid")
	ErrCheckInUserInvalid         = errors.New("check-in user conflict or invalid")
	ErrCheckInRegistrationInvalid = errors.New("check-in registration conflict or invalid")
)

// CheckInRepository хранит отметки о явке.
type CheckInRepository interface {
	// Upsert вставляет запись либо обновляет checkin_time существующей.
	// Атомарность даёт ON CONFLICT по ключу (tournament_id, user_id):
	// сколько бы раз участник ни отметился, строка одна, время — последнее.
	Upsert(ctx context.Context, record *models.CheckInRecord) error

	GetByTournamentAndUser(ctx context.Context, tournamentID, userID int) (*models.CheckInRecord, error)
	ListByTournament(ctx context.Context, tournamentID int) ([]*models.CheckInRecord, error)
}

type postgresCheckInRepository struct {
	db *sql.DB
}

func NewPostgresCheckInRepository(db *sql.DB) CheckInRepository {
	return &postgresCheckInRepository{db: db}
}

func (r *postgresCheckInRepository) Upsert(ctx context.Context, record *models.CheckInRecord) error {
	query := `
		INSERT INTO checkin_records (tournament_id, user_id, registration_id, checkin_time)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tournament_id, user_id)
		DO UPDATE SET checkin_time = EXCLUDED.checkin_time, registration_id = EXCLUDED.registration_id
		RETURNING checkin_time`

	err := r.db.QueryRowContext(ctx, query,
		record.TournamentID,
		record.UserID,
		record.RegistrationID,
		record.CheckinTime,
	).Scan(&record.CheckinTime)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23503" {
			switch pqErr.Constraint {
			case "checkin_records_tournament_id_fkey":
				return ErrCheckInTournamentInvalid
			case "checkin_records_user_id_fkey":
				return ErrCheckInUserInvalid
			case "checkin_records_registration_id_fkey":
				return ErrCheckInRegistrationInvalid
			}
		}
		return fmt.Errorf("failed to upsert check-in record: %w", err)
	}
	return nil
}

func (r *postgresCheckInRepository) GetByTournamentAndUser(ctx context.Context, tournamentID, userID int) (*models.CheckInRecord, error) {
	query := `
		SELECT tournament_id, user_id, registration_id, checkin_time
		FROM checkin_records
		WHERE tournament_id = $1 AND user_id = $2`

	record := &models.CheckInRecord{}
	err := r.db.QueryRowContext(ctx, query, tournamentID, userID).Scan(
		&record.TournamentID, &record.UserID, &record.RegistrationID, &record.CheckinTime,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCheckInNotFound
		}
		return nil, fmt.Errorf("failed to get check-in record: %w", err)
	}
	return record, nil
}

func (r *postgresCheckInRepository) ListByTournament(ctx context.Context, tournamentID int) ([]*models.CheckInRecord, error) {
	query := `
		SELECT tournament_id, user_id, registration_id, checkin_time
		FROM checkin_records
		WHERE tournament_id = $1
		ORDER BY checkin_time ASC`

	rows, err := r.db.QueryContext(ctx, query, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	records := make([]*models.CheckInRecord, 0)
	for rows.Next() {
		var record models.CheckInRecord
		if scanErr := rows.Scan(
			&record.TournamentID, &record.UserID, &record.RegistrationID, &record.CheckinTime,
		); scanErr != nil {
			return nil, scanErr
		}
		records = append(records, &record)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
