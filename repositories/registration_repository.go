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
	ErrRegistrationNotFound          = errors.New("team registration not found")
	ErrRegistrationNameConflict      = errors.New("team name is already taken for this tournament")
	ErrRegistrationCapacityExceeded  = errors.New("tournament registration capacity exceeded")
	ErrRegistrationTournamentInvalid = errors.New("registration tournament conflict or invalid")
	ErrRegistrationStatusUnchanged   = errors.New("registration status was not changed")
)

// Классы pg_advisory_xact_lock: один на запись заявок, другой на посев,
// чтобы регистрация и посев одного турнира не делили блокировку без нужды.
const (
	registrationLockClass = 1001
	seedingLockClass      = 1002
)

// SeedingCandidate — подтверждённая заявка вместе со средним рейтингом
// подтверждённого состава, вход для движка посева.
type SeedingCandidate struct {
	RegistrationID int
	TeamName       string
	Rating         float64
}

// RegistrationRepository работает с командными заявками. Методы, принимающие
// SQLExecutor, рассчитаны на транзакцию, открытую сервисным слоем.
type RegistrationRepository interface {
	// CreateWithCapacityCheck атомарно вставляет заявку, если число
	// не-отозванных заявок турнира меньше maxTeams. Перед вставкой берётся
	// advisory-блокировка турнира, так что пересчёт и вставка не гоняются
	// с конкурентными регистрациями.
	CreateWithCapacityCheck(ctx context.Context, exec SQLExecutor, reg *models.TeamRegistration, maxTeams int) error

	GetByID(ctx context.Context, id int) (*models.TeamRegistration, error)
	ListByTournament(ctx context.Context, tournamentID int, statusFilter *models.RegistrationStatus) ([]*models.TeamRegistration, error)
	CountActiveByTournament(ctx context.Context, tournamentID int) (int, error)

	// UpdateStatusFrom переводит заявку из from в to; если заявка уже не в
	// from, возвращает ErrRegistrationStatusUnchanged.
	UpdateStatusFrom(ctx context.Context, exec SQLExecutor, id int, from, to models.RegistrationStatus) error

	UpdateLogoKey(ctx context.Context, registrationID int, logoKey *string) error

	// AcquireSeedingLock берёт эксклюзивную транзакционную блокировку на
	// цикл посева турнира.
	AcquireSeedingLock(ctx context.Context, exec SQLExecutor, tournamentID int) error
	ListSeedingCandidates(ctx context.Context, exec SQLExecutor, tournamentID int) ([]SeedingCandidate, error)
	ClearSeeds(ctx context.Context, exec SQLExecutor, tournamentID int) error
	SetSeed(ctx context.Context, exec SQLExecutor, registrationID, seed int) error
}

type postgresRegistrationRepository struct {
	db *sql.DB
}

func NewPostgresRegistrationRepository(db *sql.DB) RegistrationRepository {
	return &postgresRegistrationRepository{db: db}
}

func (r *postgresRegistrationRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresRegistrationRepository) CreateWithCapacityCheck(ctx context.Context, exec SQLExecutor, reg *models.TeamRegistration, maxTeams int) error {
	executor := r.getExecutor(exec)

	if _, err := executor.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock($1, $2)`,
		registrationLockClass, reg.TournamentID,
	); err != nil {
		return fmt.Errorf("failed to acquire registration lock for tournament %d: %w", reg.TournamentID, err)
	}

	// Вставка с пересчётом вместимости тем же оператором: под блокировкой
	// выше count не может измениться между проверкой и вставкой.
	query := `
		INSERT INTO team_registrations (tournament_id, team_name, captain_user_id, status)
		SELECT $1, $2, $3, $4
		WHERE (
			SELECT COUNT(*) FROM team_registrations
			WHERE tournament_id = $1 AND status <> $5
		) < $6
		RETURNING id, created_at`

	err := executor.QueryRowContext(ctx, query,
		reg.TournamentID,
		reg.TeamName,
		reg.CaptainUserID,
		reg.Status,
		models.RegistrationStatusWithdrawn,
		maxTeams,
	).Scan(&reg.ID, &reg.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRegistrationCapacityExceeded
		}
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505": // unique_violation
				if pqErr.Constraint == "team_registrations_tournament_id_team_name_key" {
					return ErrRegistrationNameConflict
				}
			case "23503": // foreign_key_violation
				if pqErr.Constraint == "team_registrations_tournament_id_fkey" {
					return ErrRegistrationTournamentInvalid
				}
			}
		}
		return fmt.Errorf("failed to create team registration: %w", err)
	}
	return nil
}

const registrationColumns = `
	id, tournament_id, team_name, captain_user_id, status, seed, logo_key, created_at`

func scanRegistration(row interface{ Scan(dest ...interface{}) error }, reg *models.TeamRegistration) error {
	return row.Scan(
		&reg.ID, &reg.TournamentID, &reg.TeamName, &reg.CaptainUserID,
		&reg.Status, &reg.Seed, &reg.LogoKey, &reg.CreatedAt,
	)
}

func (r *postgresRegistrationRepository) GetByID(ctx context.Context, id int) (*models.TeamRegistration, error) {
	query := `SELECT` + registrationColumns + ` FROM team_registrations WHERE id = $1`

	reg := &models.TeamRegistration{}
	err := scanRegistration(r.db.QueryRowContext(ctx, query, id), reg)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration %d: %w", id, err)
	}
	return reg, nil
}

func (r *postgresRegistrationRepository) ListByTournament(ctx context.Context, tournamentID int, statusFilter *models.RegistrationStatus) ([]*models.TeamRegistration, error) {
	query := `SELECT` + registrationColumns + ` FROM team_registrations WHERE tournament_id = $1`
	args := []interface{}{tournamentID}

	if statusFilter != nil {
		query += ` AND status = $2`
		args = append(args, *statusFilter)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	registrations := make([]*models.TeamRegistration, 0)
	for rows.Next() {
		var reg models.TeamRegistration
		if scanErr := scanRegistration(rows, &reg); scanErr != nil {
			return nil, scanErr
		}
		registrations = append(registrations, &reg)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return registrations, nil
}

func (r *postgresRegistrationRepository) CountActiveByTournament(ctx context.Context, tournamentID int) (int, error) {
	query := `
		SELECT COUNT(*) FROM team_registrations
		WHERE tournament_id = $1 AND status <> $2`

	var count int
	err := r.db.QueryRowContext(ctx, query, tournamentID, models.RegistrationStatusWithdrawn).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count registrations for tournament %d: %w", tournamentID, err)
	}
	return count, nil
}

func (r *postgresRegistrationRepository) UpdateStatusFrom(ctx context.Context, exec SQLExecutor, id int, from, to models.RegistrationStatus) error {
	executor := r.getExecutor(exec)
	query := `UPDATE team_registrations SET status = $1 WHERE id = $2 AND status = $3`

	result, err := executor.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return fmt.Errorf("failed to update registration %d status: %w", id, err)
	}
	return checkAffectedRows(result, ErrRegistrationStatusUnchanged)
}

func (r *postgresRegistrationRepository) UpdateLogoKey(ctx context.Context, registrationID int, logoKey *string) error {
	query := `UPDATE team_registrations SET logo_key = $1 WHERE id = $2`

	result, err := r.db.ExecContext(ctx, query, logoKey, registrationID)
	if err != nil {
		return fmt.Errorf("failed to update registration logo key: %w", err)
	}
	return checkAffectedRows(result, ErrRegistrationNotFound)
}

func (r *postgresRegistrationRepository) AcquireSeedingLock(ctx context.Context, exec SQLExecutor, tournamentID int) error {
	executor := r.getExecutor(exec)
	if _, err := executor.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock($1, $2)`,
		seedingLockClass, tournamentID,
	); err != nil {
		return fmt.Errorf("failed to acquire seeding lock for tournament %d: %w", tournamentID, err)
	}
	return nil
}

func (r *postgresRegistrationRepository) ListSeedingCandidates(ctx context.Context, exec SQLExecutor, tournamentID int) ([]SeedingCandidate, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT r.id, r.team_name, COALESCE(AVG(u.rating), 0)
		FROM team_registrations r
		JOIN team_members m ON m.registration_id = r.id AND m.status = $1
		JOIN users u ON u.id = m.user_id
		WHERE r.tournament_id = $2 AND r.status = $3
		GROUP BY r.id, r.team_name
		ORDER BY r.id ASC`

	rows, err := executor.QueryContext(ctx, query,
		models.MemberStatusConfirmed, tournamentID, models.RegistrationStatusConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to list seeding candidates for tournament %d: %w", tournamentID, err)
	}
	defer rows.Close()

	candidates := make([]SeedingCandidate, 0)
	for rows.Next() {
		var c SeedingCandidate
		if scanErr := rows.Scan(&c.RegistrationID, &c.TeamName, &c.Rating); scanErr != nil {
			return nil, scanErr
		}
		candidates = append(candidates, c)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return candidates, nil
}

func (r *postgresRegistrationRepository) ClearSeeds(ctx context.Context, exec SQLExecutor, tournamentID int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE team_registrations SET seed = NULL WHERE tournament_id = $1 AND seed IS NOT NULL`

	if _, err := executor.ExecContext(ctx, query, tournamentID); err != nil {
		return fmt.Errorf("failed to clear seeds for tournament %d: %w", tournamentID, err)
	}
	return nil
}

func (r *postgresRegistrationRepository) SetSeed(ctx context.Context, exec SQLExecutor, registrationID, seed int) error {
	executor := r.getExecutor(exec)
	query := `UPDATE team_registrations SET seed = $1 WHERE id = $2`

	result, err := executor.ExecContext(ctx, query, seed, registrationID)
	if err != nil {
		return fmt.Errorf("failed to set seed for registration %d: %w", registrationID, err)
	}
	return checkAffectedRows(result, ErrRegistrationNotFound)
}
