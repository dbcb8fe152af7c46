package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/lib/pq"
)

var (
	ErrMemberNotFound            = errors.New("team member not found")
	ErrMemberConflict            = errors.New("user already holds a member row for this registration")
	ErrMemberTokenConflict       = errors.New("invite token conflict")
	ErrMemberRegistrationInvalid = errors.New("member registration conflict or invalid")
	ErrMemberUserInvalid         = errors.New("member user conflict or invalid")
	ErrMemberAlreadyResponded    = errors.New("member has already responded to the invite")
	ErrMemberRosterFull          = errors.New("registration roster is full")
)

// Класс pg_advisory_xact_lock для записи в состав заявки.
const rosterLockClass = 1003

// MemberRepository работает со строками участия в заявках.
type MemberRepository interface {
	Create(ctx context.Context, exec SQLExecutor, member *models.TeamMember) error

	// CreateWithRosterCheck атомарно вставляет участника, если занятых
	// слотов (invited+confirmed) меньше teamSize. Перед вставкой берётся
	// advisory-блокировка заявки, так что пересчёт и вставка не гоняются с
	// конкурентными приглашениями. Обязан вызываться в транзакции.
	CreateWithRosterCheck(ctx context.Context, exec SQLExecutor, member *models.TeamMember, teamSize int) error
	GetByToken(ctx context.Context, token string) (*models.TeamMember, error)
	ListByRegistration(ctx context.Context, registrationID int) ([]*models.TeamMember, error)

	// CountActiveByRegistration считает строки invited+confirmed — занятые
	// слоты состава.
	CountActiveByRegistration(ctx context.Context, exec SQLExecutor, registrationID int) (int, error)
	CountConfirmedByRegistration(ctx context.Context, exec SQLExecutor, registrationID int) (int, error)

	// ConsumeInvite переводит строку из invited в newStatus и обнуляет
	// токен. Если строка уже не invited, возвращает
	// ErrMemberAlreadyResponded — это и есть гарантия одноразовости токена
	// при конкурентных ответах.
	ConsumeInvite(ctx context.Context, exec SQLExecutor, memberID int, newStatus models.MemberStatus, respondedAt time.Time) error

	// FindConfirmedByTournamentAndUser ищет подтверждённое участие
	// пользователя в любой не-отозванной заявке турнира.
	FindConfirmedByTournamentAndUser(ctx context.Context, tournamentID, userID int) (*models.TeamMember, error)

	// ClearExpiredTokens обнуляет токены приглашений старше cutoff, не
	// трогая статус. Возвращает число затронутых строк.
	ClearExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error)
}

type postgresMemberRepository struct {
	db *sql.DB
}

func NewPostgresMemberRepository(db *sql.DB) MemberRepository {
	return &postgresMemberRepository{db: db}
}

func (r *postgresMemberRepository) getExecutor(exec SQLExecutor) SQLExecutor {
	if exec != nil {
		return exec
	}
	return r.db
}

func (r *postgresMemberRepository) Create(ctx context.Context, exec SQLExecutor, member *models.TeamMember) error {
	executor := r.getExecutor(exec)
	query := `
		INSERT INTO team_members (registration_id, user_id, role, status, invite_token, invited_at, responded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := executor.QueryRowContext(ctx, query,
		member.RegistrationID,
		member.UserID,
		member.Role,
		member.Status,
		member.InviteToken,
		member.InvitedAt,
		member.RespondedAt,
	).Scan(&member.ID)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505": // unique_violation
				switch pqErr.Constraint {
				case "team_members_registration_id_user_id_key":
					return ErrMemberConflict
				case "team_members_invite_token_key":
					return ErrMemberTokenConflict
				}
			case "23503": // foreign_key_violation
				switch pqErr.Constraint {
				case "team_members_registration_id_fkey":
					return ErrMemberRegistrationInvalid
				case "team_members_user_id_fkey":
					return ErrMemberUserInvalid
				}
			}
		}
		return fmt.Errorf("failed to create team member: %w", err)
	}
	return nil
}

func (r *postgresMemberRepository) CreateWithRosterCheck(ctx context.Context, exec SQLExecutor, member *models.TeamMember, teamSize int) error {
	executor := r.getExecutor(exec)

	if _, err := executor.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock($1, $2)`,
		rosterLockClass, member.RegistrationID,
	); err != nil {
		return fmt.Errorf("failed to acquire roster lock for registration %d: %w", member.RegistrationID, err)
	}

	// Вставка с пересчётом слотов тем же оператором: под блокировкой выше
	// count не может измениться между проверкой и вставкой.
	query := `
		INSERT INTO team_members (registration_id, user_id, role, status, invite_token, invited_at, responded_at)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE (
			SELECT COUNT(*) FROM team_members
			WHERE registration_id = $1 AND status IN ($8, $9)
		) < $10
		RETURNING id`

	err := executor.QueryRowContext(ctx, query,
		member.RegistrationID,
		member.UserID,
		member.Role,
		member.Status,
		member.InviteToken,
		member.InvitedAt,
		member.RespondedAt,
		models.MemberStatusInvited,
		models.MemberStatusConfirmed,
		teamSize,
	).Scan(&member.ID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMemberRosterFull
		}
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505": // unique_violation
				switch pqErr.Constraint {
				case "team_members_registration_id_user_id_key":
					return ErrMemberConflict
				case "team_members_invite_token_key":
					return ErrMemberTokenConflict
				}
			case "23503": // foreign_key_violation
				switch pqErr.Constraint {
				case "team_members_registration_id_fkey":
					return ErrMemberRegistrationInvalid
				case "team_members_user_id_fkey":
					return ErrMemberUserInvalid
				}
			}
		}
		return fmt.Errorf("failed to create team member with roster check: %w", err)
	}
	return nil
}

const memberColumns = `
	id, registration_id, user_id, role, status, invite_token, invited_at, responded_at`

func scanMember(row interface{ Scan(dest ...interface{}) error }, m *models.TeamMember) error {
	return row.Scan(
		&m.ID, &m.RegistrationID, &m.UserID, &m.Role,
		&m.Status, &m.InviteToken, &m.InvitedAt, &m.RespondedAt,
	)
}

func (r *postgresMemberRepository) GetByToken(ctx context.Context, token string) (*models.TeamMember, error) {
	query := `SELECT` + memberColumns + ` FROM team_members WHERE invite_token = $1`

	m := &models.TeamMember{}
	err := scanMember(r.db.QueryRowContext(ctx, query, token), m)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member by token: %w", err)
	}
	return m, nil
}

func (r *postgresMemberRepository) ListByRegistration(ctx context.Context, registrationID int) ([]*models.TeamMember, error) {
	query := `SELECT` + memberColumns + ` FROM team_members WHERE registration_id = $1 ORDER BY invited_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query, registrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members for registration %d: %w", registrationID, err)
	}
	defer rows.Close()

	members := make([]*models.TeamMember, 0)
	for rows.Next() {
		var m models.TeamMember
		if scanErr := scanMember(rows, &m); scanErr != nil {
			return nil, scanErr
		}
		members = append(members, &m)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}
	return members, nil
}

func (r *postgresMemberRepository) CountActiveByRegistration(ctx context.Context, exec SQLExecutor, registrationID int) (int, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT COUNT(*) FROM team_members
		WHERE registration_id = $1 AND status IN ($2, $3)`

	var count int
	err := executor.QueryRowContext(ctx, query, registrationID,
		models.MemberStatusInvited, models.MemberStatusConfirmed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active members for registration %d: %w", registrationID, err)
	}
	return count, nil
}

func (r *postgresMemberRepository) CountConfirmedByRegistration(ctx context.Context, exec SQLExecutor, registrationID int) (int, error) {
	executor := r.getExecutor(exec)
	query := `
		SELECT COUNT(*) FROM team_members
		WHERE registration_id = $1 AND status = $2`

	var count int
	err := executor.QueryRowContext(ctx, query, registrationID, models.MemberStatusConfirmed).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count confirmed members for registration %d: %w", registrationID, err)
	}
	return count, nil
}

func (r *postgresMemberRepository) ConsumeInvite(ctx context.Context, exec SQLExecutor, memberID int, newStatus models.MemberStatus, respondedAt time.Time) error {
	executor := r.getExecutor(exec)
	query := `
		UPDATE team_members
		SET status = $1, responded_at = $2, invite_token = NULL
		WHERE id = $3 AND status = $4`

	result, err := executor.ExecContext(ctx, query, newStatus, respondedAt, memberID, models.MemberStatusInvited)
	if err != nil {
		return fmt.Errorf("failed to consume invite for member %d: %w", memberID, err)
	}
	return checkAffectedRows(result, ErrMemberAlreadyResponded)
}

func (r *postgresMemberRepository) FindConfirmedByTournamentAndUser(ctx context.Context, tournamentID, userID int) (*models.TeamMember, error) {
	query := `
		SELECT m.id, m.registration_id, m.user_id, m.role, m.status, m.invite_token, m.invited_at, m.responded_at
		FROM team_members m
		JOIN team_registrations r ON r.id = m.registration_id
		WHERE r.tournament_id = $1 AND m.user_id = $2
		  AND m.status = $3 AND r.status <> $4`

	m := &models.TeamMember{}
	err := scanMember(r.db.QueryRowContext(ctx, query,
		tournamentID, userID, models.MemberStatusConfirmed, models.RegistrationStatusWithdrawn), m)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to find confirmed member for tournament %d user %d: %w", tournamentID, userID, err)
	}
	return m, nil
}

func (r *postgresMemberRepository) ClearExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE team_members
		SET invite_token = NULL
		WHERE status = $1 AND invite_token IS NOT NULL AND invited_at < $2`

	result, err := r.db.ExecContext(ctx, query, models.MemberStatusInvited, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clear expired invite tokens: %w", err)
	}
	return result.RowsAffected()
}
