package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Arakas181/ML-HUB-sub000/models"
)

var ErrTournamentNotFound = errors.New("tournament not found")

// ListTournamentsFilter — фильтр каталога для страниц портала.
type ListTournamentsFilter struct {
	Status *models.TournamentStatus
	Limit  int
	Offset int
}

// TournamentRepository читает каталог турниров. Каталогом владеет админка,
// поэтому здесь нет операций записи.
type TournamentRepository interface {
	GetByID(ctx context.Context, id int) (*models.Tournament, error)
	List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error)
}

type postgresTournamentRepository struct {
	db *sql.DB
}

func NewPostgresTournamentRepository(db *sql.DB) TournamentRepository {
	return &postgresTournamentRepository{db: db}
}

const tournamentColumns = `
	id, name, game, organizer_id, registration_deadline,
	checkin_start, checkin_end, team_size, max_teams, status, created_at`

func scanTournament(row interface{ Scan(dest ...interface{}) error }, t *models.Tournament) error {
	return row.Scan(
		&t.ID, &t.Name, &t.Game, &t.OrganizerID, &t.RegistrationDeadline,
		&t.CheckInStart, &t.CheckInEnd, &t.TeamSize, &t.MaxTeams, &t.Status, &t.CreatedAt,
	)
}

func (r *postgresTournamentRepository) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE id = $1`

	t := &models.Tournament{}
	err := scanTournament(r.db.QueryRowContext(ctx, query, id), t)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTournamentNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *postgresTournamentRepository) List(ctx context.Context, filter ListTournamentsFilter) ([]models.Tournament, error) {
	query := `SELECT` + tournamentColumns + ` FROM tournaments WHERE 1=1`

	args := []interface{}{}
	argID := 1

	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argID)
		args = append(args, *filter.Status)
		argID++
	}

	query += " ORDER BY registration_deadline DESC, created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argID)
		args = append(args, filter.Limit)
		argID++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argID)
		args = append(args, filter.Offset)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tournaments := make([]models.Tournament, 0)
	for rows.Next() {
		var t models.Tournament
		if scanErr := scanTournament(rows, &t); scanErr != nil {
			return nil, scanErr
		}
		tournaments = append(tournaments, t)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return tournaments, nil
}
