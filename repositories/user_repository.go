package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Arakas181/ML-HUB-sub000/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository — читающий доступ к учёткам портала. Таблицей владеет
// сервис идентификации, поэтому записи здесь нет.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type postgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) UserRepository {
	return &postgresUserRepository{db: db}
}

const userColumns = `id, nickname, email, rating, role, created_at`

func scanUser(row *sql.Row, u *models.User) error {
	return row.Scan(&u.ID, &u.Nickname, &u.Email, &u.Rating, &u.Role, &u.CreatedAt)
}

func (r *postgresUserRepository) GetByID(ctx context.Context, id int) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u := &models.User{}
	err := scanUser(r.db.QueryRowContext(ctx, query, id), u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %d: %w", id, err)
	}
	return u, nil
}

func (r *postgresUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	u := &models.User{}
	err := scanUser(r.db.QueryRowContext(ctx, query, email), u)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return u, nil
}
