package models

import "time"

// RegistrationStatus — статусы командной заявки.
type RegistrationStatus string

const (
	RegistrationStatusPending   RegistrationStatus = "pending"
	RegistrationStatusConfirmed RegistrationStatus = "confirmed"
	RegistrationStatusWithdrawn RegistrationStatus = "withdrawn"
)

// TeamRegistration — заявка команды на турнир. Имя команды уникально в
// пределах турнира, seed присваивается только движком посева.
type TeamRegistration struct {
	ID            int                `json:"id" db:"id"`
	TournamentID  int                `json:"tournament_id" db:"tournament_id"`
	TeamName      string             `json:"team_name" db:"team_name"`
	CaptainUserID int                `json:"captain_user_id" db:"captain_user_id"`
	Status        RegistrationStatus `json:"status" db:"status"`
	Seed          *int               `json:"seed,omitempty" db:"seed"`
	CreatedAt     time.Time          `json:"created_at" db:"created_at"`

	LogoKey *string `json:"-" db:"logo_key"`
	LogoURL *string `json:"logo_url,omitempty" db:"-"`

	// Опционально подгружаемый состав (не мапится напрямую)
	Members []TeamMember `json:"members,omitempty" db:"-"`
}
