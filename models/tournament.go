package models

import "time"

// TournamentStatus представляет статусы турнира, соответствующие ENUM в БД.
type TournamentStatus string

const (
	TournamentStatusSoon         TournamentStatus = "soon"
	TournamentStatusRegistration TournamentStatus = "registration"
	TournamentStatusActive       TournamentStatus = "active"
	TournamentStatusCompleted    TournamentStatus = "completed"
	TournamentStatusCanceled     TournamentStatus = "canceled"
)

// Tournament — запись каталога турниров. Этот модуль каталог только читает:
// создание и редактирование турниров живёт в админке портала.
type Tournament struct {
	ID                   int              `json:"id" db:"id"`
	Name                 string           `json:"name" db:"name"`
	Game                 *string          `json:"game,omitempty" db:"game"`
	OrganizerID          int              `json:"organizer_id" db:"organizer_id"`
	RegistrationDeadline time.Time        `json:"registration_deadline" db:"registration_deadline"`
	CheckInStart         time.Time        `json:"checkin_start" db:"checkin_start"`
	CheckInEnd           time.Time        `json:"checkin_end" db:"checkin_end"`
	TeamSize             int              `json:"team_size" db:"team_size"`
	MaxTeams             int              `json:"max_teams" db:"max_teams"`
	Status               TournamentStatus `json:"status" db:"status"`
	CreatedAt            time.Time        `json:"created_at" db:"created_at"`
}
