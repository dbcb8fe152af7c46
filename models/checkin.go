package models

import "time"

// CheckInRecord — отметка о явке. Ключ (tournament_id, user_id): повторный
// чек-ин обновляет время, второй строки не появляется.
type CheckInRecord struct {
	TournamentID   int       `json:"tournament_id" db:"tournament_id"`
	UserID         int       `json:"user_id" db:"user_id"`
	RegistrationID int       `json:"registration_id" db:"registration_id"`
	CheckinTime    time.Time `json:"checkin_time" db:"checkin_time"`
}
