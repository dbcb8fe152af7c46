package models

// SeedingMethod — способ посева подтверждённых заявок.
type SeedingMethod string

const (
	SeedingMethodRandom  SeedingMethod = "random"
	SeedingMethodRanking SeedingMethod = "ranking"
	SeedingMethodManual  SeedingMethod = "manual"
)

// SeedAssignment — итог посева для одной заявки. Rating — средний рейтинг
// подтверждённого состава на момент посева.
type SeedAssignment struct {
	RegistrationID int     `json:"registration_id"`
	TeamName       string  `json:"team_name"`
	Seed           int     `json:"seed"`
	Rating         float64 `json:"rating"`
}
