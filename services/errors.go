package services

import "errors"

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ошибки валидации и бизнес-правил
	ErrValidationFailed           = errors.New("validation failed")
	ErrTeamNameRequired           = errors.New("team name is required")
	ErrRegistrationDeadlinePassed = errors.New("tournament registration deadline has passed")
	ErrTournamentFull             = errors.New("tournament registration is full")
	ErrTeamRosterFull             = errors.New("team roster is full")
	ErrInviteExpired              = errors.New("invite has expired")
	ErrInviteInvalid              = errors.New("invite token is invalid or already used")
	ErrInviteResponseInvalid      = errors.New("invite response must be accept or decline")
	ErrCheckInTooEarly            = errors.New("check-in window has not opened yet")
	ErrCheckInTooLate             = errors.New("check-in window has already closed")
	ErrNotRegistered              = errors.New("user is not a confirmed member of any team in this tournament")
	ErrRegistrationWithdrawn      = errors.New("registration has been withdrawn")
	ErrNoEligibleTeams            = errors.New("tournament has no confirmed registrations to seed")
	ErrInvalidSeedingMethod       = errors.New("unknown seeding method")
	ErrInvalidManualSeeds         = errors.New("manual seed map must be a bijection onto 1..N over eligible registrations")

	// Ошибки конфликтов
	ErrTeamNameConflict = errors.New("team name is already in use for this tournament")
	ErrMemberConflict   = errors.New("user is already invited to or part of this team")

	// Ошибки авторизации
	ErrCaptainActionForbidden = errors.New("only the team captain can perform this action")

	// Ошибки "не найдено"
	ErrTournamentNotFound   = errors.New("tournament not found")
	ErrRegistrationNotFound = errors.New("team registration not found")
	ErrUserNotFound         = errors.New("user not found")
)
