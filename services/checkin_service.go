package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Arakas181/ML-HUB-sub000/live"
	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/Arakas181/ML-HUB-sub000/repositories"
)

type CheckInService interface {
	// CheckIn отмечает явку игрока. Повторный вызов в окне не ошибка:
	// запись просто обновляется свежим временем.
	CheckIn(ctx context.Context, tournamentID, userID int) (*models.CheckInRecord, error)
	ListCheckIns(ctx context.Context, tournamentID int) ([]*models.CheckInRecord, error)
}

type checkInService struct {
	tournamentRepo repositories.TournamentRepository
	memberRepo     repositories.MemberRepository
	checkinRepo    repositories.CheckInRepository
	hub            live.Publisher
	logger         *slog.Logger
}

func NewCheckInService(
	tournamentRepo repositories.TournamentRepository,
	memberRepo repositories.MemberRepository,
	checkinRepo repositories.CheckInRepository,
	hub live.Publisher,
	logger *slog.Logger,
) CheckInService {
	return &checkInService{
		tournamentRepo: tournamentRepo,
		memberRepo:     memberRepo,
		checkinRepo:    checkinRepo,
		hub:            hub,
		logger:         logger,
	}
}

func (s *checkInService) CheckIn(ctx context.Context, tournamentID, userID int) (*models.CheckInRecord, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, tournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", tournamentID, err)
	}

	member, err := s.memberRepo.FindConfirmedByTournamentAndUser(ctx, tournamentID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrMemberNotFound) {
			return nil, ErrNotRegistered
		}
		return nil, fmt.Errorf("failed to resolve membership for user %d: %w", userID, err)
	}

	now := time.Now()
	if now.Before(tournament.CheckInStart) {
		return nil, ErrCheckInTooEarly
	}
	if now.After(tournament.CheckInEnd) {
		return nil, ErrCheckInTooLate
	}

	record := &models.CheckInRecord{
		TournamentID:   tournamentID,
		UserID:         userID,
		RegistrationID: member.RegistrationID,
		CheckinTime:    now,
	}
	if err = s.checkinRepo.Upsert(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record check-in: %w", err)
	}

	if s.hub != nil {
		s.hub.PublishTournamentEvent(tournamentID, live.EventCheckInRecorded, map[string]interface{}{
			"user_id":         userID,
			"registration_id": member.RegistrationID,
			"checkin_time":    record.CheckinTime,
		})
	}

	return record, nil
}

func (s *checkInService) ListCheckIns(ctx context.Context, tournamentID int) ([]*models.CheckInRecord, error) {
	if _, err := s.tournamentRepo.GetByID(ctx, tournamentID); err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", tournamentID, err)
	}

	records, err := s.checkinRepo.ListByTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list check-ins for tournament %d: %w", tournamentID, err)
	}
	return records, nil
}
