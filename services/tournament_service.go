package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/Arakas181/ML-HUB-sub000/repositories"
)

// TournamentService — витрина турниров. Таблицей владеет админка портала,
// здесь только чтение для страниц регистрации и check-in.
type TournamentService interface {
	GetTournament(ctx context.Context, id int) (*models.Tournament, error)
	ListTournaments(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error)
}

type tournamentService struct {
	tournamentRepo repositories.TournamentRepository
}

func NewTournamentService(tournamentRepo repositories.TournamentRepository) TournamentService {
	return &tournamentService{tournamentRepo: tournamentRepo}
}

func (s *tournamentService) GetTournament(ctx context.Context, id int) (*models.Tournament, error) {
	tournament, err := s.tournamentRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", id, err)
	}
	return tournament, nil
}

func (s *tournamentService) ListTournaments(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	tournaments, err := s.tournamentRepo.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	return tournaments, nil
}
