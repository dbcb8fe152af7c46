package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/Arakas181/ML-HUB-sub000/live"
	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/Arakas181/ML-HUB-sub000/repositories"
)

type SeedingService interface {
	// SeedTournament раздаёт подтверждённым заявкам места 1..N. Повторный
	// вызов полностью пересеивает турнир: старые места сбрасываются в той
	// же транзакции.
	SeedTournament(ctx context.Context, tournamentID int, method models.SeedingMethod, manualSeeds map[int]int) ([]models.SeedAssignment, error)
}

type seedingService struct {
	txm            repositories.TxManager
	tournamentRepo repositories.TournamentRepository
	regRepo        repositories.RegistrationRepository
	hub            live.Publisher
	logger         *slog.Logger

	// rand.Rand не потокобезопасен, перемешивание идёт под мьютексом.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewSeedingService создаёт сервис посева. rng может быть nil — тогда
// источник инициализируется текущим временем.
func NewSeedingService(
	txm repositories.TxManager,
	tournamentRepo repositories.TournamentRepository,
	regRepo repositories.RegistrationRepository,
	hub live.Publisher,
	logger *slog.Logger,
	rng *rand.Rand,
) SeedingService {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &seedingService{
		txm:            txm,
		tournamentRepo: tournamentRepo,
		regRepo:        regRepo,
		hub:            hub,
		logger:         logger,
		rng:            rng,
	}
}

func (s *seedingService) SeedTournament(ctx context.Context, tournamentID int, method models.SeedingMethod, manualSeeds map[int]int) ([]models.SeedAssignment, error) {
	switch method {
	case models.SeedingMethodRandom, models.SeedingMethodRanking, models.SeedingMethodManual:
	default:
		return nil, ErrInvalidSeedingMethod
	}

	if _, err := s.tournamentRepo.GetByID(ctx, tournamentID); err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", tournamentID, err)
	}

	var assignments []models.SeedAssignment
	err := s.txm.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		// Advisory-lock сериализует конкурирующие пересевы одного турнира.
		if lockErr := s.regRepo.AcquireSeedingLock(ctx, exec, tournamentID); lockErr != nil {
			return lockErr
		}

		candidates, listErr := s.regRepo.ListSeedingCandidates(ctx, exec, tournamentID)
		if listErr != nil {
			return listErr
		}
		if len(candidates) == 0 {
			return ErrNoEligibleTeams
		}

		seeds, orderErr := s.assignSeeds(candidates, method, manualSeeds)
		if orderErr != nil {
			return orderErr
		}

		if clearErr := s.regRepo.ClearSeeds(ctx, exec, tournamentID); clearErr != nil {
			return clearErr
		}

		assignments = make([]models.SeedAssignment, 0, len(candidates))
		for _, c := range candidates {
			seed := seeds[c.RegistrationID]
			if setErr := s.regRepo.SetSeed(ctx, exec, c.RegistrationID, seed); setErr != nil {
				return setErr
			}
			assignments = append(assignments, models.SeedAssignment{
				RegistrationID: c.RegistrationID,
				TeamName:       c.TeamName,
				Seed:           seed,
				Rating:         c.Rating,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(assignments, func(i, j int) bool { return assignments[i].Seed < assignments[j].Seed })

	if s.hub != nil {
		s.hub.PublishTournamentEvent(tournamentID, live.EventSeedingPublished, map[string]interface{}{
			"method":      method,
			"assignments": assignments,
		})
	}

	return assignments, nil
}

// assignSeeds строит отображение registration_id -> место для выбранного
// метода посева.
func (s *seedingService) assignSeeds(candidates []repositories.SeedingCandidate, method models.SeedingMethod, manualSeeds map[int]int) (map[int]int, error) {
	seeds := make(map[int]int, len(candidates))

	switch method {
	case models.SeedingMethodRandom:
		order := make([]repositories.SeedingCandidate, len(candidates))
		copy(order, candidates)
		s.rngMu.Lock()
		s.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
		s.rngMu.Unlock()
		for i, c := range order {
			seeds[c.RegistrationID] = i + 1
		}

	case models.SeedingMethodRanking:
		order := make([]repositories.SeedingCandidate, len(candidates))
		copy(order, candidates)
		// Сильнейшие выше; при равном рейтинге первым сеется тот, кто
		// раньше зарегистрировался.
		sort.SliceStable(order, func(i, j int) bool {
			if order[i].Rating != order[j].Rating {
				return order[i].Rating > order[j].Rating
			}
			return order[i].RegistrationID < order[j].RegistrationID
		})
		for i, c := range order {
			seeds[c.RegistrationID] = i + 1
		}

	case models.SeedingMethodManual:
		if len(manualSeeds) != len(candidates) {
			return nil, ErrInvalidManualSeeds
		}
		used := make(map[int]bool, len(candidates))
		for _, c := range candidates {
			seed, ok := manualSeeds[c.RegistrationID]
			if !ok || seed < 1 || seed > len(candidates) || used[seed] {
				return nil, ErrInvalidManualSeeds
			}
			used[seed] = true
			seeds[c.RegistrationID] = seed
		}
	}

	return seeds, nil
}
