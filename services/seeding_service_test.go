package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Arakas181/ML-HUB-sub000/live"
	"github.com/Arakas181/ML-HUB-sub000/models"
)

// seedingEnv поднимает окружение с N подтверждёнными командами. Рейтинг
// i-й команды задаётся ratings[i] (один игрок на команду для простоты).
func seedingEnv(t *testing.T, ratings []int) (*testEnv, SeedingService, *rand.Rand) {
	t.Helper()

	tournament := testTournament(1)
	tournament.TeamSize = 1
	env := newTestEnv(tournament)

	for i, rating := range ratings {
		userID := 10 + i
		env.addUser(userID, fmt.Sprintf("p%d@test.io", i), rating)
		_, err := env.registrations.RegisterTeam(context.Background(), RegisterTeamInput{
			TournamentID:  1,
			TeamName:      fmt.Sprintf("Team %d", i+1),
			CaptainUserID: userID,
		})
		require.NoError(t, err)
	}

	rng := rand.New(rand.NewSource(42))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewSeedingService(&fakeTxManager{}, env.tournaments, env.regs, env.publisher, logger, rng)
	return env, svc, rng
}

func requirePermutation(t *testing.T, assignments []models.SeedAssignment, n int) {
	t.Helper()
	require.Len(t, assignments, n)
	seen := make(map[int]bool, n)
	for _, a := range assignments {
		require.GreaterOrEqual(t, a.Seed, 1)
		require.LessOrEqual(t, a.Seed, n)
		require.False(t, seen[a.Seed], "seed %d assigned twice", a.Seed)
		seen[a.Seed] = true
	}
}

func TestSeedRandomIsPermutation(t *testing.T) {
	env, svc, _ := seedingEnv(t, []int{1000, 1100, 1200, 1300, 1400})

	assignments, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethodRandom, nil)
	require.NoError(t, err)
	requirePermutation(t, assignments, 5)

	// Результат отсортирован по месту
	for i := range assignments {
		require.Equal(t, i+1, assignments[i].Seed)
	}
	require.Contains(t, env.publisher.eventTypes(), live.EventSeedingPublished)
}

func TestSeedRandomDeterministicWithSameSource(t *testing.T) {
	_, svc1, _ := seedingEnv(t, []int{1000, 1100, 1200, 1300, 1400, 1500})
	_, svc2, _ := seedingEnv(t, []int{1000, 1100, 1200, 1300, 1400, 1500})

	first, err := svc1.SeedTournament(context.Background(), 1, models.SeedingMethodRandom, nil)
	require.NoError(t, err)
	second, err := svc2.SeedTournament(context.Background(), 1, models.SeedingMethodRandom, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSeedRankingOrdersByRatingDesc(t *testing.T) {
	// Регистрации создаются по порядку: Team 1 (1200), Team 2 (1500), Team 3 (900)
	_, svc, _ := seedingEnv(t, []int{1200, 1500, 900})

	assignments, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethodRanking, nil)
	require.NoError(t, err)
	requirePermutation(t, assignments, 3)

	require.Equal(t, "Team 2", assignments[0].TeamName) // 1500
	require.Equal(t, "Team 1", assignments[1].TeamName) // 1200
	require.Equal(t, "Team 3", assignments[2].TeamName) // 900
}

func TestSeedRankingTieBreaksByRegistrationOrder(t *testing.T) {
	_, svc, _ := seedingEnv(t, []int{1500, 1500, 1500})

	assignments, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethodRanking, nil)
	require.NoError(t, err)

	// При равных рейтингах первым сеется более ранняя заявка
	require.Equal(t, "Team 1", assignments[0].TeamName)
	require.Equal(t, "Team 2", assignments[1].TeamName)
	require.Equal(t, "Team 3", assignments[2].TeamName)
}

func TestSeedRankingDeterministic(t *testing.T) {
	_, svc, _ := seedingEnv(t, []int{1200, 1500, 900, 1500})

	first, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethodRanking, nil)
	require.NoError(t, err)
	second, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethodRanking, nil)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSeedManualValidBijection(t *testing.T) {
	env, svc, _ := seedingEnv(t, []int{1000, 1100, 1200})

	regs, err := env.regs.ListByTournament(context.Background(), 1, nil)
	require.NoError(t, err)
	manual := map[int]int{
		regs[0].ID: 3,
		regs[1].ID: 1,
		regs[2].ID: 2,
	}

	assignments, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethodManual, manual)
	require.NoError(t, err)
	requirePermutation(t, assignments, 3)
	require.Equal(t, regs[1].ID, assignments[0].RegistrationID)
	require.Equal(t, regs[2].ID, assignments[1].RegistrationID)
	require.Equal(t, regs[0].ID, assignments[2].RegistrationID)
}

func TestSeedManualRejectsBadMaps(t *testing.T) {
	env, svc, _ := seedingEnv(t, []int{1000, 1100, 1200})

	regs, err := env.regs.ListByTournament(context.Background(), 1, nil)
	require.NoError(t, err)

	cases := map[string]map[int]int{
		"missing registration": {regs[0].ID: 1, regs[1].ID: 2},
		"seed out of range":    {regs[0].ID: 1, regs[1].ID: 2, regs[2].ID: 4},
		"duplicate seed":       {regs[0].ID: 1, regs[1].ID: 1, regs[2].ID: 2},
		"unknown registration": {regs[0].ID: 1, regs[1].ID: 2, 9999: 3},
		"zero seed":            {regs[0].ID: 0, regs[1].ID: 1, regs[2].ID: 2},
	}

	for name, manual := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethodManual, manual)
			require.ErrorIs(t, err, ErrInvalidManualSeeds)
		})
	}
}

func TestSeedNoEligibleTeams(t *testing.T) {
	tournament := testTournament(1)
	env := newTestEnv(tournament) // TeamSize 3: заявки останутся pending
	env.addUser(10, "captain@test.io", 1500)
	_, err := env.registrations.RegisterTeam(context.Background(), RegisterTeamInput{
		TournamentID: 1, TeamName: "Pending Only", CaptainUserID: 10,
	})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewSeedingService(&fakeTxManager{}, env.tournaments, env.regs, env.publisher, logger, rand.New(rand.NewSource(1)))

	_, err = svc.SeedTournament(context.Background(), 1, models.SeedingMethodRandom, nil)
	require.ErrorIs(t, err, ErrNoEligibleTeams)
}

func TestSeedUnknownMethod(t *testing.T) {
	_, svc, _ := seedingEnv(t, []int{1000})

	_, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethod("bracket"), nil)
	require.ErrorIs(t, err, ErrInvalidSeedingMethod)
}

func TestReseedClearsPreviousSeeds(t *testing.T) {
	env, svc, _ := seedingEnv(t, []int{1000, 1100, 1200, 1300})

	_, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethodRandom, nil)
	require.NoError(t, err)

	assignments, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethodRanking, nil)
	require.NoError(t, err)
	requirePermutation(t, assignments, 4)

	// В хранилище у каждой заявки ровно одно место, и всё ещё перестановка
	regs, err := env.regs.ListByTournament(context.Background(), 1, nil)
	require.NoError(t, err)
	seen := make(map[int]bool)
	for _, reg := range regs {
		require.NotNil(t, reg.Seed)
		require.False(t, seen[*reg.Seed])
		seen[*reg.Seed] = true
	}
}

func TestSeedSkipsWithdrawnTeams(t *testing.T) {
	env, svc, _ := seedingEnv(t, []int{1000, 1100, 1200})

	regs, err := env.regs.ListByTournament(context.Background(), 1, nil)
	require.NoError(t, err)
	require.NoError(t, env.registrations.Withdraw(context.Background(), regs[0].ID, regs[0].CaptainUserID))

	assignments, err := svc.SeedTournament(context.Background(), 1, models.SeedingMethodRandom, nil)
	require.NoError(t, err)
	requirePermutation(t, assignments, 2)
	for _, a := range assignments {
		require.NotEqual(t, regs[0].ID, a.RegistrationID)
	}
}
