package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/Arakas181/ML-HUB-sub000/repositories"
	"github.com/Arakas181/ML-HUB-sub000/storage"
)

// In-memory реализации репозиториев с той же семантикой ошибок, что и у
// postgres-реализаций. Сервисы тестируются без базы.

type fakeTxManager struct{}

func (f *fakeTxManager) WithinTx(ctx context.Context, fn func(exec repositories.SQLExecutor) error) error {
	return fn(nil)
}

type fakeTournamentRepo struct {
	mu          sync.Mutex
	tournaments map[int]*models.Tournament
}

func newFakeTournamentRepo(tournaments ...*models.Tournament) *fakeTournamentRepo {
	repo := &fakeTournamentRepo{tournaments: make(map[int]*models.Tournament)}
	for _, t := range tournaments {
		repo.tournaments[t.ID] = t
	}
	return repo
}

func (f *fakeTournamentRepo) GetByID(ctx context.Context, id int) (*models.Tournament, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tournaments[id]
	if !ok {
		return nil, repositories.ErrTournamentNotFound
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTournamentRepo) List(ctx context.Context, filter repositories.ListTournamentsFilter) ([]models.Tournament, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]models.Tournament, 0, len(f.tournaments))
	for _, t := range f.tournaments {
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		result = append(result, *t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

type fakeRegistrationRepo struct {
	mu            sync.Mutex
	nextID        int
	registrations map[int]*models.TeamRegistration
	memberRepo    *fakeMemberRepo // Для рейтингов в ListSeedingCandidates
	userRepo      *fakeUserRepo
}

func newFakeRegistrationRepo() *fakeRegistrationRepo {
	return &fakeRegistrationRepo{nextID: 1, registrations: make(map[int]*models.TeamRegistration)}
}

func (f *fakeRegistrationRepo) CreateWithCapacityCheck(ctx context.Context, exec repositories.SQLExecutor, reg *models.TeamRegistration, maxTeams int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := 0
	for _, existing := range f.registrations {
		if existing.TournamentID != reg.TournamentID {
			continue
		}
		if existing.Status != models.RegistrationStatusWithdrawn {
			if existing.TeamName == reg.TeamName {
				return repositories.ErrRegistrationNameConflict
			}
			active++
		}
	}
	if active >= maxTeams {
		return repositories.ErrRegistrationCapacityExceeded
	}

	reg.ID = f.nextID
	f.nextID++
	reg.CreatedAt = time.Now()
	copied := *reg
	f.registrations[reg.ID] = &copied
	return nil
}

func (f *fakeRegistrationRepo) GetByID(ctx context.Context, id int) (*models.TeamRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[id]
	if !ok {
		return nil, repositories.ErrRegistrationNotFound
	}
	copied := *reg
	return &copied, nil
}

func (f *fakeRegistrationRepo) ListByTournament(ctx context.Context, tournamentID int, statusFilter *models.RegistrationStatus) ([]*models.TeamRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]*models.TeamRegistration, 0)
	for _, reg := range f.registrations {
		if reg.TournamentID != tournamentID {
			continue
		}
		if statusFilter != nil && reg.Status != *statusFilter {
			continue
		}
		copied := *reg
		result = append(result, &copied)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (f *fakeRegistrationRepo) CountActiveByTournament(ctx context.Context, tournamentID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, reg := range f.registrations {
		if reg.TournamentID == tournamentID && reg.Status != models.RegistrationStatusWithdrawn {
			count++
		}
	}
	return count, nil
}

func (f *fakeRegistrationRepo) UpdateStatusFrom(ctx context.Context, exec repositories.SQLExecutor, id int, from, to models.RegistrationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[id]
	if !ok {
		return repositories.ErrRegistrationNotFound
	}
	if reg.Status != from {
		return repositories.ErrRegistrationStatusUnchanged
	}
	reg.Status = to
	return nil
}

func (f *fakeRegistrationRepo) UpdateLogoKey(ctx context.Context, registrationID int, logoKey *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[registrationID]
	if !ok {
		return repositories.ErrRegistrationNotFound
	}
	reg.LogoKey = logoKey
	return nil
}

func (f *fakeRegistrationRepo) AcquireSeedingLock(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) error {
	return nil
}

func (f *fakeRegistrationRepo) ListSeedingCandidates(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) ([]repositories.SeedingCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int, 0)
	for id, reg := range f.registrations {
		if reg.TournamentID == tournamentID && reg.Status == models.RegistrationStatusConfirmed {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	candidates := make([]repositories.SeedingCandidate, 0, len(ids))
	for _, id := range ids {
		reg := f.registrations[id]
		candidate := repositories.SeedingCandidate{
			RegistrationID: reg.ID,
			TeamName:       reg.TeamName,
		}
		if f.memberRepo != nil && f.userRepo != nil {
			sum, count := 0, 0
			f.memberRepo.mu.Lock()
			for _, m := range f.memberRepo.members {
				if m.RegistrationID == reg.ID && m.Status == models.MemberStatusConfirmed {
					if u, ok := f.userRepo.usersByID[m.UserID]; ok {
						sum += u.Rating
						count++
					}
				}
			}
			f.memberRepo.mu.Unlock()
			if count > 0 {
				candidate.Rating = float64(sum) / float64(count)
			}
		}
		candidates = append(candidates, candidate)
	}
	return candidates, nil
}

func (f *fakeRegistrationRepo) ClearSeeds(ctx context.Context, exec repositories.SQLExecutor, tournamentID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, reg := range f.registrations {
		if reg.TournamentID == tournamentID {
			reg.Seed = nil
		}
	}
	return nil
}

func (f *fakeRegistrationRepo) SetSeed(ctx context.Context, exec repositories.SQLExecutor, registrationID, seed int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	reg, ok := f.registrations[registrationID]
	if !ok {
		return repositories.ErrRegistrationNotFound
	}
	s := seed
	reg.Seed = &s
	return nil
}

type fakeMemberRepo struct {
	mu      sync.Mutex
	nextID  int
	members map[int]*models.TeamMember
	regRepo *fakeRegistrationRepo // Для FindConfirmedByTournamentAndUser
}

func newFakeMemberRepo() *fakeMemberRepo {
	return &fakeMemberRepo{nextID: 1, members: make(map[int]*models.TeamMember)}
}

func (f *fakeMemberRepo) Create(ctx context.Context, exec repositories.SQLExecutor, member *models.TeamMember) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, existing := range f.members {
		if existing.RegistrationID == member.RegistrationID && existing.UserID == member.UserID {
			return repositories.ErrMemberConflict
		}
		if member.InviteToken != nil && existing.InviteToken != nil && *existing.InviteToken == *member.InviteToken {
			return repositories.ErrMemberTokenConflict
		}
	}

	member.ID = f.nextID
	f.nextID++
	copied := *member
	f.members[member.ID] = &copied
	return nil
}

func (f *fakeMemberRepo) CreateWithRosterCheck(ctx context.Context, exec repositories.SQLExecutor, member *models.TeamMember, teamSize int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := 0
	for _, existing := range f.members {
		if existing.RegistrationID == member.RegistrationID && existing.UserID == member.UserID {
			return repositories.ErrMemberConflict
		}
		if member.InviteToken != nil && existing.InviteToken != nil && *existing.InviteToken == *member.InviteToken {
			return repositories.ErrMemberTokenConflict
		}
		if existing.RegistrationID == member.RegistrationID &&
			(existing.Status == models.MemberStatusInvited || existing.Status == models.MemberStatusConfirmed) {
			active++
		}
	}
	if active >= teamSize {
		return repositories.ErrMemberRosterFull
	}

	member.ID = f.nextID
	f.nextID++
	copied := *member
	f.members[member.ID] = &copied
	return nil
}

func (f *fakeMemberRepo) GetByToken(ctx context.Context, token string) (*models.TeamMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.InviteToken != nil && *m.InviteToken == token {
			copied := *m
			return &copied, nil
		}
	}
	return nil, repositories.ErrMemberNotFound
}

func (f *fakeMemberRepo) ListByRegistration(ctx context.Context, registrationID int) ([]*models.TeamMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]*models.TeamMember, 0)
	for _, m := range f.members {
		if m.RegistrationID == registrationID {
			copied := *m
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (f *fakeMemberRepo) CountActiveByRegistration(ctx context.Context, exec repositories.SQLExecutor, registrationID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, m := range f.members {
		if m.RegistrationID == registrationID &&
			(m.Status == models.MemberStatusInvited || m.Status == models.MemberStatusConfirmed) {
			count++
		}
	}
	return count, nil
}

func (f *fakeMemberRepo) CountConfirmedByRegistration(ctx context.Context, exec repositories.SQLExecutor, registrationID int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, m := range f.members {
		if m.RegistrationID == registrationID && m.Status == models.MemberStatusConfirmed {
			count++
		}
	}
	return count, nil
}

func (f *fakeMemberRepo) ConsumeInvite(ctx context.Context, exec repositories.SQLExecutor, memberID int, newStatus models.MemberStatus, respondedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[memberID]
	if !ok {
		return repositories.ErrMemberNotFound
	}
	if m.Status != models.MemberStatusInvited {
		return repositories.ErrMemberAlreadyResponded
	}
	m.Status = newStatus
	m.RespondedAt = &respondedAt
	m.InviteToken = nil
	return nil
}

func (f *fakeMemberRepo) FindConfirmedByTournamentAndUser(ctx context.Context, tournamentID, userID int) (*models.TeamMember, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.members {
		if m.UserID != userID || m.Status != models.MemberStatusConfirmed {
			continue
		}
		if f.regRepo == nil {
			continue
		}
		f.regRepo.mu.Lock()
		reg, ok := f.regRepo.registrations[m.RegistrationID]
		matched := ok && reg.TournamentID == tournamentID && reg.Status != models.RegistrationStatusWithdrawn
		f.regRepo.mu.Unlock()
		if matched {
			copied := *m
			return &copied, nil
		}
	}
	return nil, repositories.ErrMemberNotFound
}

func (f *fakeMemberRepo) ClearExpiredTokens(ctx context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var cleared int64
	for _, m := range f.members {
		if m.Status == models.MemberStatusInvited && m.InviteToken != nil && m.InvitedAt.Before(cutoff) {
			m.InviteToken = nil
			cleared++
		}
	}
	return cleared, nil
}

// setInvitedAt сдвигает время приглашения, чтобы проверять просрочку.
func (f *fakeMemberRepo) setInvitedAt(memberID int, invitedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[memberID]; ok {
		m.InvitedAt = invitedAt
	}
}

type fakeUserRepo struct {
	mu           sync.Mutex
	usersByID    map[int]*models.User
	usersByEmail map[string]*models.User
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	repo := &fakeUserRepo{
		usersByID:    make(map[int]*models.User),
		usersByEmail: make(map[string]*models.User),
	}
	for _, u := range users {
		repo.usersByID[u.ID] = u
		repo.usersByEmail[u.Email] = u
	}
	return repo
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.usersByID[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.usersByEmail[email]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

type fakeCheckInRepo struct {
	mu      sync.Mutex
	records map[[2]int]*models.CheckInRecord // (tournamentID, userID)
}

func newFakeCheckInRepo() *fakeCheckInRepo {
	return &fakeCheckInRepo{records: make(map[[2]int]*models.CheckInRecord)}
}

func (f *fakeCheckInRepo) Upsert(ctx context.Context, record *models.CheckInRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *record
	f.records[[2]int{record.TournamentID, record.UserID}] = &copied
	return nil
}

func (f *fakeCheckInRepo) GetByTournamentAndUser(ctx context.Context, tournamentID, userID int) (*models.CheckInRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[[2]int{tournamentID, userID}]
	if !ok {
		return nil, repositories.ErrCheckInNotFound
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeCheckInRepo) ListByTournament(ctx context.Context, tournamentID int) ([]*models.CheckInRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := make([]*models.CheckInRecord, 0)
	for key, rec := range f.records {
		if key[0] == tournamentID {
			copied := *rec
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	sent   []string // email-адреса в порядке отправки
	failFn func(email string) error
}

func (f *fakeNotifier) NotifyInvite(ctx context.Context, email, teamName, tournamentName, token string) error {
	if f.failFn != nil {
		if err := f.failFn(email); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, email)
	return nil
}

type fakeEvent struct {
	TournamentID int
	Type         string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []fakeEvent
}

func (f *fakePublisher) PublishTournamentEvent(tournamentID int, eventType string, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, fakeEvent{TournamentID: tournamentID, Type: eventType})
}

func (f *fakePublisher) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, 0, len(f.events))
	for _, e := range f.events {
		types = append(types, e.Type)
	}
	return types
}

type fakeUploader struct {
	mu       sync.Mutex
	uploaded []string
	deleted  []string
	baseURL  string
}

func (f *fakeUploader) Upload(ctx context.Context, key string, contentType string, reader io.Reader) (*storage.UploadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded = append(f.uploaded, key)
	return &storage.UploadResult{Key: key, Location: f.baseURL + "/" + key}, nil
}

func (f *fakeUploader) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeUploader) GetPublicURL(key string) string {
	return f.baseURL + "/" + key
}

// testEnv собирает сервисы поверх in-memory репозиториев.
type testEnv struct {
	tournaments *fakeTournamentRepo
	regs        *fakeRegistrationRepo
	members     *fakeMemberRepo
	users       *fakeUserRepo
	checkins    *fakeCheckInRepo
	notifier    *fakeNotifier
	publisher   *fakePublisher
	uploader    *fakeUploader

	invites       InviteService
	registrations RegistrationService
	checkIn       CheckInService
}

func newTestEnv(tournaments ...*models.Tournament) *testEnv {
	env := &testEnv{
		tournaments: newFakeTournamentRepo(tournaments...),
		regs:        newFakeRegistrationRepo(),
		members:     newFakeMemberRepo(),
		users:       newFakeUserRepo(),
		checkins:    newFakeCheckInRepo(),
		notifier:    &fakeNotifier{},
		publisher:   &fakePublisher{},
		uploader:    &fakeUploader{baseURL: "https://cdn.test"},
	}
	env.regs.memberRepo = env.members
	env.regs.userRepo = env.users
	env.members.regRepo = env.regs

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	txm := &fakeTxManager{}

	env.invites = NewInviteService(txm, env.tournaments, env.regs, env.members, env.users, env.notifier, env.publisher, logger)
	env.registrations = NewRegistrationService(txm, env.tournaments, env.regs, env.members, env.invites, env.uploader, env.publisher, logger)
	env.checkIn = NewCheckInService(env.tournaments, env.members, env.checkins, env.publisher, logger)
	return env
}

func (env *testEnv) addUser(id int, email string, rating int) *models.User {
	u := &models.User{ID: id, Nickname: email, Email: email, Rating: rating, Role: models.RolePlayer}
	env.users.mu.Lock()
	env.users.usersByID[u.ID] = u
	env.users.usersByEmail[u.Email] = u
	env.users.mu.Unlock()
	return u
}

func testTournament(id int) *models.Tournament {
	now := time.Now()
	return &models.Tournament{
		ID:                   id,
		Name:                 "Summer Cup",
		OrganizerID:          100,
		RegistrationDeadline: now.Add(24 * time.Hour),
		CheckInStart:         now.Add(-1 * time.Hour),
		CheckInEnd:           now.Add(1 * time.Hour),
		TeamSize:             3,
		MaxTeams:             16,
		Status:               models.TournamentStatusRegistration,
	}
}
