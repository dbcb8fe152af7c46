package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Arakas181/ML-HUB-sub000/live"
	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/Arakas181/ML-HUB-sub000/repositories"
	"github.com/Arakas181/ML-HUB-sub000/storage"
)

// Столько приглашений рассылаем параллельно после коммита регистрации.
const inviteFanOutLimit = 4

var ErrUnsupportedLogoType = errors.New("unsupported logo content type")

// RegisterTeamInput — данные для создания заявки команды.
type RegisterTeamInput struct {
	TournamentID  int      `json:"tournament_id"`
	TeamName      string   `json:"team_name"`
	CaptainUserID int      `json:"-"`
	InviteEmails  []string `json:"invite_emails"`
}

// InviteOutcome — результат рассылки одного приглашения при регистрации.
// Неудачи не откатывают заявку, капитан видит их в ответе.
type InviteOutcome struct {
	Email  string `json:"email"`
	Sent   bool   `json:"sent"`
	Reason string `json:"reason,omitempty"`
}

// RegisterTeamResult — созданная заявка плюс итоги рассылки приглашений.
type RegisterTeamResult struct {
	Registration   *models.TeamRegistration `json:"registration"`
	InviteOutcomes []InviteOutcome          `json:"invite_outcomes,omitempty"`
}

type RegistrationService interface {
	RegisterTeam(ctx context.Context, input RegisterTeamInput) (*RegisterTeamResult, error)
	Withdraw(ctx context.Context, registrationID, requestingUserID int) error
	GetRegistration(ctx context.Context, registrationID int) (*models.TeamRegistration, error)
	ListByTournament(ctx context.Context, tournamentID int, statusFilter *models.RegistrationStatus) ([]*models.TeamRegistration, error)
	UploadTeamLogo(ctx context.Context, registrationID, requestingUserID int, contentType string, file io.Reader) (*models.TeamRegistration, error)
}

type registrationService struct {
	txm            repositories.TxManager
	tournamentRepo repositories.TournamentRepository
	regRepo        repositories.RegistrationRepository
	memberRepo     repositories.MemberRepository
	invites        InviteService
	uploader       storage.FileUploader
	hub            live.Publisher
	logger         *slog.Logger
}

func NewRegistrationService(
	txm repositories.TxManager,
	tournamentRepo repositories.TournamentRepository,
	regRepo repositories.RegistrationRepository,
	memberRepo repositories.MemberRepository,
	invites InviteService,
	uploader storage.FileUploader,
	hub live.Publisher,
	logger *slog.Logger,
) RegistrationService {
	return &registrationService{
		txm:            txm,
		tournamentRepo: tournamentRepo,
		regRepo:        regRepo,
		memberRepo:     memberRepo,
		invites:        invites,
		uploader:       uploader,
		hub:            hub,
		logger:         logger,
	}
}

func (s *registrationService) RegisterTeam(ctx context.Context, input RegisterTeamInput) (*RegisterTeamResult, error) {
	teamName := strings.TrimSpace(input.TeamName)
	if teamName == "" {
		return nil, ErrTeamNameRequired
	}

	tournament, err := s.tournamentRepo.GetByID(ctx, input.TournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", input.TournamentID, err)
	}
	// Дедлайн исключающий: в сам момент дедлайна регистрация уже закрыта.
	if !time.Now().Before(tournament.RegistrationDeadline) {
		return nil, ErrRegistrationDeadlinePassed
	}

	now := time.Now()
	reg := &models.TeamRegistration{
		TournamentID:  tournament.ID,
		TeamName:      teamName,
		CaptainUserID: input.CaptainUserID,
		Status:        models.RegistrationStatusPending,
	}

	// Заявка, место в сетке и запись капитана создаются атомарно.
	err = s.txm.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if createErr := s.regRepo.CreateWithCapacityCheck(ctx, exec, reg, tournament.MaxTeams); createErr != nil {
			switch {
			case errors.Is(createErr, repositories.ErrRegistrationCapacityExceeded):
				return ErrTournamentFull
			case errors.Is(createErr, repositories.ErrRegistrationNameConflict):
				return ErrTeamNameConflict
			case errors.Is(createErr, repositories.ErrRegistrationTournamentInvalid):
				return ErrTournamentNotFound
			default:
				return createErr
			}
		}

		captain := &models.TeamMember{
			RegistrationID: reg.ID,
			UserID:         input.CaptainUserID,
			Role:           models.MemberRoleCaptain,
			Status:         models.MemberStatusConfirmed,
			InvitedAt:      now,
			RespondedAt:    &now,
		}
		if memberErr := s.memberRepo.Create(ctx, exec, captain); memberErr != nil {
			if errors.Is(memberErr, repositories.ErrMemberUserInvalid) {
				return ErrUserNotFound
			}
			return memberErr
		}
		reg.Members = []models.TeamMember{*captain}

		// Команда из одного игрока укомплектована сразу.
		if tournament.TeamSize <= 1 {
			if updErr := s.regRepo.UpdateStatusFrom(ctx, exec, reg.ID,
				models.RegistrationStatusPending, models.RegistrationStatusConfirmed); updErr != nil {
				return updErr
			}
			reg.Status = models.RegistrationStatusConfirmed
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.hub != nil {
		s.hub.PublishTournamentEvent(tournament.ID, live.EventRegistrationCreated, map[string]interface{}{
			"registration_id": reg.ID,
			"team_name":       reg.TeamName,
			"status":          reg.Status,
		})
	}

	result := &RegisterTeamResult{Registration: reg}
	result.InviteOutcomes = s.fanOutInvites(ctx, reg, input.CaptainUserID, input.InviteEmails)
	return result, nil
}

// fanOutInvites рассылает приглашения после коммита заявки. Ошибки отдельных
// приглашений собираются в исходы и не влияют на остальные.
func (s *registrationService) fanOutInvites(ctx context.Context, reg *models.TeamRegistration, captainUserID int, emails []string) []InviteOutcome {
	seen := make(map[string]struct{}, len(emails))
	targets := make([]string, 0, len(emails))
	for _, email := range emails {
		email = strings.TrimSpace(email)
		if email == "" {
			continue
		}
		if _, dup := seen[email]; dup {
			continue
		}
		seen[email] = struct{}{}
		targets = append(targets, email)
	}
	if len(targets) == 0 {
		return nil
	}

	outcomes := make([]InviteOutcome, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(inviteFanOutLimit)
	for i, email := range targets {
		i, email := i, email
		g.Go(func() error {
			_, inviteErr := s.invites.InviteMember(gctx, reg.ID, captainUserID, email)
			if inviteErr != nil {
				s.logger.Warn("invite fan-out failed",
					slog.Int("registration_id", reg.ID),
					slog.String("email", email),
					slog.Any("error", inviteErr))
				outcomes[i] = InviteOutcome{Email: email, Sent: false, Reason: inviteErr.Error()}
				return nil
			}
			outcomes[i] = InviteOutcome{Email: email, Sent: true}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *registrationService) Withdraw(ctx context.Context, registrationID, requestingUserID int) error {
	reg, err := s.regRepo.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return ErrRegistrationNotFound
		}
		return fmt.Errorf("failed to get registration %d: %w", registrationID, err)
	}
	if reg.CaptainUserID != requestingUserID {
		return ErrCaptainActionForbidden
	}
	if reg.Status == models.RegistrationStatusWithdrawn {
		return ErrRegistrationWithdrawn
	}

	err = s.txm.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		updErr := s.regRepo.UpdateStatusFrom(ctx, exec, reg.ID, reg.Status, models.RegistrationStatusWithdrawn)
		if errors.Is(updErr, repositories.ErrRegistrationStatusUnchanged) {
			// Статус успел смениться (pending -> confirmed) параллельным
			// принятием приглашения; пробуем из другого исходного статуса.
			other := models.RegistrationStatusConfirmed
			if reg.Status == models.RegistrationStatusConfirmed {
				other = models.RegistrationStatusPending
			}
			updErr = s.regRepo.UpdateStatusFrom(ctx, exec, reg.ID, other, models.RegistrationStatusWithdrawn)
			if errors.Is(updErr, repositories.ErrRegistrationStatusUnchanged) {
				return ErrRegistrationWithdrawn
			}
		}
		return updErr
	})
	if err != nil {
		return err
	}

	if s.hub != nil {
		s.hub.PublishTournamentEvent(reg.TournamentID, live.EventRegistrationWithdrawn, map[string]interface{}{
			"registration_id": reg.ID,
			"team_name":       reg.TeamName,
		})
	}
	return nil
}

func (s *registrationService) GetRegistration(ctx context.Context, registrationID int) (*models.TeamRegistration, error) {
	reg, err := s.regRepo.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration %d: %w", registrationID, err)
	}

	members, err := s.memberRepo.ListByRegistration(ctx, reg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members for registration %d: %w", reg.ID, err)
	}
	reg.Members = make([]models.TeamMember, 0, len(members))
	for _, m := range members {
		// Токен — секрет приглашённого, наружу он не отдаётся.
		m.InviteToken = nil
		reg.Members = append(reg.Members, *m)
	}

	s.resolveLogoURL(reg)
	return reg, nil
}

func (s *registrationService) ListByTournament(ctx context.Context, tournamentID int, statusFilter *models.RegistrationStatus) ([]*models.TeamRegistration, error) {
	if _, err := s.tournamentRepo.GetByID(ctx, tournamentID); err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", tournamentID, err)
	}

	regs, err := s.regRepo.ListByTournament(ctx, tournamentID, statusFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to list registrations for tournament %d: %w", tournamentID, err)
	}
	for _, reg := range regs {
		s.resolveLogoURL(reg)
	}
	return regs, nil
}

func (s *registrationService) UploadTeamLogo(ctx context.Context, registrationID, requestingUserID int, contentType string, file io.Reader) (*models.TeamRegistration, error) {
	reg, err := s.regRepo.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration %d: %w", registrationID, err)
	}
	if reg.CaptainUserID != requestingUserID {
		return nil, ErrCaptainActionForbidden
	}
	if reg.Status == models.RegistrationStatusWithdrawn {
		return nil, ErrRegistrationWithdrawn
	}

	ext, err := extensionForContentType(contentType)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("teams/%d/logo_%d%s", reg.ID, time.Now().Unix(), ext)
	uploadResult, err := s.uploader.Upload(ctx, key, contentType, file)
	if err != nil {
		return nil, fmt.Errorf("failed to upload team logo: %w", err)
	}

	oldKey := reg.LogoKey
	if err = s.regRepo.UpdateLogoKey(ctx, reg.ID, &uploadResult.Key); err != nil {
		// Запись в базу не прошла — подчищаем только что загруженный файл.
		if delErr := s.uploader.Delete(ctx, uploadResult.Key); delErr != nil {
			s.logger.Warn("failed to delete orphaned logo object",
				slog.String("key", uploadResult.Key), slog.Any("error", delErr))
		}
		return nil, fmt.Errorf("failed to persist logo key: %w", err)
	}

	if oldKey != nil && *oldKey != uploadResult.Key {
		if delErr := s.uploader.Delete(ctx, *oldKey); delErr != nil {
			s.logger.Warn("failed to delete previous logo object",
				slog.String("key", *oldKey), slog.Any("error", delErr))
		}
	}

	reg.LogoKey = &uploadResult.Key
	s.resolveLogoURL(reg)
	return reg, nil
}

func (s *registrationService) resolveLogoURL(reg *models.TeamRegistration) {
	if s.uploader == nil || reg.LogoKey == nil || *reg.LogoKey == "" {
		return
	}
	url := s.uploader.GetPublicURL(*reg.LogoKey)
	if url != "" {
		reg.LogoURL = &url
	}
}

func extensionForContentType(contentType string) (string, error) {
	switch strings.ToLower(contentType) {
	case "image/png":
		return ".png", nil
	case "image/jpeg", "image/jpg":
		return ".jpg", nil
	case "image/webp":
		return ".webp", nil
	case "image/svg+xml":
		return ".svg", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLogoType, contentType)
	}
}
