package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Arakas181/ML-HUB-sub000/live"
	"github.com/Arakas181/ML-HUB-sub000/models"
	"github.com/Arakas181/ML-HUB-sub000/repositories"
)

const (
	inviteTokenLength = 16             // Длина токена в байтах (32 символа в hex, 128 бит)
	inviteTTL         = 48 * time.Hour // Срок действия приглашения
	tokenMaxAttempts  = 3              // Попытки сгенерировать уникальный токен
)

var ErrInviteTokenGeneration = errors.New("failed to generate unique invite token")

// InviteResponse — ответ приглашённого.
type InviteResponse string

const (
	InviteResponseAccept  InviteResponse = "accept"
	InviteResponseDecline InviteResponse = "decline"
)

// RespondInviteResult — итог ответа на приглашение. RegistrationConfirmed
// выставляется, когда принятие закрыло последний слот состава и заявка
// перешла из pending в confirmed.
type RespondInviteResult struct {
	Member                *models.TeamMember
	RegistrationConfirmed bool
}

// InviteListEntry — приглашение вместе с вычисленным на момент чтения
// признаком просроченности.
type InviteListEntry struct {
	Member  *models.TeamMember `json:"member"`
	Expired bool               `json:"expired"`
}

type InviteService interface {
	InviteMember(ctx context.Context, registrationID, requestingUserID int, email string) (*models.TeamMember, error)
	RespondInvite(ctx context.Context, token string, respondingUserID int, response InviteResponse) (*RespondInviteResult, error)
	ListRegistrationInvites(ctx context.Context, registrationID, requestingUserID int) ([]InviteListEntry, error)

	// SweepExpiredTokens обнуляет токены приглашений старше 48 часов,
	// чтобы мёртвые секреты не лежали в таблице. Статус строк не меняется:
	// просроченность всегда вычисляется при чтении.
	SweepExpiredTokens(ctx context.Context) (int64, error)
}

type inviteService struct {
	txm            repositories.TxManager
	tournamentRepo repositories.TournamentRepository
	regRepo        repositories.RegistrationRepository
	memberRepo     repositories.MemberRepository
	userRepo       repositories.UserRepository
	notifier       InviteNotifier
	hub            live.Publisher
	logger         *slog.Logger
}

func NewInviteService(
	txm repositories.TxManager,
	tournamentRepo repositories.TournamentRepository,
	regRepo repositories.RegistrationRepository,
	memberRepo repositories.MemberRepository,
	userRepo repositories.UserRepository,
	notifier InviteNotifier,
	hub live.Publisher,
	logger *slog.Logger,
) InviteService {
	return &inviteService{
		txm:            txm,
		tournamentRepo: tournamentRepo,
		regRepo:        regRepo,
		memberRepo:     memberRepo,
		userRepo:       userRepo,
		notifier:       notifier,
		hub:            hub,
		logger:         logger,
	}
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func (s *inviteService) InviteMember(ctx context.Context, registrationID, requestingUserID int, email string) (*models.TeamMember, error) {
	reg, err := s.regRepo.GetByID(ctx, registrationID)
	if err != nil {
		if errors.Is(err, repositories.ErrRegistrationNotFound) {
			return nil, ErrRegistrationNotFound
		}
		return nil, fmt.Errorf("failed to get registration %d: %w", registrationID, err)
	}
	if reg.Status == models.RegistrationStatusWithdrawn {
		return nil, ErrRegistrationWithdrawn
	}
	if reg.CaptainUserID != requestingUserID {
		return nil, ErrCaptainActionForbidden
	}

	tournament, err := s.tournamentRepo.GetByID(ctx, reg.TournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to get tournament %d: %w", reg.TournamentID, err)
	}

	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to resolve user by email: %w", err)
	}

	var member *models.TeamMember
	for attempt := 0; attempt < tokenMaxAttempts; attempt++ {
		token, genErr := generateSecureToken(inviteTokenLength)
		if genErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrInviteTokenGeneration, genErr)
		}

		candidate := &models.TeamMember{
			RegistrationID: reg.ID,
			UserID:         user.ID,
			Role:           models.MemberRolePlayer,
			Status:         models.MemberStatusInvited,
			InviteToken:    &token,
			InvitedAt:      time.Now(),
		}

		// Проверка свободного слота и вставка — один атомарный оператор под
		// advisory-блокировкой заявки: конкурентные приглашения (в том числе
		// параллельная рассылка при регистрации) не могут переполнить состав.
		err = s.txm.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
			return s.memberRepo.CreateWithRosterCheck(ctx, exec, candidate, tournament.TeamSize)
		})
		if err == nil {
			member = candidate
			break
		}
		if errors.Is(err, repositories.ErrMemberRosterFull) {
			return nil, ErrTeamRosterFull
		}
		if errors.Is(err, repositories.ErrMemberConflict) {
			return nil, ErrMemberConflict
		}
		if errors.Is(err, repositories.ErrMemberUserInvalid) {
			return nil, ErrUserNotFound
		}
		if !errors.Is(err, repositories.ErrMemberTokenConflict) {
			return nil, fmt.Errorf("failed to create invite: %w", err)
		}
		// Конфликт токена, пробуем сгенерировать новый.
	}
	if member == nil {
		return nil, fmt.Errorf("%w after %d attempts", ErrInviteTokenGeneration, tokenMaxAttempts)
	}

	// Уведомление уходит после записи приглашения; его неудача приглашение
	// не отменяет.
	if s.notifier != nil {
		if notifyErr := s.notifier.NotifyInvite(ctx, user.Email, reg.TeamName, tournament.Name, *member.InviteToken); notifyErr != nil {
			s.logger.Warn("failed to deliver invite notification",
				slog.Int("registration_id", reg.ID),
				slog.String("email", user.Email),
				slog.Any("error", notifyErr))
		}
	}

	return member, nil
}

func (s *inviteService) RespondInvite(ctx context.Context, token string, respondingUserID int, response InviteResponse) (*RespondInviteResult, error) {
	var newStatus models.MemberStatus
	switch response {
	case InviteResponseAccept:
		newStatus = models.MemberStatusConfirmed
	case InviteResponseDecline:
		newStatus = models.MemberStatusDeclined
	default:
		return nil, ErrInviteResponseInvalid
	}

	member, err := s.memberRepo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repositories.ErrMemberNotFound) {
			return nil, ErrInviteInvalid
		}
		return nil, fmt.Errorf("failed to look up invite by token: %w", err)
	}
	// Чужой токен не раскрываем: для не-адресата он неотличим от несуществующего.
	if member.UserID != respondingUserID || member.Status != models.MemberStatusInvited {
		return nil, ErrInviteInvalid
	}

	now := time.Now()
	if now.Sub(member.InvitedAt) > inviteTTL {
		// Статус остаётся invited: просроченность — вычисляемое свойство.
		return nil, ErrInviteExpired
	}

	reg, err := s.regRepo.GetByID(ctx, member.RegistrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get registration %d: %w", member.RegistrationID, err)
	}
	if reg.Status == models.RegistrationStatusWithdrawn {
		return nil, ErrRegistrationWithdrawn
	}

	tournament, err := s.tournamentRepo.GetByID(ctx, reg.TournamentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament %d: %w", reg.TournamentID, err)
	}

	result := &RespondInviteResult{}
	err = s.txm.WithinTx(ctx, func(exec repositories.SQLExecutor) error {
		if consumeErr := s.memberRepo.ConsumeInvite(ctx, exec, member.ID, newStatus, now); consumeErr != nil {
			if errors.Is(consumeErr, repositories.ErrMemberAlreadyResponded) {
				return ErrInviteInvalid
			}
			return consumeErr
		}

		if newStatus != models.MemberStatusConfirmed {
			return nil
		}

		// Принятие могло закрыть последний слот — тогда заявка
		// подтверждается в той же транзакции.
		confirmed, countErr := s.memberRepo.CountConfirmedByRegistration(ctx, exec, reg.ID)
		if countErr != nil {
			return countErr
		}
		if confirmed >= tournament.TeamSize && reg.Status == models.RegistrationStatusPending {
			if updErr := s.regRepo.UpdateStatusFrom(ctx, exec, reg.ID,
				models.RegistrationStatusPending, models.RegistrationStatusConfirmed); updErr != nil {
				if !errors.Is(updErr, repositories.ErrRegistrationStatusUnchanged) {
					return updErr
				}
			} else {
				result.RegistrationConfirmed = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	member.Status = newStatus
	member.RespondedAt = &now
	member.InviteToken = nil
	result.Member = member

	if s.hub != nil && result.RegistrationConfirmed {
		s.hub.PublishTournamentEvent(reg.TournamentID, live.EventRegistrationConfirmed, map[string]interface{}{
			"registration_id": reg.ID,
			"team_name":       reg.TeamName,
		})
	}

	return result, nil
}

func (s *inviteService) ListRegistrationInvites(ctx context.Context, registrationID, requestingUserID int) ([]InviteListEntry, error) {
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

	members, err := s.memberRepo.ListByRegistration(ctx, registrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members for registration %d: %w", registrationID, err)
	}

	now := time.Now()
	entries := make([]InviteListEntry, 0, len(members))
	for _, m := range members {
		entries = append(entries, InviteListEntry{
			Member:  m,
			Expired: m.Status == models.MemberStatusInvited && now.Sub(m.InvitedAt) > inviteTTL,
		})
	}
	return entries, nil
}

func (s *inviteService) SweepExpiredTokens(ctx context.Context) (int64, error) {
	cleared, err := s.memberRepo.ClearExpiredTokens(ctx, time.Now().Add(-inviteTTL))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired invite tokens: %w", err)
	}
	return cleared, nil
}
