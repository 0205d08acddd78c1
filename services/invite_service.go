package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teamhub/teamhub/models"
	"github.com/teamhub/teamhub/repositories"
)

const (
	inviteTokenLength = 16                 // токен 16 байт (32 hex-символа)
	inviteDuration    = 7 * 24 * time.Hour // срок действия приглашения
	tokenMaxAttempts  = 3
	memberCASAttempts = 3
)

var ErrInviteTokenGeneration = errors.New("failed to generate unique invite token")

type CreateInviteInput struct {
	TeamID       int
	InviterID    int
	InviteeEmail string
	Role         models.TeamRole
	Message      string
}

// InviteSummary — публичный ответ по токену: без самого токена и без
// чужих персональных данных, только команда и пригласивший.
type InviteSummary struct {
	TeamID       int             `json:"team_id"`
	TeamName     string          `json:"team_name"`
	InviterName  string          `json:"inviter_name"`
	InviteeEmail string          `json:"invitee_email"`
	Role         models.TeamRole `json:"role"`
	Message      string          `json:"message,omitempty"`
	ExpiresAt    time.Time       `json:"expires_at"`
}

type InviteService interface {
	CreateInvite(ctx context.Context, input CreateInviteInput) (*models.TeamInvite, error)
	GetInviteByToken(ctx context.Context, token string) (*InviteSummary, error)
	ListMyInvites(ctx context.Context, userID int) ([]*models.TeamInvite, error)
	AcceptInvite(ctx context.Context, token string, userID int) (*models.Team, error)
	RejectInvite(ctx context.Context, token string, userID int) error

	// ExpireSweep переводит просроченные pending-приглашения в expired.
	// Вызывается планировщиком; уведомлений не рассылает.
	ExpireSweep(ctx context.Context) (int64, error)
}

type inviteService struct {
	inviteRepo repositories.InviteRepository
	teamRepo   repositories.TeamRepository
	userRepo   repositories.UserRepository
	notifier   NotificationService
	email      *EmailService
	publicURL  string
	logger     *slog.Logger
}

func NewInviteService(
	inviteRepo repositories.InviteRepository,
	teamRepo repositories.TeamRepository,
	userRepo repositories.UserRepository,
	notifier NotificationService,
	email *EmailService,
	publicURL string,
	logger *slog.Logger,
) InviteService {
	return &inviteService{
		inviteRepo: inviteRepo,
		teamRepo:   teamRepo,
		userRepo:   userRepo,
		notifier:   notifier,
		email:      email,
		publicURL:  publicURL,
		logger:     logger,
	}
}

func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func (s *inviteService) CreateInvite(ctx context.Context, input CreateInviteInput) (*models.TeamInvite, error) {
	if strings.TrimSpace(input.InviteeEmail) == "" {
		return nil, ErrEmailRequired
	}
	if input.Role != models.TeamRoleAdmin && input.Role != models.TeamRoleMember {
		return nil, ErrInvalidInviteRole
	}

	team, err := s.mutableTeam(ctx, input.TeamID)
	if err != nil {
		return nil, err
	}

	if err := CanInvite(team, input.InviterID); err != nil {
		return nil, err
	}

	// Email может и не принадлежать зарегистрированному пользователю.
	invitee, err := s.userRepo.GetByEmail(ctx, input.InviteeEmail)
	if err != nil && !errors.Is(err, repositories.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to resolve invitee email: %w", err)
	}

	if invitee != nil && IsActiveMember(team, invitee.ID) {
		return nil, ErrAlreadyTeamMember
	}

	if _, err := s.inviteRepo.FindPending(ctx, input.TeamID, input.InviteeEmail); err == nil {
		return nil, ErrInviteAlreadyPending
	} else if !errors.Is(err, repositories.ErrInviteNotFound) {
		return nil, fmt.Errorf("failed to check pending invites: %w", err)
	}

	invite := &models.TeamInvite{
		TeamID:       input.TeamID,
		InviterID:    input.InviterID,
		InviteeEmail: strings.ToLower(strings.TrimSpace(input.InviteeEmail)),
		Role:         input.Role,
		Status:       models.InviteStatusPending,
		Message:      input.Message,
		ExpiresAt:    time.Now().Add(inviteDuration),
	}
	if invitee != nil {
		invite.InviteeUserID = &invitee.ID
	}

	// Токен генерируется явно до записи; при конфликте уникальности
	// пробуем заново ограниченное число раз.
	for attempt := 0; attempt < tokenMaxAttempts; attempt++ {
		token, err := generateSecureToken(inviteTokenLength)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInviteTokenGeneration, err)
		}
		invite.Token = token

		err = s.inviteRepo.Create(ctx, invite)
		if err == nil {
			s.afterInviteCreated(ctx, team, invite)
			return invite, nil
		}
		if errors.Is(err, repositories.ErrInviteTeamInvalid) {
			return nil, ErrTeamNotFound
		}
		// Конкурент успел создать pending-приглашение на тот же адрес между
		// предварительной проверкой и вставкой. Новый токен не поможет.
		if errors.Is(err, repositories.ErrInvitePendingConflict) {
			return nil, ErrInviteAlreadyPending
		}
		if !errors.Is(err, repositories.ErrInviteTokenConflict) {
			return nil, fmt.Errorf("failed to create invite: %w", err)
		}
	}

	return nil, fmt.Errorf("%w after %d attempts", ErrInviteTokenGeneration, tokenMaxAttempts)
}

// afterInviteCreated — побочные эффекты успешного создания: live-уведомление
// приглашённому (если у него есть аккаунт) и письмо. Оба best-effort.
func (s *inviteService) afterInviteCreated(ctx context.Context, team *models.Team, invite *models.TeamInvite) {
	if invite.InviteeUserID != nil {
		_, err := s.notifier.NotifyUser(ctx, *invite.InviteeUserID, NotificationInput{
			Type:     models.NotificationTeamInvite,
			Title:    "Team invitation",
			Message:  fmt.Sprintf("You have been invited to join %q", team.Name),
			SenderID: &invite.InviterID,
			Payload: map[string]interface{}{
				"team_id":   team.ID,
				"invite_id": invite.ID,
				"token":     invite.Token,
			},
		})
		if err != nil {
			s.logger.Warn("failed to notify invitee", "invite_id", invite.ID, "error", err)
		}
	}

	if s.email != nil {
		inviteLink := s.publicURL + "/invites/join/" + invite.Token
		if err := s.email.SendTeamInviteEmail(invite.InviteeEmail, team.Name, inviteLink); err != nil {
			s.logger.Warn("failed to send invite email", "invite_id", invite.ID, "error", err)
		}
	}
}

func (s *inviteService) GetInviteByToken(ctx context.Context, token string) (*InviteSummary, error) {
	invite, err := s.loadPendingInvite(ctx, token)
	if err != nil {
		return nil, err
	}

	team, err := s.teamRepo.GetByID(ctx, invite.TeamID)
	if err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}

	summary := &InviteSummary{
		TeamID:       team.ID,
		TeamName:     team.Name,
		InviteeEmail: invite.InviteeEmail,
		Role:         invite.Role,
		Message:      invite.Message,
		ExpiresAt:    invite.ExpiresAt,
	}
	if inviter, err := s.userRepo.GetByID(ctx, invite.InviterID); err == nil {
		summary.InviterName = inviter.Name
	}

	return summary, nil
}

func (s *inviteService) ListMyInvites(ctx context.Context, userID int) ([]*models.TeamInvite, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	invites, err := s.inviteRepo.ListPendingByEmail(ctx, user.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to list invites: %w", err)
	}

	for _, invite := range invites {
		if team, err := s.teamRepo.GetByID(ctx, invite.TeamID); err == nil {
			invite.Team = team
		}
		if inviter, err := s.userRepo.GetByID(ctx, invite.InviterID); err == nil {
			inviter.PasswordHash = ""
			invite.Inviter = inviter
		}
	}

	return invites, nil
}

func (s *inviteService) AcceptInvite(ctx context.Context, token string, userID int) (*models.Team, error) {
	invite, user, err := s.loadInviteForActor(ctx, token, userID)
	if err != nil {
		return nil, err
	}

	// Команда проверяется до перехода статуса: одноразовый токен не должен
	// сгорать об удалённую или неактивную команду.
	if _, err := s.mutableTeam(ctx, invite.TeamID); err != nil {
		return nil, err
	}

	// Условный переход pending -> accepted: при гонке ровно один вызов
	// проходит, проигравший получает конфликт.
	now := time.Now()
	if err := s.inviteRepo.UpdateStatusIfPending(ctx, invite.ID, models.InviteStatusAccepted, now); err != nil {
		if errors.Is(err, repositories.ErrInviteStateConflict) {
			return nil, ErrInviteNotPending
		}
		return nil, fmt.Errorf("failed to accept invite: %w", err)
	}

	team, err := s.joinTeam(ctx, invite.TeamID, userID, invite.Role, now)
	if err != nil {
		// Членство не записано — возвращаем приглашение в pending, иначе
		// токен потреблён, а пользователь в команду так и не попал.
		if revertErr := s.inviteRepo.RevertToPending(ctx, invite.ID); revertErr != nil {
			s.logger.Error("failed to revert invite after join failure",
				"invite_id", invite.ID, "error", revertErr)
		}
		return nil, err
	}

	// Список получателей читается после коммита членства, чтобы охватить
	// и только что вступившего участника.
	recipients := team.ActiveMemberIDs()
	_, notifyErr := s.notifier.NotifyBroadcast(ctx, recipients, NotificationInput{
		Type:     models.NotificationTeamInvite,
		Title:    "New team member",
		Message:  fmt.Sprintf("%s accepted the invitation to join %q", user.Name, team.Name),
		SenderID: &userID,
		Payload: map[string]interface{}{
			"team_id":       team.ID,
			"new_member_id": userID,
		},
	})
	if notifyErr != nil {
		s.logger.Warn("failed to broadcast member joined", "team_id", team.ID, "error", notifyErr)
	}

	return team, nil
}

func (s *inviteService) RejectInvite(ctx context.Context, token string, userID int) error {
	invite, user, err := s.loadInviteForActor(ctx, token, userID)
	if err != nil {
		return err
	}

	if err := s.inviteRepo.UpdateStatusIfPending(ctx, invite.ID, models.InviteStatusRejected, time.Now()); err != nil {
		if errors.Is(err, repositories.ErrInviteStateConflict) {
			return ErrInviteNotPending
		}
		return fmt.Errorf("failed to reject invite: %w", err)
	}

	team, err := s.teamRepo.GetByID(ctx, invite.TeamID)
	if err != nil {
		s.logger.Warn("failed to load team for rejection notice", "invite_id", invite.ID, "error", err)
		return nil
	}

	_, notifyErr := s.notifier.NotifyUser(ctx, invite.InviterID, NotificationInput{
		Type:     models.NotificationTeamInvite,
		Title:    "Invitation declined",
		Message:  fmt.Sprintf("%s declined the invitation to join %q", user.Name, team.Name),
		SenderID: &userID,
		Payload: map[string]interface{}{
			"team_id":   team.ID,
			"invite_id": invite.ID,
		},
	})
	if notifyErr != nil {
		s.logger.Warn("failed to notify inviter about rejection", "invite_id", invite.ID, "error", notifyErr)
	}

	return nil
}

func (s *inviteService) ExpireSweep(ctx context.Context) (int64, error) {
	return s.inviteRepo.ExpirePending(ctx)
}

// loadPendingInvite классифицирует состояние приглашения: отсутствие,
// терминальный статус и живую просрочку различаем до попытки перехода.
func (s *inviteService) loadPendingInvite(ctx context.Context, token string) (*models.TeamInvite, error) {
	invite, err := s.inviteRepo.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repositories.ErrInviteNotFound) {
			return nil, ErrInviteNotFound
		}
		return nil, fmt.Errorf("failed to load invite: %w", err)
	}

	switch invite.Status {
	case models.InviteStatusPending:
		// Срок проверяем по времени, не по статусу: sweep мог ещё не пройти.
		if time.Now().After(invite.ExpiresAt) {
			return nil, ErrInviteExpired
		}
		return invite, nil
	case models.InviteStatusExpired:
		return nil, ErrInviteExpired
	default:
		return nil, ErrInviteNotPending
	}
}

func (s *inviteService) loadInviteForActor(ctx context.Context, token string, userID int) (*models.TeamInvite, *models.User, error) {
	invite, err := s.loadPendingInvite(ctx, token)
	if err != nil {
		return nil, nil, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, err
	}

	// Чужой аккаунт не может потребить приглашение по утёкшему токену.
	if !strings.EqualFold(user.Email, invite.InviteeEmail) {
		return nil, nil, ErrInviteOwnershipMismatch
	}

	return invite, user, nil
}

// joinTeam добавляет (или реактивирует) участника через условный UPDATE
// документа команды; при проигрыше версии перечитывает и повторяет.
func (s *inviteService) joinTeam(ctx context.Context, teamID, userID int, role models.TeamRole, now time.Time) (*models.Team, error) {
	for attempt := 0; attempt < memberCASAttempts; attempt++ {
		team, err := s.mutableTeam(ctx, teamID)
		if err != nil {
			return nil, err
		}

		members := UpsertMember(team.Members, userID, role, now)
		err = s.teamRepo.UpdateMembers(ctx, teamID, members, team.Version)
		if err == nil {
			team.Members = members
			team.Version++
			return team, nil
		}
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		if !errors.Is(err, repositories.ErrTeamVersionConflict) {
			return nil, fmt.Errorf("failed to update team members: %w", err)
		}
	}
	return nil, ErrTeamUpdateConflict
}

// mutableTeam загружает команду для мутирующей операции: неактивная
// команда для таких операций невидима.
func (s *inviteService) mutableTeam(ctx context.Context, teamID int) (*models.Team, error) {
	team, err := s.teamRepo.GetByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to load team %d: %w", teamID, err)
	}
	if !team.IsActive {
		return nil, ErrTeamNotFound
	}
	return team, nil
}
