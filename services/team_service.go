package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/teamhub/teamhub/models"
	"github.com/teamhub/teamhub/repositories"
	"github.com/teamhub/teamhub/storage"
)

type CreateTeamInput struct {
	Name        string               `json:"name"`
	Description string               `json:"description"`
	Settings    *models.TeamSettings `json:"settings,omitempty"`
}

type UpdateTeamInput struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Settings    *models.TeamSettings `json:"settings,omitempty"`
	Board       []models.BoardColumn `json:"board,omitempty"`
}

type TeamService interface {
	CreateTeam(ctx context.Context, input CreateTeamInput, creatorID int) (*models.Team, error)
	GetTeamByID(ctx context.Context, teamID int) (*models.Team, error)
	ListTeams(ctx context.Context, filter repositories.TeamFilter) ([]*models.Team, int, error)
	UpdateTeam(ctx context.Context, teamID int, input UpdateTeamInput, actorID int) (*models.Team, error)
	DeleteTeam(ctx context.Context, teamID, actorID int) error
	RemoveMember(ctx context.Context, teamID, memberID, actorID int) error
	UpdateMemberRole(ctx context.Context, teamID, memberID int, role models.TeamRole, actorID int) error
	UploadAvatar(ctx context.Context, teamID, actorID int, contentType string, file io.Reader) (*models.Team, error)
}

type teamService struct {
	teamRepo   repositories.TeamRepository
	userRepo   repositories.UserRepository
	inviteRepo repositories.InviteRepository
	uploader   storage.FileUploader
	notifier   NotificationService
	logger     *slog.Logger
}

func NewTeamService(
	teamRepo repositories.TeamRepository,
	userRepo repositories.UserRepository,
	inviteRepo repositories.InviteRepository,
	uploader storage.FileUploader,
	notifier NotificationService,
	logger *slog.Logger,
) TeamService {
	return &teamService{
		teamRepo:   teamRepo,
		userRepo:   userRepo,
		inviteRepo: inviteRepo,
		uploader:   uploader,
		notifier:   notifier,
		logger:     logger,
	}
}

func (s *teamService) CreateTeam(ctx context.Context, input CreateTeamInput, creatorID int) (*models.Team, error) {
	if strings.TrimSpace(input.Name) == "" {
		return nil, ErrTeamNameRequired
	}

	if _, err := s.userRepo.GetByID(ctx, creatorID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	settings := models.DefaultTeamSettings()
	if input.Settings != nil {
		settings = *input.Settings
	}

	// Создатель сразу становится единственным участником с ролью owner.
	team := &models.Team{
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		OwnerID:     creatorID,
		Members: []models.TeamMember{{
			UserID:   creatorID,
			Role:     models.TeamRoleOwner,
			JoinedAt: time.Now(),
			Status:   models.MemberStatusActive,
		}},
		Settings: settings,
		Board:    models.DefaultBoardColumns(),
	}

	if err := s.teamRepo.Create(ctx, team); err != nil {
		if errors.Is(err, repositories.ErrTeamOwnerInvalid) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to create team: %w", err)
	}

	return s.enrich(ctx, team), nil
}

func (s *teamService) GetTeamByID(ctx context.Context, teamID int) (*models.Team, error) {
	team, err := s.teamRepo.GetByID(ctx, teamID)
	if err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, err
	}
	if !team.IsActive {
		return nil, ErrTeamNotFound
	}
	return s.enrich(ctx, team), nil
}

func (s *teamService) ListTeams(ctx context.Context, filter repositories.TeamFilter) ([]*models.Team, int, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	teams, total, err := s.teamRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	for _, team := range teams {
		s.enrich(ctx, team)
	}
	return teams, total, nil
}

func (s *teamService) UpdateTeam(ctx context.Context, teamID int, input UpdateTeamInput, actorID int) (*models.Team, error) {
	team, err := s.mutableTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if err := CanUpdateTeam(team, actorID); err != nil {
		return nil, err
	}

	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, ErrTeamNameRequired
		}
		team.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		team.Description = *input.Description
	}
	if input.Settings != nil {
		team.Settings = *input.Settings
	}
	if input.Board != nil {
		team.Board = input.Board
	}

	if err := s.teamRepo.UpdateDetails(ctx, team); err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to update team: %w", err)
	}

	return s.enrich(ctx, team), nil
}

func (s *teamService) DeleteTeam(ctx context.Context, teamID, actorID int) error {
	team, err := s.mutableTeam(ctx, teamID)
	if err != nil {
		return err
	}

	if err := CanDeleteTeam(team, actorID); err != nil {
		return err
	}

	// Сначала приглашения, потом сама команда.
	if err := s.inviteRepo.DeleteByTeam(ctx, teamID); err != nil {
		return fmt.Errorf("failed to delete team invites: %w", err)
	}
	if err := s.teamRepo.Delete(ctx, teamID); err != nil {
		if errors.Is(err, repositories.ErrTeamNotFound) {
			return ErrTeamNotFound
		}
		return fmt.Errorf("failed to delete team: %w", err)
	}

	return nil
}

func (s *teamService) RemoveMember(ctx context.Context, teamID, memberID, actorID int) error {
	for attempt := 0; attempt < memberCASAttempts; attempt++ {
		team, err := s.mutableTeam(ctx, teamID)
		if err != nil {
			return err
		}

		if err := CanRemoveMember(team, actorID, memberID); err != nil {
			return err
		}

		members, found := RemoveMember(team.Members, memberID)
		if !found {
			return ErrMemberNotFound
		}

		err = s.teamRepo.UpdateMembers(ctx, teamID, members, team.Version)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repositories.ErrTeamVersionConflict) {
			return fmt.Errorf("failed to remove member: %w", err)
		}
	}
	return ErrTeamUpdateConflict
}

func (s *teamService) UpdateMemberRole(ctx context.Context, teamID, memberID int, role models.TeamRole, actorID int) error {
	if role != models.TeamRoleAdmin && role != models.TeamRoleMember {
		return ErrInvalidInviteRole
	}

	for attempt := 0; attempt < memberCASAttempts; attempt++ {
		team, err := s.mutableTeam(ctx, teamID)
		if err != nil {
			return err
		}

		if err := CanChangeRole(team, actorID, memberID); err != nil {
			return err
		}

		members, found := SetMemberRole(team.Members, memberID, role)
		if !found {
			return ErrMemberNotFound
		}

		err = s.teamRepo.UpdateMembers(ctx, teamID, members, team.Version)
		if err == nil {
			_, notifyErr := s.notifier.NotifyUser(ctx, memberID, NotificationInput{
				Type:     models.NotificationSystem,
				Title:    "Role updated",
				Message:  fmt.Sprintf("Your role in %q is now %s", team.Name, role),
				SenderID: &actorID,
				Payload:  map[string]interface{}{"team_id": team.ID, "role": role},
			})
			if notifyErr != nil {
				s.logger.Warn("failed to notify member about role change", "team_id", teamID, "error", notifyErr)
			}
			return nil
		}
		if !errors.Is(err, repositories.ErrTeamVersionConflict) {
			return fmt.Errorf("failed to update member role: %w", err)
		}
	}
	return ErrTeamUpdateConflict
}

func (s *teamService) UploadAvatar(ctx context.Context, teamID, actorID int, contentType string, file io.Reader) (*models.Team, error) {
	team, err := s.mutableTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}

	if err := CanUpdateTeam(team, actorID); err != nil {
		return nil, err
	}

	if s.uploader == nil {
		return nil, ErrAvatarStorageUnavailable
	}

	key := fmt.Sprintf("teams/%d/avatar", teamID)
	result, err := s.uploader.Upload(ctx, key, contentType, file)
	if err != nil {
		return nil, fmt.Errorf("failed to upload team avatar: %w", err)
	}

	if err := s.teamRepo.UpdateAvatarKey(ctx, teamID, &result.Key); err != nil {
		return nil, err
	}
	team.AvatarKey = &result.Key

	return s.enrich(ctx, team), nil
}

func (s *teamService) mutableTeam(ctx context.Context, teamID int) (*models.Team, error) {
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

// enrich дотягивает владельца и публичный URL аватара.
func (s *teamService) enrich(ctx context.Context, team *models.Team) *models.Team {
	if owner, err := s.userRepo.GetByID(ctx, team.OwnerID); err == nil {
		owner.PasswordHash = ""
		team.Owner = owner
	}
	if team.AvatarKey != nil && s.uploader != nil {
		url := s.uploader.GetPublicURL(*team.AvatarKey)
		team.AvatarURL = &url
	}
	return team
}
