package services

import (
	"time"

	"github.com/teamhub/teamhub/models"
)

// Чистые предикаты авторизации над снимком команды. Ничего не мутируют и не
// ходят в хранилище: решение принимается по переданному документу, запись
// нового списка участников — отдельный условный UPDATE в репозитории.

func IsOwner(team *models.Team, userID int) bool {
	return team.OwnerID == userID
}

func IsAdminOrOwner(team *models.Team, userID int) bool {
	if IsOwner(team, userID) {
		return true
	}
	m := team.Member(userID)
	return m != nil &&
		m.Status == models.MemberStatusActive &&
		(m.Role == models.TeamRoleAdmin || m.Role == models.TeamRoleOwner)
}

func IsActiveMember(team *models.Team, userID int) bool {
	m := team.Member(userID)
	return m != nil && m.Status == models.MemberStatusActive
}

func CanInvite(team *models.Team, userID int) error {
	if !IsAdminOrOwner(team, userID) {
		return ErrInvitePermissionRequired
	}
	return nil
}

func CanUpdateTeam(team *models.Team, userID int) error {
	if !IsAdminOrOwner(team, userID) {
		return ErrTeamUpdateForbidden
	}
	return nil
}

func CanDeleteTeam(team *models.Team, userID int) error {
	if !IsOwner(team, userID) {
		return ErrTeamDeleteForbidden
	}
	return nil
}

// CanRemoveMember: владельца не удалить никогда; админ не может удалить
// себя; рядовой участник может выйти сам; чужих удаляет только owner/admin.
func CanRemoveMember(team *models.Team, actorID, memberID int) error {
	if memberID == team.OwnerID {
		return ErrOwnerRemovalForbidden
	}
	if actorID == memberID {
		if IsOwner(team, actorID) {
			return ErrOwnerRemovalForbidden
		}
		if IsAdminOrOwner(team, actorID) {
			return ErrAdminSelfRemovalForbidden
		}
		return nil
	}
	if !IsAdminOrOwner(team, actorID) {
		return ErrMemberRemoveForbidden
	}
	return nil
}

func CanChangeRole(team *models.Team, actorID, memberID int) error {
	if !IsOwner(team, actorID) {
		return ErrRoleChangeForbidden
	}
	if actorID == memberID {
		return ErrSelfRoleChangeForbidden
	}
	if memberID == team.OwnerID {
		return ErrRoleChangeForbidden
	}
	return nil
}

// UpsertMember возвращает новый список участников с добавленным (или
// реактивированным) пользователем. Исходный срез не меняется.
func UpsertMember(members []models.TeamMember, userID int, role models.TeamRole, now time.Time) []models.TeamMember {
	next := make([]models.TeamMember, len(members))
	copy(next, members)

	for i := range next {
		if next[i].UserID == userID {
			next[i].Status = models.MemberStatusActive
			next[i].Role = role
			return next
		}
	}

	return append(next, models.TeamMember{
		UserID:   userID,
		Role:     role,
		JoinedAt: now,
		Status:   models.MemberStatusActive,
	})
}

// RemoveMember возвращает список без указанного пользователя. Второй
// результат — нашёлся ли он вообще.
func RemoveMember(members []models.TeamMember, userID int) ([]models.TeamMember, bool) {
	next := make([]models.TeamMember, 0, len(members))
	found := false
	for _, m := range members {
		if m.UserID == userID {
			found = true
			continue
		}
		next = append(next, m)
	}
	return next, found
}

func SetMemberRole(members []models.TeamMember, userID int, role models.TeamRole) ([]models.TeamMember, bool) {
	next := make([]models.TeamMember, len(members))
	copy(next, members)
	for i := range next {
		if next[i].UserID == userID {
			next[i].Role = role
			return next, true
		}
	}
	return next, false
}
