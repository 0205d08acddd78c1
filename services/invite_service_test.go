package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teamhub/teamhub/models"
	"github.com/teamhub/teamhub/repositories"
)

type inviteFixture struct {
	users    *fakeUserRepo
	teams    *fakeTeamRepo
	invites  *fakeInviteRepo
	notes    *fakeNotificationRepo
	pusher   *fakePusher
	notifier NotificationService
	service  InviteService

	owner   *models.User
	admin   *models.User
	member  *models.User
	invitee *models.User
	team    *models.Team
}

func newInviteFixture(t *testing.T) *inviteFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	f := &inviteFixture{
		users:   newFakeUserRepo(),
		teams:   newFakeTeamRepo(),
		invites: newFakeInviteRepo(),
		notes:   newFakeNotificationRepo(),
		pusher:  newFakePusher(),
	}
	f.notifier = NewNotificationService(f.notes, f.pusher, logger)
	f.service = NewInviteService(f.invites, f.teams, f.users, f.notifier, nil, "http://localhost:3000", logger)

	f.owner = f.users.add("Alice", "alice@example.com")
	f.admin = f.users.add("Bob", "bob@example.com")
	f.member = f.users.add("Carol", "carol@example.com")
	f.invitee = f.users.add("Dave", "dave@example.com")

	now := time.Now()
	f.team = f.teams.add(&models.Team{
		Name:    "Platform",
		OwnerID: f.owner.ID,
		Members: []models.TeamMember{
			{UserID: f.owner.ID, Role: models.TeamRoleOwner, JoinedAt: now, Status: models.MemberStatusActive},
			{UserID: f.admin.ID, Role: models.TeamRoleAdmin, JoinedAt: now, Status: models.MemberStatusActive},
			{UserID: f.member.ID, Role: models.TeamRoleMember, JoinedAt: now, Status: models.MemberStatusActive},
		},
		Settings: models.DefaultTeamSettings(),
	})
	return f
}

func (f *inviteFixture) createInvite(t *testing.T, email string) *models.TeamInvite {
	t.Helper()
	invite, err := f.service.CreateInvite(context.Background(), CreateInviteInput{
		TeamID:       f.team.ID,
		InviterID:    f.owner.ID,
		InviteeEmail: email,
		Role:         models.TeamRoleMember,
	})
	require.NoError(t, err)
	return invite
}

func TestCreateInvite(t *testing.T) {
	f := newInviteFixture(t)

	invite, err := f.service.CreateInvite(context.Background(), CreateInviteInput{
		TeamID:       f.team.ID,
		InviterID:    f.admin.ID,
		InviteeEmail: "Dave@Example.com",
		Role:         models.TeamRoleMember,
		Message:      "join us",
	})
	require.NoError(t, err)

	assert.Equal(t, models.InviteStatusPending, invite.Status)
	assert.Equal(t, "dave@example.com", invite.InviteeEmail, "email is normalized")
	assert.Len(t, invite.Token, inviteTokenLength*2, "token is hex of random bytes")
	require.NotNil(t, invite.InviteeUserID)
	assert.Equal(t, f.invitee.ID, *invite.InviteeUserID)
	assert.WithinDuration(t, time.Now().Add(inviteDuration), invite.ExpiresAt, time.Minute)

	// Приглашённый с аккаунтом получает долговременное уведомление.
	assert.Equal(t, 1, f.notes.countFor(f.invitee.ID))
}

func TestCreateInvite_UnregisteredEmail(t *testing.T) {
	f := newInviteFixture(t)

	invite := f.createInvite(t, "stranger@example.com")
	assert.Nil(t, invite.InviteeUserID)
	assert.Equal(t, models.InviteStatusPending, invite.Status)
}

func TestCreateInvite_Validation(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateInvite(ctx, CreateInviteInput{
		TeamID: f.team.ID, InviterID: f.owner.ID, InviteeEmail: "  ", Role: models.TeamRoleMember,
	})
	assert.ErrorIs(t, err, ErrEmailRequired)

	_, err = f.service.CreateInvite(ctx, CreateInviteInput{
		TeamID: f.team.ID, InviterID: f.owner.ID, InviteeEmail: "x@example.com", Role: models.TeamRoleOwner,
	})
	assert.ErrorIs(t, err, ErrInvalidInviteRole)
}

func TestCreateInvite_RequiresAdminOrOwner(t *testing.T) {
	f := newInviteFixture(t)

	_, err := f.service.CreateInvite(context.Background(), CreateInviteInput{
		TeamID:       f.team.ID,
		InviterID:    f.member.ID,
		InviteeEmail: "dave@example.com",
		Role:         models.TeamRoleMember,
	})
	assert.ErrorIs(t, err, ErrInvitePermissionRequired)
}

func TestCreateInvite_AlreadyMember(t *testing.T) {
	f := newInviteFixture(t)

	_, err := f.service.CreateInvite(context.Background(), CreateInviteInput{
		TeamID:       f.team.ID,
		InviterID:    f.owner.ID,
		InviteeEmail: f.member.Email,
		Role:         models.TeamRoleMember,
	})
	assert.ErrorIs(t, err, ErrAlreadyTeamMember)
}

func TestCreateInvite_DuplicatePending(t *testing.T) {
	f := newInviteFixture(t)

	f.createInvite(t, "dave@example.com")

	_, err := f.service.CreateInvite(context.Background(), CreateInviteInput{
		TeamID:       f.team.ID,
		InviterID:    f.admin.ID,
		InviteeEmail: "DAVE@example.com",
		Role:         models.TeamRoleAdmin,
	})
	assert.ErrorIs(t, err, ErrInviteAlreadyPending)
}

func TestCreateInvite_ExpiredPendingNotSwept(t *testing.T) {
	f := newInviteFixture(t)
	stale := f.createInvite(t, "dave@example.com")

	// Приглашение просрочено, но sweep ещё не перевёл его в expired:
	// предварительная проверка его не видит, а частичный индекс — видит.
	f.invites.mu.Lock()
	f.invites.invites[stale.ID].ExpiresAt = time.Now().Add(-time.Hour)
	f.invites.mu.Unlock()

	_, err := f.service.CreateInvite(context.Background(), CreateInviteInput{
		TeamID:       f.team.ID,
		InviterID:    f.owner.ID,
		InviteeEmail: "dave@example.com",
		Role:         models.TeamRoleMember,
	})
	assert.ErrorIs(t, err, ErrInviteAlreadyPending)
	assert.NotErrorIs(t, err, ErrInviteTokenGeneration,
		"duplicate pending must not be mistaken for a token collision")
}

func TestGetInviteByToken(t *testing.T) {
	f := newInviteFixture(t)
	invite := f.createInvite(t, "dave@example.com")

	summary, err := f.service.GetInviteByToken(context.Background(), invite.Token)
	require.NoError(t, err)
	assert.Equal(t, f.team.ID, summary.TeamID)
	assert.Equal(t, "Platform", summary.TeamName)
	assert.Equal(t, "Alice", summary.InviterName)
	assert.Equal(t, "dave@example.com", summary.InviteeEmail)

	_, err = f.service.GetInviteByToken(context.Background(), "no-such-token")
	assert.ErrorIs(t, err, ErrInviteNotFound)
}

func TestAcceptInvite(t *testing.T) {
	f := newInviteFixture(t)
	invite := f.createInvite(t, "dave@example.com")

	team, err := f.service.AcceptInvite(context.Background(), invite.Token, f.invitee.ID)
	require.NoError(t, err)

	m := team.Member(f.invitee.ID)
	require.NotNil(t, m, "invitee joined the member list")
	assert.Equal(t, models.TeamRoleMember, m.Role)
	assert.Equal(t, models.MemberStatusActive, m.Status)

	stored, err := f.invites.GetByToken(context.Background(), invite.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusAccepted, stored.Status)
	assert.NotNil(t, stored.AcceptedAt)

	// Рассылка о вступлении охватывает и нового участника.
	assert.Equal(t, 1, f.notes.countFor(f.owner.ID))
	assert.Equal(t, 1, f.notes.countFor(f.admin.ID))
	assert.Equal(t, 1, f.notes.countFor(f.member.ID))
	assert.Equal(t, 2, f.notes.countFor(f.invitee.ID), "invite notice plus join broadcast")
}

func TestAcceptInvite_Twice(t *testing.T) {
	f := newInviteFixture(t)
	invite := f.createInvite(t, "dave@example.com")

	_, err := f.service.AcceptInvite(context.Background(), invite.Token, f.invitee.ID)
	require.NoError(t, err)

	_, err = f.service.AcceptInvite(context.Background(), invite.Token, f.invitee.ID)
	assert.ErrorIs(t, err, ErrInviteNotPending)
}

func TestAcceptInvite_Expired(t *testing.T) {
	f := newInviteFixture(t)
	invite := f.createInvite(t, "dave@example.com")

	// Сдвигаем срок в прошлое прямо в хранилище.
	f.invites.mu.Lock()
	f.invites.invites[invite.ID].ExpiresAt = time.Now().Add(-time.Hour)
	f.invites.mu.Unlock()

	_, err := f.service.AcceptInvite(context.Background(), invite.Token, f.invitee.ID)
	assert.ErrorIs(t, err, ErrInviteExpired)

	team, getErr := f.teams.GetByID(context.Background(), f.team.ID)
	require.NoError(t, getErr)
	assert.Nil(t, team.Member(f.invitee.ID), "expired invite never grants membership")
}

func TestAcceptInvite_InactiveTeam(t *testing.T) {
	f := newInviteFixture(t)
	invite := f.createInvite(t, "dave@example.com")

	require.NoError(t, f.teams.SetActive(context.Background(), f.team.ID, false))

	_, err := f.service.AcceptInvite(context.Background(), invite.Token, f.invitee.ID)
	assert.ErrorIs(t, err, ErrTeamNotFound)

	// Одноразовый токен не сгорает об неактивную команду.
	stored, err := f.invites.GetByToken(context.Background(), invite.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusPending, stored.Status)
	assert.Nil(t, stored.AcceptedAt)
}

func TestAcceptInvite_JoinFailureRevertsInvite(t *testing.T) {
	f := newInviteFixture(t)
	invite := f.createInvite(t, "dave@example.com")

	// Запись членства стабильно проигрывает по версии: CAS-цикл исчерпан.
	f.teams.mu.Lock()
	f.teams.updateMembersErr = repositories.ErrTeamVersionConflict
	f.teams.mu.Unlock()

	_, err := f.service.AcceptInvite(context.Background(), invite.Token, f.invitee.ID)
	assert.ErrorIs(t, err, ErrTeamUpdateConflict)

	// Переход pending -> accepted откатился вместе с ошибкой членства.
	stored, err := f.invites.GetByToken(context.Background(), invite.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusPending, stored.Status)
	assert.Nil(t, stored.AcceptedAt)

	// После устранения конфликта тем же токеном можно вступить.
	f.teams.mu.Lock()
	f.teams.updateMembersErr = nil
	f.teams.mu.Unlock()

	team, err := f.service.AcceptInvite(context.Background(), invite.Token, f.invitee.ID)
	require.NoError(t, err)
	assert.NotNil(t, team.Member(f.invitee.ID))
}

func TestAcceptInvite_WrongAccount(t *testing.T) {
	f := newInviteFixture(t)
	invite := f.createInvite(t, "dave@example.com")

	_, err := f.service.AcceptInvite(context.Background(), invite.Token, f.member.ID)
	assert.ErrorIs(t, err, ErrInviteOwnershipMismatch)
}

func TestAcceptInvite_ConcurrentSingleWinner(t *testing.T) {
	f := newInviteFixture(t)
	invite := f.createInvite(t, "dave@example.com")

	const attempts = 8
	results := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = f.service.AcceptInvite(context.Background(), invite.Token, f.invitee.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrInviteNotPending)
		}
	}
	assert.Equal(t, 1, wins, "exactly one accept wins the race")

	team, err := f.teams.GetByID(context.Background(), f.team.ID)
	require.NoError(t, err)
	assert.Len(t, team.Members, 4, "member appears exactly once")
}

func TestRejectInvite(t *testing.T) {
	f := newInviteFixture(t)
	invite := f.createInvite(t, "dave@example.com")

	err := f.service.RejectInvite(context.Background(), invite.Token, f.invitee.ID)
	require.NoError(t, err)

	stored, err := f.invites.GetByToken(context.Background(), invite.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusRejected, stored.Status)
	assert.NotNil(t, stored.RejectedAt)

	team, err := f.teams.GetByID(context.Background(), f.team.ID)
	require.NoError(t, err)
	assert.Nil(t, team.Member(f.invitee.ID))

	// Пригласивший узнаёт об отказе.
	assert.Equal(t, 1, f.notes.countFor(f.owner.ID))
}

func TestListMyInvites(t *testing.T) {
	f := newInviteFixture(t)
	f.createInvite(t, "dave@example.com")

	invites, err := f.service.ListMyInvites(context.Background(), f.invitee.ID)
	require.NoError(t, err)
	require.Len(t, invites, 1)
	require.NotNil(t, invites[0].Team)
	assert.Equal(t, "Platform", invites[0].Team.Name)
	require.NotNil(t, invites[0].Inviter)
	assert.Empty(t, invites[0].Inviter.PasswordHash)

	invites, err = f.service.ListMyInvites(context.Background(), f.member.ID)
	require.NoError(t, err)
	assert.Empty(t, invites)
}

func TestExpireSweep(t *testing.T) {
	f := newInviteFixture(t)
	fresh := f.createInvite(t, "dave@example.com")
	stale := f.createInvite(t, "old@example.com")

	f.invites.mu.Lock()
	f.invites.invites[stale.ID].ExpiresAt = time.Now().Add(-time.Minute)
	f.invites.mu.Unlock()

	n, err := f.service.ExpireSweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	got, err := f.invites.GetByToken(context.Background(), stale.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusExpired, got.Status)

	got, err = f.invites.GetByToken(context.Background(), fresh.Token)
	require.NoError(t, err)
	assert.Equal(t, models.InviteStatusPending, got.Status)
}
