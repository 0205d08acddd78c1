package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/teamhub/teamhub/models"
	"github.com/teamhub/teamhub/repositories"
)

// In-memory реализации репозиториев для тестов сервисного слоя.
// Семантика условных обновлений повторяет SQL-версии.

type fakeUserRepo struct {
	mu     sync.Mutex
	nextID int
	users  map[int]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{nextID: 1, users: make(map[int]*models.User)}
}

func (r *fakeUserRepo) add(name, email string) *models.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	user := &models.User{ID: r.nextID, Name: name, Email: email, CreatedAt: time.Now()}
	r.users[user.ID] = user
	r.nextID++
	return user
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return repositories.ErrUserEmailConflict
		}
	}
	user.ID = r.nextID
	user.CreatedAt = time.Now()
	clone := *user
	r.users[user.ID] = &clone
	r.nextID++
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrUserNotFound
	}
	clone := *user
	return &clone, nil
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, email) {
			clone := *user
			return &clone, nil
		}
	}
	return nil, repositories.ErrUserNotFound
}

func (r *fakeUserRepo) UpdateAvatarKey(_ context.Context, id int, key *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return repositories.ErrUserNotFound
	}
	user.AvatarKey = key
	return nil
}

type fakeTeamRepo struct {
	mu     sync.Mutex
	nextID int
	teams  map[int]*models.Team

	// updateMembersErr подменяет результат UpdateMembers, чтобы проверять
	// ветки отказа записи членства.
	updateMembersErr error
}

func newFakeTeamRepo() *fakeTeamRepo {
	return &fakeTeamRepo{nextID: 1, teams: make(map[int]*models.Team)}
}

func (r *fakeTeamRepo) add(team *models.Team) *models.Team {
	r.mu.Lock()
	defer r.mu.Unlock()
	team.ID = r.nextID
	if team.Version == 0 {
		team.Version = 1
	}
	team.IsActive = true
	r.teams[team.ID] = team
	r.nextID++
	return team
}

func cloneTeam(team *models.Team) *models.Team {
	clone := *team
	clone.Members = append([]models.TeamMember(nil), team.Members...)
	return &clone
}

func (r *fakeTeamRepo) Create(_ context.Context, team *models.Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	team.ID = r.nextID
	team.Version = 1
	team.IsActive = true
	team.CreatedAt = time.Now()
	team.UpdatedAt = team.CreatedAt
	r.teams[team.ID] = cloneTeam(team)
	r.nextID++
	return nil
}

func (r *fakeTeamRepo) GetByID(_ context.Context, id int) (*models.Team, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	team, ok := r.teams[id]
	if !ok {
		return nil, repositories.ErrTeamNotFound
	}
	return cloneTeam(team), nil
}

func (r *fakeTeamRepo) List(_ context.Context, _ repositories.TeamFilter) ([]*models.Team, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	teams := make([]*models.Team, 0, len(r.teams))
	for _, team := range r.teams {
		teams = append(teams, cloneTeam(team))
	}
	return teams, len(teams), nil
}

func (r *fakeTeamRepo) UpdateDetails(_ context.Context, team *models.Team) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.teams[team.ID]
	if !ok {
		return repositories.ErrTeamNotFound
	}
	stored.Name = team.Name
	stored.Description = team.Description
	stored.Settings = team.Settings
	stored.Board = team.Board
	stored.Version++
	return nil
}

func (r *fakeTeamRepo) UpdateMembers(_ context.Context, teamID int, members []models.TeamMember, expectedVersion int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateMembersErr != nil {
		return r.updateMembersErr
	}
	team, ok := r.teams[teamID]
	if !ok {
		return repositories.ErrTeamNotFound
	}
	if team.Version != expectedVersion {
		return repositories.ErrTeamVersionConflict
	}
	team.Members = append([]models.TeamMember(nil), members...)
	team.Version++
	return nil
}

func (r *fakeTeamRepo) UpdateAvatarKey(_ context.Context, teamID int, key *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	team, ok := r.teams[teamID]
	if !ok {
		return repositories.ErrTeamNotFound
	}
	team.AvatarKey = key
	return nil
}

func (r *fakeTeamRepo) SetActive(_ context.Context, teamID int, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	team, ok := r.teams[teamID]
	if !ok {
		return repositories.ErrTeamNotFound
	}
	team.IsActive = active
	return nil
}

func (r *fakeTeamRepo) Delete(_ context.Context, teamID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.teams[teamID]; !ok {
		return repositories.ErrTeamNotFound
	}
	delete(r.teams, teamID)
	return nil
}

type fakeInviteRepo struct {
	mu      sync.Mutex
	nextID  int
	invites map[int]*models.TeamInvite
}

func newFakeInviteRepo() *fakeInviteRepo {
	return &fakeInviteRepo{nextID: 1, invites: make(map[int]*models.TeamInvite)}
}

func cloneInvite(invite *models.TeamInvite) *models.TeamInvite {
	clone := *invite
	return &clone
}

func (r *fakeInviteRepo) Create(_ context.Context, invite *models.TeamInvite) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.invites {
		if existing.Token == invite.Token {
			return repositories.ErrInviteTokenConflict
		}
		// Частичный уникальный индекс: одно pending-приглашение на пару
		// (team, email), независимо от срока действия.
		if existing.TeamID == invite.TeamID &&
			strings.EqualFold(existing.InviteeEmail, invite.InviteeEmail) &&
			existing.Status == models.InviteStatusPending {
			return repositories.ErrInvitePendingConflict
		}
	}
	invite.ID = r.nextID
	invite.CreatedAt = time.Now()
	r.invites[invite.ID] = cloneInvite(invite)
	r.nextID++
	return nil
}

func (r *fakeInviteRepo) GetByToken(_ context.Context, token string) (*models.TeamInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, invite := range r.invites {
		if invite.Token == token {
			return cloneInvite(invite), nil
		}
	}
	return nil, repositories.ErrInviteNotFound
}

func (r *fakeInviteRepo) FindPending(_ context.Context, teamID int, inviteeEmail string) (*models.TeamInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, invite := range r.invites {
		if invite.TeamID == teamID &&
			strings.EqualFold(invite.InviteeEmail, inviteeEmail) &&
			invite.Status == models.InviteStatusPending &&
			invite.ExpiresAt.After(time.Now()) {
			return cloneInvite(invite), nil
		}
	}
	return nil, repositories.ErrInviteNotFound
}

func (r *fakeInviteRepo) ListPendingByEmail(_ context.Context, email string) ([]*models.TeamInvite, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []*models.TeamInvite
	for _, invite := range r.invites {
		if strings.EqualFold(invite.InviteeEmail, email) &&
			invite.Status == models.InviteStatusPending &&
			invite.ExpiresAt.After(time.Now()) {
			pending = append(pending, cloneInvite(invite))
		}
	}
	return pending, nil
}

func (r *fakeInviteRepo) UpdateStatusIfPending(_ context.Context, id int, status models.InviteStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	invite, ok := r.invites[id]
	if !ok {
		return repositories.ErrInviteNotFound
	}
	if invite.Status != models.InviteStatusPending || !invite.ExpiresAt.After(at) {
		return repositories.ErrInviteStateConflict
	}
	invite.Status = status
	switch status {
	case models.InviteStatusAccepted:
		invite.AcceptedAt = &at
	case models.InviteStatusRejected:
		invite.RejectedAt = &at
	}
	return nil
}

func (r *fakeInviteRepo) RevertToPending(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	invite, ok := r.invites[id]
	if !ok {
		return repositories.ErrInviteNotFound
	}
	if invite.Status != models.InviteStatusAccepted {
		return repositories.ErrInviteStateConflict
	}
	invite.Status = models.InviteStatusPending
	invite.AcceptedAt = nil
	return nil
}

func (r *fakeInviteRepo) ExpirePending(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	now := time.Now()
	for _, invite := range r.invites {
		if invite.Status == models.InviteStatusPending && !invite.ExpiresAt.After(now) {
			invite.Status = models.InviteStatusExpired
			n++
		}
	}
	return n, nil
}

func (r *fakeInviteRepo) DeleteByTeam(_ context.Context, teamID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, invite := range r.invites {
		if invite.TeamID == teamID {
			delete(r.invites, id)
		}
	}
	return nil
}

type fakeNotificationRepo struct {
	mu            sync.Mutex
	nextID        int
	notifications map[int]*models.Notification

	// failFor заставляет Create падать для конкретного получателя.
	failFor map[int]error
}

func newFakeNotificationRepo() *fakeNotificationRepo {
	return &fakeNotificationRepo{
		nextID:        1,
		notifications: make(map[int]*models.Notification),
		failFor:       make(map[int]error),
	}
}

func (r *fakeNotificationRepo) Create(_ context.Context, notification *models.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err, ok := r.failFor[notification.RecipientID]; ok {
		return err
	}
	notification.ID = r.nextID
	notification.CreatedAt = time.Now()
	clone := *notification
	r.notifications[notification.ID] = &clone
	r.nextID++
	return nil
}

func (r *fakeNotificationRepo) GetByID(_ context.Context, id, recipientID int) (*models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	notification, ok := r.notifications[id]
	if !ok || notification.RecipientID != recipientID {
		return nil, repositories.ErrNotificationNotFound
	}
	clone := *notification
	return &clone, nil
}

func (r *fakeNotificationRepo) ListByRecipient(_ context.Context, filter repositories.NotificationFilter) ([]*models.Notification, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var list []*models.Notification
	for _, notification := range r.notifications {
		if notification.RecipientID != filter.RecipientID {
			continue
		}
		if filter.IsRead != nil && notification.IsRead != *filter.IsRead {
			continue
		}
		clone := *notification
		list = append(list, &clone)
	}
	return list, len(list), nil
}

func (r *fakeNotificationRepo) MarkRead(_ context.Context, id, recipientID int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	notification, ok := r.notifications[id]
	if !ok || notification.RecipientID != recipientID {
		return repositories.ErrNotificationNotFound
	}
	notification.IsRead = true
	notification.ReadAt = &at
	return nil
}

func (r *fakeNotificationRepo) MarkAllRead(_ context.Context, recipientID int, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, notification := range r.notifications {
		if notification.RecipientID == recipientID && !notification.IsRead {
			notification.IsRead = true
			notification.ReadAt = &at
			n++
		}
	}
	return n, nil
}

func (r *fakeNotificationRepo) Delete(_ context.Context, id, recipientID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	notification, ok := r.notifications[id]
	if !ok || notification.RecipientID != recipientID {
		return repositories.ErrNotificationNotFound
	}
	delete(r.notifications, id)
	return nil
}

func (r *fakeNotificationRepo) CountUnread(_ context.Context, recipientID int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, notification := range r.notifications {
		if notification.RecipientID == recipientID && !notification.IsRead {
			count++
		}
	}
	return count, nil
}

func (r *fakeNotificationRepo) countFor(recipientID int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, notification := range r.notifications {
		if notification.RecipientID == recipientID {
			count++
		}
	}
	return count
}

type pushedEvent struct {
	UserID    int
	RoomID    string
	EventType string
	Payload   interface{}
}

// fakePusher записывает пуши вместо отправки в сокеты.
type fakePusher struct {
	mu     sync.Mutex
	online map[int]bool
	pushed []pushedEvent
}

func newFakePusher(onlineUsers ...int) *fakePusher {
	online := make(map[int]bool)
	for _, id := range onlineUsers {
		online[id] = true
	}
	return &fakePusher{online: online}
}

func (p *fakePusher) PushToUser(userID int, eventType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, pushedEvent{UserID: userID, EventType: eventType, Payload: payload})
}

func (p *fakePusher) PushToRoom(roomID, eventType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushed = append(p.pushed, pushedEvent{RoomID: roomID, EventType: eventType, Payload: payload})
}

func (p *fakePusher) IsOnline(userID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *fakePusher) ListOnline() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int, 0, len(p.online))
	for id, on := range p.online {
		if on {
			ids = append(ids, id)
		}
	}
	return ids
}

func (p *fakePusher) pushesFor(userID int) []pushedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var events []pushedEvent
	for _, event := range p.pushed {
		if event.UserID == userID {
			events = append(events, event)
		}
	}
	return events
}
