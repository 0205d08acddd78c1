package models

import "time"

type TeamRole string

const (
	TeamRoleOwner  TeamRole = "owner"
	TeamRoleAdmin  TeamRole = "admin"
	TeamRoleMember TeamRole = "member"
)

type MemberStatus string

const (
	MemberStatusActive    MemberStatus = "active"
	MemberStatusPending   MemberStatus = "pending"
	MemberStatusSuspended MemberStatus = "suspended"
)

// TeamMember живёт внутри документа команды (колонка members, JSONB),
// отдельной таблицы для него нет.
type TeamMember struct {
	UserID   int          `json:"user_id"`
	Role     TeamRole     `json:"role"`
	JoinedAt time.Time    `json:"joined_at"`
	Status   MemberStatus `json:"status"`
}

type TeamSettings struct {
	AllowMemberInvite        bool `json:"allow_member_invite"`
	AllowMemberCreateProject bool `json:"allow_member_create_project"`
	AllowMemberDeleteProject bool `json:"allow_member_delete_project"`
}

type BoardColumn struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Order int    `json:"order"`
}

type Team struct {
	ID          int           `json:"id" db:"id"`
	Name        string        `json:"name" db:"name"`
	Description string        `json:"description,omitempty" db:"description"`
	OwnerID     int           `json:"owner_id" db:"owner_id"`
	Members     []TeamMember  `json:"members" db:"members"`
	Settings    TeamSettings  `json:"settings" db:"settings"`
	Board       []BoardColumn `json:"board,omitempty" db:"board"`
	IsActive    bool          `json:"is_active" db:"is_active"`

	// Version растёт при каждом обновлении документа; условные UPDATE по
	// (id, version) защищают members от потерянных обновлений.
	Version int `json:"-" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`

	Owner *User `json:"owner,omitempty" db:"-"`

	AvatarKey *string `json:"-" db:"avatar_key"`
	AvatarURL *string `json:"avatar_url,omitempty" db:"-"`
}

// Member возвращает запись участника или nil, если пользователя нет в списке.
func (t *Team) Member(userID int) *TeamMember {
	for i := range t.Members {
		if t.Members[i].UserID == userID {
			return &t.Members[i]
		}
	}
	return nil
}

func (t *Team) ActiveMemberIDs() []int {
	ids := make([]int, 0, len(t.Members))
	for _, m := range t.Members {
		if m.Status == MemberStatusActive {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

func DefaultTeamSettings() TeamSettings {
	return TeamSettings{
		AllowMemberInvite:        true,
		AllowMemberCreateProject: true,
		AllowMemberDeleteProject: false,
	}
}

func DefaultBoardColumns() []BoardColumn {
	return []BoardColumn{
		{Key: "backlog", Title: "Backlog", Order: 0},
		{Key: "pending", Title: "Pending", Order: 1},
		{Key: "in-progress", Title: "In Progress", Order: 2},
		{Key: "review", Title: "Review", Order: 3},
		{Key: "completed", Title: "Completed", Order: 4},
	}
}
