package models

import "time"

type NotificationType string

const (
	NotificationTaskAssigned  NotificationType = "task_assigned"
	NotificationTaskCompleted NotificationType = "task_completed"
	NotificationTaskUpdated   NotificationType = "task_updated"
	NotificationTeamInvite    NotificationType = "team_invite"
	NotificationSystem        NotificationType = "system"
	NotificationMention       NotificationType = "mention"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationTaskAssigned, NotificationTaskCompleted, NotificationTaskUpdated,
		NotificationTeamInvite, NotificationSystem, NotificationMention:
		return true
	}
	return false
}

type Notification struct {
	ID          int                    `json:"id" db:"id"`
	RecipientID int                    `json:"recipient_id" db:"recipient_id"`
	SenderID    *int                   `json:"sender_id,omitempty" db:"sender_id"`
	Type        NotificationType       `json:"type" db:"type"`
	Title       string                 `json:"title" db:"title"`
	Message     string                 `json:"message" db:"message"`
	Payload     map[string]interface{} `json:"payload,omitempty" db:"payload"`
	IsRead      bool                   `json:"is_read" db:"is_read"`
	ReadAt      *time.Time             `json:"read_at,omitempty" db:"read_at"`
	CreatedAt   time.Time              `json:"created_at" db:"created_at"`
}
