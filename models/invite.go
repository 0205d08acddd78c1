package models

import "time"

type InviteStatus string

const (
	InviteStatusPending  InviteStatus = "pending"
	InviteStatusAccepted InviteStatus = "accepted"
	InviteStatusRejected InviteStatus = "rejected"
	InviteStatusExpired  InviteStatus = "expired"
)

// IsTerminal сообщает, что из статуса больше нет переходов.
func (s InviteStatus) IsTerminal() bool {
	return s == InviteStatusAccepted || s == InviteStatusRejected || s == InviteStatusExpired
}

type TeamInvite struct {
	ID            int          `json:"id" db:"id"`
	TeamID        int          `json:"team_id" db:"team_id"`
	InviterID     int          `json:"inviter_id" db:"inviter_id"`
	InviteeEmail  string       `json:"invitee_email" db:"invitee_email"`
	InviteeUserID *int         `json:"invitee_user_id,omitempty" db:"invitee_user_id"`
	Role          TeamRole     `json:"role" db:"role"`
	Status        InviteStatus `json:"status" db:"status"`
	Token         string       `json:"-" db:"token"`
	Message       string       `json:"message,omitempty" db:"message"`
	ExpiresAt     time.Time    `json:"expires_at" db:"expires_at"`
	AcceptedAt    *time.Time   `json:"accepted_at,omitempty" db:"accepted_at"`
	RejectedAt    *time.Time   `json:"rejected_at,omitempty" db:"rejected_at"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`

	Team    *Team `json:"team,omitempty" db:"-"`
	Inviter *User `json:"inviter,omitempty" db:"-"`
}
