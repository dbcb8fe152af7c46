package models

import "time"

// MemberRole — роль участника в заявке.
type MemberRole string

const (
	MemberRoleCaptain MemberRole = "captain"
	MemberRolePlayer  MemberRole = "player"
)

// MemberStatus — статусы участника заявки. Капитан создаётся сразу
// confirmed, приглашённые проходят invited -> confirmed | declined.
type MemberStatus string

const (
	MemberStatusInvited   MemberStatus = "invited"
	MemberStatusConfirmed MemberStatus = "confirmed"
	MemberStatusDeclined  MemberStatus = "declined"
)

// TeamMember — участие пользователя в конкретной заявке. InviteToken —
// одноразовый секрет; после accept/decline обнуляется. Просроченность
// приглашения вычисляется по InvitedAt при чтении и в статусах не хранится.
type TeamMember struct {
	ID             int          `json:"id" db:"id"`
	RegistrationID int          `json:"registration_id" db:"registration_id"`
	UserID         int          `json:"user_id" db:"user_id"`
	Role           MemberRole   `json:"role" db:"role"`
	Status         MemberStatus `json:"status" db:"status"`
	InviteToken    *string      `json:"-" db:"invite_token"`
	InvitedAt      time.Time    `json:"invited_at" db:"invited_at"`
	RespondedAt    *time.Time   `json:"responded_at,omitempty" db:"responded_at"`

	User *User `json:"user,omitempty" db:"-"`
}
