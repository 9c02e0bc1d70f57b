package models

import "time"

// Conversation types.
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Conversation statuses. A deleted conversation has no row at all; the
// cascade removes it together with its messages and inbox entries.
const (
	ConversationActive   = "active"
	ConversationArchived = "archived"
)

// Member roles inside a conversation.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Conversation represents a direct or group conversation.
type Conversation struct {
	ID            int       `db:"id" json:"id"`
	Type          string    `db:"type" json:"type"`
	Name          string    `db:"name" json:"name,omitempty"`
	Description   string    `db:"description" json:"description,omitempty"`
	GroupImage    string    `db:"group_image" json:"group_image,omitempty"`
	DirectKey     *string   `db:"direct_key" json:"-"`
	LastMessageID *int      `db:"last_message_id" json:"last_message_id,omitempty"`
	TotalMessages int       `db:"total_messages" json:"total_messages"`
	LastActivity  time.Time `db:"last_activity" json:"last_activity"`
	Status        string    `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// IsDirect reports whether the conversation is a two-party direct conversation.
func (c Conversation) IsDirect() bool {
	return c.Type == ConversationDirect
}

// Member is one row of the conversation_members join table.
type Member struct {
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	UserID         int       `db:"user_id" json:"user_id"`
	Role           string    `db:"role" json:"role"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// CanManageMembers reports whether the member may add or remove participants.
func (m Member) CanManageMembers() bool {
	return m.Role == RoleOwner || m.Role == RoleAdmin
}

// ConversationView is a conversation together with its participant list,
// the shape returned by the API.
type ConversationView struct {
	Conversation
	Members []Member `json:"participants"`
}

// MemberIDs returns the participant user ids.
func (v ConversationView) MemberIDs() []int {
	ids := make([]int, 0, len(v.Members))
	for _, m := range v.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// MemberByUser looks up the membership row for a user.
func (v ConversationView) MemberByUser(userID int) (Member, bool) {
	for _, m := range v.Members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}
