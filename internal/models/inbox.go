package models

import "time"

// InboxEntry is one user's projection of one conversation.
type InboxEntry struct {
	UserID            int        `db:"user_id" json:"user_id"`
	ConversationID    int        `db:"conversation_id" json:"conversation_id"`
	UnreadCount       int        `db:"unread_count" json:"unread_count"`
	LastReadMessageID *int       `db:"last_read_message_id" json:"last_read_message_id,omitempty"`
	IsPinned          bool       `db:"is_pinned" json:"is_pinned"`
	IsMuted           bool       `db:"is_muted" json:"is_muted"`
	MutedUntil        *time.Time `db:"muted_until" json:"muted_until,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"-"`
}

// MutedAt reports whether the entry suppresses notifications at the given time.
// A nil muted_until means muted indefinitely.
func (e InboxEntry) MutedAt(now time.Time) bool {
	if !e.IsMuted {
		return false
	}
	if e.MutedUntil == nil {
		return true
	}
	return e.MutedUntil.After(now)
}

// InboxTarget is the per-member delivery state resolved when a message is
// stored, used to decide who gets an offline notification.
type InboxTarget struct {
	UserID     int        `db:"user_id"`
	IsMuted    bool       `db:"is_muted"`
	MutedUntil *time.Time `db:"muted_until"`
}

// MutedAt reports whether notifications are suppressed for this target.
func (t InboxTarget) MutedAt(now time.Time) bool {
	return InboxEntry{IsMuted: t.IsMuted, MutedUntil: t.MutedUntil}.MutedAt(now)
}

// InboxView is one row of a user's recent-conversations list.
type InboxView struct {
	ConversationID    int             `json:"conversation_id"`
	Type              string          `json:"type"`
	Name              string          `json:"name,omitempty"`
	GroupImage        string          `json:"group_image,omitempty"`
	Status            string          `json:"status"`
	UnreadCount       int             `json:"unread_count"`
	LastReadMessageID *int            `json:"last_read_message_id,omitempty"`
	IsPinned          bool            `json:"is_pinned"`
	IsMuted           bool            `json:"is_muted"`
	MutedUntil        *time.Time      `json:"muted_until,omitempty"`
	LastActivity      time.Time       `json:"last_activity"`
	Participants      []int           `json:"participants"`
	LastMessage       *MessagePreview `json:"last_message,omitempty"`
}
