package models

import "time"

// Presence statuses.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
	PresenceIdle    = "idle"
	PresenceDND     = "dnd"
)

// ValidPresenceStatus reports whether s is a client-settable presence status.
func ValidPresenceStatus(s string) bool {
	switch s {
	case PresenceOnline, PresenceOffline, PresenceIdle, PresenceDND:
		return true
	}
	return false
}

// Presence is the live connection state of a user.
type Presence struct {
	UserID   int       `json:"user_id"`
	Status   string    `json:"status"`
	SocketID string    `json:"socket_id,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// Online reports whether the user currently has a live connection.
func (p Presence) Online() bool {
	return p.Status != PresenceOffline && p.SocketID != ""
}
