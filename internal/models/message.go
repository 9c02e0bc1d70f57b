package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Message statuses.
const (
	MessageSent      = "sent"
	MessageDelivered = "delivered"
	MessageRead      = "read"
	MessageDeleted   = "deleted"
)

// Attachment describes one file attached to a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// AttachmentList is a JSONB array of attachments.
type AttachmentList []Attachment

func (a AttachmentList) Value() (driver.Value, error) {
	if a == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a)
}

func (a *AttachmentList) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// IntList is a JSONB array of integers, used for mention targets.
type IntList []int

func (l IntList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *IntList) Scan(src interface{}) error {
	return scanJSON(src, l)
}

// Contains reports whether id is present in the list.
func (l IntList) Contains(id int) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}

// ForwardInfo records the origin of a forwarded message.
type ForwardInfo struct {
	MessageID      int       `json:"message_id"`
	ConversationID int       `json:"conversation_id"`
	SenderID       int       `json:"sender_id"`
	ForwardedAt    time.Time `json:"forwarded_at"`
}

// NullForwardInfo is a nullable JSONB ForwardInfo column.
type NullForwardInfo struct {
	ForwardInfo
	Valid bool
}

func (n NullForwardInfo) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return json.Marshal(n.ForwardInfo)
}

func (n *NullForwardInfo) Scan(src interface{}) error {
	if src == nil {
		*n = NullForwardInfo{}
		return nil
	}
	if err := scanJSON(src, &n.ForwardInfo); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

func (n NullForwardInfo) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.ForwardInfo)
}

func (n *NullForwardInfo) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = NullForwardInfo{}
		return nil
	}
	if err := json.Unmarshal(data, &n.ForwardInfo); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// EditEntry is one historical revision of an edited message.
type EditEntry struct {
	Content  string    `json:"content"`
	EditedAt time.Time `json:"edited_at"`
}

// EditHistory is the JSONB list of prior message revisions, oldest first.
type EditHistory []EditEntry

func (h EditHistory) Value() (driver.Value, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(h)
}

func (h *EditHistory) Scan(src interface{}) error {
	return scanJSON(src, h)
}

// Reaction aggregates an emoji with the users who added it.
type Reaction struct {
	Emoji   string `json:"emoji"`
	UserIDs []int  `json:"user_ids"`
}

// ReadReceipt records that a user read a message.
type ReadReceipt struct {
	MessageID int       `db:"message_id" json:"message_id,omitempty"`
	UserID    int       `db:"user_id" json:"user_id"`
	ReadAt    time.Time `db:"read_at" json:"read_at"`
}

// Message is one message inside a conversation.
type Message struct {
	ID             int             `db:"id" json:"id"`
	ConversationID int             `db:"conversation_id" json:"conversation_id"`
	SenderID       int             `db:"sender_id" json:"sender_id"`
	Content        string          `db:"content" json:"content"`
	Attachments    AttachmentList  `db:"attachments" json:"attachments"`
	ReplyToID      *int            `db:"reply_to_id" json:"reply_to_id,omitempty"`
	ForwardInfo    NullForwardInfo `db:"forward_info" json:"forward_info,omitempty"`
	Mentions       IntList         `db:"mentions" json:"mentions"`
	Status         string          `db:"status" json:"status"`
	IsEdited       bool            `db:"is_edited" json:"is_edited"`
	EditHistory    EditHistory     `db:"edit_history" json:"edit_history,omitempty"`
	IsPinned       bool            `db:"is_pinned" json:"is_pinned"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	EditedAt       *time.Time      `db:"edited_at" json:"edited_at,omitempty"`

	Reactions []Reaction    `db:"-" json:"reactions,omitempty"`
	ReadBy    []ReadReceipt `db:"-" json:"read_by,omitempty"`
}

// IsDeleted reports whether the message has been retracted.
func (m Message) IsDeleted() bool {
	return m.Status == MessageDeleted
}

// MessagePreview is the trimmed last-message shape embedded in inbox rows.
type MessagePreview struct {
	ID        int       `json:"id"`
	SenderID  int       `json:"sender_id"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func scanJSON(src, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dest)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
}
