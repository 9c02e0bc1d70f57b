package chat

import "messaging-service/internal/models"

// Realtime event names shared by the service, the hub and both transports.
const (
	EventNewMessage          = "newMessage"
	EventMessageSent         = "messageSent"
	EventMessageEdited       = "messageEdited"
	EventMessageDeleted      = "messageDeleted"
	EventMessageRead         = "messageRead"
	EventMessageReaction     = "messageReaction"
	EventMessagePinned       = "messagePinned"
	EventUserTyping          = "userTyping"
	EventUserStoppedTyping   = "userStoppedTyping"
	EventUserStatus          = "userStatus"
	EventConversationCreated = "conversationCreated"
	EventGroupMembersAdded   = "groupMembersAdded"
	EventMemberRemoved       = "memberRemoved"
	EventMemberLeft          = "memberLeft"
	EventConversationDeleted = "conversationDeleted"
	EventHistoryCleared      = "historyCleared"
	EventError               = "error"

	// Reply events for socket-side queries.
	EventConversations        = "conversations"
	EventConversationMessages = "conversationMessages"
	EventMessageContext       = "messageContext"
)

// MembersAddedEvent notifies a conversation about new participants.
type MembersAddedEvent struct {
	ConversationID int             `json:"conversation_id"`
	AddedBy        int             `json:"added_by"`
	NewMembers     []models.Member `json:"new_members"`
}

// MemberRemovedEvent notifies about a removed participant.
type MemberRemovedEvent struct {
	ConversationID int `json:"conversation_id"`
	MemberID       int `json:"member_id"`
	RemovedBy      int `json:"removed_by"`
}

// MemberLeftEvent notifies that a participant left on their own.
type MemberLeftEvent struct {
	ConversationID int `json:"conversation_id"`
	UserID         int `json:"user_id"`
}

// ConversationDeletedEvent notifies former participants about a deletion.
type ConversationDeletedEvent struct {
	ConversationID int `json:"conversation_id"`
	DeletedBy      int `json:"deleted_by"`
}

// HistoryClearedEvent notifies that all messages were purged.
type HistoryClearedEvent struct {
	ConversationID  int `json:"conversation_id"`
	ClearedBy       int `json:"cleared_by"`
	MessagesDeleted int `json:"messages_deleted"`
}

// MessageDeletedEvent notifies about a retracted message.
type MessageDeletedEvent struct {
	MessageID      int `json:"message_id"`
	ConversationID int `json:"conversation_id"`
	DeletedBy      int `json:"deleted_by"`
}

// TypingEvent carries typing indicator state, never persisted.
type TypingEvent struct {
	ConversationID int `json:"conversation_id"`
	UserID         int `json:"user_id"`
}

// StatusEvent announces a presence change to users sharing a conversation.
type StatusEvent struct {
	UserID int    `json:"user_id"`
	Status string `json:"status"`
}

// ReactionEvent notifies about an added or removed reaction.
type ReactionEvent struct {
	MessageID      int               `json:"message_id"`
	ConversationID int               `json:"conversation_id"`
	UserID         int               `json:"user_id"`
	Emoji          string            `json:"emoji"`
	Added          bool              `json:"added"`
	Reactions      []models.Reaction `json:"reactions"`
}

// PinEvent notifies about a pinned or unpinned message.
type PinEvent struct {
	Message  models.Message `json:"message"`
	PinnedBy int            `json:"pinned_by"`
	Pinned   bool           `json:"pinned"`
}
