package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"messaging-service/internal/models"
	"messaging-service/internal/pagination"
	"messaging-service/internal/repositories"
)

// SendMessageInput is the payload for SendMessage.
type SendMessageInput struct {
	ConversationID int                   `json:"conversation_id"`
	Content        string                `json:"content"`
	Attachments    models.AttachmentList `json:"attachments"`
	ReplyToID      *int                  `json:"reply_to_id"`
	ForwardedFrom  *int                  `json:"forwarded_from"`
	Mentions       []int                 `json:"mentions"`
}

// MessageQuery selects one page of conversation messages.
type MessageQuery struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// ReadResult reports the outcome of a mark-read call.
type ReadResult struct {
	ConversationID    int `json:"conversation_id"`
	UserID            int `json:"user_id"`
	LastReadMessageID int `json:"last_read_message_id"`
	ReadCount         int `json:"read_count"`
}

const defaultContextRadius = 25

// SendMessage validates, stores and fans out a message. Fan-out and the
// notification job run strictly after the transaction committed; a failed
// persist triggers neither.
func (s *Service) SendMessage(ctx context.Context, userID int, in SendMessageInput, originConnID string) (models.Message, error) {
	if in.ConversationID <= 0 {
		return models.Message{}, fmt.Errorf("%w: conversation id is required", ErrValidation)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Attachments) == 0 && in.ForwardedFrom == nil {
		return models.Message{}, fmt.Errorf("%w: message needs content or attachments", ErrValidation)
	}

	view, err := s.conversations.GetView(ctx, in.ConversationID)
	if err != nil {
		return models.Message{}, mapRepoErr(err)
	}
	if view.Status != models.ConversationActive {
		return models.Message{}, fmt.Errorf("%w: conversation not found", ErrNotFound)
	}
	if _, ok := view.MemberByUser(userID); !ok {
		return models.Message{}, fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}

	mentions := dedupeInts(in.Mentions)
	for _, id := range mentions {
		if _, ok := view.MemberByUser(id); !ok {
			return models.Message{}, fmt.Errorf("%w: mentioned user %d is not a participant", ErrValidation, id)
		}
	}

	if in.ReplyToID != nil {
		replied, err := s.messages.GetMessage(ctx, *in.ReplyToID)
		if err != nil {
			return models.Message{}, fmt.Errorf("%w: reply target not found", ErrValidation)
		}
		if replied.ConversationID != in.ConversationID {
			return models.Message{}, fmt.Errorf("%w: reply target is in another conversation", ErrValidation)
		}
	}

	attachments := in.Attachments
	var fwd models.NullForwardInfo
	if in.ForwardedFrom != nil {
		orig, err := s.messages.GetMessage(ctx, *in.ForwardedFrom)
		if err != nil {
			return models.Message{}, fmt.Errorf("%w: forwarded message not found", ErrValidation)
		}
		canRead, err := s.conversations.IsMember(ctx, orig.ConversationID, userID)
		if err != nil {
			return models.Message{}, err
		}
		if !canRead {
			return models.Message{}, fmt.Errorf("%w: cannot forward a message you cannot read", ErrForbidden)
		}
		if orig.IsDeleted() {
			return models.Message{}, fmt.Errorf("%w: cannot forward a deleted message", ErrInvalidOperation)
		}
		fwd = models.NullForwardInfo{
			ForwardInfo: models.ForwardInfo{
				MessageID:      orig.ID,
				ConversationID: orig.ConversationID,
				SenderID:       orig.SenderID,
				ForwardedAt:    time.Now().UTC(),
			},
			Valid: true,
		}
		// a bare forward carries the original body
		if content == "" && len(attachments) == 0 {
			content = orig.Content
			attachments = orig.Attachments
		}
	}

	stored, targets, err := s.messages.CreateMessage(ctx, models.Message{
		ConversationID: in.ConversationID,
		SenderID:       userID,
		Content:        content,
		Attachments:    attachments,
		ReplyToID:      in.ReplyToID,
		ForwardInfo:    fwd,
		Mentions:       models.IntList(mentions),
	})
	if err != nil {
		return models.Message{}, err
	}

	reached := s.fanout.BroadcastToConversation(stored.ConversationID, originConnID, EventNewMessage, stored)
	if reached > 0 {
		if err := s.messages.MarkDelivered(ctx, stored.ID); err != nil {
			log.Printf("mark delivered failed: message=%d err=%v", stored.ID, err)
		} else {
			stored.Status = models.MessageDelivered
		}
	}
	s.notifier.Notify(ctx, view.Conversation, stored, targets)
	s.emitAudit(ctx, "message.sent", "Message sent", userID)
	return stored, nil
}

// EditMessage replaces a message body. Only the sender may edit.
func (s *Service) EditMessage(ctx context.Context, userID int, messageID int, content string, originConnID string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, fmt.Errorf("%w: content is required", ErrValidation)
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, mapRepoErr(err)
	}
	if msg.SenderID != userID {
		return models.Message{}, fmt.Errorf("%w: only the sender may edit a message", ErrForbidden)
	}
	if msg.IsDeleted() {
		return models.Message{}, fmt.Errorf("%w: message is deleted", ErrInvalidOperation)
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, content)
	if err != nil {
		return models.Message{}, mapRepoErr(err)
	}

	s.fanout.BroadcastToConversation(updated.ConversationID, originConnID, EventMessageEdited, updated)
	s.emitAudit(ctx, "message.edited", "Message edited", userID)
	return updated, nil
}

// DeleteMessage retracts a message for everyone. Only the sender may retract;
// the row is kept so ordering and read state stay intact.
func (s *Service) DeleteMessage(ctx context.Context, userID int, messageID int, originConnID string) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, mapRepoErr(err)
	}
	if msg.SenderID != userID {
		return models.Message{}, fmt.Errorf("%w: only the sender may delete a message", ErrForbidden)
	}
	if msg.IsDeleted() {
		return models.Message{}, fmt.Errorf("%w: message is already deleted", ErrInvalidOperation)
	}

	retracted, err := s.messages.Retract(ctx, messageID)
	if err != nil {
		return models.Message{}, mapRepoErr(err)
	}

	s.fanout.BroadcastToConversation(retracted.ConversationID, originConnID, EventMessageDeleted, MessageDeletedEvent{
		MessageID:      retracted.ID,
		ConversationID: retracted.ConversationID,
		DeletedBy:      userID,
	})
	s.emitAudit(ctx, "message.deleted", "Message deleted", userID)
	return retracted, nil
}

// MarkRead records the caller as having read everything up to upTo (0 means
// the latest message), zeroes their unread count and tells the conversation.
func (s *Service) MarkRead(ctx context.Context, userID int, conversationID int, upTo int, originConnID string) (ReadResult, error) {
	if _, err := s.conversations.GetConversation(ctx, conversationID); err != nil {
		return ReadResult{}, mapRepoErr(err)
	}
	if _, err := s.conversations.GetMember(ctx, conversationID, userID); err != nil {
		return ReadResult{}, mapRepoErr(err)
	}
	if upTo < 0 {
		return ReadResult{}, fmt.Errorf("%w: invalid message id", ErrValidation)
	}

	lastRead, count, err := s.messages.MarkRead(ctx, conversationID, userID, upTo)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return ReadResult{}, fmt.Errorf("%w: message is not part of the conversation", ErrValidation)
		}
		return ReadResult{}, mapRepoErr(err)
	}

	result := ReadResult{
		ConversationID:    conversationID,
		UserID:            userID,
		LastReadMessageID: lastRead,
		ReadCount:         count,
	}
	s.fanout.BroadcastToConversation(conversationID, originConnID, EventMessageRead, result)
	return result, nil
}

// ListMessages returns one page of conversation history.
func (s *Service) ListMessages(ctx context.Context, userID int, conversationID int, q MessageQuery) ([]models.Message, pagination.Meta, error) {
	if _, err := s.conversations.GetConversation(ctx, conversationID); err != nil {
		return nil, pagination.Meta{}, mapRepoErr(err)
	}
	member, err := s.conversations.IsMember(ctx, conversationID, userID)
	if err != nil {
		return nil, pagination.Meta{}, err
	}
	if !member {
		return nil, pagination.Meta{}, fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}

	if q.SortBy != "" && q.SortBy != "created_at" {
		return nil, pagination.Meta{}, fmt.Errorf("%w: unsupported sort_by %q", ErrValidation, q.SortBy)
	}
	ascending := false
	switch q.SortOrder {
	case "", "desc":
	case "asc":
		ascending = true
	default:
		return nil, pagination.Meta{}, fmt.Errorf("%w: unsupported sort_order %q", ErrValidation, q.SortOrder)
	}

	p := pagination.Normalize(q.Page, q.Limit)
	msgs, total, err := s.messages.ListMessages(ctx, conversationID, p.Limit, p.Offset(), ascending)
	if err != nil {
		return nil, pagination.Meta{}, err
	}
	return msgs, pagination.NewMeta(p, total), nil
}

// MessageContext returns the window of messages around one message.
func (s *Service) MessageContext(ctx context.Context, userID int, messageID int, radius int) ([]models.Message, error) {
	if radius <= 0 {
		radius = defaultContextRadius
	}
	if radius > pagination.MaxLimit {
		radius = pagination.MaxLimit
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return nil, mapRepoErr(err)
	}
	member, err := s.conversations.IsMember(ctx, msg.ConversationID, userID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}

	return s.messages.MessageContext(ctx, msg.ConversationID, messageID, radius)
}

// AddReaction attaches an emoji reaction and returns the resulting event.
func (s *Service) AddReaction(ctx context.Context, userID int, messageID int, emoji string, originConnID string) (ReactionEvent, error) {
	return s.setReaction(ctx, userID, messageID, emoji, true, originConnID)
}

// RemoveReaction detaches an emoji reaction and returns the resulting event.
func (s *Service) RemoveReaction(ctx context.Context, userID int, messageID int, emoji string, originConnID string) (ReactionEvent, error) {
	return s.setReaction(ctx, userID, messageID, emoji, false, originConnID)
}

func (s *Service) setReaction(ctx context.Context, userID int, messageID int, emoji string, add bool, originConnID string) (ReactionEvent, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return ReactionEvent{}, fmt.Errorf("%w: emoji is required", ErrValidation)
	}

	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return ReactionEvent{}, mapRepoErr(err)
	}
	member, err := s.conversations.IsMember(ctx, msg.ConversationID, userID)
	if err != nil {
		return ReactionEvent{}, err
	}
	if !member {
		return ReactionEvent{}, fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}
	if msg.IsDeleted() {
		return ReactionEvent{}, fmt.Errorf("%w: cannot react to a deleted message", ErrInvalidOperation)
	}

	var reactions []models.Reaction
	if add {
		reactions, err = s.messages.AddReaction(ctx, messageID, userID, emoji)
	} else {
		reactions, err = s.messages.RemoveReaction(ctx, messageID, userID, emoji)
	}
	if err != nil {
		return ReactionEvent{}, err
	}

	ev := ReactionEvent{
		MessageID:      messageID,
		ConversationID: msg.ConversationID,
		UserID:         userID,
		Emoji:          emoji,
		Added:          add,
		Reactions:      reactions,
	}
	s.fanout.BroadcastToConversation(msg.ConversationID, originConnID, EventMessageReaction, ev)
	return ev, nil
}

// PinMessage toggles the pinned flag. In groups only the owner or admins may
// pin; either direct participant may. The call is idempotent.
func (s *Service) PinMessage(ctx context.Context, userID int, messageID int, pinned bool, originConnID string) (models.Message, error) {
	msg, err := s.messages.GetMessage(ctx, messageID)
	if err != nil {
		return models.Message{}, mapRepoErr(err)
	}
	view, err := s.conversations.GetView(ctx, msg.ConversationID)
	if err != nil {
		return models.Message{}, mapRepoErr(err)
	}
	member, ok := view.MemberByUser(userID)
	if !ok {
		return models.Message{}, fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}
	if !view.IsDirect() && !member.CanManageMembers() {
		return models.Message{}, fmt.Errorf("%w: only the owner or admins may pin messages", ErrForbidden)
	}
	if msg.IsDeleted() {
		return models.Message{}, fmt.Errorf("%w: cannot pin a deleted message", ErrInvalidOperation)
	}
	if msg.IsPinned == pinned {
		return msg, nil
	}

	updated, err := s.messages.SetPinned(ctx, messageID, pinned)
	if err != nil {
		return models.Message{}, mapRepoErr(err)
	}

	s.fanout.BroadcastToConversation(updated.ConversationID, originConnID, EventMessagePinned, PinEvent{
		Message:  updated,
		PinnedBy: userID,
		Pinned:   pinned,
	})
	action, text := "message.pinned", "Message pinned"
	if !pinned {
		action, text = "message.unpinned", "Message unpinned"
	}
	s.emitAudit(ctx, action, text, userID)
	return updated, nil
}
