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
	"messaging-service/internal/telemetry"
)

// Fanout delivers realtime events to connected conversation members. The
// exclude parameter names the originating connection so callers never echo an
// event back to the socket that triggered it. Broadcast methods return the
// number of connections reached.
type Fanout interface {
	BroadcastToConversation(conversationID int, excludeConnID string, event string, data interface{}) int
	SendToUsers(userIDs []int, event string, data interface{}) int
	JoinConversation(conversationID int, userIDs ...int)
	EvictFromConversation(conversationID int, userIDs ...int)
	DropConversation(conversationID int)
}

// Notifier hands successfully stored messages to the offline notification pipeline.
type Notifier interface {
	Notify(ctx context.Context, conv models.Conversation, msg models.Message, targets []models.InboxTarget)
}

// Service implements every conversation and messaging operation. The REST
// handlers and the websocket gateway both call into one instance so the two
// write paths cannot drift apart.
type Service struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	inbox         repositories.InboxRepository
	fanout        Fanout
	notifier      Notifier
	audit         *telemetry.AuditEmitter
}

// NewService wires the service with its stores and side-effect sinks.
func NewService(conversations repositories.ConversationRepository, messages repositories.MessageRepository, inbox repositories.InboxRepository, fanout Fanout, notifier Notifier, audit *telemetry.AuditEmitter) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		inbox:         inbox,
		fanout:        fanout,
		notifier:      notifier,
		audit:         audit,
	}
}

// CreateConversationInput is the payload for CreateConversation.
type CreateConversationInput struct {
	Type         string `json:"type"`
	Participants []int  `json:"participants"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	GroupImage   string `json:"group_image"`
}

// InboxPrefsInput is a partial update of per-user conversation settings.
type InboxPrefsInput struct {
	Pinned     *bool      `json:"is_pinned"`
	Muted      *bool      `json:"is_muted"`
	MutedUntil *time.Time `json:"muted_until"`
}

// CreateConversation creates a direct or group conversation. For direct
// conversations the call is idempotent; the bool reports whether a new
// conversation was actually created.
func (s *Service) CreateConversation(ctx context.Context, userID int, in CreateConversationInput) (models.ConversationView, bool, error) {
	switch in.Type {
	case models.ConversationDirect:
		return s.createDirect(ctx, userID, in)
	case models.ConversationGroup:
		view, err := s.createGroup(ctx, userID, in)
		if err != nil {
			return models.ConversationView{}, false, err
		}
		return view, true, nil
	default:
		return models.ConversationView{}, false, fmt.Errorf("%w: unknown conversation type %q", ErrValidation, in.Type)
	}
}

func (s *Service) createDirect(ctx context.Context, userID int, in CreateConversationInput) (models.ConversationView, bool, error) {
	if len(in.Participants) != 1 {
		return models.ConversationView{}, false, fmt.Errorf("%w: direct conversation requires exactly one participant", ErrValidation)
	}
	other := in.Participants[0]
	if other <= 0 {
		return models.ConversationView{}, false, fmt.Errorf("%w: invalid participant id", ErrValidation)
	}
	if other == userID {
		return models.ConversationView{}, false, fmt.Errorf("%w: cannot start a conversation with yourself", ErrValidation)
	}

	view, created, err := s.conversations.CreateDirect(ctx, userID, other)
	if err != nil {
		return models.ConversationView{}, false, err
	}
	if created {
		s.fanout.JoinConversation(view.ID, userID, other)
		s.fanout.SendToUsers(view.MemberIDs(), EventConversationCreated, view)
		s.emitAudit(ctx, "conversation.created", "Direct conversation created", userID)
	}
	return view, created, nil
}

func (s *Service) createGroup(ctx context.Context, userID int, in CreateConversationInput) (models.ConversationView, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.ConversationView{}, fmt.Errorf("%w: group name is required", ErrValidation)
	}
	others := 0
	for _, id := range in.Participants {
		if id <= 0 {
			return models.ConversationView{}, fmt.Errorf("%w: invalid participant id", ErrValidation)
		}
		if id != userID {
			others++
		}
	}
	if others == 0 {
		return models.ConversationView{}, fmt.Errorf("%w: group conversation requires at least one other participant", ErrValidation)
	}

	view, err := s.conversations.CreateGroup(ctx, userID, name, in.Description, in.GroupImage, in.Participants)
	if err != nil {
		return models.ConversationView{}, err
	}
	s.fanout.JoinConversation(view.ID, view.MemberIDs()...)
	s.fanout.SendToUsers(view.MemberIDs(), EventConversationCreated, view)
	s.emitAudit(ctx, "conversation.created", "Group conversation created", userID)
	return view, nil
}

// GetConversation returns a conversation the user participates in.
func (s *Service) GetConversation(ctx context.Context, userID int, conversationID int) (models.ConversationView, error) {
	view, err := s.conversations.GetView(ctx, conversationID)
	if err != nil {
		return models.ConversationView{}, mapRepoErr(err)
	}
	if _, ok := view.MemberByUser(userID); !ok {
		return models.ConversationView{}, fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}
	return view, nil
}

// ListConversations returns every conversation the user participates in.
func (s *Service) ListConversations(ctx context.Context, userID int) ([]models.ConversationView, error) {
	return s.conversations.ListForUser(ctx, userID)
}

// AddMembers adds users to a group conversation. Users already present are
// skipped; if the whole set is already present the call fails without touching
// any state.
func (s *Service) AddMembers(ctx context.Context, userID int, conversationID int, memberIDs []int, originConnID string) (models.ConversationView, []models.Member, error) {
	if len(memberIDs) == 0 {
		return models.ConversationView{}, nil, fmt.Errorf("%w: no members given", ErrValidation)
	}
	for _, id := range memberIDs {
		if id <= 0 {
			return models.ConversationView{}, nil, fmt.Errorf("%w: invalid member id", ErrValidation)
		}
	}

	view, err := s.conversations.GetView(ctx, conversationID)
	if err != nil {
		return models.ConversationView{}, nil, mapRepoErr(err)
	}
	if view.IsDirect() {
		return models.ConversationView{}, nil, fmt.Errorf("%w: cannot add members to a direct conversation", ErrInvalidOperation)
	}
	actor, ok := view.MemberByUser(userID)
	if !ok {
		return models.ConversationView{}, nil, fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}
	if !actor.CanManageMembers() {
		return models.ConversationView{}, nil, fmt.Errorf("%w: only the owner or admins may add members", ErrForbidden)
	}

	toAdd := make([]int, 0, len(memberIDs))
	for _, id := range dedupeInts(memberIDs) {
		if _, exists := view.MemberByUser(id); !exists {
			toAdd = append(toAdd, id)
		}
	}
	if len(toAdd) == 0 {
		return models.ConversationView{}, nil, fmt.Errorf("%w: all users are already members", ErrInvalidOperation)
	}

	added, err := s.conversations.AddMembers(ctx, conversationID, toAdd)
	if err != nil {
		return models.ConversationView{}, nil, err
	}
	view.Members = append(view.Members, added...)

	addedIDs := make([]int, 0, len(added))
	for _, m := range added {
		addedIDs = append(addedIDs, m.UserID)
	}
	s.fanout.JoinConversation(conversationID, addedIDs...)
	s.fanout.BroadcastToConversation(conversationID, originConnID, EventGroupMembersAdded, MembersAddedEvent{
		ConversationID: conversationID,
		AddedBy:        userID,
		NewMembers:     added,
	})
	s.emitAudit(ctx, "conversation.members_added", "Group members added", userID)
	return view, added, nil
}

// RemoveMember removes a participant from a group conversation.
func (s *Service) RemoveMember(ctx context.Context, userID int, conversationID int, targetID int) error {
	view, err := s.conversations.GetView(ctx, conversationID)
	if err != nil {
		return mapRepoErr(err)
	}
	if view.IsDirect() {
		return fmt.Errorf("%w: cannot remove members from a direct conversation", ErrInvalidOperation)
	}
	actor, ok := view.MemberByUser(userID)
	if !ok {
		return fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}
	if targetID == userID {
		return fmt.Errorf("%w: use leave to exit a conversation", ErrInvalidOperation)
	}
	target, ok := view.MemberByUser(targetID)
	if !ok {
		return fmt.Errorf("%w: member not found", ErrNotFound)
	}
	if !actor.CanManageMembers() {
		return fmt.Errorf("%w: only the owner or admins may remove members", ErrForbidden)
	}
	if target.Role == models.RoleOwner {
		return fmt.Errorf("%w: the owner cannot be removed", ErrForbidden)
	}
	if target.Role == models.RoleAdmin && actor.Role != models.RoleOwner {
		return fmt.Errorf("%w: only the owner may remove an admin", ErrForbidden)
	}

	if err := s.conversations.RemoveMember(ctx, conversationID, targetID); err != nil {
		return mapRepoErr(err)
	}

	ev := MemberRemovedEvent{ConversationID: conversationID, MemberID: targetID, RemovedBy: userID}
	s.fanout.EvictFromConversation(conversationID, targetID)
	s.fanout.SendToUsers([]int{targetID}, EventMemberRemoved, ev)
	s.fanout.BroadcastToConversation(conversationID, "", EventMemberRemoved, ev)
	s.emitAudit(ctx, "conversation.member_removed", "Group member removed", userID)
	return nil
}

// LeaveConversation removes the caller from a group conversation. The owner
// cannot leave; they must delete the conversation instead.
func (s *Service) LeaveConversation(ctx context.Context, userID int, conversationID int) error {
	view, err := s.conversations.GetView(ctx, conversationID)
	if err != nil {
		return mapRepoErr(err)
	}
	member, ok := view.MemberByUser(userID)
	if !ok {
		return fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}
	if view.IsDirect() {
		return fmt.Errorf("%w: cannot leave a direct conversation", ErrInvalidOperation)
	}
	if member.Role == models.RoleOwner {
		return fmt.Errorf("%w: the owner cannot leave, delete the conversation instead", ErrInvalidOperation)
	}

	if err := s.conversations.RemoveMember(ctx, conversationID, userID); err != nil {
		return mapRepoErr(err)
	}

	s.fanout.EvictFromConversation(conversationID, userID)
	s.fanout.BroadcastToConversation(conversationID, "", EventMemberLeft, MemberLeftEvent{
		ConversationID: conversationID,
		UserID:         userID,
	})
	s.emitAudit(ctx, "conversation.member_left", "Member left conversation", userID)
	return nil
}

// DeleteConversation removes a conversation and all its data. Either direct
// participant may delete; groups require the owner.
func (s *Service) DeleteConversation(ctx context.Context, userID int, conversationID int) error {
	view, err := s.conversations.GetView(ctx, conversationID)
	if err != nil {
		return mapRepoErr(err)
	}
	member, ok := view.MemberByUser(userID)
	if !ok {
		return fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}
	if !view.IsDirect() && member.Role != models.RoleOwner {
		return fmt.Errorf("%w: only the owner may delete a group conversation", ErrForbidden)
	}

	memberIDs, purged, err := s.conversations.Delete(ctx, conversationID)
	if err != nil {
		return mapRepoErr(err)
	}
	log.Printf("conversation deleted: id=%d by=%d messages_purged=%d", conversationID, userID, purged)

	s.fanout.SendToUsers(memberIDs, EventConversationDeleted, ConversationDeletedEvent{
		ConversationID: conversationID,
		DeletedBy:      userID,
	})
	s.fanout.DropConversation(conversationID)
	s.emitAudit(ctx, "conversation.deleted", "Conversation deleted", userID)
	return nil
}

// ClearHistory purges every message while keeping the conversation alive.
func (s *Service) ClearHistory(ctx context.Context, userID int, conversationID int) (int, error) {
	view, err := s.conversations.GetView(ctx, conversationID)
	if err != nil {
		return 0, mapRepoErr(err)
	}
	member, ok := view.MemberByUser(userID)
	if !ok {
		return 0, fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}
	if !view.IsDirect() && !member.CanManageMembers() {
		return 0, fmt.Errorf("%w: only the owner or admins may clear history", ErrForbidden)
	}

	removed, err := s.conversations.ClearHistory(ctx, conversationID)
	if err != nil {
		return 0, mapRepoErr(err)
	}

	s.fanout.BroadcastToConversation(conversationID, "", EventHistoryCleared, HistoryClearedEvent{
		ConversationID:  conversationID,
		ClearedBy:       userID,
		MessagesDeleted: removed,
	})
	s.emitAudit(ctx, "conversation.cleared", "Conversation history cleared", userID)
	return removed, nil
}

// Archive moves a group conversation out of the active set. Archived
// conversations reject new messages until unarchived.
func (s *Service) Archive(ctx context.Context, userID int, conversationID int) error {
	return s.setArchived(ctx, userID, conversationID, true)
}

// Unarchive restores an archived group conversation.
func (s *Service) Unarchive(ctx context.Context, userID int, conversationID int) error {
	return s.setArchived(ctx, userID, conversationID, false)
}

func (s *Service) setArchived(ctx context.Context, userID int, conversationID int, archived bool) error {
	view, err := s.conversations.GetView(ctx, conversationID)
	if err != nil {
		return mapRepoErr(err)
	}
	member, ok := view.MemberByUser(userID)
	if !ok {
		return fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	}
	if view.IsDirect() {
		return fmt.Errorf("%w: direct conversations cannot be archived", ErrInvalidOperation)
	}
	if member.Role != models.RoleOwner {
		return fmt.Errorf("%w: only the owner may archive a conversation", ErrForbidden)
	}

	status := models.ConversationActive
	action, text := "conversation.unarchived", "Conversation unarchived"
	if archived {
		status = models.ConversationArchived
		action, text = "conversation.archived", "Conversation archived"
	}
	if view.Status == status {
		if archived {
			return fmt.Errorf("%w: conversation is already archived", ErrInvalidOperation)
		}
		return fmt.Errorf("%w: conversation is not archived", ErrInvalidOperation)
	}

	if err := s.conversations.SetStatus(ctx, conversationID, status); err != nil {
		return mapRepoErr(err)
	}
	s.emitAudit(ctx, action, text, userID)
	return nil
}

// ListRecent returns one page of the user's conversation list, pinned first.
func (s *Service) ListRecent(ctx context.Context, userID int, p pagination.Params) ([]models.InboxView, pagination.Meta, error) {
	views, total, err := s.inbox.ListRecent(ctx, userID, p.Limit, p.Offset())
	if err != nil {
		return nil, pagination.Meta{}, err
	}
	return views, pagination.NewMeta(p, total), nil
}

// UpdateInboxPrefs applies pin and mute settings on the caller's inbox entry.
func (s *Service) UpdateInboxPrefs(ctx context.Context, userID int, conversationID int, in InboxPrefsInput) (models.InboxEntry, error) {
	if in.Pinned == nil && in.Muted == nil {
		return models.InboxEntry{}, fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	if in.MutedUntil != nil {
		if in.Muted == nil || !*in.Muted {
			return models.InboxEntry{}, fmt.Errorf("%w: muted_until requires is_muted", ErrValidation)
		}
		if in.MutedUntil.Before(time.Now()) {
			return models.InboxEntry{}, fmt.Errorf("%w: muted_until is in the past", ErrValidation)
		}
	}

	entry, err := s.inbox.UpdatePrefs(ctx, userID, conversationID, in.Pinned, in.Muted, in.MutedUntil)
	if err != nil {
		return models.InboxEntry{}, mapRepoErr(err)
	}
	return entry, nil
}

// ConversationIDs returns ids of every conversation the user belongs to, used
// to join socket rooms at connect time.
func (s *Service) ConversationIDs(ctx context.Context, userID int) ([]int, error) {
	return s.conversations.ConversationIDsForUser(ctx, userID)
}

// PresencePeers returns the users sharing at least one conversation with
// userID; presence changes are broadcast to exactly this set.
func (s *Service) PresencePeers(ctx context.Context, userID int) ([]int, error) {
	return s.conversations.CoMemberIDs(ctx, userID)
}

func (s *Service) emitAudit(ctx context.Context, action, text string, userID int) {
	if s.audit == nil {
		return
	}
	var uid *int64
	if userID != 0 {
		v := int64(userID)
		uid = &v
	}
	s.audit.Emit(ctx, "INFO", action, text, telemetry.RequestIDFrom(ctx), uid)
}

func mapRepoErr(err error) error {
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound):
		return fmt.Errorf("%w: conversation not found", ErrNotFound)
	case errors.Is(err, repositories.ErrMessageNotFound):
		return fmt.Errorf("%w: message not found", ErrNotFound)
	case errors.Is(err, repositories.ErrInboxEntryNotFound):
		return fmt.Errorf("%w: conversation not found", ErrNotFound)
	case errors.Is(err, repositories.ErrNotMember):
		return fmt.Errorf("%w: not a conversation participant", ErrForbidden)
	default:
		return err
	}
}

func dedupeInts(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
