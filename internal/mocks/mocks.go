package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/auth"
	"messaging-service/internal/chat"
	"messaging-service/internal/models"
	"messaging-service/internal/presence"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateDirect(ctx context.Context, userID int, otherID int) (models.ConversationView, bool, error) {
	args := m.Called(ctx, userID, otherID)
	var view models.ConversationView
	if val := args.Get(0); val != nil {
		view = val.(models.ConversationView)
	}
	return view, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) CreateGroup(ctx context.Context, ownerID int, name string, description string, groupImage string, memberIDs []int) (models.ConversationView, error) {
	args := m.Called(ctx, ownerID, name, description, groupImage, memberIDs)
	var view models.ConversationView
	if val := args.Get(0); val != nil {
		view = val.(models.ConversationView)
	}
	return view, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID int) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetView(ctx context.Context, conversationID int) (models.ConversationView, error) {
	args := m.Called(ctx, conversationID)
	var view models.ConversationView
	if val := args.Get(0); val != nil {
		view = val.(models.ConversationView)
	}
	return view, args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID int) ([]models.ConversationView, error) {
	args := m.Called(ctx, userID)
	var views []models.ConversationView
	if val := args.Get(0); val != nil {
		views = val.([]models.ConversationView)
	}
	return views, args.Error(1)
}

func (m *ConversationRepositoryMock) GetMember(ctx context.Context, conversationID int, userID int) (models.Member, error) {
	args := m.Called(ctx, conversationID, userID)
	var member models.Member
	if val := args.Get(0); val != nil {
		member = val.(models.Member)
	}
	return member, args.Error(1)
}

func (m *ConversationRepositoryMock) IsMember(ctx context.Context, conversationID int, userID int) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) MemberIDs(ctx context.Context, conversationID int) ([]int, error) {
	args := m.Called(ctx, conversationID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) ConversationIDsForUser(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) CoMemberIDs(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *ConversationRepositoryMock) AddMembers(ctx context.Context, conversationID int, userIDs []int) ([]models.Member, error) {
	args := m.Called(ctx, conversationID, userIDs)
	var members []models.Member
	if val := args.Get(0); val != nil {
		members = val.([]models.Member)
	}
	return members, args.Error(1)
}

func (m *ConversationRepositoryMock) RemoveMember(ctx context.Context, conversationID int, userID int) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) SetStatus(ctx context.Context, conversationID int, status string) error {
	args := m.Called(ctx, conversationID, status)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) Delete(ctx context.Context, conversationID int) ([]int, int, error) {
	args := m.Called(ctx, conversationID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Int(1), args.Error(2)
}

func (m *ConversationRepositoryMock) ClearHistory(ctx context.Context, conversationID int) (int, error) {
	args := m.Called(ctx, conversationID)
	return args.Int(0), args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, []models.InboxTarget, error) {
	args := m.Called(ctx, msg)
	var stored models.Message
	if val := args.Get(0); val != nil {
		stored = val.(models.Message)
	}
	var targets []models.InboxTarget
	if val := args.Get(1); val != nil {
		targets = val.([]models.InboxTarget)
	}
	return stored, targets, args.Error(2)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID int, limit int, offset int, ascending bool) ([]models.Message, int, error) {
	args := m.Called(ctx, conversationID, limit, offset, ascending)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Int(1), args.Error(2)
}

func (m *MessageRepositoryMock) MessageContext(ctx context.Context, conversationID int, messageID int, radius int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, messageID, radius)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateContent(ctx context.Context, messageID int, content string) (models.Message, error) {
	args := m.Called(ctx, messageID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Retract(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) MarkDelivered(ctx context.Context, messageID int) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, conversationID int, userID int, upTo int) (int, int, error) {
	args := m.Called(ctx, conversationID, userID, upTo)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MessageRepositoryMock) AddReaction(ctx context.Context, messageID int, userID int, emoji string) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	var reactions []models.Reaction
	if val := args.Get(0); val != nil {
		reactions = val.([]models.Reaction)
	}
	return reactions, args.Error(1)
}

func (m *MessageRepositoryMock) RemoveReaction(ctx context.Context, messageID int, userID int, emoji string) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	var reactions []models.Reaction
	if val := args.Get(0); val != nil {
		reactions = val.([]models.Reaction)
	}
	return reactions, args.Error(1)
}

func (m *MessageRepositoryMock) SetPinned(ctx context.Context, messageID int, pinned bool) (models.Message, error) {
	args := m.Called(ctx, messageID, pinned)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

type InboxRepositoryMock struct {
	mock.Mock
}

func (m *InboxRepositoryMock) ListRecent(ctx context.Context, userID int, limit int, offset int) ([]models.InboxView, int, error) {
	args := m.Called(ctx, userID, limit, offset)
	var views []models.InboxView
	if val := args.Get(0); val != nil {
		views = val.([]models.InboxView)
	}
	return views, args.Int(1), args.Error(2)
}

func (m *InboxRepositoryMock) GetEntry(ctx context.Context, userID int, conversationID int) (models.InboxEntry, error) {
	args := m.Called(ctx, userID, conversationID)
	var entry models.InboxEntry
	if val := args.Get(0); val != nil {
		entry = val.(models.InboxEntry)
	}
	return entry, args.Error(1)
}

func (m *InboxRepositoryMock) UpdatePrefs(ctx context.Context, userID int, conversationID int, pinned *bool, muted *bool, mutedUntil *time.Time) (models.InboxEntry, error) {
	args := m.Called(ctx, userID, conversationID, pinned, muted, mutedUntil)
	var entry models.InboxEntry
	if val := args.Get(0); val != nil {
		entry = val.(models.InboxEntry)
	}
	return entry, args.Error(1)
}

type FanoutMock struct {
	mock.Mock
}

func (m *FanoutMock) BroadcastToConversation(conversationID int, excludeConnID string, event string, data interface{}) int {
	args := m.Called(conversationID, excludeConnID, event, data)
	return args.Int(0)
}

func (m *FanoutMock) SendToUsers(userIDs []int, event string, data interface{}) int {
	args := m.Called(userIDs, event, data)
	return args.Int(0)
}

func (m *FanoutMock) JoinConversation(conversationID int, userIDs ...int) {
	m.Called(conversationID, userIDs)
}

func (m *FanoutMock) EvictFromConversation(conversationID int, userIDs ...int) {
	m.Called(conversationID, userIDs)
}

func (m *FanoutMock) DropConversation(conversationID int) {
	m.Called(conversationID)
}

type NotifierMock struct {
	mock.Mock
}

func (m *NotifierMock) Notify(ctx context.Context, conv models.Conversation, msg models.Message, targets []models.InboxTarget) {
	m.Called(ctx, conv, msg, targets)
}

type TrackerMock struct {
	mock.Mock
}

func (m *TrackerMock) Connect(ctx context.Context, userID int, socketID string) error {
	args := m.Called(ctx, userID, socketID)
	return args.Error(0)
}

func (m *TrackerMock) Disconnect(ctx context.Context, userID int, socketID string) error {
	args := m.Called(ctx, userID, socketID)
	return args.Error(0)
}

func (m *TrackerMock) SetStatus(ctx context.Context, userID int, status string) error {
	args := m.Called(ctx, userID, status)
	return args.Error(0)
}

func (m *TrackerMock) Get(ctx context.Context, userID int) (models.Presence, error) {
	args := m.Called(ctx, userID)
	var p models.Presence
	if val := args.Get(0); val != nil {
		p = val.(models.Presence)
	}
	return p, args.Error(1)
}

func (m *TrackerMock) GetMany(ctx context.Context, userIDs []int) (map[int]models.Presence, error) {
	args := m.Called(ctx, userIDs)
	var res map[int]models.Presence
	if val := args.Get(0); val != nil {
		res = val.(map[int]models.Presence)
	}
	return res, args.Error(1)
}

type VerifierMock struct {
	mock.Mock
}

func (m *VerifierMock) ValidateToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.InboxRepository = (*InboxRepositoryMock)(nil)
var _ chat.Fanout = (*FanoutMock)(nil)
var _ chat.Notifier = (*NotifierMock)(nil)
var _ presence.Tracker = (*TrackerMock)(nil)
var _ auth.Verifier = (*VerifierMock)(nil)
var _ telemetry.Publisher = (*PublisherMock)(nil)
