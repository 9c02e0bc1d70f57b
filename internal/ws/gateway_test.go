package ws

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/chat"
	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/notifications"
)

type gatewayMocks struct {
	conversations *mocks.ConversationRepositoryMock
	messages      *mocks.MessageRepositoryMock
	inbox         *mocks.InboxRepositoryMock
	tracker       *mocks.TrackerMock
}

// newTestGateway wires a gateway over a real service and hub with mocked
// repositories. Frames are fed straight into dispatch, bypassing the socket.
func newTestGateway() (*Gateway, *Hub, gatewayMocks) {
	m := gatewayMocks{
		conversations: new(mocks.ConversationRepositoryMock),
		messages:      new(mocks.MessageRepositoryMock),
		inbox:         new(mocks.InboxRepositoryMock),
		tracker:       new(mocks.TrackerMock),
	}
	hub := NewHub()
	service := chat.NewService(m.conversations, m.messages, m.inbox, hub, notifications.NewGateway(nil, nil), nil)
	return NewGateway(hub, service, m.tracker, nil, nil), hub, m
}

func frame(t *testing.T, event string, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	return raw
}

func errData(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	require.Equal(t, chat.EventError, env.Event)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	return data
}

func directFixture(conversationID, a, b int) models.ConversationView {
	return models.ConversationView{
		Conversation: models.Conversation{
			ID:     conversationID,
			Type:   models.ConversationDirect,
			Status: models.ConversationActive,
		},
		Members: []models.Member{
			{ConversationID: conversationID, UserID: a, Role: models.RoleMember},
			{ConversationID: conversationID, UserID: b, Role: models.RoleMember},
		},
	}
}

func TestDispatchRejectsUnknownEvent(t *testing.T) {
	gw, hub, _ := newTestGateway()
	client := testClient(1)
	hub.Register(client)

	gw.dispatch(context.Background(), client, frame(t, "warpDrive", map[string]any{}))

	data := errData(t, drain(t, client))
	assert.Equal(t, "VALIDATION_ERROR", data["code"])
	assert.Equal(t, "warpDrive", data["source"])
}

func TestDispatchRejectsMalformedFrame(t *testing.T) {
	gw, hub, _ := newTestGateway()
	client := testClient(1)
	hub.Register(client)

	gw.dispatch(context.Background(), client, []byte("{not json"))

	data := errData(t, drain(t, client))
	assert.Equal(t, "VALIDATION_ERROR", data["code"])
	_, hasSource := data["source"]
	assert.False(t, hasSource)
}

func TestDispatchTypingRequiresSubscription(t *testing.T) {
	gw, hub, _ := newTestGateway()
	sender := testClient(1)
	peer := testClient(2)
	hub.Register(sender)
	hub.Register(peer)
	hub.JoinConversation(8, 2)

	gw.dispatch(context.Background(), sender, frame(t, "startTyping", map[string]any{"conversation_id": 8}))
	data := errData(t, drain(t, sender))
	assert.Equal(t, "FORBIDDEN", data["code"])

	hub.JoinConversation(8, 1)
	gw.dispatch(context.Background(), sender, frame(t, "startTyping", map[string]any{"conversation_id": 8}))

	env := drain(t, peer)
	assert.Equal(t, chat.EventUserTyping, env.Event)
	typing, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(8), typing["conversation_id"])
	assert.Equal(t, float64(1), typing["user_id"])

	select {
	case <-sender.send:
		t.Fatal("typing must not echo to the origin connection")
	default:
	}
}

func TestDispatchSendMessageBroadcastsAndAcks(t *testing.T) {
	gw, hub, m := newTestGateway()
	sender := testClient(1)
	peer := testClient(2)
	hub.Register(sender)
	hub.Register(peer)
	hub.JoinConversation(20, 1, 2)

	stored := models.Message{ID: 100, ConversationID: 20, SenderID: 1, Content: "hello", Status: models.MessageSent}
	m.conversations.On("GetView", mock.Anything, 20).Return(directFixture(20, 1, 2), nil).Once()
	m.messages.On("CreateMessage", mock.Anything, mock.MatchedBy(func(msg models.Message) bool {
		return msg.ConversationID == 20 && msg.SenderID == 1 && msg.Content == "hello"
	})).Return(stored, []models.InboxTarget{{UserID: 2}}, nil).Once()
	m.messages.On("MarkDelivered", mock.Anything, 100).Return(nil).Once()

	gw.dispatch(context.Background(), sender, frame(t, "sendMessage", map[string]any{
		"conversation_id": 20,
		"content":         "hello",
	}))

	// the room copy goes out before the delivery upgrade
	env := drain(t, peer)
	assert.Equal(t, chat.EventNewMessage, env.Event)
	broadcast, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(100), broadcast["id"])
	assert.Equal(t, models.MessageSent, broadcast["status"])

	ack := drain(t, sender)
	assert.Equal(t, chat.EventMessageSent, ack.Event)
	acked, ok := ack.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(100), acked["id"])
	assert.Equal(t, models.MessageDelivered, acked["status"])

	m.conversations.AssertExpectations(t)
	m.messages.AssertExpectations(t)
}

func TestDispatchMarkReadAcks(t *testing.T) {
	gw, hub, m := newTestGateway()
	client := testClient(1)
	hub.Register(client)

	m.conversations.On("GetConversation", mock.Anything, 20).
		Return(models.Conversation{ID: 20, Type: models.ConversationDirect, Status: models.ConversationActive}, nil).Once()
	m.conversations.On("GetMember", mock.Anything, 20, 1).
		Return(models.Member{ConversationID: 20, UserID: 1, Role: models.RoleMember}, nil).Once()
	m.messages.On("MarkRead", mock.Anything, 20, 1, 0).Return(123, 4, nil).Once()

	gw.dispatch(context.Background(), client, frame(t, "markMessageRead", map[string]any{"conversation_id": 20}))

	env := drain(t, client)
	assert.Equal(t, chat.EventMessageRead, env.Event)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(123), data["last_read_message_id"])
	assert.Equal(t, float64(4), data["read_count"])

	m.conversations.AssertExpectations(t)
	m.messages.AssertExpectations(t)
}

func TestDispatchGetConversationsDefaultsPaging(t *testing.T) {
	gw, hub, m := newTestGateway()
	client := testClient(1)
	hub.Register(client)

	m.inbox.On("ListRecent", mock.Anything, 1, 20, 0).
		Return([]models.InboxView{{ConversationID: 20}}, 1, nil).Once()

	gw.dispatch(context.Background(), client, frame(t, "getConversations", nil))

	env := drain(t, client)
	assert.Equal(t, chat.EventConversations, env.Event)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	convs, ok := data["conversations"].([]any)
	require.True(t, ok)
	assert.Len(t, convs, 1)
	meta, ok := data["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), meta["total"])
	assert.Equal(t, float64(20), meta["limit"])

	m.inbox.AssertExpectations(t)
}

func TestDispatchJoinConversationChecksMembership(t *testing.T) {
	gw, hub, m := newTestGateway()
	client := testClient(1)
	hub.Register(client)

	m.conversations.On("GetView", mock.Anything, 30).Return(directFixture(30, 2, 3), nil).Once()
	gw.dispatch(context.Background(), client, frame(t, "joinConversation", map[string]any{"conversation_id": 30}))

	data := errData(t, drain(t, client))
	assert.Equal(t, "FORBIDDEN", data["code"])
	assert.False(t, hub.InConversation(client, 30))

	m.conversations.On("GetView", mock.Anything, 31).Return(directFixture(31, 1, 2), nil).Once()
	gw.dispatch(context.Background(), client, frame(t, "joinConversation", map[string]any{"conversation_id": 31}))

	assert.True(t, hub.InConversation(client, 31))
	select {
	case <-client.send:
		t.Fatal("join has no reply on success")
	default:
	}
	m.conversations.AssertExpectations(t)
}

func TestDispatchSetStatusNotifiesPeers(t *testing.T) {
	gw, hub, m := newTestGateway()
	client := testClient(1)
	peer := testClient(2)
	hub.Register(client)
	hub.Register(peer)

	m.tracker.On("SetStatus", mock.Anything, 1, models.PresenceIdle).Return(nil).Once()
	m.conversations.On("CoMemberIDs", mock.Anything, 1).Return([]int{2, 5}, nil).Once()

	gw.dispatch(context.Background(), client, frame(t, "setStatus", map[string]any{"status": "idle"}))

	env := drain(t, peer)
	assert.Equal(t, chat.EventUserStatus, env.Event)
	data, ok := env.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), data["user_id"])
	assert.Equal(t, models.PresenceIdle, data["status"])

	m.tracker.AssertExpectations(t)
	m.conversations.AssertExpectations(t)
}

func TestDispatchSetStatusRejectsUnknownValue(t *testing.T) {
	gw, hub, m := newTestGateway()
	client := testClient(1)
	hub.Register(client)

	gw.dispatch(context.Background(), client, frame(t, "setStatus", map[string]any{"status": "sleeping"}))

	data := errData(t, drain(t, client))
	assert.Equal(t, "VALIDATION_ERROR", data["code"])
	m.tracker.AssertNotCalled(t, "SetStatus", mock.Anything, mock.Anything, mock.Anything)
}
