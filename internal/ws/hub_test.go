package ws

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(userID int) *Client {
	return newClient(nil, ConnInfo{ConnID: newConnID(), UserID: userID})
}

func drain(t *testing.T, c *Client) Envelope {
	t.Helper()
	select {
	case payload := <-c.send:
		var env Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		return env
	default:
		t.Fatal("expected a queued event")
		return Envelope{}
	}
}

func TestHubRegisterReplacesPreviousConnection(t *testing.T) {
	hub := NewHub()
	old := testClient(7)
	hub.Register(old)
	hub.JoinConversation(42, 7)

	replacement := testClient(7)
	hub.Register(replacement)

	assert.True(t, hub.Connected(7))
	assert.False(t, hub.InConversation(old, 42))

	// the old client was shut down and no longer accepts events
	assert.False(t, old.enqueue([]byte("{}")))
	assert.True(t, replacement.enqueue([]byte("{}")))
}

func TestHubJoinAndEvict(t *testing.T) {
	hub := NewHub()
	c := testClient(1)
	hub.Register(c)

	hub.JoinConversation(9, 1)
	assert.True(t, hub.InConversation(c, 9))

	// joining for a user without a connection is a no-op
	hub.JoinConversation(9, 2)

	hub.EvictFromConversation(9, 1)
	assert.False(t, hub.InConversation(c, 9))
}

func TestHubBroadcastSkipsOriginConnection(t *testing.T) {
	hub := NewHub()
	sender := testClient(1)
	peer := testClient(2)
	hub.Register(sender)
	hub.Register(peer)
	hub.JoinConversation(5, 1, 2)

	sent := hub.BroadcastToConversation(5, sender.ID, "newMessage", map[string]int{"id": 3})
	assert.Equal(t, 1, sent)

	env := drain(t, peer)
	assert.Equal(t, "newMessage", env.Event)
	select {
	case <-sender.send:
		t.Fatal("origin connection must not receive its own broadcast")
	default:
	}
}

func TestHubBroadcastReportsReach(t *testing.T) {
	hub := NewHub()
	a := testClient(1)
	b := testClient(2)
	hub.Register(a)
	hub.Register(b)
	hub.JoinConversation(3, 1, 2)

	assert.Equal(t, 2, hub.BroadcastToConversation(3, "", "messageEdited", nil))
	assert.Equal(t, 0, hub.BroadcastToConversation(99, "", "messageEdited", nil))
}

func TestHubSendToUsers(t *testing.T) {
	hub := NewHub()
	a := testClient(1)
	hub.Register(a)

	sent := hub.SendToUsers([]int{1, 2, 3}, "conversationCreated", nil)
	assert.Equal(t, 1, sent)

	env := drain(t, a)
	assert.Equal(t, "conversationCreated", env.Event)
}

func TestHubDropConversation(t *testing.T) {
	hub := NewHub()
	a := testClient(1)
	b := testClient(2)
	hub.Register(a)
	hub.Register(b)
	hub.JoinConversation(4, 1, 2)

	hub.DropConversation(4)

	assert.False(t, hub.InConversation(a, 4))
	assert.False(t, hub.InConversation(b, 4))
	assert.Equal(t, 0, hub.BroadcastToConversation(4, "", "newMessage", nil))
}

func TestHubUnregisterIsIdempotent(t *testing.T) {
	hub := NewHub()
	c := testClient(6)
	hub.Register(c)
	hub.JoinConversation(1, 6)

	hub.Unregister(c)
	hub.Unregister(c)

	assert.False(t, hub.Connected(6))
	assert.False(t, c.enqueue([]byte("{}")))
}

func TestHubSnapshot(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, Stats{}, hub.Snapshot())

	a := testClient(1)
	b := testClient(2)
	hub.Register(a)
	hub.Register(b)
	hub.JoinConversation(10, 1, 2)
	hub.JoinConversation(11, 2)

	assert.Equal(t, Stats{Connections: 2, Rooms: 2, Subscriptions: 3}, hub.Snapshot())

	hub.Unregister(b)
	assert.Equal(t, Stats{Connections: 1, Rooms: 1, Subscriptions: 1}, hub.Snapshot())
}
