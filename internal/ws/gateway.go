package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"messaging-service/internal/auth"
	"messaging-service/internal/chat"
	"messaging-service/internal/models"
	"messaging-service/internal/observability"
	"messaging-service/internal/pagination"
	"messaging-service/internal/presence"
	"messaging-service/internal/telemetry"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Gateway owns the websocket endpoint. It authenticates the handshake,
// registers the connection with the hub and dispatches client events to the
// chat service until the socket closes.
type Gateway struct {
	hub     *Hub
	service *chat.Service
	tracker presence.Tracker
	auth    auth.Verifier
	audit   *telemetry.AuditEmitter
}

// NewGateway constructs a Gateway.
func NewGateway(hub *Hub, service *chat.Service, tracker presence.Tracker, verifier auth.Verifier, audit *telemetry.AuditEmitter) *Gateway {
	return &Gateway{hub: hub, service: service, tracker: tracker, auth: verifier, audit: audit}
}

type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Source  string `json:"source,omitempty"`
}

// Handle upgrades the connection, replays the user's conversation rooms and
// runs the read loop until the client disconnects.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("messaging-service/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))
	c.Request = c.Request.WithContext(ctx)

	userID, err := g.auth.ValidateToken(ctx, bearerToken(c))
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "invalid token", "code": "UNAUTHORIZED"})
		return
	}
	span.SetAttributes(attribute.Int("user.id", userID))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		return
	}

	meta := observability.MetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   telemetry.RequestIDFrom(ctx),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := newClient(conn, info)
	go client.writePump()

	g.hub.Register(client)
	observability.IncWSActive()
	log.Printf("websocket connected: conn=%s user=%d ip=%s", client.ID, userID, info.IP)

	// Socket work carries the conn id for audit correlation and is detached
	// from the handshake request so in-flight calls survive the socket closing.
	loopCtx := telemetry.WithRequestID(context.Background(), client.ID)

	if err := g.tracker.Connect(loopCtx, userID, client.ID); err != nil {
		log.Printf("presence connect failed: user=%d err=%v", userID, err)
	}
	ids, err := g.service.ConversationIDs(loopCtx, userID)
	if err != nil {
		log.Printf("conversation replay failed: user=%d err=%v", userID, err)
	}
	for _, id := range ids {
		g.hub.JoinConversation(id, userID)
	}
	g.broadcastStatus(loopCtx, userID, models.PresenceOnline)
	g.audit.Emit(loopCtx, "INFO", "ws.connected", "Websocket connected", client.ID, userIDRef(userID))
	span.End()

	g.readLoop(loopCtx, client)
}

func userIDRef(userID int) *int64 {
	v := int64(userID)
	return &v
}

func (g *Gateway) readLoop(ctx context.Context, client *Client) {
	defer func() {
		g.hub.Unregister(client)
		observability.DecWSActive()
		g.disconnect(ctx, client)
		g.audit.Emit(ctx, "INFO", "ws.disconnected", "Websocket disconnected", client.ID, userIDRef(client.UserID))
		log.Printf("websocket disconnected: conn=%s user=%d after=%s",
			client.ID, client.UserID, time.Since(client.Info.ConnectedAt).Round(time.Millisecond))
	}()

	client.conn.SetReadLimit(maxFrameBytes)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("websocket read error: conn=%s err=%v", client.ID, err)
			}
			return
		}
		g.dispatch(ctx, client, raw)
	}
}

func (g *Gateway) disconnect(ctx context.Context, client *Client) {
	if err := g.tracker.Disconnect(ctx, client.UserID, client.ID); err != nil {
		log.Printf("presence disconnect failed: user=%d err=%v", client.UserID, err)
	}
	// Replaced by a newer socket: the user is still online, announce nothing.
	if g.hub.Connected(client.UserID) {
		return
	}
	g.broadcastStatus(ctx, client.UserID, models.PresenceOffline)
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		g.sendError(client, "", fmt.Errorf("%w: malformed event frame", chat.ErrValidation))
		return
	}
	observability.IncWSEvent("in", frame.Event)

	var err error
	switch frame.Event {
	case "sendMessage":
		err = g.onSendMessage(ctx, client, frame.Data)
	case "editMessage":
		err = g.onEditMessage(ctx, client, frame.Data)
	case "deleteMessage":
		err = g.onDeleteMessage(ctx, client, frame.Data)
	case "markMessageRead":
		err = g.onMarkRead(ctx, client, frame.Data)
	case "startTyping":
		err = g.onTyping(client, frame.Data, true)
	case "stopTyping":
		err = g.onTyping(client, frame.Data, false)
	case "joinConversation":
		err = g.onJoinConversation(ctx, client, frame.Data)
	case "leaveConversation":
		err = g.onLeaveConversation(client, frame.Data)
	case "createConversation":
		err = g.onCreateConversation(ctx, client, frame.Data)
	case "addGroupMembers":
		err = g.onAddMembers(ctx, client, frame.Data)
	case "getConversations":
		err = g.onGetConversations(ctx, client, frame.Data)
	case "getConversationMessages":
		err = g.onGetMessages(ctx, client, frame.Data)
	case "getMessageContext":
		err = g.onGetContext(ctx, client, frame.Data)
	case "addReaction":
		err = g.onReaction(ctx, client, frame.Data, true)
	case "removeReaction":
		err = g.onReaction(ctx, client, frame.Data, false)
	case "pinMessage":
		err = g.onPin(ctx, client, frame.Data, true)
	case "unpinMessage":
		err = g.onPin(ctx, client, frame.Data, false)
	case "setStatus":
		err = g.onSetStatus(ctx, client, frame.Data)
	default:
		err = fmt.Errorf("%w: unknown event %q", chat.ErrValidation, frame.Event)
	}
	if err != nil {
		if chat.Code(err) == "INTERNAL_ERROR" {
			log.Printf("websocket event failed: event=%s user=%d err=%v", frame.Event, client.UserID, err)
		}
		g.sendError(client, frame.Event, err)
	}
}

type conversationRef struct {
	ConversationID int `json:"conversation_id"`
}

type editPayload struct {
	MessageID int    `json:"message_id"`
	Content   string `json:"content"`
}

type messageRef struct {
	MessageID int `json:"message_id"`
}

type readPayload struct {
	ConversationID int `json:"conversation_id"`
	MessageID      int `json:"message_id"`
}

type addMembersPayload struct {
	ConversationID int   `json:"conversation_id"`
	MemberIDs      []int `json:"member_ids"`
}

type reactionPayload struct {
	MessageID int    `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type listPayload struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type messagesQueryPayload struct {
	ConversationID int    `json:"conversation_id"`
	Page           int    `json:"page"`
	Limit          int    `json:"limit"`
	SortBy         string `json:"sort_by"`
	SortOrder      string `json:"sort_order"`
}

type contextPayload struct {
	MessageID int `json:"message_id"`
	Radius    int `json:"radius"`
}

type statusPayload struct {
	Status string `json:"status"`
}

type conversationsReply struct {
	Conversations []models.InboxView `json:"conversations"`
	Meta          pagination.Meta    `json:"meta"`
}

type messagesReply struct {
	ConversationID int              `json:"conversation_id"`
	Messages       []models.Message `json:"messages"`
	Meta           pagination.Meta  `json:"meta"`
}

type contextReply struct {
	MessageID int              `json:"message_id"`
	Messages  []models.Message `json:"messages"`
}

func (g *Gateway) onSendMessage(ctx context.Context, client *Client, data json.RawMessage) error {
	var in chat.SendMessageInput
	if err := decode(data, &in); err != nil {
		return err
	}
	msg, err := g.service.SendMessage(ctx, client.UserID, in, client.ID)
	if err != nil {
		return err
	}
	g.hub.SendToConn(client, chat.EventMessageSent, msg)
	return nil
}

func (g *Gateway) onEditMessage(ctx context.Context, client *Client, data json.RawMessage) error {
	var in editPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	msg, err := g.service.EditMessage(ctx, client.UserID, in.MessageID, in.Content, client.ID)
	if err != nil {
		return err
	}
	g.hub.SendToConn(client, chat.EventMessageEdited, msg)
	return nil
}

func (g *Gateway) onDeleteMessage(ctx context.Context, client *Client, data json.RawMessage) error {
	var in messageRef
	if err := decode(data, &in); err != nil {
		return err
	}
	msg, err := g.service.DeleteMessage(ctx, client.UserID, in.MessageID, client.ID)
	if err != nil {
		return err
	}
	g.hub.SendToConn(client, chat.EventMessageDeleted, chat.MessageDeletedEvent{
		MessageID:      msg.ID,
		ConversationID: msg.ConversationID,
		DeletedBy:      client.UserID,
	})
	return nil
}

func (g *Gateway) onMarkRead(ctx context.Context, client *Client, data json.RawMessage) error {
	var in readPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	res, err := g.service.MarkRead(ctx, client.UserID, in.ConversationID, in.MessageID, client.ID)
	if err != nil {
		return err
	}
	g.hub.SendToConn(client, chat.EventMessageRead, res)
	return nil
}

func (g *Gateway) onTyping(client *Client, data json.RawMessage, start bool) error {
	var ref conversationRef
	if err := decode(data, &ref); err != nil {
		return err
	}
	if !g.hub.InConversation(client, ref.ConversationID) {
		return fmt.Errorf("%w: not subscribed to the conversation", chat.ErrForbidden)
	}
	event := chat.EventUserTyping
	if !start {
		event = chat.EventUserStoppedTyping
	}
	g.hub.BroadcastToConversation(ref.ConversationID, client.ID, event, chat.TypingEvent{
		ConversationID: ref.ConversationID,
		UserID:         client.UserID,
	})
	return nil
}

func (g *Gateway) onJoinConversation(ctx context.Context, client *Client, data json.RawMessage) error {
	var ref conversationRef
	if err := decode(data, &ref); err != nil {
		return err
	}
	if _, err := g.service.GetConversation(ctx, client.UserID, ref.ConversationID); err != nil {
		return err
	}
	g.hub.JoinConversation(ref.ConversationID, client.UserID)
	return nil
}

func (g *Gateway) onLeaveConversation(client *Client, data json.RawMessage) error {
	var ref conversationRef
	if err := decode(data, &ref); err != nil {
		return err
	}
	g.hub.EvictFromConversation(ref.ConversationID, client.UserID)
	return nil
}

func (g *Gateway) onCreateConversation(ctx context.Context, client *Client, data json.RawMessage) error {
	var in chat.CreateConversationInput
	if err := decode(data, &in); err != nil {
		return err
	}
	view, created, err := g.service.CreateConversation(ctx, client.UserID, in)
	if err != nil {
		return err
	}
	// A fresh conversation is already announced to every member, the
	// creator included. Only the existing-direct case needs a reply.
	if !created {
		g.hub.SendToConn(client, chat.EventConversationCreated, view)
	}
	return nil
}

func (g *Gateway) onAddMembers(ctx context.Context, client *Client, data json.RawMessage) error {
	var in addMembersPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	_, added, err := g.service.AddMembers(ctx, client.UserID, in.ConversationID, in.MemberIDs, client.ID)
	if err != nil {
		return err
	}
	g.hub.SendToConn(client, chat.EventGroupMembersAdded, chat.MembersAddedEvent{
		ConversationID: in.ConversationID,
		AddedBy:        client.UserID,
		NewMembers:     added,
	})
	return nil
}

func (g *Gateway) onGetConversations(ctx context.Context, client *Client, data json.RawMessage) error {
	var in listPayload
	if len(data) > 0 && string(data) != "null" {
		if err := decode(data, &in); err != nil {
			return err
		}
	}
	views, meta, err := g.service.ListRecent(ctx, client.UserID, pagination.Normalize(in.Page, in.Limit))
	if err != nil {
		return err
	}
	g.hub.SendToConn(client, chat.EventConversations, conversationsReply{Conversations: views, Meta: meta})
	return nil
}

func (g *Gateway) onGetMessages(ctx context.Context, client *Client, data json.RawMessage) error {
	var in messagesQueryPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	msgs, meta, err := g.service.ListMessages(ctx, client.UserID, in.ConversationID, chat.MessageQuery{
		Page:      in.Page,
		Limit:     in.Limit,
		SortBy:    in.SortBy,
		SortOrder: in.SortOrder,
	})
	if err != nil {
		return err
	}
	g.hub.SendToConn(client, chat.EventConversationMessages, messagesReply{
		ConversationID: in.ConversationID,
		Messages:       msgs,
		Meta:           meta,
	})
	return nil
}

func (g *Gateway) onGetContext(ctx context.Context, client *Client, data json.RawMessage) error {
	var in contextPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	msgs, err := g.service.MessageContext(ctx, client.UserID, in.MessageID, in.Radius)
	if err != nil {
		return err
	}
	g.hub.SendToConn(client, chat.EventMessageContext, contextReply{MessageID: in.MessageID, Messages: msgs})
	return nil
}

func (g *Gateway) onReaction(ctx context.Context, client *Client, data json.RawMessage, add bool) error {
	var in reactionPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	var ev chat.ReactionEvent
	var err error
	if add {
		ev, err = g.service.AddReaction(ctx, client.UserID, in.MessageID, in.Emoji, client.ID)
	} else {
		ev, err = g.service.RemoveReaction(ctx, client.UserID, in.MessageID, in.Emoji, client.ID)
	}
	if err != nil {
		return err
	}
	g.hub.SendToConn(client, chat.EventMessageReaction, ev)
	return nil
}

func (g *Gateway) onPin(ctx context.Context, client *Client, data json.RawMessage, pinned bool) error {
	var in messageRef
	if err := decode(data, &in); err != nil {
		return err
	}
	msg, err := g.service.PinMessage(ctx, client.UserID, in.MessageID, pinned, client.ID)
	if err != nil {
		return err
	}
	g.hub.SendToConn(client, chat.EventMessagePinned, chat.PinEvent{
		Message:  msg,
		PinnedBy: client.UserID,
		Pinned:   pinned,
	})
	return nil
}

func (g *Gateway) onSetStatus(ctx context.Context, client *Client, data json.RawMessage) error {
	var in statusPayload
	if err := decode(data, &in); err != nil {
		return err
	}
	if !models.ValidPresenceStatus(in.Status) {
		return fmt.Errorf("%w: unknown status %q", chat.ErrValidation, in.Status)
	}
	if err := g.tracker.SetStatus(ctx, client.UserID, in.Status); err != nil {
		return err
	}
	g.broadcastStatus(ctx, client.UserID, in.Status)
	return nil
}

func (g *Gateway) broadcastStatus(ctx context.Context, userID int, status string) {
	peers, err := g.service.PresencePeers(ctx, userID)
	if err != nil {
		log.Printf("presence peers lookup failed: user=%d err=%v", userID, err)
		return
	}
	if len(peers) == 0 {
		return
	}
	g.hub.SendToUsers(peers, chat.EventUserStatus, chat.StatusEvent{UserID: userID, Status: status})
}

func (g *Gateway) sendError(client *Client, source string, err error) {
	g.hub.SendToConn(client, chat.EventError, wsError{
		Message: chat.Message(err),
		Code:    chat.Code(err),
		Source:  source,
	})
}

func decode(data json.RawMessage, dest interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: event payload is required", chat.ErrValidation)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("%w: malformed event payload", chat.ErrValidation)
	}
	return nil
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return parts[1]
		}
		return ""
	}
	return c.Query("token")
}
