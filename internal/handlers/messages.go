package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/chat"
)

// MessageHandler manages message history and mutation endpoints.
type MessageHandler struct {
	service *chat.Service
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(service *chat.Service) *MessageHandler {
	return &MessageHandler{service: service}
}

// ListByConversation returns one page of a conversation's history.
func (h *MessageHandler) ListByConversation(c *gin.Context) {
	conversationID, ok := pathID(c, "conversationId", "conversation id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	msgs, meta, err := h.service.ListMessages(c.Request.Context(), userID, conversationID, chat.MessageQuery{
		Page:      queryInt(c, "page"),
		Limit:     queryInt(c, "limit"),
		SortBy:    c.Query("sort_by"),
		SortOrder: c.Query("sort_order"),
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "pagination": meta})
}

// Context returns the messages surrounding a single message.
func (h *MessageHandler) Context(c *gin.Context) {
	messageID, ok := pathID(c, "messageId", "message id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	msgs, err := h.service.MessageContext(c.Request.Context(), userID, messageID, queryInt(c, "radius"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// Edit replaces a message's content, sender only.
func (h *MessageHandler) Edit(c *gin.Context) {
	messageID, ok := pathID(c, "messageId", "message id")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "content is required")
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.service.EditMessage(c.Request.Context(), userID, messageID, req.Content, "")
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// Delete retracts a message for everyone, sender only.
func (h *MessageHandler) Delete(c *gin.Context) {
	messageID, ok := pathID(c, "messageId", "message id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if _, err := h.service.DeleteMessage(c.Request.Context(), userID, messageID, ""); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "message deleted"})
}

// MarkRead advances the caller's read pointer. Without a body the whole
// conversation is marked read.
func (h *MessageHandler) MarkRead(c *gin.Context) {
	conversationID, ok := pathID(c, "conversationId", "conversation id")
	if !ok {
		return
	}

	var req struct {
		MessageID int `json:"message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body")
		return
	}

	userID := c.GetInt("userID")
	res, err := h.service.MarkRead(c.Request.Context(), userID, conversationID, req.MessageID, "")
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// AddReaction attaches an emoji reaction to a message.
func (h *MessageHandler) AddReaction(c *gin.Context) {
	messageID, ok := pathID(c, "messageId", "message id")
	if !ok {
		return
	}

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "emoji is required")
		return
	}

	userID := c.GetInt("userID")
	ev, err := h.service.AddReaction(c.Request.Context(), userID, messageID, req.Emoji, "")
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": ev.MessageID, "reactions": ev.Reactions})
}

// RemoveReaction detaches the caller's reaction with the given emoji.
func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	messageID, ok := pathID(c, "messageId", "message id")
	if !ok {
		return
	}
	emoji := c.Param("emoji")

	userID := c.GetInt("userID")
	ev, err := h.service.RemoveReaction(c.Request.Context(), userID, messageID, emoji, "")
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message_id": ev.MessageID, "reactions": ev.Reactions})
}

// Pin marks a message as pinned in its conversation.
func (h *MessageHandler) Pin(c *gin.Context) {
	h.setPinned(c, true)
}

// Unpin clears the pinned flag.
func (h *MessageHandler) Unpin(c *gin.Context) {
	h.setPinned(c, false)
}

func (h *MessageHandler) setPinned(c *gin.Context, pinned bool) {
	messageID, ok := pathID(c, "messageId", "message id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.service.PinMessage(c.Request.Context(), userID, messageID, pinned, "")
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}
