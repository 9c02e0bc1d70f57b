package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/chat"
	"messaging-service/internal/pagination"
)

// ConversationHandler manages conversation lifecycle and inbox endpoints.
type ConversationHandler struct {
	service *chat.Service
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(service *chat.Service) *ConversationHandler {
	return &ConversationHandler{service: service}
}

// Create starts a direct or group conversation. Direct creation is
// idempotent and answers 200 with the existing conversation.
func (h *ConversationHandler) Create(c *gin.Context) {
	var req chat.CreateConversationInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	userID := c.GetInt("userID")
	view, created, err := h.service.CreateConversation(c.Request.Context(), userID, req)
	if err != nil {
		respondErr(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"conversation": view})
}

// List returns every conversation the user participates in.
func (h *ConversationHandler) List(c *gin.Context) {
	userID := c.GetInt("userID")
	views, err := h.service.ListConversations(c.Request.Context(), userID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views})
}

// Get returns a single conversation with its participants.
func (h *ConversationHandler) Get(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "conversation id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	view, err := h.service.GetConversation(c.Request.Context(), userID, conversationID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": view})
}

// AddMembers adds users to a group conversation.
func (h *ConversationHandler) AddMembers(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "conversation id")
	if !ok {
		return
	}

	var req struct {
		MemberIDs []int `json:"member_ids" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "member_ids is required")
		return
	}

	userID := c.GetInt("userID")
	view, added, err := h.service.AddMembers(c.Request.Context(), userID, conversationID, req.MemberIDs, "")
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversation": view, "new_members": added})
}

// RemoveMember removes a participant from a group conversation.
func (h *ConversationHandler) RemoveMember(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "conversation id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "memberId", "member id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if err := h.service.RemoveMember(c.Request.Context(), userID, conversationID, memberID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "member removed"})
}

// Leave removes the caller from a group conversation.
func (h *ConversationHandler) Leave(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "conversation id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if err := h.service.LeaveConversation(c.Request.Context(), userID, conversationID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "left conversation"})
}

// Delete removes a conversation and everything attached to it.
func (h *ConversationHandler) Delete(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "conversation id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if err := h.service.DeleteConversation(c.Request.Context(), userID, conversationID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "conversation deleted"})
}

// Clear purges the message history while keeping the conversation.
func (h *ConversationHandler) Clear(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "conversation id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	deleted, err := h.service.ClearHistory(c.Request.Context(), userID, conversationID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages_deleted": deleted})
}

// Archive freezes a group conversation.
func (h *ConversationHandler) Archive(c *gin.Context) {
	h.setArchived(c, true)
}

// Unarchive reactivates an archived group conversation.
func (h *ConversationHandler) Unarchive(c *gin.Context) {
	h.setArchived(c, false)
}

func (h *ConversationHandler) setArchived(c *gin.Context, archived bool) {
	conversationID, ok := pathID(c, "id", "conversation id")
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	var err error
	msg := "conversation archived"
	if archived {
		err = h.service.Archive(c.Request.Context(), userID, conversationID)
	} else {
		err = h.service.Unarchive(c.Request.Context(), userID, conversationID)
		msg = "conversation unarchived"
	}
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// Recent returns the inbox: conversations ordered by pin state and activity,
// with unread counts and a last-message preview.
func (h *ConversationHandler) Recent(c *gin.Context) {
	userID := c.GetInt("userID")
	params := pagination.Normalize(queryInt(c, "page"), queryInt(c, "limit"))

	views, meta, err := h.service.ListRecent(c.Request.Context(), userID, params)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": views, "pagination": meta})
}

// UpdateRecent patches the caller's per-conversation inbox settings.
func (h *ConversationHandler) UpdateRecent(c *gin.Context) {
	conversationID, ok := pathID(c, "id", "conversation id")
	if !ok {
		return
	}

	var req chat.InboxPrefsInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	userID := c.GetInt("userID")
	entry, err := h.service.UpdateInboxPrefs(c.Request.Context(), userID, conversationID, req)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": entry})
}
