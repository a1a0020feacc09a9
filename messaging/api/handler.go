package api

import (
	"context"
	"net/http"
	"strconv"

	"campusconnect/backend/messaging/models"
	"campusconnect/backend/pkg/errors"
	"campusconnect/backend/pkg/logger"
	"campusconnect/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

const maxPageSize = 200

// ConversationReader lists and opens conversations
type ConversationReader interface {
	ListConversations(ctx context.Context, userID string) ([]models.Conversation, error)
	OpenConversation(ctx context.Context, userID, counterpartID string) (models.Conversation, error)
}

// MessageStore reads history and sends messages
type MessageStore interface {
	ListBetweenPaginated(ctx context.Context, callerID, userA, userB string, limit, offset int) ([]models.Message, error)
	Send(ctx context.Context, currentUserID, counterpartID, content string) (*models.Message, error)
}

// SendMessageRequest is the body of POST /messages
type SendMessageRequest struct {
	ReceiverID string `json:"receiver_id"`
	Content    string `json:"content"`
}

// HistoryResponse wraps one page of a conversation history
type HistoryResponse struct {
	CounterpartID string           `json:"counterpart_id"`
	Messages      []models.Message `json:"messages"`
	Limit         int              `json:"limit,omitempty"`
	Offset        int              `json:"offset,omitempty"`
}

// Handler serves the messaging REST endpoints
type Handler struct {
	conversations ConversationReader
	messages      MessageStore
}

// NewHandler creates a messaging handler
func NewHandler(conversations ConversationReader, messages MessageStore) *Handler {
	return &Handler{conversations: conversations, messages: messages}
}

// ListConversations handles GET /conversations
func (h *Handler) ListConversations(c *gin.Context) {
	conversations, err := h.conversations.ListConversations(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		c.Error(toAppError(err))
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": conversations})
}

// OpenConversation handles GET /conversations/:counterpartId. A counterpart
// without any messages yet yields a placeholder entry.
func (h *Handler) OpenConversation(c *gin.Context) {
	conversation, err := h.conversations.OpenConversation(c.Request.Context(), middleware.UserID(c), c.Param("counterpartId"))
	if err != nil {
		c.Error(toAppError(err))
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, conversation)
}

// ListMessages handles GET /conversations/:counterpartId/messages
func (h *Handler) ListMessages(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil || limit > maxPageSize {
		c.Error(errors.NewBadRequestError(errors.CodeValidation, "limit must be an integer between 0 and 200"))
		c.Abort()
		return
	}
	offset, err := queryInt(c, "offset")
	if err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeValidation, "offset must be a non-negative integer"))
		c.Abort()
		return
	}

	userID := middleware.UserID(c)
	counterpartID := c.Param("counterpartId")

	messages, err := h.messages.ListBetweenPaginated(c.Request.Context(), userID, userID, counterpartID, limit, offset)
	if err != nil {
		c.Error(toAppError(err))
		c.Abort()
		return
	}

	c.JSON(http.StatusOK, HistoryResponse{
		CounterpartID: counterpartID,
		Messages:      messages,
		Limit:         limit,
		Offset:        offset,
	})
}

// SendMessage handles POST /messages
func (h *Handler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewBadRequestError(errors.CodeValidation, "Invalid request body"))
		c.Abort()
		return
	}

	message, err := h.messages.Send(c.Request.Context(), middleware.UserID(c), req.ReceiverID, req.Content)
	if err != nil {
		c.Error(toAppError(err))
		c.Abort()
		return
	}

	logger.FromGin(c).Info("Message sent", "message_id", message.ID, "receiver_id", message.ReceiverID)
	c.JSON(http.StatusCreated, message)
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, strconv.ErrRange
	}
	return n, nil
}
