package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the messaging endpoints on an authenticated group
func RegisterRoutes(rg *gin.RouterGroup, h *Handler) {
	conversations := rg.Group("/conversations")
	{
		conversations.GET("", h.ListConversations)
		conversations.GET("/:counterpartId", h.OpenConversation)
		conversations.GET("/:counterpartId/messages", h.ListMessages)
	}

	rg.POST("/messages", h.SendMessage)
}
