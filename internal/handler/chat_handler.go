package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/kbassist/internal/middleware"
	"github.com/xxxsen/kbassist/internal/pkg/errcode"
	"github.com/xxxsen/kbassist/internal/pkg/response"
	"github.com/xxxsen/kbassist/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type askRequest struct {
	Question string `json:"question"`
}

func (h *ChatHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	reply, err := h.chat.Ask(c.Request.Context(), middleware.GetSession(c), req.Question)
	if err != nil {
		handleError(c, err, 0)
		return
	}
	response.Success(c, reply)
}

func (h *ChatHandler) History(c *gin.Context) {
	response.Success(c, gin.H{"messages": middleware.GetSession(c).History()})
}

func (h *ChatHandler) ClearHistory(c *gin.Context) {
	middleware.GetSession(c).ClearHistory()
	response.Success(c, gin.H{})
}
