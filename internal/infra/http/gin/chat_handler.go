package ginserver

import (
	"errors"
	"net/http"
	"strconv"

	gin "github.com/gin-gonic/gin"

	"crmsync/internal/app/inboxsvc"
	"crmsync/internal/domain/chat"
)

// ChatHandler wires the inbox service to HTTP.
type ChatHandler struct {
	Service *inboxsvc.Service
}

// ListConversations responds with every conversation, most recently active
// first. A lead_id query narrows the list to one lead.
func (h ChatHandler) ListConversations(c *gin.Context) {
	var (
		convs []chat.Conversation
		err   error
	)
	if raw := c.Query("lead_id"); raw != "" {
		leadID, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lead_id must be an integer"})
			return
		}
		convs, err = h.Service.ConversationsByLead(c.Request.Context(), leadID)
	} else {
		convs, err = h.Service.Conversations(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	c.JSON(http.StatusOK, gin.H{"items": convs})
}

type createConversationRequest struct {
	Lead       chat.Lead    `json:"lead"`
	LeadID     int64        `json:"lead_id"`
	Channel    chat.Channel `json:"channel"`
	AssigneeID *int64       `json:"assignee_id"`
}

// CreateConversation opens a conversation with a lead. Callers may send the
// full lead record or just its id.
func (h ChatHandler) CreateConversation(c *gin.Context) {
	var req createConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	lead := req.Lead
	if lead.ID == 0 {
		lead.ID = req.LeadID
	}
	if lead.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "lead id is required"})
		return
	}
	conv, err := h.Service.CreateConversation(c.Request.Context(), lead, req.Channel, req.AssigneeID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h ChatHandler) DeleteConversation(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	if err := h.Service.DeleteConversation(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) MarkRead(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	if err := h.Service.MarkRead(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h ChatHandler) ListMessages(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	msgs, err := h.Service.Messages(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"items": msgs})
}

// SendMessage stores an agent's outgoing message. The path id wins over any
// conversation id in the body.
func (h ChatHandler) SendMessage(c *gin.Context) {
	id, ok := conversationID(c)
	if !ok {
		return
	}
	var out chat.Outgoing
	if err := c.ShouldBindJSON(&out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	out.ConversationID = id
	msg, err := h.Service.Send(c.Request.Context(), out)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

func conversationID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conversation id must be an integer"})
		return 0, false
	}
	return id, true
}

func respondServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrConversationNotFound), errors.Is(err, chat.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

var _ ChatHTTP = ChatHandler{}
