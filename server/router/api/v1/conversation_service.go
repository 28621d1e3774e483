package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/recall/server/service/conversation"
	"github.com/hrygo/recall/store"
)

type conversationResponse struct {
	UID         string   `json:"uid"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status"`
	StartedTs   int64    `json:"startedTs"`
	EndedTs     *int64   `json:"endedTs,omitempty"`
	DurationSec *int32   `json:"durationSec,omitempty"`
	Summary     *string  `json:"summary,omitempty"`
	KeyPoints   []string `json:"keyPoints,omitempty"`
	Sentiment   *string  `json:"sentiment,omitempty"`
}

func convertConversation(c *store.Conversation) *conversationResponse {
	return &conversationResponse{
		UID:         c.UID,
		Title:       c.Title,
		Description: c.Description,
		Status:      string(c.Status),
		StartedTs:   c.StartedTs,
		EndedTs:     c.EndedTs,
		DurationSec: c.DurationSec,
		Summary:     c.Summary,
		KeyPoints:   c.KeyPoints,
		Sentiment:   c.Sentiment,
	}
}

type messageResponse struct {
	UID       string `json:"uid"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Metadata  string `json:"metadata,omitempty"`
	CreatedTs int64  `json:"createdTs"`
}

func convertMessage(m *store.Message) *messageResponse {
	return &messageResponse{
		UID:       m.UID,
		Sender:    string(m.Sender),
		Content:   m.Content,
		Metadata:  m.Metadata,
		CreatedTs: m.CreatedTs,
	}
}

type createConversationRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *APIV1Service) createConversation(c echo.Context) error {
	req := &createConversationRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	created, err := s.ConversationService.Create(c.Request().Context(), currentUserID(c), req.Title, req.Description)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, convertConversation(created))
}

func (s *APIV1Service) listConversations(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	opts := conversation.ListOptions{
		Search: c.QueryParam("search"),
		Limit:  limit,
		Offset: offset,
	}
	if v := c.QueryParam("status"); v != "" {
		status := store.ConversationStatus(v)
		opts.Status = &status
	}

	list, err := s.ConversationService.List(c.Request().Context(), currentUserID(c), opts)
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]*conversationResponse, 0, len(list))
	for _, cv := range list {
		out = append(out, convertConversation(cv))
	}
	return c.JSON(http.StatusOK, map[string]any{"conversations": out})
}

func (s *APIV1Service) getConversation(c echo.Context) error {
	conversation, err := s.ConversationService.Get(c.Request().Context(), currentUserID(c), c.Param("uid"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convertConversation(conversation))
}

type updateConversationRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (s *APIV1Service) updateConversation(c echo.Context) error {
	req := &updateConversationRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	updated, err := s.ConversationService.Update(c.Request().Context(), currentUserID(c), c.Param("uid"), req.Title, req.Description)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convertConversation(updated))
}

func (s *APIV1Service) deleteConversation(c echo.Context) error {
	if err := s.ConversationService.Delete(c.Request().Context(), currentUserID(c), c.Param("uid")); err != nil {
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) listMessages(c echo.Context) error {
	messages, err := s.ConversationService.ListMessages(c.Request().Context(), currentUserID(c), c.Param("uid"))
	if err != nil {
		return toHTTPError(err)
	}

	out := make([]*messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, convertMessage(m))
	}
	return c.JSON(http.StatusOK, map[string]any{"messages": out})
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (s *APIV1Service) sendMessage(c echo.Context) error {
	req := &sendMessageRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	userMessage, aiMessage, err := s.ConversationService.SendMessage(c.Request().Context(), currentUserID(c), c.Param("uid"), req.Content)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, map[string]any{
		"userMessage": convertMessage(userMessage),
		"aiMessage":   convertMessage(aiMessage),
	})
}

type endConversationRequest struct {
	GenerateSummary *bool `json:"generateSummary"`
}

func (s *APIV1Service) endConversation(c echo.Context) error {
	// The body is optional; summary generation defaults to on.
	generateSummary := true
	var req endConversationRequest
	if err := c.Bind(&req); err == nil && req.GenerateSummary != nil {
		generateSummary = *req.GenerateSummary
	}
	ended, err := s.ConversationService.End(c.Request().Context(), currentUserID(c), c.Param("uid"), generateSummary)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, convertConversation(ended))
}
