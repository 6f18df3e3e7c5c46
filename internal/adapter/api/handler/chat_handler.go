package handler

import (
	stderrors "errors"
	"mime/multipart"
	"net/http"

	"github.com/labstack/echo/v4"

	"fixmate/internal/adapter/api/middleware"
	"fixmate/internal/domain/entity"
	"fixmate/internal/usecase"
	"fixmate/pkg/errors"
	"fixmate/pkg/logger"
	"fixmate/pkg/response"
)

const maxMultipartMemory = 32 << 20

type ChatHandler struct {
	registry *usecase.SessionRegistry
}

func NewChatHandler(registry *usecase.SessionRegistry) *ChatHandler {
	return &ChatHandler{
		registry: registry,
	}
}

type createConversationRequest struct {
	RecipientID string `json:"recipient_id" validate:"required"`
	JobID       string `json:"job_id"`
}

// conversationView adds the display preview to a conversation.
type conversationView struct {
	*entity.ConversationDetail
	Preview string `json:"preview"`
}

type sessionResponse struct {
	Created       bool               `json:"created"`
	Conversations []conversationView `json:"conversations"`
	UnreadTotal   int                `json:"unread_total"`
	Subscribed    bool               `json:"subscribed"`
}

type messagesResponse struct {
	ConversationID string            `json:"conversation_id"`
	Messages       []*entity.Message `json:"messages"`
	UnreadTotal    int               `json:"unread_total"`
}

// OpenSession is the login hook: it starts the realtime subscription and
// loads the conversation list.
func (h *ChatHandler) OpenSession(c echo.Context) error {
	userID := middleware.UserID(c)
	session, created, err := h.registry.Open(userID)
	if err != nil {
		return response.Error(c, err)
	}

	conversations, err := session.LoadConversations(c.Request().Context())
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, sessionResponse{
		Created:       created,
		Conversations: toViews(conversations),
		UnreadTotal:   session.UnreadTotal(),
		Subscribed:    session.Subscribed(),
	})
}

// CloseSession is the logout hook.
func (h *ChatHandler) CloseSession(c echo.Context) error {
	closed := h.registry.Close(middleware.UserID(c))
	return response.Success(c, map[string]bool{"closed": closed})
}

func (h *ChatHandler) ListConversations(c echo.Context) error {
	session, err := sessionFor(c, h.registry)
	if err != nil {
		return response.Error(c, err)
	}

	conversations, err := session.LoadConversations(c.Request().Context())
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, toViews(conversations))
}

func (h *ChatHandler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return response.Error(c, errors.BadRequest("Invalid request body", err))
	}
	if err := c.Validate(&req); err != nil {
		return response.Error(c, err)
	}

	session, err := sessionFor(c, h.registry)
	if err != nil {
		return response.Error(c, err)
	}

	conversation, err := session.CreateConversation(c.Request().Context(), req.RecipientID, req.JobID)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Created(c, toView(conversation))
}

func (h *ChatHandler) ListMessages(c echo.Context) error {
	session, err := sessionFor(c, h.registry)
	if err != nil {
		return response.Error(c, err)
	}

	conversationID := c.Param("id")
	messages, err := session.LoadMessages(c.Request().Context(), conversationID)
	if err != nil {
		return response.Error(c, err)
	}
	if messages == nil {
		messages = []*entity.Message{}
	}
	return response.Success(c, messagesResponse{
		ConversationID: conversationID,
		Messages:       messages,
		UnreadTotal:    session.UnreadTotal(),
	})
}

// SendMessage accepts multipart/form-data with a "text" field and any number
// of "files", or a JSON/urlencoded body with "text" only.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	session, err := sessionFor(c, h.registry)
	if err != nil {
		return response.Error(c, err)
	}

	input := usecase.SendInput{
		ConversationID: c.Param("id"),
	}

	form, err := multipartForm(c)
	if err != nil {
		return response.Error(c, errors.BadRequest("Invalid multipart form", err))
	}
	if form != nil {
		input.Text = firstValue(form.Value["text"])
		files, closeFiles, err := openUploads(form.File["files"])
		if err != nil {
			return response.Error(c, errors.BadRequest("Failed to read uploaded file", err))
		}
		defer closeFiles()
		input.Files = files
	} else {
		var body struct {
			Text string `json:"text" form:"text"`
		}
		if err := c.Bind(&body); err != nil {
			return response.Error(c, errors.BadRequest("Invalid request body", err))
		}
		input.Text = body.Text
	}

	message, err := session.SendMessage(c.Request().Context(), input)
	if err != nil {
		var sendErr *usecase.SendError
		if stderrors.As(err, &sendErr) {
			return response.ErrorWithDetails(c, sendErr.Err, map[string]string{"draft": sendErr.Draft})
		}
		return response.Error(c, err)
	}
	return response.Created(c, message)
}

// CloseConversation navigates away from the active conversation.
func (h *ChatHandler) CloseConversation(c echo.Context) error {
	session, err := sessionFor(c, h.registry)
	if err != nil {
		return response.Error(c, err)
	}

	previous := session.ActiveConversationID()
	session.CloseConversation()
	return response.Success(c, map[string]string{"closed_conversation_id": previous})
}

func (h *ChatHandler) UnreadTotal(c echo.Context) error {
	session, err := sessionFor(c, h.registry)
	if err != nil {
		return response.Error(c, err)
	}
	return response.Success(c, map[string]int{"unread_total": session.UnreadTotal()})
}

func multipartForm(c echo.Context) (*multipart.Form, error) {
	if err := c.Request().ParseMultipartForm(maxMultipartMemory); err != nil {
		if stderrors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}
	return c.Request().MultipartForm, nil
}

func openUploads(headers []*multipart.FileHeader) ([]usecase.FileUpload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			if err := f.Close(); err != nil {
				logger.Warn("SendMessage Warning: Failed to close uploaded file: %v", err)
			}
		}
	}

	files := make([]usecase.FileUpload, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		opened = append(opened, f)
		files = append(files, usecase.FileUpload{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Size:        header.Size,
			Content:     f,
		})
	}
	return files, closeAll, nil
}

func firstValue(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func toView(c *entity.ConversationDetail) conversationView {
	return conversationView{
		ConversationDetail: c,
		Preview:            entity.TruncatePreview(c.LastMessage, entity.PreviewDisplayWidth),
	}
}

func toViews(list []*entity.ConversationDetail) []conversationView {
	views := make([]conversationView, 0, len(list))
	for _, c := range list {
		views = append(views, toView(c))
	}
	return views
}
