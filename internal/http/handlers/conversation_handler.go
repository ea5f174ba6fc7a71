// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - GET /conversations                 (inbox summaries, ETag support)
//   - GET /conversations/{otherUserId}   (conversation view, get-or-create)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-connect-backend/internal/domain"
	"github.com/tbourn/go-connect-backend/internal/repo"
	"github.com/tbourn/go-connect-backend/internal/services"
)

//
// DTOs
//

// ConversationResponse is the JSON envelope for a single conversation.
type ConversationResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
}

// ListConversationsResponse wraps the caller's inbox: one summary per
// conversation, ordered by last activity descending.
type ListConversationsResponse struct {
	Conversations []services.ConversationSummary `json:"conversations"`
}

//
// Handlers
//

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (inbox)
// @Description Returns the user's conversations with counterpart profile, last-message
// @Description preview, and unread count. Supports weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, ok := h.convSvc.(*services.ConversationService); ok {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.ConversationsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"conversations:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.convSvc.List(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []services.ConversationSummary{}
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: items})
}

// GetConversation godoc
// @ID          getConversation
// @Summary     Get (or lazily create) the conversation with another user
// @Description Returns the one conversation between the current user and otherUserId,
// @Description creating it on first access. Requires an accepted connection.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID    header  string  false "User ID (demo header)"  example(user123)
// @Param       otherUserId  path    string  true  "Counterpart user ID"    example(user456)
//
// @Success     200  {object} handlers.ConversationResponse
// @Failure     400  {object} handlers.ErrorResponse "Self reference"
// @Failure     403  {object} handlers.ErrorResponse "Users not connected"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{otherUserId} [get]
func (h *Handlers) GetConversation(c *gin.Context) {
	other := strings.TrimSpace(c.Param("otherUserId"))
	if other == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "other user id required")
		return
	}

	cv, err := h.convSvc.GetOrCreate(c.Request.Context(), userID(c), other)
	if err != nil {
		failConversationErr(c, err)
		return
	}
	ok(c, http.StatusOK, ConversationResponse{Conversation: cv})
}

// failConversationErr maps conversation-access failures shared by the
// conversation and message endpoints.
func failConversationErr(c *gin.Context, err error) {
	switch {
	case err == services.ErrSelfReference:
		fail(c, http.StatusBadRequest, ErrCodeSelfReference, "cannot open a conversation with yourself")
	case err == services.ErrNotConnected:
		fail(c, http.StatusForbidden, ErrCodeNotConnected, "users are not connected")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}
