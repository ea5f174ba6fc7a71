// Message HTTP handlers.
//
// This file exposes REST endpoints for messages:
//   - POST   /messages                              (send a message)
//   - GET    /conversations/{otherUserId}/messages  (fetch a page; read receipt)
//   - DELETE /messages/{id}                         (soft delete)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline and length constraints)
//   - delegate to application services (MessageService)
//   - implement conditional responses (ETag) and idempotency semantics
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (sender, receiver, key), the handler returns that recorded
// message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-connect-backend/internal/domain"
	"github.com/tbourn/go-connect-backend/internal/repo"
	"github.com/tbourn/go-connect-backend/internal/services"
	"github.com/tbourn/go-connect-backend/internal/utils"
)

//
// DTOs
//

// PostMessageRequest is the JSON payload for sending a message.
//
// Body is normalized by the handler (line endings and excessive blank lines)
// before being passed to the service layer. The service also enforces a
// maximum rune count, which can be configured in MessageService.
type PostMessageRequest struct {
	// ReceiverID identifies the connected user the message is addressed to.
	ReceiverID string `json:"receiver_id" binding:"required" example:"user456"`
	// Body is the message text. Required unless an attachment is present.
	Body string `json:"body" example:"Hello!"`
	// Type is text|image|file|call; derived from the attachment when empty.
	Type string `json:"type" example:"text"`
	// Attachment references a staged blob by URL plus its metadata.
	Attachment *services.AttachmentInput `json:"attachment"`
	// ReplyTo optionally references a message in the same conversation.
	ReplyTo string `json:"reply_to" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// PostMessageResponse is the JSON envelope for a newly created message.
type PostMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// FetchMessagesResponse contains one chronological page of messages.
type FetchMessagesResponse struct {
	Messages []domain.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

//
// Helpers
//

// pageParams parses page/limit from query parameters and clamps them to the
// configured bounds. Unset configuration keeps the stock 20/100.
func (h *Handlers) pageParams(c *gin.Context) (page, limit int) {
	defLimit, maxLimit := h.PageDefault, h.PageMax
	if defLimit < 1 {
		defLimit = 20
	}
	if maxLimit < 1 {
		maxLimit = 100
	}
	page = utils.AtoiDefault(c.Query("page"), 1)
	if page < 1 {
		page = 1
	}
	limit = utils.AtoiDefault(c.Query("limit"), defLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeBody normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeBody(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxBodyRunes inspects the concrete MessageService for a configured
// body-length limit. If unavailable, it returns a conservative fallback.
func discoverMaxBodyRunes(msgSvc MessageService) int {
	const fallback = 4000
	if ms, ok := msgSvc.(*services.MessageService); ok {
		if ms.MaxBodyRunes > 0 {
			return ms.MaxBodyRunes
		}
	}
	return fallback
}

// idempotencyKey extracts an idempotency key if an upstream middleware has
// already validated/stashed it. The fallback behavior reads the
// "Idempotency-Key" header directly when no dedicated middleware exists.
func idempotencyKey(c *gin.Context) (string, bool) {
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}

//
// Handlers
//

// PostMessage godoc
// @ID          postMessage
// @Summary     Send a message
// @Description Appends a message to the conversation with the receiver, creating the
// @Description conversation on first contact. Requires an accepted connection.
// @Description Supports idempotency via the Idempotency-Key header (same key → same result).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID (demo header)"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.PostMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.PostMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failure"
// @Failure     403  {object}  handlers.ErrorResponse  "Users not connected"
// @Failure     404  {object}  handlers.ErrorResponse  "Reply target not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages [post]
func (h *Handlers) PostMessage(c *gin.Context) {
	ctx := c.Request.Context()

	var req PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.ReceiverID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "receiver_id required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	body := sanitizeBody(req.Body)
	maxRunes := discoverMaxBodyRunes(h.msgSvc)
	if maxRunes > 0 && utf8.RuneCountInString(body) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("body too long: max %d runes", maxRunes))
		return
	}

	sender := userID(c)
	receiver := strings.TrimSpace(req.ReceiverID)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := idempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, sender, receiver, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetMessage(ctx, svc.DB, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusCreated, PostMessageResponse{Message: prev})
					return
				}
			}
		}
	}

	m, err := h.msgSvc.Send(ctx, sender, services.SendInput{
		ReceiverID: receiver,
		Body:       body,
		Type:       req.Type,
		Attachment: req.Attachment,
		ReplyToID:  strings.TrimSpace(req.ReplyTo),
	})
	if err != nil {
		switch err {
		case services.ErrSelfReference:
			fail(c, http.StatusBadRequest, ErrCodeSelfReference, "cannot message yourself")
		case services.ErrNotConnected:
			fail(c, http.StatusForbidden, ErrCodeNotConnected, "users are not connected")
		case services.ErrEmptyMessage:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "body or attachment required")
		case services.ErrTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("body too long: max %d runes", maxRunes))
		case services.ErrInvalidMessageType:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "type must be text, image, file, or call")
		case services.ErrAttachmentType:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "attachment type not allowed")
		case services.ErrAttachmentTooLarge:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "attachment too large")
		case services.ErrReplyNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "reply target not found")
		case services.ErrReplyMismatch:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "reply target belongs to another conversation")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, sender, receiver, idemKey, m.ID, http.StatusCreated, ttl)
		}
	}

	ok(c, http.StatusCreated, PostMessageResponse{Message: m})
}

// FetchMessages godoc
// @ID          fetchMessages
// @Summary     Fetch a page of the conversation with another user
// @Description Returns one chronological page of non-deleted messages and applies the
// @Description read receipt: messages addressed to the caller are marked read and the
// @Description caller's unread count drops to zero. Supports weak ETag.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       otherUserId    path    string  true  "Counterpart user ID"         example(user456)
// @Param       page           query   int     false "Page number"                 minimum(1) default(1)
// @Param       limit          query   int     false "Messages per page"           minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.FetchMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Self reference"
// @Failure     403  {object} handlers.ErrorResponse "Users not connected"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{otherUserId}/messages [get]
func (h *Handlers) FetchMessages(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	other := strings.TrimSpace(c.Param("otherUserId"))
	if other == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "other user id required")
		return
	}

	// ETag pre-check (best effort). The count/max-timestamp tag identifies
	// the page content, but matching it alone is not enough to short-circuit:
	// a send followed by a soft delete restores both values while the
	// caller's unread counter keeps the increment. The 304 is therefore
	// honored only when the caller has nothing unread, so a stale tag can
	// never skip the read receipt.
	var db *gorm.DB
	if svc, okSvc := h.msgSvc.(*services.MessageService); okSvc {
		db = svc.DB
	}
	if db != nil {
		if cv, err := repo.GetConversationByPair(ctx, db, uid, other); err == nil {
			count, maxTS, serr := repo.MessagesStats(ctx, db, cv.ID)
			unread, uerr := repo.UnreadCount(ctx, db, cv.ID, uid)
			if serr == nil && uerr == nil {
				var ts int64
				if maxTS != nil {
					ts = maxTS.Unix()
				}
				etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, cv.ID, count, ts)
				c.Header("ETag", etag)
				if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag && unread == 0 {
					c.Status(http.StatusNotModified)
					return
				}
			}
		}
	}

	page, limit := h.pageParams(c)

	items, hasMore, err := h.msgSvc.Fetch(ctx, uid, other, page, limit)
	if err != nil {
		failConversationErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Message{}
	}
	ok(c, http.StatusOK, FetchMessagesResponse{
		Messages: items,
		HasMore:  hasMore,
		Page:     page,
		Limit:    limit,
	})
}

// DeleteMessageResponse confirms a soft delete.
type DeleteMessageResponse struct {
	Deleted bool   `json:"deleted" example:"true"`
	ID      string `json:"id"      example:"141add05-4415-4938-b5a1-17e0d3171aff"`
}

// DeleteMessage godoc
// @ID          deleteMessage
// @Summary     Delete a message
// @Description Soft-deletes the message for both participants. Either the sender or
// @Description the receiver may delete; the content is retained server-side.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Message ID (UUID)"      format(uuid)
//
// @Success     200  {object} handlers.DeleteMessageResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     403  {object} handlers.ErrorResponse "Not a participant of the message"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/{id} [delete]
func (h *Handlers) DeleteMessage(c *gin.Context) {
	msgID := c.Param("id")
	if _, err := uuid.Parse(msgID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id must be a UUID")
		return
	}

	if err := h.msgSvc.SoftDelete(c.Request.Context(), msgID, userID(c)); err != nil {
		switch err {
		case services.ErrMessageNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		case services.ErrNotMessageOwner:
			fail(c, http.StatusForbidden, ErrCodeForbidden, "only the sender or receiver may delete")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, DeleteMessageResponse{Deleted: true, ID: msgID})
}
