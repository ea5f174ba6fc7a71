// Connection HTTP handlers.
//
// This file exposes REST endpoints for the connection graph:
//   - POST /connections               (send a connection request)
//   - POST /connections/{id}/respond  (accept or decline as recipient)
//   - POST /connections/{id}/cancel   (withdraw as requester)
//   - GET  /connections?state=...     (network or pending incoming requests)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate service errors into stable HTTP codes. All lifecycle rules
// (state machine, pair uniqueness, re-request policy) live in the services.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tbourn/go-connect-backend/internal/domain"
	"github.com/tbourn/go-connect-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// ConnectionService defines the connection-graph operations consumed by HTTP
// handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ConnectionService interface {
	// SendRequest creates a pending connection from requester to recipient.
	SendRequest(ctx context.Context, requesterID, recipientID string) (*domain.Connection, error)
	// Respond applies the recipient's accept/decline decision.
	Respond(ctx context.Context, connectionID, responderID, decision string) (*domain.Connection, error)
	// Cancel withdraws a pending request as the original requester.
	Cancel(ctx context.Context, connectionID, requesterID string) (*domain.Connection, error)
	// Network lists accepted connections with counterpart profiles.
	Network(ctx context.Context, userID string) ([]services.ConnectionView, error)
	// PendingRequests lists incoming pending requests, newest first.
	PendingRequests(ctx context.Context, userID string) ([]services.ConnectionView, error)
}

// ConversationService defines conversation operations consumed by HTTP
// handlers.
type ConversationService interface {
	// GetOrCreate returns (creating lazily) the conversation with otherUserID.
	GetOrCreate(ctx context.Context, userID, otherUserID string) (*domain.Conversation, error)
	// List returns the caller's conversation summaries, last activity first.
	List(ctx context.Context, userID string) ([]services.ConversationSummary, error)
}

// MessageService defines message operations consumed by HTTP handlers.
type MessageService interface {
	// Send validates and appends a message to the pair's conversation.
	Send(ctx context.Context, senderID string, in services.SendInput) (*domain.Message, error)
	// Fetch returns one chronological page and applies the read receipt.
	Fetch(ctx context.Context, requesterID, otherUserID string, page, limit int) ([]domain.Message, bool, error)
	// SoftDelete marks a message deleted for both participants.
	SoftDelete(ctx context.Context, messageID, requesterID string) error
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for connections, conversations, and messages.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	connSvc ConnectionService
	convSvc ConversationService
	msgSvc  MessageService

	// PageDefault and PageMax override the message-page size defaults when
	// positive. The router sets them from DEFAULT_PAGE_SIZE and MAX_PAGE_SIZE.
	PageDefault int
	PageMax     int
}

// New constructs and returns a Handlers instance bound to the given services.
func New(connSvc ConnectionService, convSvc ConversationService, msgSvc MessageService) *Handlers {
	return &Handlers{connSvc: connSvc, convSvc: convSvc, msgSvc: msgSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateConnectionRequest is the JSON payload for sending a connection request.
type CreateConnectionRequest struct {
	// RecipientID identifies the user to connect with.
	RecipientID string `json:"recipient_id" binding:"required" example:"user456"`
}

// RespondConnectionRequest is the JSON payload for answering a pending request.
type RespondConnectionRequest struct {
	// Decision is "accept" or "decline".
	Decision string `json:"decision" binding:"required" example:"accept"`
}

// ConnectionResponse is the JSON envelope for a single connection record.
type ConnectionResponse struct {
	Connection *domain.Connection `json:"connection"`
}

// ListConnectionsResponse wraps connection views for a state filter.
type ListConnectionsResponse struct {
	Connections []services.ConnectionView `json:"connections"`
}

//
// Handlers
//

// CreateConnection godoc
// @ID          createConnection
// @Summary     Send a connection request
// @Description Creates a pending connection from the current user to the recipient.
// @Description Any existing record for the pair blocks a new one (409 with its status).
// @Tags        Connections
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateConnectionRequest  true  "Recipient payload"
//
// @Success     201  {object}  handlers.ConnectionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Self reference or bad payload"
// @Failure     404  {object}  handlers.ErrorResponse  "Recipient not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Connection already exists"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /connections [post]
func (h *Handlers) CreateConnection(c *gin.Context) {
	var req CreateConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.RecipientID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "recipient_id required")
		return
	}

	conn, err := h.connSvc.SendRequest(c.Request.Context(), userID(c), strings.TrimSpace(req.RecipientID))
	if err != nil {
		var exists *services.ConnectionExistsError
		switch {
		case errors.Is(err, services.ErrSelfReference):
			fail(c, http.StatusBadRequest, ErrCodeSelfReference, "cannot connect with yourself")
		case errors.Is(err, services.ErrUserNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "recipient not found")
		case errors.As(err, &exists):
			fail(c, http.StatusConflict, ErrCodeConflict, "connection already exists: "+exists.Status)
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusCreated, ConnectionResponse{Connection: conn})
}

// RespondConnection godoc
// @ID          respondConnection
// @Summary     Accept or decline a connection request
// @Description Applies the recipient's decision to a pending request. The decision is
// @Description final; repeated responses return 409 without changing the record.
// @Tags        Connections
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user456)
// @Param       id         path    string  true  "Connection ID (UUID)"   format(uuid)
// @Param       body       body    handlers.RespondConnectionRequest  true  "Decision payload"
//
// @Success     200  {object}  handlers.ConnectionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid decision"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the recipient"
// @Failure     404  {object}  handlers.ErrorResponse  "Connection not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already resolved"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /connections/{id}/respond [post]
func (h *Handlers) RespondConnection(c *gin.Context) {
	connID := c.Param("id")
	if _, err := uuid.Parse(connID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "connection id must be a UUID")
		return
	}

	var req RespondConnectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "decision required")
		return
	}

	conn, err := h.connSvc.Respond(c.Request.Context(), connID, userID(c), strings.ToLower(strings.TrimSpace(req.Decision)))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidDecision):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "decision must be accept or decline")
		case errors.Is(err, services.ErrConnectionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "connection not found")
		case errors.Is(err, services.ErrNotRecipient):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "only the recipient may respond")
		case errors.Is(err, services.ErrAlreadyResolved):
			fail(c, http.StatusConflict, ErrCodeAlreadyResolved, "connection already resolved")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, ConnectionResponse{Connection: conn})
}

// CancelConnection godoc
// @ID          cancelConnection
// @Summary     Cancel a pending connection request
// @Description Withdraws a pending request. Only the original requester may cancel.
// @Tags        Connections
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Connection ID (UUID)"   format(uuid)
//
// @Success     200  {object}  handlers.ConnectionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the requester"
// @Failure     404  {object}  handlers.ErrorResponse  "Connection not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already resolved"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /connections/{id}/cancel [post]
func (h *Handlers) CancelConnection(c *gin.Context) {
	connID := c.Param("id")
	if _, err := uuid.Parse(connID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "connection id must be a UUID")
		return
	}

	conn, err := h.connSvc.Cancel(c.Request.Context(), connID, userID(c))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConnectionNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "connection not found")
		case errors.Is(err, services.ErrNotRequester):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "only the requester may cancel")
		case errors.Is(err, services.ErrAlreadyResolved):
			fail(c, http.StatusConflict, ErrCodeAlreadyResolved, "connection already resolved")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, ConnectionResponse{Connection: conn})
}

// ListConnections godoc
// @ID          listConnections
// @Summary     List connections
// @Description Returns the current user's network (state=accepted, ordered by name)
// @Description or incoming pending requests (state=pending, newest first).
// @Tags        Connections
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"             example(user123)
// @Param       state      query   string  false "accepted (default) or pending"    Enums(accepted, pending)
//
// @Success     200  {object}  handlers.ListConnectionsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Unknown state"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /connections [get]
func (h *Handlers) ListConnections(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)

	var (
		views []services.ConnectionView
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(c.DefaultQuery("state", "accepted"))) {
	case "accepted":
		views, err = h.connSvc.Network(ctx, uid)
	case "pending":
		views, err = h.connSvc.PendingRequests(ctx, uid)
	default:
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "state must be accepted or pending")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if views == nil {
		views = []services.ConnectionView{}
	}
	ok(c, http.StatusOK, ListConnectionsResponse{Connections: views})
}
