// Package services defines the business logic for connections,
// conversations, and messages. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler/controller layer.
package services

import (
	"errors"
	"fmt"
)

// Connection-related errors.
var (
	// ErrSelfReference is returned when a user targets themselves with a
	// connection request or a message.
	ErrSelfReference = errors.New("cannot target yourself")

	// ErrUserNotFound indicates that the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrConnectionNotFound indicates that the requested connection does not
	// exist.
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrAlreadyResolved is returned when responding to or cancelling a
	// connection that is no longer pending.
	ErrAlreadyResolved = errors.New("connection already resolved")

	// ErrNotRecipient is returned when someone other than the recipient
	// tries to respond to a connection request.
	ErrNotRecipient = errors.New("only the recipient may respond")

	// ErrNotRequester is returned when someone other than the original
	// requester tries to cancel a pending request.
	ErrNotRequester = errors.New("only the requester may cancel")

	// ErrInvalidDecision is returned for a respond decision outside
	// {accept, decline}.
	ErrInvalidDecision = errors.New("decision must be accept or decline")
)

// Messaging-related errors.
var (
	// ErrNotConnected indicates the pair has no accepted connection; no
	// conversation or message operation is permitted between them.
	ErrNotConnected = errors.New("users are not connected")

	// ErrNotParticipant indicates the requester is not a participant of the
	// conversation they tried to access.
	ErrNotParticipant = errors.New("not a conversation participant")

	// ErrNotMessageOwner indicates the requester is neither the sender nor
	// the receiver of the message they tried to delete.
	ErrNotMessageOwner = errors.New("not the sender or receiver of this message")

	// ErrConversationNotFound indicates the conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates the message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrEmptyMessage is returned when a text message has no body and no
	// attachment.
	ErrEmptyMessage = errors.New("message body is empty")

	// ErrTooLong is returned when a message body exceeds the configured
	// rune limit.
	ErrTooLong = errors.New("message body too long")

	// ErrInvalidMessageType is returned for a type outside
	// {text, image, file, call}.
	ErrInvalidMessageType = errors.New("invalid message type")

	// ErrAttachmentType is returned when an attachment's MIME type is not in
	// the allow-list.
	ErrAttachmentType = errors.New("attachment type not allowed")

	// ErrAttachmentTooLarge is returned when an attachment exceeds the size
	// ceiling.
	ErrAttachmentTooLarge = errors.New("attachment too large")

	// ErrReplyNotFound indicates the reply target message does not exist.
	ErrReplyNotFound = errors.New("reply target not found")

	// ErrReplyMismatch indicates the reply target belongs to a different
	// conversation.
	ErrReplyMismatch = errors.New("reply target belongs to another conversation")
)

// ConnectionExistsError reports that a connection record already exists for
// the pair, carrying the blocking record's current status so handlers can
// surface it (e.g., "conflict: pending").
type ConnectionExistsError struct {
	Status string
}

// Error implements the error interface.
func (e *ConnectionExistsError) Error() string {
	return fmt.Sprintf("connection already exists (status %s)", e.Status)
}
