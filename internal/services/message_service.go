// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the message log: sending (with attachment validation, compensating
// cleanup of staged blobs, and immutable reply snapshots), fetching pages
// (which doubles as the read receipt), and soft deletion. Every write keeps
// the conversation's denormalized last-message preview and the receiver's
// unread counter consistent inside one transaction.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// sender/receiver/conversation identifiers and pagination parameters where
// applicable.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-connect-backend/internal/domain"
	"github.com/tbourn/go-connect-backend/internal/repo"
	"github.com/tbourn/go-connect-backend/internal/storage"
)

// DefaultMaxAttachmentBytes is the attachment size ceiling (10 MiB).
const DefaultMaxAttachmentBytes = 10 << 20

// allowedAttachmentMimes is the attachment MIME allow-list: common images,
// PDF, Word, plain text, and Excel.
var allowedAttachmentMimes = map[string]struct{}{
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/webp":      {},
	"application/pdf": {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"text/plain":                {},
	"application/vnd.ms-excel":  {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
}

// AttachmentAllowed reports whether mime is in the allow-list.
func AttachmentAllowed(mime string) bool {
	_, ok := allowedAttachmentMimes[strings.ToLower(strings.TrimSpace(mime))]
	return ok
}

// MessageService coordinates message persistence, read receipts, unread
// accounting, and last-message upkeep.
type MessageService struct {
	DB            *gorm.DB
	Gate          *ConnectionService
	Conversations *ConversationService
	Attachments   storage.Store

	// MaxAttachmentBytes caps attachment sizes; defaults to 10 MiB.
	MaxAttachmentBytes int64
	// MaxBodyRunes caps message bodies by rune length (0 = unlimited).
	MaxBodyRunes int
	// PreviewMaxRunes caps the last-message text preview; defaults to 80.
	PreviewMaxRunes int
}

// AttachmentInput is the staged-attachment metadata supplied with a send.
// The blob itself is already staged in the external store under URL.
type AttachmentInput struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Mime string `json:"mime"`
}

// SendInput carries everything a send needs besides the sender identity.
type SendInput struct {
	ReceiverID string
	Body       string
	Type       string
	Attachment *AttachmentInput
	ReplyToID  string
}

// Send validates and appends a message from senderID.
//
// Order of operations matters: attachment validation happens before any
// persistence so no other request can observe partially-validated state, and
// every rejection after the client staged a blob removes that blob
// (compensating cleanup, best effort). On success the message row, the
// receiver's unread increment, and the last-message rederivation commit in
// one transaction.
func (s *MessageService) Send(ctx context.Context, senderID string, in SendInput) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("sender.id", senderID),
			attribute.String("receiver.id", in.ReceiverID),
		),
	)
	defer span.End()

	if senderID == in.ReceiverID {
		return nil, s.reject(ctx, in.Attachment, ErrSelfReference)
	}

	body := strings.TrimSpace(in.Body)
	msgType, err := s.resolveType(in, body)
	if err != nil {
		return nil, s.reject(ctx, in.Attachment, err)
	}
	if s.MaxBodyRunes > 0 && utf8.RuneCountInString(body) > s.MaxBodyRunes {
		return nil, s.reject(ctx, in.Attachment, ErrTooLong)
	}

	// Attachment validation precedes every store write.
	if in.Attachment != nil {
		if !AttachmentAllowed(in.Attachment.Mime) {
			return nil, s.reject(ctx, in.Attachment, ErrAttachmentType)
		}
		max := s.MaxAttachmentBytes
		if max <= 0 {
			max = DefaultMaxAttachmentBytes
		}
		if in.Attachment.Size <= 0 || in.Attachment.Size > max {
			return nil, s.reject(ctx, in.Attachment, ErrAttachmentTooLarge)
		}
	}

	// Authorization gate + lazy conversation creation.
	cv, err := s.Conversations.GetOrCreate(ctx, senderID, in.ReceiverID)
	if err != nil {
		return nil, s.reject(ctx, in.Attachment, err)
	}

	snapshot, err := s.resolveReply(ctx, cv, in.ReplyToID)
	if err != nil {
		return nil, s.reject(ctx, in.Attachment, err)
	}

	m := &domain.Message{
		ConversationID: cv.ID,
		SenderID:       senderID,
		ReceiverID:     in.ReceiverID,
		Body:           body,
		Type:           msgType,
		ReplyTo:        snapshot,
		CreatedAt:      time.Now().UTC(),
	}
	if in.Attachment != nil {
		m.AttachmentURL = in.Attachment.URL
		m.AttachmentName = in.Attachment.Name
		m.AttachmentSize = in.Attachment.Size
		m.AttachmentMime = in.Attachment.Mime
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreateMessage(ctx, tx, m); err != nil {
			return err
		}
		affected, err := repo.IncrementUnread(ctx, tx, cv.ID, in.ReceiverID)
		if err != nil {
			return err
		}
		if affected == 0 {
			// Counter rows are created with the conversation; a missing one
			// means the store is inconsistent, so fail the whole send.
			return gorm.ErrRecordNotFound
		}
		return s.Conversations.RecomputeLastMessage(ctx, tx, cv, s.PreviewMaxRunes)
	})
	if err != nil {
		return nil, s.reject(ctx, in.Attachment, err)
	}
	return m, nil
}

// Fetch returns one chronological page of the conversation between
// requesterID and otherUserID and applies the read receipt: every message
// addressed to the requester is marked read and the requester's unread
// counter drops to zero, atomically. Storage order is newest-first; the page
// is reversed before returning. hasMore reflects the non-deleted total.
func (s *MessageService) Fetch(ctx context.Context, requesterID, otherUserID string, page, limit int) (msgs []domain.Message, hasMore bool, err error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Fetch",
		trace.WithAttributes(
			attribute.String("user.id", requesterID),
			attribute.String("other.id", otherUserID),
			attribute.Int("page", page),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}

	cv, err := s.Conversations.GetOrCreate(ctx, requesterID, otherUserID)
	if err != nil {
		return nil, false, err
	}

	// A fetch is a read receipt: flag the requester's inbound messages and
	// zero the counter before building the page so the response reflects it.
	now := time.Now().UTC()
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.MarkConversationRead(ctx, tx, cv.ID, requesterID, now); err != nil {
			return err
		}
		return repo.ResetUnread(ctx, tx, cv.ID, requesterID)
	})
	if err != nil {
		return nil, false, err
	}

	total, err := repo.CountMessages(ctx, s.DB, cv.ID)
	if err != nil {
		return nil, false, err
	}

	offset := (page - 1) * limit
	items, err := repo.ListMessagesPage(ctx, s.DB, cv.ID, offset, limit)
	if err != nil {
		return nil, false, err
	}

	// Newest-first in storage, chronological on the wire.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, int64(offset+len(items)) < total, nil
}

// SoftDelete marks the message deleted by requesterID (who must be its
// sender or receiver), retains the content, and re-derives the owning
// conversation's last-message preview in the same transaction.
func (s *MessageService) SoftDelete(ctx context.Context, messageID, requesterID string) error {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "SoftDelete",
		trace.WithAttributes(attribute.String("message.id", messageID)),
	)
	defer span.End()

	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrMessageNotFound
		}
		return err
	}
	if m.SenderID != requesterID && m.ReceiverID != requesterID {
		return ErrNotMessageOwner
	}

	cv, err := repo.GetConversation(ctx, s.DB, m.ConversationID)
	if err != nil {
		return err
	}

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.SoftDeleteMessage(ctx, tx, messageID, requesterID, time.Now().UTC()); err != nil {
			return err
		}
		// Re-derive unconditionally; cheaper than proving the deleted row
		// wasn't the latest, and immune to preview drift.
		return s.Conversations.RecomputeLastMessage(ctx, tx, cv, s.PreviewMaxRunes)
	})
}

// resolveType normalizes and validates the message type. Attachments derive
// image/file from their MIME when the client didn't say; bare text requires
// a body (call entries may be bodyless).
func (s *MessageService) resolveType(in SendInput, body string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(in.Type))
	if t == "" {
		switch {
		case in.Attachment != nil && strings.HasPrefix(strings.ToLower(in.Attachment.Mime), "image/"):
			t = domain.MessageTypeImage
		case in.Attachment != nil:
			t = domain.MessageTypeFile
		default:
			t = domain.MessageTypeText
		}
	}
	switch t {
	case domain.MessageTypeText, domain.MessageTypeImage, domain.MessageTypeFile, domain.MessageTypeCall:
	default:
		return "", ErrInvalidMessageType
	}
	if body == "" && in.Attachment == nil && t != domain.MessageTypeCall {
		return "", ErrEmptyMessage
	}
	return t, nil
}

// resolveReply loads the reply target and captures its immutable snapshot:
// text, sender name, and type as they are at send time. The target must
// belong to the same conversation. Soft-deleted targets can still be
// snapshotted; their content is retained precisely for this.
func (s *MessageService) resolveReply(ctx context.Context, cv *domain.Conversation, replyToID string) (domain.ReplySnapshot, error) {
	if replyToID == "" {
		return domain.ReplySnapshot{}, nil
	}
	target, err := repo.GetMessage(ctx, s.DB, replyToID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ReplySnapshot{}, ErrReplyNotFound
		}
		return domain.ReplySnapshot{}, err
	}
	if target.ConversationID != cv.ID {
		return domain.ReplySnapshot{}, ErrReplyMismatch
	}

	senderName := target.SenderID
	if p, err := repo.GetUserProfile(ctx, s.DB, target.SenderID); err == nil {
		senderName = p.Name
	}

	text := target.Body
	if text == "" {
		text = MessagePreview(target, s.PreviewMaxRunes)
	}
	return domain.ReplySnapshot{
		MessageID:  target.ID,
		Text:       text,
		SenderName: senderName,
		Type:       target.Type,
	}, nil
}

// reject wraps a rejection with compensating cleanup of the staged
// attachment. Cleanup failures are logged, never silently swallowed, and
// never mask the original rejection.
func (s *MessageService) reject(ctx context.Context, att *AttachmentInput, err error) error {
	if att != nil && att.URL != "" && s.Attachments != nil {
		if cerr := s.Attachments.Remove(ctx, att.URL); cerr != nil {
			log.Warn().
				Err(cerr).
				Str("url", att.URL).
				Msg("staged attachment cleanup failed")
		}
	}
	return err
}

// MessagePreview builds the human-readable one-line preview used for the
// conversation's lastMessage column. Text bodies are clipped to maxRunes;
// values below 1 fall back to the stock 80.
func MessagePreview(m *domain.Message, maxRunes int) string {
	if maxRunes < 1 {
		maxRunes = previewRunes
	}
	switch m.Type {
	case domain.MessageTypeImage:
		return "Sent an image: " + attachmentLabel(m)
	case domain.MessageTypeFile:
		return "Sent a file: " + attachmentLabel(m)
	case domain.MessageTypeCall:
		return "Call"
	}
	return clipRunes(m.Body, maxRunes)
}

const previewRunes = 80

// attachmentLabel prefers the original filename and falls back to a generic
// label so previews never render empty.
func attachmentLabel(m *domain.Message) string {
	if m.AttachmentName != "" {
		return m.AttachmentName
	}
	return "attachment"
}

// clipRunes truncates s to at most max runes.
func clipRunes(s string, max int) string {
	if max > 0 && utf8.RuneCountInString(s) > max {
		return string([]rune(s)[:max])
	}
	return s
}
