// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model: the append-only (except soft delete) conversation log.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-connect-backend/internal/domain"
)

// CreateMessage inserts a new message row. The caller fills in everything but
// the ID and CreatedAt; ReplyTo may be the zero snapshot for plain messages.
func CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) (*domain.Message, error) {
	m.ID = uuid.NewString()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return m, db.WithContext(ctx).Create(m).Error
}

// GetMessage fetches a message by ID, soft-deleted rows included; reply
// resolution and delete authorization need to see them.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessagesPage returns a page of non-deleted messages for a conversation
// in storage order: newest first, ties broken by insertion order (id desc).
// Callers reverse the slice for chronological presentation.
func ListMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountMessages returns the number of non-deleted messages in a conversation.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Message{}).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Count(&total).Error
	return total, err
}

// LatestMessage returns the most recent non-deleted message of a
// conversation, or ErrNotFound when none remains. This is the pure
// re-derivation query behind the lastMessage preview: it is re-run after
// every send and soft delete instead of patching the preview incrementally.
func LatestMessage(ctx context.Context, db *gorm.DB, conversationID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkConversationRead flags every unread message addressed to userID in the
// conversation as read at the given time. Returns the number of rows updated.
// Soft-deleted rows are included on purpose: a fetch is the user's read
// receipt for everything addressed to them up to that point.
func MarkConversationRead(ctx context.Context, db *gorm.DB, conversationID, userID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND is_read = ?", conversationID, userID, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": at,
		})
	return res.RowsAffected, res.Error
}

// SoftDeleteMessage marks the message deleted by userID. Content columns are
// retained; only the deletion flags change. The guard on is_deleted makes a
// repeated delete a no-op reported via RowsAffected.
func SoftDeleteMessage(ctx context.Context, db *gorm.DB, id, userID string, at time.Time) (int64, error) {
	res := db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]any{
			"is_deleted": true,
			"deleted_at": at,
			"deleted_by": userID,
		})
	return res.RowsAffected, res.Error
}
