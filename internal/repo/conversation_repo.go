// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Conversation model and its per-participant unread counters.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-connect-backend/internal/domain"
)

// CreateConversation inserts the conversation row for the unordered pair
// {userA, userB} together with both zeroed unread counters, in one
// transaction. Returns ErrDuplicatePair when the pair already has a
// conversation (concurrent get-or-create), in which case nothing is written.
func CreateConversation(ctx context.Context, db *gorm.DB, userA, userB string) (*domain.Conversation, error) {
	low, high := domain.PairKey(userA, userB)
	now := time.Now().UTC()
	cv := &domain.Conversation{
		ID:            uuid.NewString(),
		UserLowID:     low,
		UserHighID:    high,
		LastMessage:   "",
		LastMessageAt: now,
		CreatedAt:     now,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cv).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicatePair
			}
			return err
		}
		for _, uid := range []string{low, high} {
			u := &domain.ConversationUnread{
				ID:             uuid.NewString(),
				ConversationID: cv.ID,
				UserID:         uid,
				Count:          0,
			}
			if err := tx.Create(u).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cv, nil
}

// GetConversation fetches a conversation by ID, or ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var cv domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&cv).Error; err != nil {
		return nil, err
	}
	return &cv, nil
}

// GetConversationByPair fetches the conversation for the unordered pair
// {userA, userB}, or ErrNotFound when the pair has never talked.
func GetConversationByPair(ctx context.Context, db *gorm.DB, userA, userB string) (*domain.Conversation, error) {
	low, high := domain.PairKey(userA, userB)
	var cv domain.Conversation
	err := db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		First(&cv).Error
	if err != nil {
		return nil, err
	}
	return &cv, nil
}

// ListConversations returns all conversations userID participates in,
// ordered by last activity descending.
func ListConversations(ctx context.Context, db *gorm.DB, userID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Where("user_low_id = ? OR user_high_id = ?", userID, userID).
		Order("last_message_at desc").
		Find(&out).Error
	return out, err
}

// SetLastMessage updates the denormalized preview columns on a conversation.
// Callers derive preview/at from the latest non-deleted message (or the
// empty sentinel plus the conversation creation time when none remains).
func SetLastMessage(ctx context.Context, db *gorm.DB, conversationID, preview string, at time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]any{
			"last_message":    preview,
			"last_message_at": at,
		}).Error
}

// IncrementUnread bumps the unread counter for userID in the conversation by
// one, atomically in the store (count = count + 1). The update is scoped to
// an existing (conversation, user) counter row, so it never creates a
// counter for a non-participant; such calls affect zero rows and are
// reported via the returned row count.
func IncrementUnread(ctx context.Context, db *gorm.DB, conversationID, userID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.ConversationUnread{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("count", gorm.Expr("count + 1"))
	return res.RowsAffected, res.Error
}

// ResetUnread sets userID's unread counter for the conversation to zero.
// Like IncrementUnread it only touches an existing participant counter.
func ResetUnread(ctx context.Context, db *gorm.DB, conversationID, userID string) error {
	return db.WithContext(ctx).
		Model(&domain.ConversationUnread{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update("count", 0).Error
}

// UnreadCount returns userID's unread counter for the conversation.
// A missing counter row (non-participant) reads as zero.
func UnreadCount(ctx context.Context, db *gorm.DB, conversationID, userID string) (int64, error) {
	var u domain.ConversationUnread
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&u).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, nil
		}
		return 0, err
	}
	return u.Count, nil
}

// UnreadCounts returns the per-participant unread counters for the
// conversation as a userID → count map.
func UnreadCounts(ctx context.Context, db *gorm.DB, conversationID string) (map[string]int64, error) {
	var rows []domain.ConversationUnread
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.UserID] = r.Count
	}
	return out, nil
}
