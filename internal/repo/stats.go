// Aggregate queries feeding the conditional-response path: the HTTP layer
// derives weak ETags from the row count and newest timestamp returned here.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-connect-backend/internal/domain"
)

// ConversationsStats returns aggregate metadata for a user's conversations:
// the total number of rows and the greatest LastMessageAt among them.
//
// When the user has no conversations, the returned count is 0 and maxAt is
// nil.
func ConversationsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Where("user_low_id = ? OR user_high_id = ?", userID, userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Latest activity (avoid MAX() -> TEXT in SQLite)
	var row struct {
		LastMessageAt time.Time
	}
	if err = q.Select("last_message_at").Order("last_message_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.LastMessageAt, nil
}

// MessagesStats returns aggregate metadata for the non-deleted messages of a
// conversation: the total number of rows and the greatest CreatedAt among
// them. When the conversation has no visible messages, count is 0 and maxAt
// is nil.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ? AND is_deleted = ?", conversationID, false)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct {
		CreatedAt time.Time
	}
	if err = q.Select("created_at").Order("created_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.CreatedAt, nil
}
