// Idempotency records back the safe-retry contract for message sends: a
// retried POST /messages with the same key returns the originally created
// message instead of producing a duplicate.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-connect-backend/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (sender_id, receiver_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, senderID, receiverID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(receiverID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("sender_id = ? AND receiver_id = ? AND key = ? AND expires_at > ?", senderID, receiverID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// SenderKeyExists reports whether any non-expired record exists for
// (sender_id, key), across all receivers. Used by middleware for replay
// detection where the receiver is not yet known.
func SenderKeyExists(ctx context.Context, db *gorm.DB, senderID, key string, now time.Time) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Idempotency{}).
		Where("sender_id = ? AND key = ? AND expires_at > ?", senderID, key, now).
		Count(&n).Error
	return n > 0, err
}

// CreateIdempotency inserts a record and returns ErrDuplicate on unique violation.
func CreateIdempotency(ctx context.Context, db *gorm.DB, senderID, receiverID, key, messageID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Key:        key,
		MessageID:  messageID,
		Status:     status,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}
