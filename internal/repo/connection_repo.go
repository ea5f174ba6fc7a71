// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Connection
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a connection is not found, functions return ErrNotFound
//     (an alias of gorm.ErrRecordNotFound).
//   - Unique-pair violations surface as ErrDuplicatePair so the service
//     layer can map the race loser to a conflict result.
//   - On other DB errors (connectivity issues, etc.), the raw gorm error
//     is propagated.
//
// Concurrency:
//   - CreateConnection relies on the ux_connection_pair composite unique
//     index over the canonical (low, high) user pair. Two concurrent
//     requests for the same unordered pair, in either direction, persist
//     exactly one row; the loser gets ErrDuplicatePair, never a silent
//     duplicate.
//   - The state-transition helpers are guarded UPDATEs (WHERE status = …)
//     and report the stale case via RowsAffected, so a second responder or
//     a respond/cancel race cannot double-resolve a request.
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

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrDuplicatePair indicates that a row for the canonical user pair already
// exists (unique-index violation on connections or conversations).
var ErrDuplicatePair = errors.New("pair already exists")

// ErrStaleStatus indicates that a guarded state transition matched no row:
// the record was already resolved (or reopened) by a concurrent operation.
var ErrStaleStatus = errors.New("status already changed")

// isUniqueViolation detects unique-constraint violations across drivers that
// may not map to gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// glebarez/sqlite: "UNIQUE constraint failed: …"
	// Postgres: "duplicate key value violates unique constraint …"
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}

// CreateConnection inserts a new pending Connection from requesterID to
// recipientID. The canonical pair columns are derived here so callers cannot
// bypass the uniqueness strategy. Returns ErrDuplicatePair when any record
// for the unordered pair already exists.
func CreateConnection(ctx context.Context, db *gorm.DB, requesterID, recipientID string) (*domain.Connection, error) {
	low, high := domain.PairKey(requesterID, recipientID)
	c := &domain.Connection{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		RecipientID: recipientID,
		UserLowID:   low,
		UserHighID:  high,
		Status:      domain.ConnectionPending,
		RequestedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicatePair
		}
		return nil, err
	}
	return c, nil
}

// GetConnection fetches a connection by ID, or ErrNotFound if missing.
func GetConnection(ctx context.Context, db *gorm.DB, id string) (*domain.Connection, error) {
	var c domain.Connection
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConnectionByPair fetches the single connection record for the unordered
// pair {userA, userB}, regardless of direction. Returns ErrNotFound when no
// record exists.
func GetConnectionByPair(ctx context.Context, db *gorm.DB, userA, userB string) (*domain.Connection, error) {
	low, high := domain.PairKey(userA, userB)
	var c domain.Connection
	err := db.WithContext(ctx).
		Where("user_low_id = ? AND user_high_id = ?", low, high).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ResolveConnection transitions a pending connection to toStatus and stamps
// RespondedAt. The UPDATE is guarded on status = 'pending'; if the record was
// already resolved concurrently, ErrStaleStatus is returned and nothing
// changes.
func ResolveConnection(ctx context.Context, db *gorm.DB, id, toStatus string) error {
	res := db.WithContext(ctx).
		Model(&domain.Connection{}).
		Where("id = ? AND status = ?", id, domain.ConnectionPending).
		Updates(map[string]any{
			"status":       toStatus,
			"responded_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// ReopenConnection turns a declined or cancelled record back into a fresh
// pending request oriented from requesterID to recipientID. Used only when
// the re-request policy allows it. The guard on the terminal statuses keeps
// the operation race-safe: a concurrent reopen (or any other transition)
// makes this one report ErrStaleStatus.
func ReopenConnection(ctx context.Context, db *gorm.DB, id, requesterID, recipientID string) error {
	res := db.WithContext(ctx).
		Model(&domain.Connection{}).
		Where("id = ? AND status IN ?", id, []string{domain.ConnectionDeclined, domain.ConnectionCancelled}).
		Updates(map[string]any{
			"requester_id": requesterID,
			"recipient_id": recipientID,
			"status":       domain.ConnectionPending,
			"requested_at": time.Now().UTC(),
			"responded_at": nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// ListAcceptedConnections returns all accepted connections involving userID,
// most recently accepted first.
func ListAcceptedConnections(ctx context.Context, db *gorm.DB, userID string) ([]domain.Connection, error) {
	var out []domain.Connection
	err := db.WithContext(ctx).
		Where("status = ? AND (requester_id = ? OR recipient_id = ?)", domain.ConnectionAccepted, userID, userID).
		Order("responded_at desc").
		Find(&out).Error
	return out, err
}

// ListPendingIncoming returns pending connections where userID is the
// recipient (requests awaiting the user's response), newest first.
func ListPendingIncoming(ctx context.Context, db *gorm.DB, userID string) ([]domain.Connection, error) {
	var out []domain.Connection
	err := db.WithContext(ctx).
		Where("status = ? AND recipient_id = ?", domain.ConnectionPending, userID).
		Order("requested_at desc").
		Find(&out).Error
	return out, err
}

// PairAccepted reports whether an accepted connection exists for the
// unordered pair {userA, userB}. This is the authorization gate consulted
// before conversation creation, message sends, and message fetches.
func PairAccepted(ctx context.Context, db *gorm.DB, userA, userB string) (bool, error) {
	low, high := domain.PairKey(userA, userB)
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Connection{}).
		Where("user_low_id = ? AND user_high_id = ? AND status = ?", low, high, domain.ConnectionAccepted).
		Count(&n).Error
	return n > 0, err
}
