// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides read-only access to the externally
// owned users table.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-connect-backend/internal/domain"
)

// GetUserProfile fetches a user profile by ID, or ErrNotFound. Used for
// recipient-existence checks and reply-snapshot sender names.
func GetUserProfile(ctx context.Context, db *gorm.DB, id string) (*domain.UserProfile, error) {
	var u domain.UserProfile
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserProfiles fetches the profiles for a set of user ids as an
// id → profile map. Missing ids are simply absent from the result; callers
// assembling views decide how to render an unknown counterpart.
func GetUserProfiles(ctx context.Context, db *gorm.DB, ids []string) (map[string]domain.UserProfile, error) {
	out := make(map[string]domain.UserProfile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []domain.UserProfile
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// UserExists reports whether a user row exists for id.
func UserExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.UserProfile{}).
		Where("id = ?", id).
		Count(&n).Error
	return n > 0, err
}
