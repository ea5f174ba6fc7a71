// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency represents a recorded result of a previously processed message
// send, keyed by (sender_id, receiver_id, key). It enables safe retries for
// POST /messages by returning the originally created message without
// re-executing side effects (no duplicate message, no double unread bump).
type Idempotency struct {
	ID         string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	SenderID   string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_sender_receiver_key,priority:1"`
	ReceiverID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_sender_receiver_key,priority:2"`
	Key        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_sender_receiver_key,priority:3"`
	MessageID  string    `gorm:"type:TEXT NOT NULL"`
	Status     int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt  time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt  time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
