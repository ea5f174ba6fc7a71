// Package domain defines the persistence models for connections,
// conversations, messages, and unread counters. These types are mapped with
// GORM and form the core data layer of the connection/messaging backend.
package domain

import "time"

// Connection lifecycle states. Pending is the only non-terminal state; a
// connection that has been accepted, declined, or cancelled never transitions
// again (declined/cancelled records may only be reopened as a brand-new
// pending request when the re-request policy allows it).
const (
	ConnectionPending   = "pending"
	ConnectionAccepted  = "accepted"
	ConnectionDeclined  = "declined"
	ConnectionCancelled = "cancelled"
)

// Message content types.
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
	MessageTypeFile  = "file"
	MessageTypeCall  = "call"
)

// PairKey returns the canonical ordering of two user ids: the lexicographically
// smaller id first. Connection and Conversation rows store this ordering in
// (UserLowID, UserHighID) so a composite unique index enforces at most one
// record per unordered pair, regardless of which side initiated.
func PairKey(a, b string) (low, high string) {
	if a > b {
		return b, a
	}
	return a, b
}

// Connection represents a directed relationship request between two users.
// RequesterID/RecipientID record direction; UserLowID/UserHighID record the
// canonical pair and carry the uniqueness constraint that makes concurrent
// A→B / B→A requests resolve to exactly one persisted row.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - RequesterID / RecipientID: direction of the request.
//   - UserLowID / UserHighID: canonical sorted pair, composite-unique.
//   - Status: pending|accepted|declined|cancelled (enforced by DB constraint).
//   - RequestedAt: when the request was created (reset on policy reopen).
//   - RespondedAt: when the recipient accepted/declined or the requester
//     cancelled; nil while pending.
type Connection struct {
	ID          string     `json:"id"           gorm:"type:char(36);primaryKey"`
	RequesterID string     `json:"requester_id" gorm:"type:varchar(64);not null;index"`
	RecipientID string     `json:"recipient_id" gorm:"type:varchar(64);not null;index"`
	UserLowID   string     `json:"-"            gorm:"type:varchar(64);not null;uniqueIndex:ux_connection_pair,priority:1"`
	UserHighID  string     `json:"-"            gorm:"type:varchar(64);not null;uniqueIndex:ux_connection_pair,priority:2"`
	Status      string     `json:"status"       gorm:"type:varchar(16);not null;index;check:status IN ('pending','accepted','declined','cancelled')"`
	RequestedAt time.Time  `json:"requested_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// TableName returns the database table name for Connection.
func (Connection) TableName() string { return "connections" }

// Involves reports whether userID is either side of the connection.
func (c *Connection) Involves(userID string) bool {
	return c.RequesterID == userID || c.RecipientID == userID
}

// OtherUser returns the counterpart of userID in the connection. It returns
// an empty string when userID is not involved.
func (c *Connection) OtherUser(userID string) string {
	switch userID {
	case c.RequesterID:
		return c.RecipientID
	case c.RecipientID:
		return c.RequesterID
	}
	return ""
}

// Conversation is the per-connected-pair container for message history.
// Exactly one row exists per unordered pair (same canonical-pair strategy as
// Connection). LastMessage is a denormalized preview of the most recent
// non-deleted message; it is re-derived on every send and on every soft
// delete, never patched incrementally. When no non-deleted message remains,
// LastMessage is the empty sentinel and LastMessageAt falls back to CreatedAt.
type Conversation struct {
	ID            string    `json:"id"              gorm:"type:char(36);primaryKey"`
	UserLowID     string    `json:"user_low_id"     gorm:"type:varchar(64);not null;uniqueIndex:ux_conversation_pair,priority:1"`
	UserHighID    string    `json:"user_high_id"    gorm:"type:varchar(64);not null;uniqueIndex:ux_conversation_pair,priority:2"`
	LastMessage   string    `json:"last_message"    gorm:"type:varchar(255);not null;default:''"`
	LastMessageAt time.Time `json:"last_message_at" gorm:"index"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// HasParticipant reports whether userID is one of the two participants.
func (cv *Conversation) HasParticipant(userID string) bool {
	return cv.UserLowID == userID || cv.UserHighID == userID
}

// OtherParticipant returns the counterpart of userID, or "" when userID is
// not a participant.
func (cv *Conversation) OtherParticipant(userID string) string {
	switch userID {
	case cv.UserLowID:
		return cv.UserHighID
	case cv.UserHighID:
		return cv.UserLowID
	}
	return ""
}

// ConversationUnread is the per-participant unread counter for a conversation.
// Rows are created (at zero) together with the conversation, one per
// participant, and only ever mutated by atomic column arithmetic: +1 on a
// received message, reset to 0 on fetch. The composite unique index keeps one
// counter per (conversation, user), and the participant-scoped updates never
// create counters for non-participants.
type ConversationUnread struct {
	ID             string    `json:"-"               gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversation_id" gorm:"type:char(36);not null;uniqueIndex:ux_unread_conversation_user,priority:1"`
	UserID         string    `json:"user_id"         gorm:"type:varchar(64);not null;uniqueIndex:ux_unread_conversation_user,priority:2"`
	Count          int64     `json:"count"           gorm:"not null;default:0;check:count >= 0"`
	UpdatedAt      time.Time `json:"-"`
}

// TableName returns the database table name for ConversationUnread.
func (ConversationUnread) TableName() string { return "conversation_unreads" }

// ReplySnapshot is an immutable copy of the key fields of a referenced
// message, captured at send time and embedded into the replying message.
// It is a value, not a foreign-key join: soft-deleting the original message
// later does not change or invalidate the snapshot.
type ReplySnapshot struct {
	MessageID  string `json:"message_id"  gorm:"type:char(36)"`
	Text       string `json:"text"        gorm:"type:text"`
	SenderName string `json:"sender_name" gorm:"type:varchar(128)"`
	Type       string `json:"type"        gorm:"type:varchar(16)"`
}

// IsZero reports whether the snapshot is absent (no reply reference).
func (r ReplySnapshot) IsZero() bool { return r.MessageID == "" }

// Message is a single entry in a conversation's append-only log.
//
// Deletion is soft: IsDeleted/DeletedAt/DeletedBy are set and the content is
// retained, so reply snapshots elsewhere stay interpretable and history
// integrity survives. DeletedAt is a plain timestamp column rather than
// gorm.DeletedAt: the log must keep returning soft-deleted rows to internal
// queries, which GORM's soft-delete scoping would hide.
type Message struct {
	ID             string `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conversation_msgs,priority:1"`
	SenderID       string `json:"sender_id"       gorm:"type:varchar(64);not null;index"`
	ReceiverID     string `json:"receiver_id"     gorm:"type:varchar(64);not null;index"`
	Body           string `json:"body"            gorm:"type:text;not null"`
	Type           string `json:"type"            gorm:"type:varchar(16);not null;default:'text';check:type IN ('text','image','file','call')"`

	AttachmentURL  string `json:"attachment_url,omitempty"  gorm:"type:varchar(512)"`
	AttachmentName string `json:"attachment_name,omitempty" gorm:"type:varchar(255)"`
	AttachmentSize int64  `json:"attachment_size,omitempty"`
	AttachmentMime string `json:"attachment_mime,omitempty" gorm:"type:varchar(128)"`

	ReplyTo ReplySnapshot `json:"reply_to" gorm:"embedded;embeddedPrefix:reply_"`

	IsRead bool       `json:"is_read" gorm:"not null;default:false;index"`
	ReadAt *time.Time `json:"read_at,omitempty"`

	IsDeleted bool       `json:"is_deleted" gorm:"not null;default:false;index"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty" gorm:"type:varchar(64)"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_conversation_msgs,priority:2"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// UserProfile is the read-only projection of the externally owned users
// table. The messaging subsystem consumes it for recipient-existence checks,
// reply-snapshot sender names, and view assembly; it never writes to it.
type UserProfile struct {
	ID     string `json:"id"     gorm:"type:varchar(64);primaryKey"`
	Name   string `json:"name"   gorm:"type:varchar(128);not null"`
	Role   string `json:"role"   gorm:"type:varchar(32)"`
	Avatar string `json:"avatar" gorm:"type:varchar(512)"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string { return "users" }
