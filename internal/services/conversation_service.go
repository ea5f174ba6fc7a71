// Package services – ConversationService
//
// This file implements the ConversationService, which owns the one
// conversation per connected pair: lazy, idempotent creation gated by the
// accepted-connection check, the denormalized last-message preview, and the
// summary views the inbox is built from.
package services

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-connect-backend/internal/domain"
	"github.com/tbourn/go-connect-backend/internal/repo"
)

// ConversationService provides conversation-level operations. Creation is
// authorized through the gate (an accepted connection must exist) and made
// idempotent by the pair's unique index, mirroring the Connection strategy.
type ConversationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Gate answers whether two users may message each other.
	Gate *ConnectionService
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB, gate *ConnectionService) *ConversationService {
	return &ConversationService{DB: db, Gate: gate}
}

// ConversationSummary is the inbox row for one conversation: the counterpart
// profile, the last-message preview, and the viewer's unread count. Assembled
// explicitly in the service layer from separate fetches.
type ConversationSummary struct {
	Conversation domain.Conversation `json:"conversation"`
	User         domain.UserProfile  `json:"user"`
	UnreadCount  int64               `json:"unread_count"`
}

// GetOrCreate returns the conversation between userID and otherUserID,
// creating it (with both unread counters at zero) on first qualifying
// access. It requires an accepted connection (ErrNotConnected otherwise) and
// is idempotent under concurrent calls: the insert loser re-reads the row the
// winner created.
func (s *ConversationService) GetOrCreate(ctx context.Context, userID, otherUserID string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "GetOrCreate",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("other.id", otherUserID),
		),
	)
	defer span.End()

	if userID == otherUserID {
		return nil, ErrSelfReference
	}

	allowed, err := s.Gate.CanMessage(ctx, userID, otherUserID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotConnected
	}

	cv, err := repo.GetConversationByPair(ctx, s.DB, userID, otherUserID)
	if err == nil {
		return cv, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	cv, err = repo.CreateConversation(ctx, s.DB, userID, otherUserID)
	if errors.Is(err, repo.ErrDuplicatePair) {
		return repo.GetConversationByPair(ctx, s.DB, userID, otherUserID)
	}
	return cv, err
}

// Get returns the conversation by id, requiring the caller to be one of the
// two participants (ErrNotParticipant otherwise).
func (s *ConversationService) Get(ctx context.Context, conversationID, userID string) (*domain.Conversation, error) {
	cv, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !cv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return cv, nil
}

// List returns the viewer's conversation summaries ordered by last activity
// descending: counterpart profile, preview, and the viewer's unread count.
func (s *ConversationService) List(ctx context.Context, userID string) ([]ConversationSummary, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	convs, err := repo.ListConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(convs))
	for i := range convs {
		ids = append(ids, convs[i].OtherParticipant(userID))
	}
	profiles, err := repo.GetUserProfiles(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ConversationSummary, 0, len(convs))
	for i := range convs {
		other := convs[i].OtherParticipant(userID)
		p, ok := profiles[other]
		if !ok {
			p = domain.UserProfile{ID: other}
		}
		unread, err := repo.UnreadCount(ctx, s.DB, convs[i].ID, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, ConversationSummary{
			Conversation: convs[i],
			User:         p,
			UnreadCount:  unread,
		})
	}
	return out, nil
}

// RecomputeLastMessage re-derives the conversation's preview from the latest
// non-deleted message, clipping text bodies to maxRunes (values below 1 keep
// the stock limit). When no message remains it resets the preview to the
// empty sentinel and the activity timestamp to the conversation's creation
// time. The tx handle lets callers run the rederivation inside the same
// transaction as the write that triggered it.
func (s *ConversationService) RecomputeLastMessage(ctx context.Context, tx *gorm.DB, cv *domain.Conversation, maxRunes int) error {
	latest, err := repo.LatestMessage(ctx, tx, cv.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.SetLastMessage(ctx, tx, cv.ID, "", cv.CreatedAt)
		}
		return err
	}
	return repo.SetLastMessage(ctx, tx, cv.ID, MessagePreview(latest, maxRunes), latest.CreatedAt)
}
