// Package services – ConnectionService
//
// This file implements the ConnectionService, which owns the connection
// request/accept/decline/cancel lifecycle between user pairs and the
// authorization gate derived from it. It validates inputs, enforces the
// state machine (pending → accepted | declined | cancelled, all terminal),
// and coordinates repository operations. Pair uniqueness is delegated to the
// store's composite unique index, so concurrent opposite-direction requests
// resolve to exactly one record.
//
// Service-level errors (e.g., ErrAlreadyResolved, ConnectionExistsError) are
// returned for predictable cases so handlers can map them to HTTP results
// consistently.
package services

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/tbourn/go-connect-backend/internal/domain"
	"github.com/tbourn/go-connect-backend/internal/repo"
)

// Respond decisions accepted by Respond.
const (
	DecisionAccept  = "accept"
	DecisionDecline = "decline"
)

// ConnectionService provides the connection-graph operations: sending,
// responding to, and cancelling requests, listing a user's network, and the
// CanMessage authorization gate.
type ConnectionService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	// AllowReRequest controls the re-request policy. When false (the
	// default) any existing record for the pair, declined and cancelled
	// included, permanently blocks a new request. When true, a declined or
	// cancelled record is atomically reopened as a fresh pending request.
	AllowReRequest bool

	// NameLocale orders network views by display name; English when unset.
	NameLocale language.Tag
}

// NewConnectionService constructs a ConnectionService with defaults.
func NewConnectionService(db *gorm.DB) *ConnectionService {
	return &ConnectionService{DB: db, NameLocale: language.English}
}

// ConnectionView pairs a connection record with the counterpart's profile
// for presentation. Assembly is explicit: the profile is fetched separately
// and merged here, never probed dynamically.
type ConnectionView struct {
	Connection domain.Connection  `json:"connection"`
	User       domain.UserProfile `json:"user"`
}

// SendRequest creates a pending connection from requesterID to recipientID.
//
// Rejections:
//   - ErrSelfReference when requester and recipient are the same user.
//   - ErrUserNotFound when the recipient does not exist.
//   - *ConnectionExistsError carrying the blocking status when any record
//     already exists for the pair (subject to the re-request policy).
//
// Concurrency: the pair's unique index decides races. The insert loser
// re-reads the winner's record and reports it via ConnectionExistsError.
func (s *ConnectionService) SendRequest(ctx context.Context, requesterID, recipientID string) (*domain.Connection, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "SendRequest",
		trace.WithAttributes(
			attribute.String("requester.id", requesterID),
			attribute.String("recipient.id", recipientID),
		),
	)
	defer span.End()

	if requesterID == recipientID {
		return nil, ErrSelfReference
	}

	exists, err := repo.UserExists(ctx, s.DB, recipientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrUserNotFound
	}

	existing, err := repo.GetConnectionByPair(ctx, s.DB, requesterID, recipientID)
	switch {
	case err == nil:
		return s.handleExisting(ctx, existing, requesterID, recipientID)
	case errors.Is(err, repo.ErrNotFound):
		// fall through to create
	default:
		return nil, err
	}

	c, err := repo.CreateConnection(ctx, s.DB, requesterID, recipientID)
	if errors.Is(err, repo.ErrDuplicatePair) {
		// Lost the race to a concurrent request (possibly from the other
		// direction). Surface the winner's status.
		winner, gerr := repo.GetConnectionByPair(ctx, s.DB, requesterID, recipientID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &ConnectionExistsError{Status: winner.Status}
	}
	return c, err
}

// handleExisting applies the blocking/re-request policy to a pre-existing
// pair record.
func (s *ConnectionService) handleExisting(ctx context.Context, existing *domain.Connection, requesterID, recipientID string) (*domain.Connection, error) {
	terminal := existing.Status == domain.ConnectionDeclined || existing.Status == domain.ConnectionCancelled
	if !s.AllowReRequest || !terminal {
		return nil, &ConnectionExistsError{Status: existing.Status}
	}

	err := repo.ReopenConnection(ctx, s.DB, existing.ID, requesterID, recipientID)
	if errors.Is(err, repo.ErrStaleStatus) {
		// Someone else got to the record first; report its current state.
		current, gerr := repo.GetConnection(ctx, s.DB, existing.ID)
		if gerr != nil {
			return nil, gerr
		}
		return nil, &ConnectionExistsError{Status: current.Status}
	}
	if err != nil {
		return nil, err
	}
	return repo.GetConnection(ctx, s.DB, existing.ID)
}

// Respond applies the recipient's decision to a pending request.
//
// Only the recipient may respond (ErrNotRecipient otherwise) and only while
// the request is pending; a second call on the same id fails with
// ErrAlreadyResolved and leaves the status unchanged.
func (s *ConnectionService) Respond(ctx context.Context, connectionID, responderID, decision string) (*domain.Connection, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "Respond",
		trace.WithAttributes(
			attribute.String("connection.id", connectionID),
			attribute.String("decision", decision),
		),
	)
	defer span.End()

	var to string
	switch decision {
	case DecisionAccept:
		to = domain.ConnectionAccepted
	case DecisionDecline:
		to = domain.ConnectionDeclined
	default:
		return nil, ErrInvalidDecision
	}

	c, err := repo.GetConnection(ctx, s.DB, connectionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	if c.RecipientID != responderID {
		return nil, ErrNotRecipient
	}
	if c.Status != domain.ConnectionPending {
		return nil, ErrAlreadyResolved
	}

	if err := repo.ResolveConnection(ctx, s.DB, connectionID, to); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil, ErrAlreadyResolved
		}
		return nil, err
	}
	return repo.GetConnection(ctx, s.DB, connectionID)
}

// Cancel withdraws a pending request. Only the original requester may cancel
// (ErrNotRequester otherwise), and only while pending (ErrAlreadyResolved).
func (s *ConnectionService) Cancel(ctx context.Context, connectionID, requesterID string) (*domain.Connection, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "Cancel",
		trace.WithAttributes(attribute.String("connection.id", connectionID)),
	)
	defer span.End()

	c, err := repo.GetConnection(ctx, s.DB, connectionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	if c.RequesterID != requesterID {
		return nil, ErrNotRequester
	}
	if c.Status != domain.ConnectionPending {
		return nil, ErrAlreadyResolved
	}

	if err := repo.ResolveConnection(ctx, s.DB, connectionID, domain.ConnectionCancelled); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			return nil, ErrAlreadyResolved
		}
		return nil, err
	}
	return repo.GetConnection(ctx, s.DB, connectionID)
}

// Network returns the user's accepted connections with counterpart profiles,
// ordered by display name under the configured locale.
func (s *ConnectionService) Network(ctx context.Context, userID string) ([]ConnectionView, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "Network",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	conns, err := repo.ListAcceptedConnections(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	views, err := s.assembleViews(ctx, conns, userID)
	if err != nil {
		return nil, err
	}

	col := collate.New(s.localeOrDefault())
	sort.SliceStable(views, func(i, j int) bool {
		return col.CompareString(views[i].User.Name, views[j].User.Name) < 0
	})
	return views, nil
}

// PendingRequests returns the pending connections where the user is the
// recipient, with requester profiles, newest first (repo order preserved).
func (s *ConnectionService) PendingRequests(ctx context.Context, userID string) ([]ConnectionView, error) {
	tr := otel.Tracer("services/ConnectionService")
	ctx, span := tr.Start(ctx, "PendingRequests",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	conns, err := repo.ListPendingIncoming(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	return s.assembleViews(ctx, conns, userID)
}

// CanMessage reports whether userA and userB hold an accepted connection.
// It is the stateless authorization gate consulted before every
// conversation-creation, message-send, and message-fetch operation.
func (s *ConnectionService) CanMessage(ctx context.Context, userA, userB string) (bool, error) {
	if userA == userB {
		return false, nil
	}
	return repo.PairAccepted(ctx, s.DB, userA, userB)
}

// assembleViews merges counterpart profiles into connection views via one
// batched profile fetch. Unknown counterparts keep a zero profile with just
// the id filled in, so callers always see who the record points at.
func (s *ConnectionService) assembleViews(ctx context.Context, conns []domain.Connection, userID string) ([]ConnectionView, error) {
	ids := make([]string, 0, len(conns))
	for i := range conns {
		ids = append(ids, conns[i].OtherUser(userID))
	}
	profiles, err := repo.GetUserProfiles(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}

	views := make([]ConnectionView, 0, len(conns))
	for i := range conns {
		other := conns[i].OtherUser(userID)
		p, ok := profiles[other]
		if !ok {
			p = domain.UserProfile{ID: other}
		}
		views = append(views, ConnectionView{Connection: conns[i], User: p})
	}
	return views, nil
}

// localeOrDefault returns the configured collation locale or English.
func (s *ConnectionService) localeOrDefault() language.Tag {
	if s.NameLocale == language.Und {
		return language.English
	}
	return s.NameLocale
}
