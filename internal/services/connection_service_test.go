package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-connect-backend/internal/domain"
	"github.com/tbourn/go-connect-backend/internal/repo"
)

// newServiceDB opens a throwaway SQLite database migrated with every model the
// services touch, and seeds a few user profiles.
func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if err := db.AutoMigrate(
		&domain.Connection{},
		&domain.Conversation{},
		&domain.ConversationUnread{},
		&domain.Message{},
		&domain.UserProfile{},
		&domain.Idempotency{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	users := []domain.UserProfile{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob"},
		{ID: "carol", Name: "Carol"},
		{ID: "zed", Name: "Zed"},
	}
	for i := range users {
		if err := db.Create(&users[i]).Error; err != nil {
			t.Fatalf("seed user: %v", err)
		}
	}
	return db
}

// acceptPair drives a full request/accept between two users.
func acceptPair(t *testing.T, svc *ConnectionService, from, to string) *domain.Connection {
	t.Helper()
	ctx := context.Background()
	c, err := svc.SendRequest(ctx, from, to)
	if err != nil {
		t.Fatalf("SendRequest(%s→%s): %v", from, to, err)
	}
	c, err = svc.Respond(ctx, c.ID, to, DecisionAccept)
	if err != nil {
		t.Fatalf("Respond accept: %v", err)
	}
	return c
}

func TestSendRequest_Validation(t *testing.T) {
	db := newServiceDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	if _, err := svc.SendRequest(ctx, "alice", "alice"); !errors.Is(err, ErrSelfReference) {
		t.Fatalf("expected ErrSelfReference, got %v", err)
	}
	if _, err := svc.SendRequest(ctx, "alice", "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	c, err := svc.SendRequest(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if c.Status != domain.ConnectionPending || c.RequesterID != "alice" || c.RecipientID != "bob" {
		t.Fatalf("unexpected connection: %+v", c)
	}
}

func TestSendRequest_ExistingRecordBlocks(t *testing.T) {
	db := newServiceDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	if _, err := svc.SendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("first request: %v", err)
	}

	// Same direction, opposite direction, and post-decline all conflict under
	// the default policy. The conflict carries the blocking status.
	var exists *ConnectionExistsError
	if _, err := svc.SendRequest(ctx, "alice", "bob"); !errors.As(err, &exists) || exists.Status != domain.ConnectionPending {
		t.Fatalf("expected pending conflict, got %v", err)
	}
	if _, err := svc.SendRequest(ctx, "bob", "alice"); !errors.As(err, &exists) || exists.Status != domain.ConnectionPending {
		t.Fatalf("expected pending conflict (reverse), got %v", err)
	}

	conn, _ := repo.GetConnectionByPair(ctx, db, "alice", "bob")
	if _, err := svc.Respond(ctx, conn.ID, "bob", DecisionDecline); err != nil {
		t.Fatalf("decline: %v", err)
	}
	if _, err := svc.SendRequest(ctx, "alice", "bob"); !errors.As(err, &exists) || exists.Status != domain.ConnectionDeclined {
		t.Fatalf("declined must block re-requests by default, got %v", err)
	}
}

func TestSendRequest_ReRequestPolicyReopens(t *testing.T) {
	db := newServiceDB(t)
	svc := NewConnectionService(db)
	svc.AllowReRequest = true
	ctx := context.Background()

	first, err := svc.SendRequest(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := svc.Respond(ctx, first.ID, "bob", DecisionDecline); err != nil {
		t.Fatalf("decline: %v", err)
	}

	// Bob may now re-request; the same row reopens, re-oriented.
	reopened, err := svc.SendRequest(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if reopened.ID != first.ID {
		t.Fatalf("reopen must reuse the pair row: %s vs %s", reopened.ID, first.ID)
	}
	if reopened.Status != domain.ConnectionPending || reopened.RequesterID != "bob" || reopened.RecipientID != "alice" {
		t.Fatalf("reopen not re-oriented: %+v", reopened)
	}

	// Pending still conflicts even under the permissive policy.
	var exists *ConnectionExistsError
	if _, err := svc.SendRequest(ctx, "alice", "bob"); !errors.As(err, &exists) || exists.Status != domain.ConnectionPending {
		t.Fatalf("pending must conflict regardless of policy, got %v", err)
	}
}

func TestRespond_RulesAndFinality(t *testing.T) {
	db := newServiceDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	c, err := svc.SendRequest(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := svc.Respond(ctx, c.ID, "bob", "maybe"); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("expected ErrInvalidDecision, got %v", err)
	}
	if _, err := svc.Respond(ctx, c.ID, "alice", DecisionAccept); !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("requester must not respond, got %v", err)
	}
	if _, err := svc.Respond(ctx, "00000000-0000-0000-0000-000000000000", "bob", DecisionAccept); !errors.Is(err, ErrConnectionNotFound) {
		t.Fatalf("expected ErrConnectionNotFound, got %v", err)
	}

	got, err := svc.Respond(ctx, c.ID, "bob", DecisionAccept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.Status != domain.ConnectionAccepted || got.RespondedAt == nil {
		t.Fatalf("unexpected accepted record: %+v", got)
	}

	// The decision is final.
	if _, err := svc.Respond(ctx, c.ID, "bob", DecisionDecline); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
	reloaded, _ := repo.GetConnection(ctx, db, c.ID)
	if reloaded.Status != domain.ConnectionAccepted {
		t.Fatalf("status must survive repeated responses: %+v", reloaded)
	}
}

func TestCancel_RequesterOnlyWhilePending(t *testing.T) {
	db := newServiceDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	c, err := svc.SendRequest(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := svc.Cancel(ctx, c.ID, "bob"); !errors.Is(err, ErrNotRequester) {
		t.Fatalf("recipient must not cancel, got %v", err)
	}

	got, err := svc.Cancel(ctx, c.ID, "alice")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Status != domain.ConnectionCancelled {
		t.Fatalf("expected cancelled, got %+v", got)
	}
	if _, err := svc.Cancel(ctx, c.ID, "alice"); !errors.Is(err, ErrAlreadyResolved) {
		t.Fatalf("expected ErrAlreadyResolved, got %v", err)
	}
}

func TestNetwork_SortedByName_PendingNewestFirst(t *testing.T) {
	db := newServiceDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	// Accept in an order unrelated to names.
	acceptPair(t, svc, "alice", "zed")
	acceptPair(t, svc, "alice", "bob")

	views, err := svc.Network(ctx, "alice")
	if err != nil {
		t.Fatalf("Network: %v", err)
	}
	if len(views) != 2 || views[0].User.Name != "Bob" || views[1].User.Name != "Zed" {
		t.Fatalf("expected name order [Bob, Zed], got %+v", views)
	}

	// Incoming pending for carol.
	if _, err := svc.SendRequest(ctx, "bob", "carol"); err != nil {
		t.Fatalf("request: %v", err)
	}
	pending, err := svc.PendingRequests(ctx, "carol")
	if err != nil {
		t.Fatalf("PendingRequests: %v", err)
	}
	if len(pending) != 1 || pending[0].User.ID != "bob" {
		t.Fatalf("expected one pending request from bob, got %+v", pending)
	}
	// Outgoing pending never shows up as incoming for the requester.
	outgoing, _ := svc.PendingRequests(ctx, "bob")
	if len(outgoing) != 0 {
		t.Fatalf("requester must not see own request as incoming: %+v", outgoing)
	}
}

func TestCanMessage_Gate(t *testing.T) {
	db := newServiceDB(t)
	svc := NewConnectionService(db)
	ctx := context.Background()

	if ok, _ := svc.CanMessage(ctx, "alice", "alice"); ok {
		t.Fatalf("self must never pass the gate")
	}
	if ok, _ := svc.CanMessage(ctx, "alice", "bob"); ok {
		t.Fatalf("strangers must not pass the gate")
	}

	c, _ := svc.SendRequest(ctx, "alice", "bob")
	if ok, _ := svc.CanMessage(ctx, "alice", "bob"); ok {
		t.Fatalf("pending must not pass the gate")
	}

	if _, err := svc.Respond(ctx, c.ID, "bob", DecisionAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if ok, _ := svc.CanMessage(ctx, "bob", "alice"); !ok {
		t.Fatalf("accepted pair must pass the gate in either order")
	}
}
