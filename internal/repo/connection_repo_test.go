package repo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-connect-backend/internal/domain"
)

func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("repo_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestCreateConnection_Success_PersistsCanonicalPair(t *testing.T) {
	db := newRepoDB(t, &domain.Connection{})

	start := time.Now().UTC().Add(-time.Minute)
	c, err := CreateConnection(context.Background(), db, "zoe", "adam")
	if err != nil {
		t.Fatalf("CreateConnection: %v", err)
	}
	if c.ID == "" || c.RequesterID != "zoe" || c.RecipientID != "adam" {
		t.Fatalf("unexpected Connection fields: %+v", c)
	}
	if c.UserLowID != "adam" || c.UserHighID != "zoe" {
		t.Fatalf("pair not canonical: low=%q high=%q", c.UserLowID, c.UserHighID)
	}
	if c.Status != domain.ConnectionPending || c.RespondedAt != nil {
		t.Fatalf("new connection should be pending with nil RespondedAt: %+v", c)
	}
	if c.RequestedAt.Before(start) {
		t.Fatalf("RequestedAt seems unset: %v", c.RequestedAt)
	}

	// round-trip
	var got domain.Connection
	if err := db.First(&got, "id = ?", c.ID).Error; err != nil {
		t.Fatalf("load created connection: %v", err)
	}
	if got.RequesterID != "zoe" || got.Status != domain.ConnectionPending {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

func TestCreateConnection_DuplicatePair_BothDirections(t *testing.T) {
	db := newRepoDB(t, &domain.Connection{})
	ctx := context.Background()

	if _, err := CreateConnection(ctx, db, "u1", "u2"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	// Same direction.
	if _, err := CreateConnection(ctx, db, "u1", "u2"); !errors.Is(err, ErrDuplicatePair) {
		t.Fatalf("expected ErrDuplicatePair (same direction), got %v", err)
	}
	// Opposite direction must hit the same unique index.
	if _, err := CreateConnection(ctx, db, "u2", "u1"); !errors.Is(err, ErrDuplicatePair) {
		t.Fatalf("expected ErrDuplicatePair (opposite direction), got %v", err)
	}

	var n int64
	if err := db.Model(&domain.Connection{}).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("expected exactly one row, got n=%d err=%v", n, err)
	}
}

func TestCreateConnection_ConcurrentOppositeDirections_OneWinner(t *testing.T) {
	db := newRepoDB(t, &domain.Connection{})
	ctx := context.Background()

	// Let the losing writer wait out the winner's lock instead of failing
	// with SQLITE_BUSY.
	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}

	start := make(chan struct{})
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		pair := pair
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := CreateConnection(ctx, db, pair[0], pair[1])
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	var okCount, dupCount int
	for err := range errs {
		switch {
		case err == nil:
			okCount++
		case errors.Is(err, ErrDuplicatePair):
			dupCount++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if okCount != 1 || dupCount != 1 {
		t.Fatalf("want one winner and one ErrDuplicatePair, got ok=%d dup=%d", okCount, dupCount)
	}

	var n int64
	if err := db.Model(&domain.Connection{}).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("expected exactly one row, got n=%d err=%v", n, err)
	}
}

func TestGetConnectionByPair_EitherOrder(t *testing.T) {
	db := newRepoDB(t, &domain.Connection{})
	ctx := context.Background()

	c, err := CreateConnection(ctx, db, "u1", "u2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, pair := range [][2]string{{"u1", "u2"}, {"u2", "u1"}} {
		got, err := GetConnectionByPair(ctx, db, pair[0], pair[1])
		if err != nil {
			t.Fatalf("GetConnectionByPair(%v): %v", pair, err)
		}
		if got.ID != c.ID {
			t.Fatalf("wrong record for %v: %+v", pair, got)
		}
	}

	if _, err := GetConnectionByPair(ctx, db, "u1", "u3"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown pair, got %v", err)
	}
}

func TestResolveConnection_GuardedTransition(t *testing.T) {
	db := newRepoDB(t, &domain.Connection{})
	ctx := context.Background()

	c, err := CreateConnection(ctx, db, "u1", "u2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := ResolveConnection(ctx, db, c.ID, domain.ConnectionAccepted); err != nil {
		t.Fatalf("ResolveConnection: %v", err)
	}
	got, err := GetConnection(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.ConnectionAccepted || got.RespondedAt == nil {
		t.Fatalf("expected accepted with RespondedAt set: %+v", got)
	}

	// Second transition must not match the guard.
	if err := ResolveConnection(ctx, db, c.ID, domain.ConnectionDeclined); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus on re-resolve, got %v", err)
	}
	got2, _ := GetConnection(ctx, db, c.ID)
	if got2.Status != domain.ConnectionAccepted {
		t.Fatalf("status must be unchanged after stale attempt: %+v", got2)
	}
}

func TestReopenConnection_TerminalOnly_ReorientsRequest(t *testing.T) {
	db := newRepoDB(t, &domain.Connection{})
	ctx := context.Background()

	c, err := CreateConnection(ctx, db, "u1", "u2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Pending is not reopenable.
	if err := ReopenConnection(ctx, db, c.ID, "u2", "u1"); !errors.Is(err, ErrStaleStatus) {
		t.Fatalf("expected ErrStaleStatus reopening pending, got %v", err)
	}

	if err := ResolveConnection(ctx, db, c.ID, domain.ConnectionDeclined); err != nil {
		t.Fatalf("decline: %v", err)
	}

	// Declined reopens, re-oriented from the new requester.
	if err := ReopenConnection(ctx, db, c.ID, "u2", "u1"); err != nil {
		t.Fatalf("ReopenConnection: %v", err)
	}
	got, err := GetConnection(ctx, db, c.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != domain.ConnectionPending || got.RequesterID != "u2" || got.RecipientID != "u1" {
		t.Fatalf("reopen did not re-orient: %+v", got)
	}
	if got.RespondedAt != nil {
		t.Fatalf("RespondedAt must reset to nil on reopen: %+v", got)
	}
}

func TestListAcceptedConnections_FilterAndOrder(t *testing.T) {
	db := newRepoDB(t, &domain.Connection{})
	ctx := context.Background()

	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	seed := []domain.Connection{
		{ID: "c-old", RequesterID: "me", RecipientID: "a", UserLowID: "a", UserHighID: "me", Status: domain.ConnectionAccepted, RespondedAt: &t1},
		{ID: "c-new", RequesterID: "b", RecipientID: "me", UserLowID: "b", UserHighID: "me", Status: domain.ConnectionAccepted, RespondedAt: &t2},
		{ID: "c-pend", RequesterID: "me", RecipientID: "c", UserLowID: "c", UserHighID: "me", Status: domain.ConnectionPending},
		{ID: "c-other", RequesterID: "x", RecipientID: "y", UserLowID: "x", UserHighID: "y", Status: domain.ConnectionAccepted, RespondedAt: &t1},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	out, err := ListAcceptedConnections(ctx, db, "me")
	if err != nil {
		t.Fatalf("ListAcceptedConnections: %v", err)
	}
	if len(out) != 2 || out[0].ID != "c-new" || out[1].ID != "c-old" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestListPendingIncoming_RecipientOnly(t *testing.T) {
	db := newRepoDB(t, &domain.Connection{})
	ctx := context.Background()

	t1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	seed := []domain.Connection{
		{ID: "p-old", RequesterID: "a", RecipientID: "me", UserLowID: "a", UserHighID: "me", Status: domain.ConnectionPending, RequestedAt: t1},
		{ID: "p-new", RequesterID: "b", RecipientID: "me", UserLowID: "b", UserHighID: "me", Status: domain.ConnectionPending, RequestedAt: t2},
		// Outgoing pending must not appear.
		{ID: "p-out", RequesterID: "me", RecipientID: "c", UserLowID: "c", UserHighID: "me", Status: domain.ConnectionPending, RequestedAt: t2},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	out, err := ListPendingIncoming(ctx, db, "me")
	if err != nil {
		t.Fatalf("ListPendingIncoming: %v", err)
	}
	if len(out) != 2 || out[0].ID != "p-new" || out[1].ID != "p-old" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestPairAccepted_Gate(t *testing.T) {
	db := newRepoDB(t, &domain.Connection{})
	ctx := context.Background()

	c, err := CreateConnection(ctx, db, "u1", "u2")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if accepted, _ := PairAccepted(ctx, db, "u1", "u2"); accepted {
		t.Fatalf("pending pair must not be accepted")
	}
	if err := ResolveConnection(ctx, db, c.ID, domain.ConnectionAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted, _ := PairAccepted(ctx, db, "u2", "u1"); !accepted {
		t.Fatalf("accepted pair must pass the gate in either order")
	}
	if accepted, _ := PairAccepted(ctx, db, "u1", "u3"); accepted {
		t.Fatalf("unknown pair must not pass the gate")
	}
}
