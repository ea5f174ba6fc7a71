package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-connect-backend/internal/domain"
)

func TestUserProfiles_LookupAndBatch(t *testing.T) {
	db := newRepoDB(t, &domain.UserProfile{})
	ctx := context.Background()

	seed := []domain.UserProfile{
		{ID: "u1", Name: "Ada", Role: "engineer"},
		{ID: "u2", Name: "Grace", Role: "admiral", Avatar: "/files/grace.png"},
	}
	for i := range seed {
		if err := db.Create(&seed[i]).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	p, err := GetUserProfile(ctx, db, "u1")
	if err != nil || p.Name != "Ada" {
		t.Fatalf("GetUserProfile: %+v err=%v", p, err)
	}
	if _, err := GetUserProfile(ctx, db, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	got, err := GetUserProfiles(ctx, db, []string{"u1", "u2", "ghost"})
	if err != nil {
		t.Fatalf("GetUserProfiles: %v", err)
	}
	if len(got) != 2 || got["u2"].Avatar != "/files/grace.png" {
		t.Fatalf("batch mismatch: %v", got)
	}

	if exists, _ := UserExists(ctx, db, "u1"); !exists {
		t.Fatalf("u1 should exist")
	}
	if exists, _ := UserExists(ctx, db, "ghost"); exists {
		t.Fatalf("ghost should not exist")
	}
}
