package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dukerupert/budgetbell/internal/model"
)

func TestUserCreate(t *testing.T) {
	us := NewUserStore(setupTestDB(t))

	u, err := us.Create(context.Background(), "alice@example.com", "es", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if u.Email != "alice@example.com" || u.Locale != "es" || u.Plan != model.PlanFree {
		t.Errorf("user = %+v", u)
	}
}

func TestUserCreateDefaults(t *testing.T) {
	us := NewUserStore(setupTestDB(t))

	u, err := us.Create(context.Background(), "bob@example.com", "", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Locale != "en" || u.Plan != model.PlanFree {
		t.Errorf("defaults = %+v", u)
	}
}

func TestUserCreateDuplicateEmail(t *testing.T) {
	us := NewUserStore(setupTestDB(t))
	ctx := context.Background()

	if _, err := us.Create(ctx, "alice@example.com", "en", ""); err != nil {
		t.Fatalf("create user: %v", err)
	}
	if _, err := us.Create(ctx, "alice@example.com", "en", ""); err == nil {
		t.Fatal("expected error for duplicate email, got nil")
	}
}

func TestUserGetByIDNotFound(t *testing.T) {
	us := NewUserStore(setupTestDB(t))

	if _, err := us.GetByID(context.Background(), 404); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUserSetPlan(t *testing.T) {
	us := NewUserStore(setupTestDB(t))
	ctx := context.Background()

	u, _ := us.Create(ctx, "carol@example.com", "en", "")
	if err := us.SetPlan(ctx, u.ID, model.PlanPro); err != nil {
		t.Fatalf("SetPlan: %v", err)
	}
	got, err := us.GetByID(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Plan != model.PlanPro {
		t.Errorf("plan = %q, want pro", got.Plan)
	}
}
