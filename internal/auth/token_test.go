package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/store"
)

type fakeUsers map[int64]*model.User

func (f fakeUsers) GetByID(ctx context.Context, id int64) (*model.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func TestIssueAndResolveUser(t *testing.T) {
	r := NewResolver("s3cret", fakeUsers{4: {ID: 4, Locale: "es"}}, "")

	tok, err := r.Issue(4, "", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	c, err := r.Resolve(context.Background(), tok)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.UserID != 4 || c.Locale != "es" || c.Service {
		t.Errorf("caller = %+v, want user 4 with locale es", c)
	}
}

func TestResolveServiceToken(t *testing.T) {
	r := NewResolver("s3cret", fakeUsers{}, "")
	tok, err := r.Issue(0, RoleService, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	c, err := r.Resolve(context.Background(), tok)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !c.Service {
		t.Errorf("caller = %+v, want service", c)
	}
}

func TestResolveRejects(t *testing.T) {
	r := NewResolver("s3cret", fakeUsers{}, "")
	other := NewResolver("different", fakeUsers{}, "")

	expired, _ := r.Issue(1, "", -time.Minute)
	foreign, _ := other.Issue(1, "", time.Hour)
	unknownUser, _ := r.Issue(99, "", time.Hour)

	for name, tok := range map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"expired":      expired,
		"wrong secret": foreign,
		"unknown user": unknownUser,
	} {
		if _, err := r.Resolve(context.Background(), tok); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: err = %v, want ErrUnauthorized", name, err)
		}
	}
}

func TestBearerToken(t *testing.T) {
	if tok, ok := BearerToken("Bearer abc"); !ok || tok != "abc" {
		t.Errorf("BearerToken = %q, %v", tok, ok)
	}
	if _, ok := BearerToken("Basic abc"); ok {
		t.Error("expected Basic scheme to be rejected")
	}
	if _, ok := BearerToken("Bearer "); ok {
		t.Error("expected empty token to be rejected")
	}
}

func TestCronSecret(t *testing.T) {
	hash, err := HashSecret("tick-tock")
	if err != nil {
		t.Fatalf("HashSecret: %v", err)
	}
	r := NewResolver("", nil, hash)
	if !r.CheckCronSecret("tick-tock") {
		t.Error("expected matching secret to pass")
	}
	if r.CheckCronSecret("nope") {
		t.Error("expected wrong secret to fail")
	}
	if NewResolver("", nil, "").CheckCronSecret("tick-tock") {
		t.Error("expected unconfigured secret to fail")
	}
}
