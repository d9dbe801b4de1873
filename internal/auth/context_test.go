package auth

import (
	"context"
	"testing"
)

func TestWithCallerAndFromContext(t *testing.T) {
	ctx := WithCaller(context.Background(), Caller{UserID: 7, Locale: "es"})
	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected Caller in context")
	}
	if got.UserID != 7 {
		t.Errorf("UserID = %d, want 7", got.UserID)
	}
	if Locale(ctx) != "es" {
		t.Errorf("Locale = %q, want es", Locale(ctx))
	}
	if IsService(ctx) {
		t.Error("user caller reported as service")
	}
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Error("expected no Caller in empty context")
	}
	if UserID(ctx) != 0 {
		t.Errorf("UserID = %d, want 0", UserID(ctx))
	}
	if Locale(ctx) != "en" {
		t.Errorf("Locale = %q, want en", Locale(ctx))
	}
}
