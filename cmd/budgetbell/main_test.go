package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dukerupert/budgetbell/internal/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "process", "recurring", "digest", "purge", "vapid-keys", "token", "hash-secret"}
	have := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestVAPIDKeysCmd(t *testing.T) {
	out, err := execute(t, "vapid-keys")
	if err != nil {
		t.Fatalf("vapid-keys: %v", err)
	}
	if !strings.Contains(out, "BUDGETBELL_PUSH_VAPID_PUBLIC_KEY=") || !strings.Contains(out, "BUDGETBELL_PUSH_VAPID_PRIVATE_KEY=") {
		t.Errorf("output = %q", out)
	}
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("BUDGETBELL_AUTH_JWT_SECRET", "cli-secret")

	out, err := execute(t, "token", "--service", "--ttl", "1h")
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	caller, err := auth.NewResolver("cli-secret", nil, "").Resolve(context.Background(), strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !caller.Service {
		t.Errorf("caller = %+v, want service", caller)
	}
}

func TestHashSecretCmd(t *testing.T) {
	out, err := execute(t, "hash-secret", "s3cret")
	if err != nil {
		t.Fatalf("hash-secret: %v", err)
	}
	if !auth.NewResolver("", nil, strings.TrimSpace(out)).CheckCronSecret("s3cret") {
		t.Errorf("hash %q does not verify", out)
	}
}

func TestRecurringCmd(t *testing.T) {
	t.Setenv("BUDGETBELL_DATABASE_PATH", filepath.Join(t.TempDir(), "cli.db"))

	out, err := execute(t, "recurring")
	if err != nil {
		t.Fatalf("recurring: %v", err)
	}
	var got struct {
		Inserted map[string]int `json:"inserted"`
		Date     string         `json:"date"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if got.Date != time.Now().UTC().Format("2006-01-02") {
		t.Errorf("date = %q", got.Date)
	}
}
