package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/budgetbell/internal/database"
	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/store"
)

type mockS3 struct {
	objects  map[string][]byte
	failures int
	calls    int
}

func (m *mockS3) PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.calls++
	if m.failures > 0 {
		m.failures--
		return nil, errors.New("503 slow down")
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func setup(t *testing.T) (*store.QueueStore, int64) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	u, err := store.NewUserStore(db).Create(context.Background(), "ana@example.com", "en", "")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return store.NewQueueStore(db), u.ID
}

func seed(t *testing.T, q *store.QueueStore, userID int64, sent, pending int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < sent+pending; i++ {
		j, err := q.Enqueue(ctx, model.Job{UserID: userID, NotificationType: model.NotifTypeTest, Title: "t", Message: "m",
			Data: model.JobData{DeepLink: "/"}})
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if i < sent {
			if err := q.MarkSent(ctx, j.ID, 1); err != nil {
				t.Fatalf("mark sent: %v", err)
			}
		}
	}
}

func newTestArchiver(q *store.QueueStore, client *mockS3, passphrase string) *Archiver {
	a := NewArchiver(Config{S3: S3Config{Bucket: "archive"}, Prefix: "prod/", Passphrase: passphrase}, q,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	a.client = client
	a.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(3, retry.NewConstant(time.Millisecond))
	}
	return a
}

func TestPurgeArchivesThenDeletes(t *testing.T) {
	q, userID := setup(t)
	seed(t, q, userID, 5, 2)
	client := &mockS3{objects: map[string][]byte{}, failures: 1}
	a := newTestArchiver(q, client, "")

	res, err := a.Purge(context.Background(), time.Now().Add(time.Hour), 2, true)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if res.Archived != 5 || res.Deleted != 5 {
		t.Errorf("result = %+v, want 5 archived and deleted", res)
	}
	if len(client.objects) != 3 {
		t.Errorf("objects = %d, want 3 batches", len(client.objects))
	}
	if client.calls != 4 {
		t.Errorf("put calls = %d, want 4 (one retry)", client.calls)
	}

	remaining, err := q.Due(context.Background(), time.Now().Add(time.Hour), 10)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(remaining) != 2 {
		t.Errorf("pending jobs = %d, want 2 untouched", len(remaining))
	}

	for key, data := range client.objects {
		if !strings.HasPrefix(key, "prod/queue/") {
			t.Errorf("key = %q, want prefix", key)
		}
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("gunzip %s: %v", key, err)
		}
		sc := bufio.NewScanner(zr)
		for sc.Scan() {
			var j model.Job
			if err := json.Unmarshal(sc.Bytes(), &j); err != nil {
				t.Fatalf("decode line: %v", err)
			}
			if j.Status != model.JobSent {
				t.Errorf("archived job status = %q, want sent", j.Status)
			}
		}
	}
}

func TestPurgeUploadFailureKeepsRows(t *testing.T) {
	q, userID := setup(t)
	seed(t, q, userID, 2, 0)
	client := &mockS3{objects: map[string][]byte{}, failures: 10}
	a := newTestArchiver(q, client, "")

	res, err := a.Purge(context.Background(), time.Now().Add(time.Hour), 10, true)
	if err == nil {
		t.Fatal("expected upload error")
	}
	if res.Deleted != 0 {
		t.Errorf("deleted = %d, want 0", res.Deleted)
	}
	left, _ := q.ListTerminalBefore(context.Background(), time.Now().Add(time.Hour), 10)
	if len(left) != 2 {
		t.Errorf("terminal rows = %d, want 2 kept", len(left))
	}
}

func TestPurgeWithoutArchive(t *testing.T) {
	q, userID := setup(t)
	seed(t, q, userID, 3, 1)
	a := NewArchiver(Config{}, q, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, err := a.Purge(context.Background(), time.Now().Add(time.Hour), 10, true); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("err = %v, want ErrNotConfigured", err)
	}
	res, err := a.Purge(context.Background(), time.Now().Add(time.Hour), 10, false)
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if res.Deleted != 3 {
		t.Errorf("deleted = %d, want 3", res.Deleted)
	}
}

func TestEncryptedArchiveRoundTrip(t *testing.T) {
	q, userID := setup(t)
	seed(t, q, userID, 1, 0)
	client := &mockS3{objects: map[string][]byte{}}
	a := newTestArchiver(q, client, "correct horse")

	if _, err := a.Purge(context.Background(), time.Now().Add(time.Hour), 10, true); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	for key, data := range client.objects {
		if !strings.HasSuffix(key, ".enc") {
			t.Errorf("key = %q, want .enc suffix", key)
		}
		if _, err := Open(data, "wrong"); err == nil {
			t.Error("expected wrong passphrase to fail")
		}
		plain, err := Open(data, "correct horse")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if _, err := gzip.NewReader(bytes.NewReader(plain)); err != nil {
			t.Errorf("decrypted archive is not gzip: %v", err)
		}
	}
}
