// Package archive purges old terminal queue rows, optionally copying them
// to S3-compatible storage first.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"

	"github.com/dukerupert/budgetbell/internal/model"
	"github.com/dukerupert/budgetbell/internal/store"
)

// ErrNotConfigured is returned when archiving is requested without S3 settings.
var ErrNotConfigured = errors.New("archive not configured: S3 credentials missing")

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

func (c S3Config) complete() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

type Config struct {
	S3     S3Config
	Prefix string
	// Passphrase, when set, encrypts every archive object.
	Passphrase string
}

type Archiver struct {
	cfg     Config
	queue   *store.QueueStore
	client  s3Client
	logger  *slog.Logger
	backoff func() retry.Backoff
}

func NewArchiver(cfg Config, queue *store.QueueStore, logger *slog.Logger) *Archiver {
	a := &Archiver{
		cfg:    cfg,
		queue:  queue,
		logger: logger.With("component", "archive"),
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
		},
	}
	if cfg.S3.complete() {
		a.client = newS3Client(cfg.S3)
	}
	return a
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether S3 archiving is available.
func (a *Archiver) Enabled() bool {
	return a.client != nil
}

// Result counts the rows handled by one purge.
type Result struct {
	Archived int      `json:"archived"`
	Deleted  int64    `json:"deleted"`
	Objects  []string `json:"objects,omitempty"`
}

// Purge deletes sent and failed jobs last updated before cutoff, batchSize
// rows at a time. With keep set, each batch is uploaded first and a batch
// whose upload fails is left in place.
func (a *Archiver) Purge(ctx context.Context, cutoff time.Time, batchSize int, keep bool) (Result, error) {
	var res Result
	if keep && !a.Enabled() {
		return res, ErrNotConfigured
	}
	if batchSize <= 0 {
		batchSize = 500
	}

	for {
		jobs, err := a.queue.ListTerminalBefore(ctx, cutoff, batchSize)
		if err != nil {
			return res, err
		}
		if len(jobs) == 0 {
			break
		}

		if keep {
			key, err := a.upload(ctx, jobs)
			if err != nil {
				return res, err
			}
			res.Archived += len(jobs)
			res.Objects = append(res.Objects, key)
		}

		ids := make([]int64, len(jobs))
		for i, j := range jobs {
			ids[i] = j.ID
		}
		n, err := a.queue.DeleteTerminal(ctx, ids)
		if err != nil {
			return res, err
		}
		res.Deleted += n

		if len(jobs) < batchSize {
			break
		}
	}

	a.logger.Info("queue purged", "cutoff", cutoff, "archived", res.Archived, "deleted", res.Deleted)
	return res, nil
}

func (a *Archiver) upload(ctx context.Context, jobs []model.Job) (string, error) {
	body, err := Encode(jobs)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("%squeue/%s/%d-%d.jsonl.gz",
		a.cfg.Prefix, time.Now().UTC().Format("2006/01/02"), jobs[0].ID, jobs[len(jobs)-1].ID)
	if a.cfg.Passphrase != "" {
		if body, err = Seal(body, a.cfg.Passphrase); err != nil {
			return "", fmt.Errorf("encrypt archive: %w", err)
		}
		key += ".enc"
	}

	err = retry.Do(ctx, a.backoff(), func(ctx context.Context) error {
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(a.cfg.S3.Bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(body),
			ContentType: aws.String("application/gzip"),
		})
		if err != nil {
			a.logger.Warn("archive upload attempt failed", "key", key, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("upload archive %s: %w", key, err)
	}
	return key, nil
}

// Encode writes jobs as gzipped JSON lines.
func Encode(jobs []model.Job) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	for _, j := range jobs {
		if err := enc.Encode(j); err != nil {
			return nil, fmt.Errorf("encode job %d: %w", j.ID, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compress archive: %w", err)
	}
	return buf.Bytes(), nil
}
