package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	minioCreds "github.com/minio/minio-go/v7/pkg/credentials"
)

// ArchiveConfig locates the S3-compatible bucket exports are written
// to.
type ArchiveConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	URLExpiry time.Duration
}

// blobClient is the subset of *minio.Client the archiver uses.
type blobClient interface {
	PutObject(
		ctx context.Context, bucket, key string, r io.Reader,
		size int64, opts minio.PutObjectOptions,
	) (minio.UploadInfo, error)
	PresignedGetObject(
		ctx context.Context, bucket, key string,
		expires time.Duration, params url.Values,
	) (*url.URL, error)
}

// Archiver uploads exports and hands back a time-limited download
// link.
type Archiver struct {
	client blobClient
	bucket string
	expiry time.Duration
	log    *slog.Logger
	now    func() time.Time
}

// Archive describes one uploaded export.
type Archive struct {
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewArchiver returns an Archiver for cfg. No connection is made until
// the first upload.
func NewArchiver(cfg ArchiveConfig, log *slog.Logger) (*Archiver, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("export bucket is not configured")
	}
	if strings.TrimSpace(cfg.AccessKey) == "" ||
		strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("object storage credentials are not configured")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = "minio:9000"
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds: minioCreds.NewStaticV4(
			strings.TrimSpace(cfg.AccessKey),
			strings.TrimSpace(cfg.SecretKey), ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object store client: %w", err)
	}
	return newArchiver(client, cfg, log), nil
}

func newArchiver(
	client blobClient, cfg ArchiveConfig, log *slog.Logger,
) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	expiry := cfg.URLExpiry
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Archiver{
		client: client,
		bucket: strings.TrimSpace(cfg.Bucket),
		expiry: expiry,
		log:    log,
		now:    time.Now,
	}
}

// Archive renders records, uploads them under the tenant's prefix and
// presigns a GET for the object.
func (a *Archiver) Archive(
	ctx context.Context, tenantID, name string, records []Record,
) (Archive, error) {
	if tenantID == "" {
		return Archive{}, errors.New("archive requires a tenant")
	}
	now := a.now().UTC()
	key := objectKey(tenantID, name, now)
	data := []byte(ToDelimitedText(records))

	_, err := a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/csv"})
	if err != nil {
		return Archive{}, fmt.Errorf("uploading %s: %w", key, err)
	}
	u, err := a.client.PresignedGetObject(
		ctx, a.bucket, key, a.expiry, url.Values{})
	if err != nil {
		return Archive{}, fmt.Errorf("presigning %s: %w", key, err)
	}
	a.log.Info("export archived",
		"tenant", tenantID, "resource", name,
		"key", key, "bytes", len(data))
	return Archive{
		Bucket:    a.bucket,
		Key:       key,
		Size:      int64(len(data)),
		URL:       u.String(),
		ExpiresAt: now.Add(a.expiry),
	}, nil
}

// objectKey is "<tenant>/<name>/<timestamp>-<short id>.csv".
func objectKey(tenantID, name string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s-%s.csv",
		tenantID, name, at.Format("20060102T150405Z"),
		uuid.NewString()[:8])
}
